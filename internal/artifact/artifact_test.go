package artifact

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"
)

func pngBytes() []byte {
	return []byte{0x89, 0x50, 0x4E, 0x47, 1, 2, 3, 4}
}

func TestSaveImageWritesFileAndSidecar(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	payload := base64.StdEncoding.EncodeToString(pngBytes())
	meta := Metadata{Prompt: "A Cute Cat!!", Model: "vendor/model-x", Seed: 42, Timestamp: 1700000000000}

	filename, err := s.SaveImage(context.Background(), payload, meta, "png", 0)
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	if filename == "" {
		t.Fatalf("expected non-empty filename")
	}

	images, err := s.ListImages()
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(images) != 1 || images[0].Filename != filename {
		t.Fatalf("unexpected listing: %+v", images)
	}
	if images[0].Metadata.Prompt != "A Cute Cat!!" {
		t.Fatalf("unexpected metadata: %+v", images[0].Metadata)
	}
}

func TestBuildFilenameSlugsPromptAndModel(t *testing.T) {
	meta := Metadata{Prompt: "A Cute Cat!! Sitting", Model: "vendor/Model-Name_v2", Seed: 7, Timestamp: 1700000000000}
	name := buildFilename(meta, "png")
	if filepath.Ext(name) != ".png" {
		t.Fatalf("expected .png extension, got %q", name)
	}
}

func TestListImagesSortsDescendingByTimestamp(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	payload := base64.StdEncoding.EncodeToString(pngBytes())

	_, err := s.SaveImage(context.Background(), payload, Metadata{Prompt: "older", Timestamp: 1000}, "png", 0)
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	_, err = s.SaveImage(context.Background(), payload, Metadata{Prompt: "newer", Timestamp: 2000}, "png", 0)
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	images, err := s.ListImages()
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(images) != 2 || images[0].Metadata.Prompt != "newer" || images[1].Metadata.Prompt != "older" {
		t.Fatalf("unexpected order: %+v", images)
	}
}

func TestDeleteImagesBestEffort(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	payload := base64.StdEncoding.EncodeToString(pngBytes())

	filename, err := s.SaveImage(context.Background(), payload, Metadata{Prompt: "x", Timestamp: 1}, "png", 0)
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	removed := s.DeleteImages(context.Background(), []string{filename, "does-not-exist.png"})
	if len(removed) != 2 {
		t.Fatalf("expected both names reported removed, got %+v", removed)
	}

	images, err := s.ListImages()
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(images) != 0 {
		t.Fatalf("expected empty gallery after delete, got %+v", images)
	}
}
