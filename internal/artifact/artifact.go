// Package artifact implements the image artifact store: it writes a
// generated image and a JSON metadata sidecar to the local filesystem,
// optionally mirrors both to an S3-compatible bucket, and serves the
// admin gallery's list/delete operations.
package artifact

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/imageutil"
	"github.com/lianwusuoai/img-router/internal/provider"
)

// Metadata is the JSON sidecar written next to every saved image.
type Metadata struct {
	Timestamp int64  `json:"timestamp"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	Seed      int64  `json:"seed"`
	Size      string `json:"size,omitempty"`
	Index     int    `json:"index"`
}

// Image pairs a sidecar with the resolved URL the gallery should link to.
type Image struct {
	Filename string   `json:"filename"`
	URL      string   `json:"url"`
	Metadata Metadata `json:"metadata"`
}

// Store owns the on-disk gallery directory and an optional S3 mirror.
type Store struct {
	dir string

	mu sync.Mutex
	s3 *s3Target
}

type s3Target struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// New returns a Store writing under dir (created on first save).
func New(dir string) *Store {
	return &Store{dir: dir}
}

// ConfigureS3 installs or clears the S3 mirror target from the runtime
// document's storage.s3 section.
func (s *Store) ConfigureS3(cfg *imggateway.S3Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == nil || cfg.Bucket == "" || cfg.AccessKey == "" {
		s.s3 = nil
		return
	}
	opts := s3.Options{
		Region:       orDefault(cfg.Region, "us-east-1"),
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(opts)
	s.s3 = &s3Target{client: client, bucket: cfg.Bucket, publicURL: cfg.PublicURL}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// SaveImage decodes a Base64 image payload, writes it (and a metadata
// sidecar) under dir, optionally re-encoding WebP to PNG, and mirrors
// both to S3 when configured. Returns the filename written.
func (s *Store) SaveImage(ctx context.Context, base64Payload string, meta Metadata, extension string, indexWithinRequest int) (string, error) {
	data, err := base64.StdEncoding.DecodeString(stripDataURIPrefix(base64Payload))
	if err != nil {
		return "", fmt.Errorf("artifact: decode payload: %w", err)
	}

	if extension == "webp" || imageutil.DetectFormat(data) == imageutil.FormatWebP {
		if png, err := imageutil.WebPToPNG(data); err == nil {
			data = png
			extension = "png"
		} else {
			slog.Error("artifact: webp to png conversion failed", "error", err)
		}
	}
	if extension == "" {
		extension = "png"
	}

	meta.Index = indexWithinRequest
	if meta.Timestamp == 0 {
		meta.Timestamp = time.Now().UnixMilli()
	}

	filename := buildFilename(meta, extension)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: mkdir: %w", err)
	}

	imgPath := filepath.Join(s.dir, filename)
	if err := os.WriteFile(imgPath, data, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write image: %w", err)
	}

	sidecar, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("artifact: marshal sidecar: %w", err)
	}
	sidecarPath := imgPath + ".json"
	if err := os.WriteFile(sidecarPath, sidecar, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write sidecar: %w", err)
	}

	s.mirrorToS3(ctx, filename, data, sidecar)
	return filename, nil
}

func (s *Store) mirrorToS3(ctx context.Context, filename string, data, sidecar []byte) {
	s.mu.Lock()
	target := s.s3
	s.mu.Unlock()
	if target == nil {
		return
	}
	go func() {
		if _, err := target.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(target.bucket), Key: aws.String(filename), Body: bytes.NewReader(data),
		}); err != nil {
			slog.Error("artifact: s3 upload image failed", "file", filename, "error", err)
		}
		if _, err := target.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(target.bucket), Key: aws.String(filename + ".json"), Body: bytes.NewReader(sidecar),
		}); err != nil {
			slog.Error("artifact: s3 upload sidecar failed", "file", filename, "error", err)
		}
	}()
}

func buildFilename(meta Metadata, extension string) string {
	ts := time.UnixMilli(meta.Timestamp)
	modelTail := provider.Slug(lastSegment(meta.Model), 0)
	promptSlug := provider.Slug(meta.Prompt, 20)
	return fmt.Sprintf("%s %s-%s-%d.%s",
		ts.Format("2006-01-02 15-04"), modelTail, promptSlug, meta.Seed, extension)
}

func lastSegment(s string) string {
	idx := strings.LastIndexByte(s, '/')
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

func stripDataURIPrefix(s string) string {
	if mime, data, ok := imageutil.ParseDataURI(s); ok {
		_ = mime
		return base64.StdEncoding.EncodeToString(data)
	}
	return s
}

// ListImages scans dir for .json sidecars and pairs each with its image
// file, tolerating both the legacy "timestamp_id.png" scheme and the
// current full-filename scheme. Results sort descending by timestamp.
func (s *Store) ListImages() ([]Image, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("artifact: read dir: %w", err)
	}

	s.mu.Lock()
	target := s.s3
	s.mu.Unlock()

	var images []Image
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".json")
		imgFile, ok := findImageFile(s.dir, base)
		if !ok {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}

		url := imgFile
		if target != nil && target.publicURL != "" {
			url = strings.TrimRight(target.publicURL, "/") + "/" + imgFile
		}
		images = append(images, Image{Filename: imgFile, URL: url, Metadata: meta})
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].Metadata.Timestamp > images[j].Metadata.Timestamp
	})
	return images, nil
}

func findImageFile(dir, base string) (string, bool) {
	exts := []string{".png", ".jpg", ".jpeg", ".webp", ".gif", ".bmp"}
	// Sidecar "<image>.json": base already names the image file.
	for _, ext := range exts {
		if strings.HasSuffix(base, ext) {
			if _, err := os.Stat(filepath.Join(dir, base)); err == nil {
				return base, true
			}
		}
	}
	// Legacy sidecar "<name>.json" beside "<name>.<ext>".
	for _, ext := range exts {
		candidate := base + ext
		if _, err := os.Stat(filepath.Join(dir, candidate)); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// DeleteImages removes the named image files and their .json sidecars,
// best-effort, and attempts an S3 delete when configured. Absent files
// count as successfully removed. Returns the names actually removed.
func (s *Store) DeleteImages(ctx context.Context, filenames []string) []string {
	s.mu.Lock()
	target := s.s3
	s.mu.Unlock()

	removed := make([]string, 0, len(filenames))
	for _, name := range filenames {
		imgPath := filepath.Join(s.dir, name)
		sidecarPath := imgPath + ".json"
		os.Remove(imgPath)
		os.Remove(sidecarPath)
		removed = append(removed, name)

		if target != nil {
			target.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(target.bucket), Key: aws.String(name)})
			target.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(target.bucket), Key: aws.String(name + ".json")})
		}
	}
	return removed
}
