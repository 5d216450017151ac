package imageutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{name: "png", data: []byte{0x89, 0x50, 0x4E, 0x47, 0, 0, 0, 0}, want: FormatPNG},
		{name: "jpeg", data: []byte{0xFF, 0xD8, 0xFF, 0xE0}, want: FormatJPEG},
		{name: "gif", data: []byte("GIF89a"), want: FormatGIF},
		{name: "bmp", data: []byte{0x42, 0x4D, 0, 0}, want: FormatBMP},
		{name: "webp", data: append([]byte("RIFF"), append([]byte{0, 0, 0, 0}, []byte("WEBP")...)...), want: FormatWebP},
		{name: "unknown", data: []byte("not an image"), want: FormatUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := DetectFormat(c.data); got != c.want {
				t.Fatalf("got %v want %v", got, c.want)
			}
		})
	}
}

func TestDataURIRoundTrip(t *testing.T) {
	data := []byte{0x89, 0x50, 0x4E, 0x47, 1, 2, 3}
	uri := BuildDataURI(data, "")
	if !IsDataURI(uri) {
		t.Fatalf("expected a data URI, got %q", uri)
	}
	mime, decoded, ok := ParseDataURI(uri)
	if !ok {
		t.Fatalf("expected successful parse")
	}
	if mime != "image/png" {
		t.Fatalf("expected image/png, got %q", mime)
	}
	if string(decoded) != string(data) {
		t.Fatalf("round-trip mismatch")
	}
}

func TestNormalizeInputImagesPassesThroughDataURI(t *testing.T) {
	uri := "data:image/png;base64,AAAA"
	out := NormalizeAndCompressInputImages(context.Background(), nil, []string{uri})
	if out[0] != uri {
		t.Fatalf("expected data URI to pass through unchanged, got %q", out[0])
	}
}

func TestNormalizeInputImagesFetchesHTTPURL(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 1, 2, 3, 4}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(png)
	}))
	defer srv.Close()

	out := NormalizeAndCompressInputImages(context.Background(), srv.Client(), []string{srv.URL})
	if !IsDataURI(out[0]) {
		t.Fatalf("expected fetched image converted to a data URI, got %q", out[0])
	}
	mime, decoded, ok := ParseDataURI(out[0])
	if !ok || mime != "image/png" || string(decoded) != string(png) {
		t.Fatalf("unexpected normalized result: mime=%q ok=%v", mime, ok)
	}
}

func TestNormalizeInputImagesPreservesOriginalOnFailure(t *testing.T) {
	bad := "http://127.0.0.1:1/does-not-exist"
	out := NormalizeAndCompressInputImages(context.Background(), nil, []string{bad})
	if out[0] != bad {
		t.Fatalf("expected original string preserved on fetch failure, got %q", out[0])
	}
}

func TestUploadToImageHostRequiresAuthCode(t *testing.T) {
	_, err := UploadToImageHost(context.Background(), nil, "http://example.invalid", "", "f.png", []byte("x"))
	if err != ErrHostAuthUnset {
		t.Fatalf("expected ErrHostAuthUnset, got %v", err)
	}
}

func TestUploadToImageHostReturnsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		w.Write([]byte(`{"url":"https://host.example/img/1.png"}`))
	}))
	defer srv.Close()

	url, err := UploadToImageHost(context.Background(), srv.Client(), srv.URL, "secret", "f.png", []byte("data"))
	if err != nil {
		t.Fatalf("UploadToImageHost: %v", err)
	}
	if !strings.HasSuffix(url, "1.png") {
		t.Fatalf("unexpected url: %q", url)
	}
}
