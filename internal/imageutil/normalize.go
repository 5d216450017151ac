package imageutil

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"
)

// largeImageThreshold is the point past which normalization re-encodes a
// JPEG source as a smaller lossy JPEG, to keep adapter request bodies
// reasonable; PNG and other formats pass through unchanged.
const largeImageThreshold = 4 << 20 // 4MiB

// NormalizeAndCompressInputImages converts every entry in images to a
// data: URI. HTTP(S) URLs are fetched; existing data URIs pass through;
// bare Base64 is wrapped with its detected MIME type (image/png when the
// format is not recognized). A failure on any single entry
// preserves the original string so the caller's adapter may still
// succeed with the remaining inputs.
func NormalizeAndCompressInputImages(ctx context.Context, client *http.Client, images []string) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = normalizeOne(ctx, client, img)
	}
	return out
}

func normalizeOne(ctx context.Context, client *http.Client, img string) string {
	switch {
	case IsDataURI(img):
		return img
	case strings.HasPrefix(img, "http://"), strings.HasPrefix(img, "https://"):
		data, mime, err := fetch(ctx, client, img)
		if err != nil {
			return img
		}
		return compressAndWrap(data, mime)
	default:
		data, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			return img
		}
		return compressAndWrap(data, "")
	}
}

func compressAndWrap(data []byte, mime string) string {
	format := DetectFormat(data)
	if format == FormatJPEG && len(data) > largeImageThreshold {
		if smaller, err := reencodeJPEG(data, 85); err == nil {
			data = smaller
		}
	}
	if mime == "" {
		mime = format.MIME()
	}
	if mime == "" {
		mime = "image/png"
	}
	return BuildDataURI(data, mime)
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}
