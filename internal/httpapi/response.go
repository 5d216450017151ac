package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/artifact"
	"github.com/lianwusuoai/img-router/internal/imageutil"
)

// maxDownloadedImage bounds a best-effort URL->Base64 reshape download.
const maxDownloadedImage = 32 << 20

// shapeImages implements stage 8's response reshaping: "url" wraps Base64
// payloads as data URIs for transport parity; "b64_json" downloads and
// re-encodes URL payloads, falling back to the URL on download failure
// per the local-recovery policy in spec.md §7.
func (s *server) shapeImages(ctx context.Context, images []imggateway.GeneratedImage, responseFormat string) []imageDataItem {
	out := make([]imageDataItem, 0, len(images))
	for _, img := range images {
		switch responseFormat {
		case "b64_json":
			out = append(out, s.shapeAsB64(ctx, img))
		default:
			out = append(out, imageDataItem{URL: shapeAsURL(img)})
		}
	}
	return out
}

func shapeAsURL(img imggateway.GeneratedImage) string {
	if img.URL != "" {
		return img.URL
	}
	if img.B64JSON == "" {
		return ""
	}
	mime := "image/png"
	if data, err := base64.StdEncoding.DecodeString(img.B64JSON); err == nil {
		if f := imageutil.DetectFormat(data); f != "" {
			mime = f.MIME()
		}
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, img.B64JSON)
}

func (s *server) shapeAsB64(ctx context.Context, img imggateway.GeneratedImage) imageDataItem {
	if img.B64JSON != "" {
		return imageDataItem{B64JSON: img.B64JSON}
	}
	if img.URL == "" {
		return imageDataItem{}
	}
	if mime, data, ok := imageutil.ParseDataURI(img.URL); ok {
		_ = mime
		return imageDataItem{B64JSON: base64.StdEncoding.EncodeToString(data)}
	}
	data, err := fetchBytes(ctx, s.deps.HTTPClient, img.URL)
	if err != nil {
		if s.deps.Logger != nil {
			s.deps.Logger.Error("Response", "url->b64 reshape failed, falling back to url: %v", err)
		}
		return imageDataItem{URL: img.URL}
	}
	return imageDataItem{B64JSON: base64.StdEncoding.EncodeToString(data)}
}

func fetchBytes(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpapi: fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadedImage))
}

// persistArtifacts saves every generated image asynchronously (stage 7):
// failures are logged, never surfaced, and never block the response.
func (s *server) persistArtifacts(images []imggateway.GeneratedImage, providerName, model, prompt, size string, task imggateway.Task) {
	if s.deps.Artifacts == nil {
		return
	}
	now := time.Now().UnixMilli()
	for i, img := range images {
		payload, ext := artifactPayload(img)
		if payload == "" {
			continue
		}
		meta := artifact.Metadata{
			Timestamp: now,
			Prompt:    prompt,
			Model:     model,
			Provider:  providerName,
			Size:      size,
			Index:     i,
		}
		go func(payload, ext string, meta artifact.Metadata, index int) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			if ext == "" {
				// URL-sourced image: download before persisting.
				data, err := fetchBytes(ctx, s.deps.HTTPClient, payload)
				if err != nil {
					if s.deps.Logger != nil {
						s.deps.Logger.Error("Artifact", "fetch failed: %v", err)
					}
					return
				}
				payload = base64.StdEncoding.EncodeToString(data)
				ext = "png"
			}
			if _, err := s.deps.Artifacts.SaveImage(ctx, payload, meta, ext, index); err != nil {
				if s.deps.Logger != nil {
					s.deps.Logger.Error("Artifact", "save failed: %v", err)
				}
			}
		}(payload, ext, meta, i)
	}
}

// artifactPayload returns the Base64 payload to persist and its file
// extension, or ("", "") if img carries neither a usable B64JSON nor URL.
// An empty ext with a non-empty payload means payload is actually a URL
// that still needs to be downloaded (see persistArtifacts).
func artifactPayload(img imggateway.GeneratedImage) (payload, ext string) {
	if img.B64JSON != "" {
		return img.B64JSON, "png"
	}
	if img.URL == "" {
		return "", ""
	}
	if mime, data, ok := imageutil.ParseDataURI(img.URL); ok {
		_ = mime
		return base64.StdEncoding.EncodeToString(data), "png"
	}
	return img.URL, ""
}
