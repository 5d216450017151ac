package imageutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrHostAuthUnset is returned by UploadToImageHost when authCode is empty.
var ErrHostAuthUnset = fmt.Errorf("imageutil: image host auth code is unset")

// UploadToImageHost POSTs data as multipart/form-data to hostURL and
// returns the absolute URL the host reports back, for adapters whose
// upstream API needs an HTTP(S) URL but received Base64/data-URI input.
func UploadToImageHost(ctx context.Context, client *http.Client, hostURL, authCode, filename string, data []byte) (string, error) {
	if authCode == "" {
		return "", ErrHostAuthUnset
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("imageutil: build multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("imageutil: write multipart: %w", err)
	}
	if err := w.WriteField("auth_code", authCode); err != nil {
		return "", fmt.Errorf("imageutil: write auth field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("imageutil: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hostURL, &body)
	if err != nil {
		return "", fmt.Errorf("imageutil: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("imageutil: upload: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("imageutil: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("imageutil: image host returned %d: %s", resp.StatusCode, string(respBody))
	}
	return extractURL(respBody), nil
}

// extractURL pulls the "url" field out of the host's JSON response
// without requiring callers to know its exact envelope shape; it falls
// back to the raw trimmed body for hosts that return a bare URL string.
func extractURL(body []byte) string {
	if u := gjson.GetBytes(body, "url").String(); u != "" {
		return u
	}
	if u := gjson.GetBytes(body, "data.url").String(); u != "" {
		return u
	}
	return string(bytes.TrimSpace(body))
}
