// Package provider implements the provider registry and shared adapter
// helpers for upstream image-generation APIs.
package provider

import (
	"io"
	"net/http"
	"strings"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

// ClassifyError applies the failure taxonomy from the spec: HTTP 429 or a
// body mentioning "rate limit" is rate_limit; 401/403 or a body mentioning
// "Unauthorized"/"API Key" is auth_error; everything else is other.
func ClassifyError(statusCode int, body string) imggateway.ErrorKind {
	lower := strings.ToLower(body)
	switch {
	case statusCode == http.StatusTooManyRequests, strings.Contains(lower, "rate limit"):
		return imggateway.ErrorKindRateLimit
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden,
		strings.Contains(lower, "unauthorized"), strings.Contains(lower, "api key"):
		return imggateway.ErrorKindAuth
	default:
		return imggateway.ErrorKindOther
	}
}

// ReadUpstreamError reads up to 4KB from resp.Body and classifies it into a
// ProviderError for the given provider name.
func ReadUpstreamError(providerName string, resp *http.Response) *imggateway.ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &imggateway.ProviderError{
		Provider: providerName,
		Kind:     ClassifyError(resp.StatusCode, string(body)),
		Message:  string(body),
	}
}
