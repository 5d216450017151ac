package doubao

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

func TestDetectAPIKeyMatchesUUID(t *testing.T) {
	c := New("", nil, ImageHost{}, nil)
	if !c.DetectAPIKey("123e4567-e89b-12d3-a456-426614174000") {
		t.Fatalf("expected canonical UUID to match")
	}
	if c.DetectAPIKey("hf_notauuid") {
		t.Fatalf("expected non-UUID credential to not match")
	}
}

func TestGenerateReturnsImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"url":"https://cdn.example/a.png"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, ImageHost{}, nil)
	res, err := c.Generate(context.Background(), "123e4567-e89b-12d3-a456-426614174000", imggateway.ImageRequest{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Success || len(res.Images) != 1 || res.Images[0].URL != "https://cdn.example/a.png" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGenerateClassifiesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, ImageHost{}, nil)
	res, err := c.Generate(context.Background(), "123e4567-e89b-12d3-a456-426614174000", imggateway.ImageRequest{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Success || res.Err == nil || res.Err.Kind != imggateway.ErrorKindRateLimit {
		t.Fatalf("expected rate_limit classification, got %+v", res)
	}
}

func TestValidateRequestRejectsEmpty(t *testing.T) {
	c := New("", nil, ImageHost{}, nil)
	if err := c.ValidateRequest(imggateway.ImageRequest{}); err != imggateway.ErrBadRequest {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}
