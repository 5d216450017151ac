package gitee

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

const validCred = "abcdefghijABCDEFGHIJ0123456789abcd"

func TestDetectAPIKeyLength(t *testing.T) {
	c := New("", nil, nil)
	if !c.DetectAPIKey(validCred) {
		t.Fatalf("expected 34-char alphanumeric credential to match")
	}
	if c.DetectAPIKey("tooshort") {
		t.Fatalf("expected short credential to not match")
	}
}

func TestTextToImageSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"b64_json":"AAAA"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	res, err := c.Generate(context.Background(), validCred, imggateway.ImageRequest{Prompt: "a dog"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Success || len(res.Images) != 1 || res.Images[0].B64JSON != "AAAA" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestEditPollsAsyncTaskToCompletion(t *testing.T) {
	pollCount := 0
	mux := http.NewServeMux()
	var taskURL string
	mux.HandleFunc("/images/edits", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"taskStatusUrl":"` + taskURL + `"}`))
	})
	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		pollCount++
		if pollCount < 2 {
			w.Write([]byte(`{"status":"PENDING"}`))
			return
		}
		w.Write([]byte(`{"status":"SUCCEED","data":[{"url":"https://cdn.example/out.png"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	taskURL = srv.URL + "/poll"

	c := New(srv.URL, nil, nil)
	original := pollInterval
	pollInterval = time.Millisecond
	defer func() { pollInterval = original }()

	req := imggateway.ImageRequest{Prompt: "edit", Images: []string{"data:image/png;base64,AAAA"}}
	res, err := c.Generate(context.Background(), validCred, req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Success || len(res.Images) != 1 || !strings.HasSuffix(res.Images[0].URL, "out.png") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if pollCount < 2 {
		t.Fatalf("expected at least 2 poll attempts, got %d", pollCount)
	}
}

func TestValidateRequestRejectsEmpty(t *testing.T) {
	c := New("", nil, nil)
	if err := c.ValidateRequest(imggateway.ImageRequest{}); err != imggateway.ErrBadRequest {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}
