package pollinations

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

func TestDetectAPIKeyPrefix(t *testing.T) {
	c := New("", nil, ImageHost{}, nil)
	if !c.DetectAPIKey("pk_abc") || !c.DetectAPIKey("sk_abc") {
		t.Fatalf("expected pk_/sk_ prefixed credentials to match")
	}
	if c.DetectAPIKey("hf_abc") {
		t.Fatalf("expected non-matching prefix to fail")
	}
}

func TestGenerateReturnsRawImageBody(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write(raw)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, ImageHost{}, nil)
	res, err := c.Generate(context.Background(), "pk_test", imggateway.ImageRequest{Prompt: "a sunset"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Success || len(res.Images) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	decoded, err := base64.StdEncoding.DecodeString(res.Images[0].B64JSON)
	if err != nil || string(decoded) != string(raw) {
		t.Fatalf("unexpected decoded bytes: %v err=%v", decoded, err)
	}
	if !strings.Contains(gotPath, "a%20sunset") && !strings.Contains(gotPath, "a+sunset") {
		t.Fatalf("expected prompt encoded in path, got %q", gotPath)
	}
}

func TestResolveDimensions(t *testing.T) {
	w, h := resolveDimensions("16:9")
	if w != 1344 || h != 768 {
		t.Fatalf("unexpected ratio dims: %dx%d", w, h)
	}
	w, h = resolveDimensions("800x600")
	if w != 800 || h != 600 {
		t.Fatalf("unexpected literal dims: %dx%d", w, h)
	}
	w, h = resolveDimensions("")
	if w != defaultWidth || h != defaultHeight {
		t.Fatalf("unexpected default dims: %dx%d", w, h)
	}
}
