package promptopt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsEnglishLike(t *testing.T) {
	if !isEnglishLike("a cat sitting on a mat") {
		t.Fatalf("expected pure ASCII prompt to be english-like")
	}
	if isEnglishLike("一只猫坐在垫子上") {
		t.Fatalf("expected CJK prompt to not be english-like")
	}
}

func TestStripMarkdown(t *testing.T) {
	in := "**A cute cat** sitting on a ## mat\n- with whiskers\n* and a tail\n`code`"
	out := stripMarkdown(in)
	for _, marker := range []string{"**", "##", "`", "- ", "* "} {
		if containsAny(out, marker) {
			t.Fatalf("expected marker %q stripped, got %q", marker, out)
		}
	}
}

func containsAny(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestCompletionsURLDerivation(t *testing.T) {
	cases := map[string]string{
		"http://host/v1/chat/completions": "http://host/v1/chat/completions",
		"http://host/v1":                  "http://host/v1/chat/completions",
		"http://host":                     "http://host/v1/chat/completions",
	}
	for in, want := range cases {
		if got := completionsURL(in); got != want {
			t.Fatalf("completionsURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOptimizeAllPerImageIndex(t *testing.T) {
	var seenBodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		msgs := body["messages"].([]any)
		last := msgs[len(msgs)-1].(map[string]any)
		seenBodies = append(seenBodies, last["content"].(string))
		w.Write([]byte(`{"choices":[{"message":{"content":"expanded prompt"}}]}`))
	}))
	defer srv.Close()

	o := New(0)
	cfg := Config{
		BaseURL:         srv.URL,
		Model:           "gpt-4o-mini",
		EnableExpand:    true,
		ExpandMaxLength: 5000,
	}
	results, err := o.OptimizeAll(context.Background(), cfg, "a cat", 3, false)
	if err != nil {
		t.Fatalf("OptimizeAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.ImageIndex != i || r.Prompt != "expanded prompt" {
			t.Fatalf("unexpected result %d: %+v", i, r)
		}
	}
	if len(seenBodies) != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", len(seenBodies))
	}
}

func TestOptimizeAllFallsBackOnErrorWhenNotStrict(t *testing.T) {
	o := New(0)
	cfg := Config{BaseURL: "http://127.0.0.1:1", EnableExpand: true, ExpandMaxLength: 5000}
	results, err := o.OptimizeAll(context.Background(), cfg, "original prompt", 1, false)
	if err != nil {
		t.Fatalf("expected no error in non-strict mode, got %v", err)
	}
	if results[0].Prompt != "original prompt" {
		t.Fatalf("expected original prompt preserved on failure, got %q", results[0].Prompt)
	}
}

func TestOptimizeAllStrictPropagatesError(t *testing.T) {
	o := New(0)
	cfg := Config{BaseURL: "http://127.0.0.1:1", EnableExpand: true, ExpandMaxLength: 5000}
	if _, err := o.OptimizeAll(context.Background(), cfg, "original prompt", 1, true); err == nil {
		t.Fatalf("expected strict mode to surface the error")
	}
}
