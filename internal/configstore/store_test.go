package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "runtime.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc := s.Get()
	if doc.System.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", doc.System.Port)
	}
}

func TestLoadDropsUnknownAndMalformedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")
	raw := `{
		"system": {"port": 9090, "modes": {"relay": true, "backend": false}},
		"totallyUnknownField": 42,
		"providers": {
			"good": {"enabled": true},
			"bad": {"enabled": "not-a-bool"}
		}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc := s.Get()
	if doc.System.Port != 9090 {
		t.Fatalf("expected sanitized port 9090, got %d", doc.System.Port)
	}
	if _, ok := doc.Providers["good"]; !ok {
		t.Fatalf("expected well-typed provider entry to survive sanitization")
	}
	if _, ok := doc.Providers["bad"]; ok {
		t.Fatalf("expected malformed provider entry to be dropped")
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rewritten file: %v", err)
	}
	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(rewritten, &onDisk); err != nil {
		t.Fatalf("rewritten file is not valid JSON: %v", err)
	}
	if _, ok := onDisk["totallyUnknownField"]; ok {
		t.Fatalf("expected rewritten document to drop the unknown field")
	}
}

func TestKeyPoolRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "runtime.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	items := []imggateway.KeyItem{
		{Key: "k1", Enabled: true, Status: imggateway.KeyStatusActive},
		{Key: "k2", Enabled: false, Status: imggateway.KeyStatusActive},
	}
	if err := s.UpdateKeyPool("doubao", items); err != nil {
		t.Fatalf("UpdateKeyPool: %v", err)
	}

	key, ok := s.GetNextAvailableKey("doubao")
	if !ok || key != "k1" {
		t.Fatalf("expected k1 as the only eligible key, got %q ok=%v", key, ok)
	}

	if err := s.ReportKeySuccess("doubao", "k1"); err != nil {
		t.Fatalf("ReportKeySuccess: %v", err)
	}
	pool := s.GetKeyPool("doubao")
	if pool[0].SuccessCount != 1 {
		t.Fatalf("expected successCount 1, got %d", pool[0].SuccessCount)
	}

	for i := 0; i < 6; i++ {
		if err := s.ReportKeyError("doubao", "k1", imggateway.ErrorKindOther); err != nil {
			t.Fatalf("ReportKeyError: %v", err)
		}
	}
	pool = s.GetKeyPool("doubao")
	if pool[0].Status != imggateway.KeyStatusDisabled {
		t.Fatalf("expected k1 disabled after repeated errors, got %v", pool[0].Status)
	}
}

func TestSetTaskDefaultsAndProviderEnabled(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "runtime.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := s.SetProviderEnabled("gitee", false); err != nil {
		t.Fatalf("SetProviderEnabled: %v", err)
	}
	if s.Get().Providers["gitee"].IsEnabled() {
		t.Fatalf("expected gitee disabled")
	}

	defaults := imggateway.TaskDefaults{Model: "cogview-3", Size: "1024x1024", N: 1, Weight: 5}
	if err := s.SetTaskDefaults("gitee", imggateway.TaskText, defaults); err != nil {
		t.Fatalf("SetTaskDefaults: %v", err)
	}
	got := s.Get().Providers["gitee"].Text
	if got == nil || got.Model != "cogview-3" {
		t.Fatalf("expected text defaults to persist, got %+v", got)
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("PROMPT_OPTIMIZER_MODEL", "gpt-4o-mini")

	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "runtime.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc := s.Get()
	if doc.System.Port != 9999 {
		t.Fatalf("expected env PORT override, got %d", doc.System.Port)
	}
	if doc.PromptOptimizer.Model != "gpt-4o-mini" {
		t.Fatalf("expected env model override, got %q", doc.PromptOptimizer.Model)
	}
}
