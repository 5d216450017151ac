// Package configstore owns the single JSON runtime document that backs
// the whole gateway: system settings, per-provider task defaults, the
// credential pools, the prompt-optimizer settings, and storage settings.
// It is the sole writer of that document; every other package reaches
// the data through a Store method, never by touching the file directly.
package configstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/keypool"
)

// legacyFileName is the historical runtime document name, kept so a
// workspace migrated from an older deployment is picked up without
// manual intervention.
const legacyFileName = "runtime-config.json"

// Store owns the in-memory Runtime document and its on-disk copy.
// All reads return deep copies; all mutators persist synchronously
// before returning.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  imggateway.Runtime

	subMu       sync.Mutex
	subscribers []func(imggateway.Runtime)
}

// Default returns the compiled-in baseline document used when no file
// exists yet and when sanitization must fill a missing section.
func Default() imggateway.Runtime {
	return imggateway.Runtime{
		System: imggateway.SystemConfig{
			Modes:          imggateway.ModesConfig{Relay: true, Backend: true},
			Port:           8080,
			APITimeoutMs:   120_000,
			MaxBodySize:    32 << 20,
			CORS:           true,
			RequestLogging: true,
			HealthCheck:    true,
		},
		Providers: map[string]imggateway.ProviderSettings{},
		KeyPools:  map[string][]imggateway.KeyItem{},
		PromptOptimizer: imggateway.PromptOptimizerConfig{
			TranslateMaxLength: 5000,
			ExpandMaxLength:    5000,
		},
	}
}

// Load reads the runtime document at path, falling back to legacyFileName
// in the same directory, and finally to Default() if neither is present
// or readable. Read failures degrade to defaults and log a warning
// rather than failing boot.
func Load(path string) (*Store, error) {
	s := &Store{path: path, doc: Default()}

	data, err := os.ReadFile(path)
	if err != nil {
		legacy := filepath.Join(filepath.Dir(path), legacyFileName)
		data, err = os.ReadFile(legacy)
	}
	if err != nil {
		slog.Warn("configstore: no runtime document found, starting from defaults", "path", path, "error", err)
		applyEnvOverrides(&s.doc)
		return s, nil
	}

	doc, dirty := sanitize(data, Default())
	s.doc = doc
	applyEnvOverrides(&s.doc)

	if dirty {
		slog.Warn("configstore: dropped unknown or malformed fields on load, rewriting document", "path", path)
		if werr := s.persistLocked(); werr != nil {
			slog.Error("configstore: failed to rewrite sanitized document", "error", werr)
		}
	}
	return s, nil
}

// sanitize decodes data over base section by section. A top-level key
// that does not belong to Runtime is dropped. A known section that fails
// to decode (for example because one of its fields has the wrong JSON
// type) is dropped whole and keeps base's value; under "providers" only
// the entries that fail to decode are dropped. Unknown fields inside a
// known section are ignored and do not count as a drop. It reports
// whether anything was dropped.
func sanitize(data []byte, base imggateway.Runtime) (imggateway.Runtime, bool) {
	doc := base
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return base, true
	}

	dirty := false
	known := map[string]func(json.RawMessage) bool{
		"system": func(m json.RawMessage) bool {
			var v imggateway.SystemConfig
			if err := json.Unmarshal(m, &v); err != nil {
				return false
			}
			doc.System = v
			return true
		},
		"providers": func(m json.RawMessage) bool {
			v, ok := sanitizeProviders(m)
			doc.Providers = v
			return ok
		},
		"keyPools": func(m json.RawMessage) bool {
			var v map[string][]imggateway.KeyItem
			if err := json.Unmarshal(m, &v); err != nil {
				return false
			}
			doc.KeyPools = v
			return true
		},
		"promptOptimizer": func(m json.RawMessage) bool {
			var v imggateway.PromptOptimizerConfig
			if err := json.Unmarshal(m, &v); err != nil {
				return false
			}
			doc.PromptOptimizer = v
			return true
		},
		"storage": func(m json.RawMessage) bool {
			var v imggateway.StorageConfig
			if err := json.Unmarshal(m, &v); err != nil {
				return false
			}
			doc.Storage = v
			return true
		},
	}

	for key, raw := range raw {
		apply, ok := known[key]
		if !ok {
			dirty = true
			continue
		}
		if !apply(raw) {
			dirty = true
		}
	}
	if doc.Providers == nil {
		doc.Providers = map[string]imggateway.ProviderSettings{}
	}
	if doc.KeyPools == nil {
		doc.KeyPools = map[string][]imggateway.KeyItem{}
	}
	return doc, dirty
}

// sanitizeProviders decodes a providers map, dropping entries whose value
// does not parse as ProviderSettings instead of failing the whole document.
func sanitizeProviders(m json.RawMessage) (map[string]imggateway.ProviderSettings, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m, &raw); err != nil {
		return map[string]imggateway.ProviderSettings{}, false
	}
	out := make(map[string]imggateway.ProviderSettings, len(raw))
	ok := true
	for name, entry := range raw {
		var v imggateway.ProviderSettings
		if err := json.Unmarshal(entry, &v); err != nil {
			ok = false
			continue
		}
		out[name] = v
	}
	return out, ok
}

// applyEnvOverrides applies the small allowlist of environment variables
// that take precedence over the runtime document and the compiled default.
func applyEnvOverrides(doc *imggateway.Runtime) {
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			doc.System.Port = port
		}
	}
	if v := os.Getenv("PROMPT_OPTIMIZER_BASE_URL"); v != "" {
		doc.PromptOptimizer.BaseURL = v
	}
	if v := os.Getenv("PROMPT_OPTIMIZER_API_KEY"); v != "" {
		doc.PromptOptimizer.APIKey = v
	}
	if v := os.Getenv("PROMPT_OPTIMIZER_MODEL"); v != "" {
		doc.PromptOptimizer.Model = v
	}
}

// persistLocked writes s.doc to s.path atomically. Callers must hold s.mu
// for writing (or be single-threaded during Load).
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("configstore: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("configstore: mkdir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("configstore: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("configstore: rename: %w", err)
	}
	return nil
}

// persist writes the document and notifies subscribers on success. Write
// failures are logged, not propagated as fatal: the in-memory copy stays
// authoritative until the next successful write.
func (s *Store) persist() error {
	if err := s.persistLocked(); err != nil {
		slog.Error("configstore: persist failed", "error", err)
		return err
	}
	snapshot := s.doc
	s.subMu.Lock()
	subs := append([]func(imggateway.Runtime){}, s.subscribers...)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(snapshot)
	}
	return nil
}

// Subscribe registers fn to be called with the new document after every
// successful mutation, for hot-reload consumers (e.g. the artifact
// store's S3 reconfiguration in cmd/imgrouter).
func (s *Store) Subscribe(fn func(imggateway.Runtime)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Get returns a deep-copied snapshot of the current runtime document.
func (s *Store) Get() imggateway.Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.doc)
}

func deepCopy(doc imggateway.Runtime) imggateway.Runtime {
	data, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	out := Default()
	_ = json.Unmarshal(data, &out)
	return out
}

// ReplaceAll overwrites the entire document (used by the admin bulk
// import endpoint) and persists it.
func (s *Store) ReplaceAll(doc imggateway.Runtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	return s.persist()
}

// UpdateSystem applies patch over the current system settings and
// persists the result.
func (s *Store) UpdateSystem(patch imggateway.SystemConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.System = patch
	return s.persist()
}

// SetProviderEnabled flips a provider's enabled flag, creating its
// settings entry if absent, and persists the result.
func (s *Store) SetProviderEnabled(name string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.doc.Providers[name]
	settings.Enabled = &on
	s.doc.Providers[name] = settings
	return s.persist()
}

// SetTaskDefaults replaces the TaskDefaults for (name, task) and persists
// the result. task must be "text", "edit" or "blend".
func (s *Store) SetTaskDefaults(name string, task imggateway.Task, defaults imggateway.TaskDefaults) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.doc.Providers[name]
	switch task {
	case imggateway.TaskText:
		settings.Text = &defaults
	case imggateway.TaskEdit:
		settings.Edit = &defaults
	case imggateway.TaskBlend:
		settings.Blend = &defaults
	default:
		return fmt.Errorf("configstore: unknown task %q", task)
	}
	s.doc.Providers[name] = settings
	return s.persist()
}

// GetKeyPool returns a copy of the key pool for name.
func (s *Store) GetKeyPool(name string) []imggateway.KeyItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.doc.KeyPools[name]
	out := make([]imggateway.KeyItem, len(items))
	copy(out, items)
	return out
}

// UpdateKeyPool replaces the key pool for name and persists the result.
func (s *Store) UpdateKeyPool(name string, items []imggateway.KeyItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.KeyPools[name] = items
	return s.persist()
}

// GetNextAvailableKey returns a uniformly random active+enabled key for
// name, or ("", false) if none qualify.
func (s *Store) GetNextAvailableKey(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.doc.KeyPools[name]
	idx, ok := keypool.SelectActive(items)
	if !ok {
		return "", false
	}
	return items[idx].Key, true
}

// ReportKeySuccess records a successful call against (name, key) and
// persists the updated accounting.
func (s *Store) ReportKeySuccess(name, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.doc.KeyPools[name]
	idx := keypool.FindByKey(items, key)
	if idx < 0 {
		return nil
	}
	keypool.ApplySuccess(&items[idx], time.Now().UnixMilli())
	return s.persist()
}

// ReportKeyError records a failed call against (name, key) with the given
// classification and persists the updated accounting. A key whose error
// streak exceeds the threshold transitions to disabled.
func (s *Store) ReportKeyError(name, key string, reason imggateway.ErrorKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.doc.KeyPools[name]
	idx := keypool.FindByKey(items, key)
	if idx < 0 {
		return nil
	}
	keypool.ApplyError(&items[idx], reason)
	return s.persist()
}
