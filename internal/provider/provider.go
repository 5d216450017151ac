// Package provider implements the provider registry for image-generation
// adapters: declaration-order registration, credential-shape detection,
// and model-name lookup.
package provider

import (
	"fmt"
	"sync"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

// Registry maps provider names to imggateway.Provider instances and tracks
// an enabled set. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]imggateway.Provider
	order   []string // declaration order, for deterministic detect/lookup
	enabled map[string]bool
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]imggateway.Provider),
		enabled: make(map[string]bool),
	}
}

// Register adds a provider under the given name, enabled by default.
// Re-registering the same name overwrites the instance but keeps its
// original declaration-order position.
func (r *Registry) Register(name string, p imggateway.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
		r.enabled[name] = true
	}
	r.byName[name] = p
}

// SetEnabled toggles whether name participates in detectProvider/router
// plans. Returns false if name is not registered.
func (r *Registry) SetEnabled(name string, on bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return false
	}
	r.enabled[name] = on
	return true
}

// Get returns the provider registered under name, or an error if not found.
func (r *Registry) Get(name string) (imggateway.Provider, error) {
	r.mu.RLock()
	p, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return p, nil
}

// IsEnabled reports whether name is registered and enabled.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// List returns all registered provider names in declaration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// EnabledList returns enabled provider names in declaration order.
func (r *Registry) EnabledList() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if r.enabled[name] {
			out = append(out, name)
		}
	}
	return out
}

// DetectProvider iterates adapters in declaration order and returns the
// first whose DetectAPIKey matches credential. Only enabled adapters are
// considered.
func (r *Registry) DetectProvider(credential string) (imggateway.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		p := r.byName[name]
		if p.DetectAPIKey(credential) {
			return p, true
		}
	}
	return nil, false
}

// IsRecognizedAPIKey reports whether any registered adapter's DetectAPIKey
// matches credential, regardless of enabled state. Used to admit
// OpenAI-style keys without requiring a global secret.
func (r *Registry) IsRecognizedAPIKey(credential string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if r.byName[name].DetectAPIKey(credential) {
			return true
		}
	}
	return false
}

// GetProviderByModel returns the unique adapter whose supported-model list
// contains model. Collisions are resolved by enabled-first, then
// declaration order; returns false if no adapter supports the model.
func (r *Registry) GetProviderByModel(model string) (imggateway.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var fallback imggateway.Provider
	for _, name := range r.order {
		p := r.byName[name]
		for _, m := range p.SupportedModels() {
			if m == model {
				if r.enabled[name] {
					return p, true
				}
				if fallback == nil {
					fallback = p
				}
			}
		}
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}
