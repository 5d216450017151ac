package httpapi

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/artifact"
	"github.com/lianwusuoai/img-router/internal/configstore"
	"github.com/lianwusuoai/img-router/internal/logging"
	"github.com/lianwusuoai/img-router/internal/promptopt"
	"github.com/lianwusuoai/img-router/internal/provider"
)

// fakeProvider is a canned imggateway.Provider for handler tests; it
// never makes a network call.
type fakeProvider struct {
	name       string
	models     []string
	caps       imggateway.Capabilities
	keyPrefix  string
	failKind   imggateway.ErrorKind // non-empty: every call fails with this kind
	nativeOnly bool
}

func (p *fakeProvider) Name() string                       { return p.name }
func (p *fakeProvider) Capabilities() imggateway.Capabilities { return p.caps }
func (p *fakeProvider) DetectAPIKey(credential string) bool {
	return p.keyPrefix != "" && len(credential) > len(p.keyPrefix) && credential[:len(p.keyPrefix)] == p.keyPrefix
}
func (p *fakeProvider) ValidateRequest(req imggateway.ImageRequest) error { return nil }
func (p *fakeProvider) SupportedModels() []string                        { return p.models }

func (p *fakeProvider) Generate(ctx context.Context, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	return p.result(req), nil
}

func (p *fakeProvider) Blend(ctx context.Context, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	return p.result(req), nil
}

func (p *fakeProvider) result(req imggateway.ImageRequest) *imggateway.GenerationResult {
	if p.failKind != "" {
		return &imggateway.GenerationResult{
			Success: false,
			Err:     &imggateway.ProviderError{Provider: p.name, Kind: p.failKind, Message: "simulated failure"},
		}
	}
	n := req.N
	if n < 1 {
		n = 1
	}
	images := make([]imggateway.GeneratedImage, n)
	for i := range images {
		images[i] = imggateway.GeneratedImage{URL: "https://example.test/" + p.name + "/out.png"}
	}
	return &imggateway.GenerationResult{Success: true, Images: images}
}

// UsesInternalCredential marks nativeOnly providers as credential-exempt.
func (p *fakeProvider) UsesInternalCredential() bool { return p.nativeOnly }

var _ imggateway.NativeCredential = (*fakeProvider)(nil)

func newTestServer(t *testing.T, providers ...*fakeProvider) *server {
	t.Helper()
	store, err := configstore.Load(filepath.Join(t.TempDir(), "runtime.json"))
	if err != nil {
		t.Fatalf("configstore.Load: %v", err)
	}

	reg := provider.NewRegistry()
	for _, p := range providers {
		reg.Register(p.name, p)
	}

	return &server{deps: Deps{
		Config:     store,
		Providers:  reg,
		Optimizer:  promptopt.New(0),
		Artifacts:  artifact.New(t.TempDir()),
		Logger:     logging.New(t.TempDir()),
		HTTPClient: http.DefaultClient,
	}}
}

// newBackendTestRouter is newTestRouter plus one active pooled key per
// provider, so backend-mode ("Bearer S") generation requests can acquire
// a credential instead of failing with 503.
func newBackendTestRouter(t *testing.T, providers ...*fakeProvider) http.Handler {
	t.Helper()
	s := newTestServer(t, providers...)
	sys := s.deps.Config.Get().System
	sys.GlobalAccessKey = "S"
	if err := s.deps.Config.UpdateSystem(sys); err != nil {
		t.Fatalf("UpdateSystem: %v", err)
	}
	for _, p := range providers {
		item := imggateway.KeyItem{ID: p.name + "-key-1", Key: "test-key-" + p.name, Enabled: true, Status: imggateway.KeyStatusActive}
		if err := s.deps.Config.UpdateKeyPool(p.name, []imggateway.KeyItem{item}); err != nil {
			t.Fatalf("UpdateKeyPool: %v", err)
		}
	}
	return New(s.deps)
}

func textCapableProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:   name,
		models: []string{name + "-model-1"},
		caps: imggateway.Capabilities{
			TextToImage:           true,
			ImageToImage:          true,
			MultiImageFusion:      true,
			MaxNativeOutputImages: 1,
		},
	}
}
