package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

func TestClassifyServiceDisabled(t *testing.T) {
	s := newTestServer(t, textCapableProvider("Doubao"))
	sys := s.deps.Config.Get().System
	sys.Modes.Relay = false
	sys.Modes.Backend = false
	if err := s.deps.Config.UpdateSystem(sys); err != nil {
		t.Fatalf("UpdateSystem: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", nil)
	_, err := s.classify(req)
	if !errors.Is(err, imggateway.ErrServiceDisabled) {
		t.Fatalf("classify() err = %v, want ErrServiceDisabled", err)
	}
}

func TestClassifyRelayWithDetectedCredential(t *testing.T) {
	hf := textCapableProvider("HuggingFace")
	hf.keyPrefix = "hf_"
	s := newTestServer(t, hf)

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", nil)
	req.Header.Set("Authorization", "Bearer hf_abc123")

	auth, err := s.classify(req)
	if err != nil {
		t.Fatalf("classify() err = %v", err)
	}
	if auth.Mode != imggateway.AuthModeRelay {
		t.Fatalf("Mode = %v, want relay", auth.Mode)
	}
	if auth.Provider == nil || auth.Provider.Name() != "HuggingFace" {
		t.Fatalf("Provider = %v, want HuggingFace", auth.Provider)
	}
	if auth.Credential != "hf_abc123" {
		t.Fatalf("Credential = %q", auth.Credential)
	}
}

func TestClassifyRelayDisabledForbidsDetectedCredential(t *testing.T) {
	hf := textCapableProvider("HuggingFace")
	hf.keyPrefix = "hf_"
	s := newTestServer(t, hf)
	sys := s.deps.Config.Get().System
	sys.Modes.Relay = false
	if err := s.deps.Config.UpdateSystem(sys); err != nil {
		t.Fatalf("UpdateSystem: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", nil)
	req.Header.Set("Authorization", "Bearer hf_abc123")

	_, err := s.classify(req)
	if !errors.Is(err, imggateway.ErrForbidden) {
		t.Fatalf("classify() err = %v, want ErrForbidden", err)
	}
}

func TestClassifyBackendGlobalKeyMismatch(t *testing.T) {
	s := newTestServer(t, textCapableProvider("Doubao"))
	sys := s.deps.Config.Get().System
	sys.Modes.Relay = false
	sys.GlobalAccessKey = "S"
	if err := s.deps.Config.UpdateSystem(sys); err != nil {
		t.Fatalf("UpdateSystem: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", nil)
	req.Header.Set("Authorization", "Bearer X")

	_, err := s.classify(req)
	if !errors.Is(err, imggateway.ErrUnauthorized) {
		t.Fatalf("classify() err = %v, want ErrUnauthorized", err)
	}
}

func TestClassifyBackendGlobalKeyMatch(t *testing.T) {
	s := newTestServer(t, textCapableProvider("Doubao"))
	sys := s.deps.Config.Get().System
	sys.Modes.Relay = false
	sys.GlobalAccessKey = "S"
	if err := s.deps.Config.UpdateSystem(sys); err != nil {
		t.Fatalf("UpdateSystem: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", nil)
	req.Header.Set("Authorization", "Bearer S")

	auth, err := s.classify(req)
	if err != nil {
		t.Fatalf("classify() err = %v", err)
	}
	if auth.Mode != imggateway.AuthModeBackend {
		t.Fatalf("Mode = %v, want backend", auth.Mode)
	}
}
