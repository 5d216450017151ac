package httpapi

import (
	"context"
	"testing"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

func TestRunGenerationBatchesByNativeOutputCap(t *testing.T) {
	p := textCapableProvider("Doubao")
	p.caps.MaxNativeOutputImages = 3
	s := newTestServer(t, p)
	if err := s.deps.Config.UpdateSystem(imggateway.SystemConfig{Modes: imggateway.ModesConfig{Relay: true, Backend: true}}); err != nil {
		t.Fatalf("UpdateSystem: %v", err)
	}

	auth := authResult{Mode: imggateway.AuthModeRelay, Provider: p, Credential: "k"}
	outcome, err := s.runGeneration(context.Background(), auth, generationRequest{
		Task:   imggateway.TaskText,
		Prompt: "a cat",
		N:      7,
	})
	if err != nil {
		t.Fatalf("runGeneration() err = %v", err)
	}
	if len(outcome.Images) != 7 {
		t.Fatalf("len(Images) = %d, want 7", len(outcome.Images))
	}
}

func TestRunGenerationDefaultsResponseFormatToURL(t *testing.T) {
	p := textCapableProvider("Doubao")
	s := newTestServer(t, p)

	auth := authResult{Mode: imggateway.AuthModeRelay, Provider: p, Credential: "k"}
	outcome, err := s.runGeneration(context.Background(), auth, generationRequest{
		Task:   imggateway.TaskText,
		Prompt: "a cat",
	})
	if err != nil {
		t.Fatalf("runGeneration() err = %v", err)
	}
	if len(outcome.Images) != 1 || outcome.Images[0].URL == "" {
		t.Fatalf("Images = %+v", outcome.Images)
	}
}

func TestRunGenerationPropagatesErrorWhenNothingSucceeds(t *testing.T) {
	p := textCapableProvider("Doubao")
	p.failKind = imggateway.ErrorKindOther
	s := newTestServer(t, p)

	auth := authResult{Mode: imggateway.AuthModeRelay, Provider: p, Credential: "k"}
	_, err := s.runGeneration(context.Background(), auth, generationRequest{
		Task:   imggateway.TaskText,
		Prompt: "a cat",
	})
	if err == nil {
		t.Fatal("runGeneration() err = nil, want failure")
	}
}
