package httpapi

import (
	"context"
	"fmt"
	"time"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/circuitbreaker"
	"github.com/lianwusuoai/img-router/internal/router"
)

// maxCredentialRetries is the backend-mode retry budget per plan step on
// rate_limit/auth_error, per spec.md §4.H "Execution".
const maxCredentialRetries = 3

// callTask invokes the right adapter method for task.
func callTask(ctx context.Context, p imggateway.Provider, task imggateway.Task, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	if task == imggateway.TaskBlend {
		return p.Blend(ctx, credential, req)
	}
	return p.Generate(ctx, credential, req)
}

// buildProviderViews assembles the router's ProviderView slice from the
// registry plus the current runtime document's per-provider task
// overlay, for the given task.
func (s *server) buildProviderViews(task imggateway.Task) []router.ProviderView {
	cfg := s.deps.Config.Get()
	names := s.deps.Providers.List()
	views := make([]router.ProviderView, 0, len(names))
	for idx, name := range names {
		p, err := s.deps.Providers.Get(name)
		if err != nil {
			continue
		}
		caps := p.Capabilities()
		supports := false
		switch task {
		case imggateway.TaskText:
			supports = caps.TextToImage
		case imggateway.TaskEdit:
			supports = caps.ImageToImage
		case imggateway.TaskBlend:
			supports = caps.MultiImageFusion
		}

		settings := cfg.Providers[name]
		enabled := s.deps.Providers.IsEnabled(name) && settings.IsEnabled()

		var defaults *imggateway.TaskDefaults
		switch task {
		case imggateway.TaskText:
			defaults = settings.Text
		case imggateway.TaskEdit:
			defaults = settings.Edit
		case imggateway.TaskBlend:
			defaults = settings.Blend
		}

		view := router.ProviderView{
			Name:             name,
			Enabled:          enabled,
			DeclarationOrder: idx,
			SupportsTask:     supports,
			SupportedModels:  p.SupportedModels(),
		}
		if models := p.SupportedModels(); len(models) > 0 {
			view.AdapterDefault = models[0]
		}
		if defaults != nil {
			view.TaskDefaultModel = defaults.Model
			view.Weight = defaults.Weight
		}
		views = append(views, view)
	}
	return views
}

// dispatch implements stages 3 and 6: select a provider (relay: the
// caller's detected credential; backend: the weighted cascade plan) and
// execute with retries, advancing to the next plan step on exhaustion.
func (s *server) dispatch(ctx context.Context, auth authResult, task imggateway.Task, req imggateway.ImageRequest) (*imggateway.GenerationResult, string, error) {
	if auth.Mode == imggateway.AuthModeRelay {
		if err := auth.Provider.ValidateRequest(req); err != nil {
			return nil, "", fmt.Errorf("%w: %s", imggateway.ErrBadRequest, err.Error())
		}
		result, err := callTask(ctx, auth.Provider, task, auth.Credential, req)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s", imggateway.ErrUpstreamError, err.Error())
		}
		if !result.Success {
			return nil, "", result.Err
		}
		return result, auth.Provider.Name(), nil
	}

	plan := router.BuildPlan(s.buildProviderViews(task), req.Model)
	if len(plan) == 0 {
		return nil, "", imggateway.ErrNoProviders
	}

	var lastErr error
	for _, step := range plan {
		p, err := s.deps.Providers.Get(step.Provider)
		if err != nil {
			continue
		}
		stepReq := req
		stepReq.Model = step.Model
		if err := p.ValidateRequest(stepReq); err != nil {
			lastErr = fmt.Errorf("%w: %s", imggateway.ErrBadRequest, err.Error())
			continue
		}

		breaker := s.breakerFor(step.Provider)
		if breaker != nil && !breaker.Allow() {
			if s.deps.Metrics != nil {
				s.deps.Metrics.CircuitBreakerRejects.WithLabelValues(step.Provider).Inc()
			}
			lastErr = fmt.Errorf("%w: %s is temporarily unavailable", imggateway.ErrUpstreamError, step.Provider)
			continue
		}

		attempts := maxCredentialRetries
		native := false
		if nc, ok := p.(imggateway.NativeCredential); ok && nc.UsesInternalCredential() {
			attempts = 1
			native = true
		}

		for attempt := 0; attempt < attempts; attempt++ {
			var credential string
			if !native {
				key, ok := s.deps.Config.GetNextAvailableKey(step.Provider)
				if !ok {
					lastErr = fmt.Errorf("%w: No available API keys for provider: %s", imggateway.ErrKeyPoolExhausted, step.Provider)
					break
				}
				credential = key
			}

			callStart := time.Now()
			result, err := callTask(ctx, p, task, credential, stepReq)
			if s.deps.Metrics != nil {
				s.deps.Metrics.UpstreamDuration.WithLabelValues(step.Provider, string(task)).Observe(time.Since(callStart).Seconds())
			}
			if err != nil {
				lastErr = fmt.Errorf("%w: %s", imggateway.ErrUpstreamError, err.Error())
				if breaker != nil {
					breaker.RecordError(circuitbreaker.ClassifyError(err))
					if s.deps.Metrics != nil {
						s.deps.Metrics.CircuitBreakerState.WithLabelValues(step.Provider).Set(float64(breaker.State()))
					}
				}
				break
			}
			if result.Success {
				if !native {
					s.deps.Config.ReportKeySuccess(step.Provider, credential)
				}
				if breaker != nil {
					breaker.RecordSuccess()
				}
				return result, step.Provider, nil
			}

			lastErr = result.Err
			if !native {
				s.deps.Config.ReportKeyError(step.Provider, credential, result.Err.Kind)
			}
			s.recordBreakerOutcome(breaker, step.Provider, result.Err.Kind)
			if result.Err.Kind == imggateway.ErrorKindOther {
				break
			}
			// rate_limit / auth_error: retry this step with a fresh credential
		}
	}
	if lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", imggateway.ErrUpstreamError
}

// breakerFor returns the provider's circuit breaker, or nil when Deps
// wasn't booted with a breaker registry.
func (s *server) breakerFor(provider string) *circuitbreaker.Breaker {
	if s.deps.Breakers == nil {
		return nil
	}
	return s.deps.Breakers.GetOrCreate(provider)
}

// recordBreakerOutcome feeds the weighted error rate into the provider's
// breaker and mirrors its resulting state into Prometheus, matching the
// rate_limit/auth_error/other weighting the original classifier used for
// a single upstream transport, adapted here to a failed GenerationResult.
func (s *server) recordBreakerOutcome(breaker *circuitbreaker.Breaker, provider string, kind imggateway.ErrorKind) {
	if breaker == nil {
		return
	}
	var weight float64
	switch kind {
	case imggateway.ErrorKindRateLimit:
		weight = 0.5
	case imggateway.ErrorKindAuth:
		weight = 0 // a rejected credential is a key problem, not provider health
	default:
		weight = 1.0
	}
	breaker.RecordError(weight)
	if s.deps.Metrics != nil {
		s.deps.Metrics.CircuitBreakerState.WithLabelValues(provider).Set(float64(breaker.State()))
	}
}
