// Package httpapi terminates the gateway's HTTP surface: the four
// OpenAI-compatible generation endpoints (stages 1-8 of the request
// pipeline) and the admin/control API that drives the config store,
// credential pools, and artifact gallery.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lianwusuoai/img-router/internal/artifact"
	"github.com/lianwusuoai/img-router/internal/circuitbreaker"
	"github.com/lianwusuoai/img-router/internal/configstore"
	"github.com/lianwusuoai/img-router/internal/logging"
	"github.com/lianwusuoai/img-router/internal/promptopt"
	"github.com/lianwusuoai/img-router/internal/provider"
	"github.com/lianwusuoai/img-router/internal/telemetry"
)

// Deps holds every dependency the handlers need. Fields are constructed
// once at boot (cmd/imgrouter) and passed in by value to New. Metrics and
// Breakers are optional: nil disables Prometheus collection and the
// per-provider circuit breaker respectively.
type Deps struct {
	Config     *configstore.Store
	Providers  *provider.Registry
	Optimizer  *promptopt.Optimizer
	Artifacts  *artifact.Store
	Logger     *logging.Logger
	HTTPClient *http.Client // shared client for input-image normalization/fetch
	Metrics    *telemetry.Metrics
	Registry   *prometheus.Registry // backs the /metrics endpoint; paired with Metrics
	Breakers   *circuitbreaker.Registry
}

// New builds the complete handler tree: global middleware, the four
// generation endpoints, and the admin API.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.requestLogging)
	r.Use(s.cors)
	r.Use(s.metrics)

	r.Get("/healthz", s.handleHealthz)
	if deps.Metrics != nil && deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/images/generations", s.handleImagesGenerations)
	r.Post("/v1/images/edits", s.handleImagesEdits)
	r.Post("/v1/images/blend", s.handleImagesBlend)
	r.Get("/v1/models", s.handleListModels)

	r.Get("/api/config", s.handleGetConfig)
	r.Get("/api/runtime-config", s.handleGetRuntimeConfig)
	r.Post("/api/runtime-config", s.handlePostRuntimeConfig)
	r.Get("/api/key-pool", s.handleGetKeyPool)
	r.Post("/api/key-pool", s.handlePostKeyPool)
	r.Get("/api/dashboard/stats", s.handleDashboardStats)
	r.Get("/api/logs/stream", s.handleLogsStream)
	r.Get("/api/gallery", s.handleGetGallery)
	r.Delete("/api/gallery", s.handleDeleteGallery)
	r.Post("/api/tools/test-prompt-optimizer", s.handleTestPromptOptimizer)
	r.Post("/api/tools/fetch-models", s.handleFetchModels)
	r.Post("/api/restart-docker", s.handleRestartDocker)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	return r
}

type server struct {
	deps Deps
}

// apiTimeout returns the configured per-call upstream timeout, defaulting
// to 60s when the runtime document hasn't set one yet.
func (s *server) apiTimeout() time.Duration {
	sys := s.deps.Config.Get().System
	if sys.APITimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(sys.APITimeoutMs) * time.Millisecond
}

// contextWithAPITimeout derives a bounded context from the request's,
// capped at the configured per-call upstream timeout.
func contextWithAPITimeout(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

func (s *server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse("not found"))
}

func (s *server) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse("method not allowed"))
}

var (
	okBody  = []byte("ok")
	plainCT = []string{"text/plain"}
)
