package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/artifact"
	"github.com/lianwusuoai/img-router/internal/circuitbreaker"
	"github.com/lianwusuoai/img-router/internal/configstore"
	"github.com/lianwusuoai/img-router/internal/httpapi"
	"github.com/lianwusuoai/img-router/internal/logging"
	"github.com/lianwusuoai/img-router/internal/promptopt"
	"github.com/lianwusuoai/img-router/internal/provider"
	"github.com/lianwusuoai/img-router/internal/provider/doubao"
	"github.com/lianwusuoai/img-router/internal/provider/gitee"
	"github.com/lianwusuoai/img-router/internal/provider/huggingface"
	"github.com/lianwusuoai/img-router/internal/provider/modelscope"
	"github.com/lianwusuoai/img-router/internal/provider/pollinations"
	"github.com/lianwusuoai/img-router/internal/telemetry"
	"github.com/lianwusuoai/img-router/internal/worker"
)

func run(configPath string) error {
	store, err := configstore.Load(configPath)
	if err != nil {
		return err
	}

	logDir := envOr("LOG_DIR", "data/logs")
	logger := logging.New(logDir)
	defer logger.Close()

	doc := store.Get()
	logger.Info("Boot", "starting imgrouter version=%s addr=:%d", version, doc.System.Port)

	galleryDir := envOr("GALLERY_DIR", "data/gallery")
	artifacts := artifact.New(galleryDir)
	artifacts.ConfigureS3(doc.Storage.S3)
	store.Subscribe(func(updated imggateway.Runtime) {
		artifacts.ConfigureS3(updated.Storage.S3)
	})

	optimizer := promptopt.New(20 * time.Second)

	// Shared DNS cache for every adapter's HTTP client.
	dnsResolver := &dnscache.Resolver{}

	reg := registerProviders(dnsResolver)
	for _, name := range reg.List() {
		settings := doc.Providers[name]
		if !settings.IsEnabled() {
			reg.SetEnabled(name, false)
			logger.Info("Boot", "provider %s disabled by runtime config", name)
			continue
		}
		logger.Info("Boot", "provider %s registered", name)
	}

	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	// Tracing is opt-in: most deployments have no OTLP collector listening,
	// and calling SetupTracing against one that doesn't exist just adds a
	// doomed background connection.
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		shutdownTracing, err := telemetry.SetupTracing(context.Background(), endpoint, tracingSampleRate())
		if err != nil {
			logger.Error("Boot", "tracing setup failed, continuing without it: %v", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracing(ctx)
			}()
			logger.Info("Boot", "tracing enabled endpoint=%s", endpoint)
		}
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	runner := worker.NewRunner(
		&worker.DNSRefresher{Resolver: dnsResolver},
		&worker.BreakerSweeper{Breakers: breakers},
	)
	go func() {
		if err := runner.Run(bgCtx); err != nil {
			logger.Error("Boot", "background worker stopped: %v", err)
		}
	}()

	handler := httpapi.New(httpapi.Deps{
		Config:     store,
		Providers:  reg,
		Optimizer:  optimizer,
		Artifacts:  artifacts,
		Logger:     logger,
		HTTPClient: &http.Client{Transport: provider.NewTransport(dnsResolver, true), Timeout: 60 * time.Second},
		Metrics:    metrics,
		Registry:   promReg,
		Breakers:   breakers,
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(effectivePort(doc.System.Port)),
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("Boot", "imgrouter ready addr=%s", srv.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Boot", "shutting down, signal=%s", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Boot", "imgrouter stopped")
	return nil
}

// registerProviders wires every built-in adapter from environment-sourced
// connection settings (base URLs, credential-exempt hosting targets):
// unlike the runtime document's admin-editable task defaults and
// credential pools, these are deployment-time wiring and are read once
// at boot, matching the teacher's config-to-client construction in
// buildProviderClient.
func registerProviders(resolver *dnscache.Resolver) *provider.Registry {
	reg := provider.NewRegistry()

	reg.Register("doubao", doubao.New(
		envOr("DOUBAO_BASE_URL", ""),
		resolver,
		doubao.ImageHost{URL: os.Getenv("IMAGE_HOST_URL"), AuthCode: os.Getenv("IMAGE_HOST_AUTH_CODE")},
		splitCSV(os.Getenv("DOUBAO_MODELS")),
	))
	reg.Register("gitee", gitee.New(
		envOr("GITEE_BASE_URL", ""),
		resolver,
		splitCSV(os.Getenv("GITEE_MODELS")),
	))
	reg.Register("modelscope", modelscope.New(
		envOr("MODELSCOPE_BASE_URL", ""),
		resolver,
		splitCSV(os.Getenv("MODELSCOPE_MODELS")),
	))
	reg.Register("pollinations", pollinations.New(
		envOr("POLLINATIONS_BASE_URL", ""),
		resolver,
		pollinations.ImageHost{URL: os.Getenv("IMAGE_HOST_URL"), AuthCode: os.Getenv("IMAGE_HOST_AUTH_CODE")},
		splitCSV(os.Getenv("POLLINATIONS_MODELS")),
	))
	reg.Register("huggingface", huggingface.New(
		resolver,
		huggingface.URLPool{
			TextToImage: splitCSV(os.Getenv("HUGGINGFACE_TEXT_SPACES")),
			Edit:        splitCSV(os.Getenv("HUGGINGFACE_EDIT_SPACES")),
		},
		splitCSV(os.Getenv("HUGGINGFACE_MODELS")),
	))

	return reg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func tracingSampleRate() float64 {
	v := os.Getenv("OTEL_TRACES_SAMPLE_RATE")
	if v == "" {
		return 1.0
	}
	if rate, err := strconv.ParseFloat(v, 64); err == nil {
		return rate
	}
	return 1.0
}

func effectivePort(configured int) int {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	if configured > 0 {
		return configured
	}
	return 8080
}
