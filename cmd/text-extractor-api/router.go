// Package main provides the API router setup.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/text-extractor/cmd/text-extractor-api/handlers"
	"github.com/spherical/text-extractor/cmd/text-extractor-api/middleware"
	"github.com/spherical/text-extractor/internal/fileformat"
	"github.com/spherical/text-extractor/internal/observability"
)

// Pinger reports whether the job backends are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the dependencies the router hands to its handlers.
type Services struct {
	Jobs    handlers.JobService
	Health  Pinger
	Storage handlers.StorageService
	Models  handlers.ModelService
	Formats *fileformat.Registry
	Metrics *observability.Metrics
}

// RouterConfig holds the HTTP-level settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
	ServiceName    string
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg RouterConfig, svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"` + cfg.ServiceName + `"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if svc.Health != nil {
			if err := svc.Health.Ping(r.Context()); err != nil {
				logger.Warn().Err(err).Msg("Readiness check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	if svc.Metrics != nil {
		r.Handle("/metrics", svc.Metrics.Handler())
	}

	ocrHandler := handlers.NewOCRHandler(logger, svc.Jobs, svc.Formats, cfg.MaxUploadBytes)
	storageHandler := handlers.NewStorageHandler(logger, svc.Storage)
	llmHandler := handlers.NewLLMHandler(logger, svc.Models)

	r.Route("/ocr", func(r chi.Router) {
		r.Post("/", ocrHandler.Upload)
		r.Post("/upload", ocrHandler.Upload)
		r.Post("/request", ocrHandler.Request)
		r.Get("/result/{task_id}", ocrHandler.Result)
		r.Post("/clear_cache", ocrHandler.ClearCache)
	})

	r.Route("/storage", func(r chi.Router) {
		r.Get("/list", storageHandler.List)
		r.Get("/load", storageHandler.Load)
		r.Delete("/delete", storageHandler.Delete)
	})

	r.Route("/llm", func(r chi.Router) {
		r.Post("/pull", llmHandler.Pull)
		r.Post("/generate", llmHandler.Generate)
	})

	return r
}
