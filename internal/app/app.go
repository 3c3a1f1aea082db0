// Package app assembles the extraction service from configuration. The API
// server, the standalone worker and the local CLI all start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical/text-extractor/internal/cache"
	"github.com/spherical/text-extractor/internal/config"
	"github.com/spherical/text-extractor/internal/extract"
	"github.com/spherical/text-extractor/internal/fileformat"
	"github.com/spherical/text-extractor/internal/jobs"
	"github.com/spherical/text-extractor/internal/llm"
	"github.com/spherical/text-extractor/internal/observability"
	"github.com/spherical/text-extractor/internal/pdf"
	"github.com/spherical/text-extractor/internal/storage"
)

// App holds the wired service components.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Formats      *fileformat.Registry
	Strategies   *extract.Registry
	Ollama       *llm.OllamaClient
	Storage      *storage.Manager
	Store        jobs.Store
	Queue        jobs.Queue
	Orchestrator *jobs.Orchestrator

	redis    *redis.Client
	cache    cache.Client
	sqlStore *jobs.SQLStore
}

// Options adjusts what New wires.
type Options struct {
	// NoQueue skips the queue; only Orchestrator.Process works then.
	NoQueue bool
	// Observer receives every record write.
	Observer jobs.Observer
}

// New builds every component named by cfg. On error, whatever was already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = observability.Nop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Observability.MetricsEnabled {
		a.Metrics = observability.NewMetrics()
	}

	if cfg.UsesRedis() {
		a.redis, err = cache.NewRedisConn(cache.RedisConfig{
			URL:      cfg.Redis.URL,
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	if a.Formats, err = newFormats(cfg); err != nil {
		return nil, err
	}

	llmClient, err := a.newLLM()
	if err != nil {
		return nil, err
	}

	a.Strategies = extract.NewRegistry(extract.NewDiscovery(cfg.Extraction.StrategiesPath, a.backends()), logger)
	a.Storage = storage.NewManager(cfg.Storage.ProfilePath, logger)

	var extractions *cache.Extractions
	switch cfg.Cache.Driver {
	case "memory":
		a.cache = cache.NewMemoryClient(cfg.Cache.MaxEntries)
	case "redis":
		a.cache = cache.WrapRedis(a.redis, cfg.Redis.Prefix)
	}
	if a.cache != nil {
		extractions = cache.NewExtractions(a.cache, cfg.Cache.TTL)
	}

	if a.Store, err = a.newStore(ctx); err != nil {
		return nil, err
	}

	if !opts.NoQueue {
		if a.Queue, err = a.newQueue(ctx); err != nil {
			return nil, err
		}
	}

	a.Orchestrator, err = jobs.NewOrchestrator(jobs.Config{
		Formats:    a.Formats,
		Strategies: a.Strategies,
		Cache:      extractions,
		LLM:        llmClient,
		Saver:      a.Storage,
		Store:      a.Store,
		Queue:      a.Queue,
		Metrics:    a.Metrics,
		Logger:     logger,
		Observer:   opts.Observer,
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("cache", cfg.Cache.Driver).
		Str("store", cfg.Jobs.Store.Driver).
		Str("queue", cfg.Jobs.Queue.Driver).
		Str("llm", cfg.LLM.Provider).
		Msg("Service components ready")
	return a, nil
}

func newFormats(cfg *config.Config) (*fileformat.Registry, error) {
	rasterizer, err := pdf.NewRasterizer(cfg.Extraction.JPEGQuality, cfg.Extraction.DPI)
	if err != nil {
		return nil, err
	}
	return fileformat.NewRegistry(
		fileformat.WithJPEGQuality(cfg.Extraction.JPEGQuality),
		fileformat.WithRasterizer(rasterizer),
	)
}

// newLLM builds the Ollama client, which also serves the vision strategies
// and the /llm endpoints, and returns the backend used for prompt
// transformation.
func (a *App) newLLM() (llm.Streamer, error) {
	cfg := a.Config.LLM
	retry := llm.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries

	model := cfg.Model
	if cfg.Provider != "ollama" {
		model = ""
	}
	a.Ollama = llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL: cfg.OllamaHost,
		Model:   model,
		Retry:   retry,
		Logger:  a.Logger,
	})

	if cfg.Provider != "openrouter" {
		return a.Ollama, nil
	}
	or, err := llm.NewOpenRouterClient(llm.OpenRouterConfig{
		APIKey:  cfg.OpenRouterAPIKey,
		Model:   cfg.Model,
		URL:     cfg.OpenRouterURL,
		Timeout: cfg.Timeout,
		Retry:   retry,
		Logger:  a.Logger,
	})
	if err != nil {
		return nil, err
	}
	return or, nil
}

func (a *App) backends() extract.Backends {
	b := extract.Backends{
		Ollama:        a.Ollama,
		HTTPClient:    &http.Client{Timeout: a.Config.LLM.Timeout},
		RemoteURL:     a.Config.Extraction.RemoteURL,
		DefaultPrompt: a.Config.Extraction.Prompt,
		Logger:        a.Logger,
	}
	if key := a.Config.LLM.OpenRouterAPIKey; key != "" {
		or, err := llm.NewOpenRouterClient(llm.OpenRouterConfig{
			APIKey:  key,
			URL:     a.Config.LLM.OpenRouterURL,
			Timeout: a.Config.LLM.Timeout,
			Logger:  a.Logger,
		})
		if err != nil {
			a.Logger.Warn().Err(err).Msg("OpenRouter disabled")
		} else {
			b.OpenRouter = or
		}
	}
	return b
}

func (a *App) newStore(ctx context.Context) (jobs.Store, error) {
	cfg := a.Config.Jobs.Store
	switch cfg.Driver {
	case "redis":
		return jobs.NewRedisStore(a.redis, a.Config.Redis.Prefix, cfg.RecordTTL), nil
	case "postgres", "sqlite":
		s, err := jobs.NewSQLStore(ctx, a.Config.SQLDriver(), cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.sqlStore = s
		return s, nil
	default:
		return jobs.NewMemoryStore(), nil
	}
}

func (a *App) newQueue(ctx context.Context) (jobs.Queue, error) {
	cfg := a.Config.Jobs.Queue
	switch cfg.Driver {
	case "redis":
		return jobs.NewRedisQueue(a.redis, a.Config.Redis.Prefix, cfg.Workers, a.Logger), nil
	case "dbos":
		q, err := jobs.NewDBOSQueue(ctx, jobs.DBOSConfig{
			DatabaseURL: cfg.DBOSDatabaseURL,
			QueueName:   cfg.DBOSQueueName,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return jobs.NewMemoryQueue(cfg.Workers, cfg.Buffer, a.Logger), nil
	}
}

// StartWorkers consumes the queue with the orchestrator until ctx ends.
func (a *App) StartWorkers(ctx context.Context) error {
	if a.Queue == nil {
		return errors.New("no queue configured")
	}
	if err := a.Queue.Start(ctx, a.Orchestrator.Handle); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	a.Logger.Info().Int("workers", a.Config.Jobs.Queue.Workers).Str("queue", a.Config.Jobs.Queue.Driver).Msg("Workers started")
	return nil
}

// RunPurge deletes SQL job records older than the record TTL every purge
// interval. It returns when ctx ends and does nothing for other stores,
// which expire records on their own or not at all.
func (a *App) RunPurge(ctx context.Context) {
	cfg := a.Config.Jobs.Store
	if a.sqlStore == nil || cfg.RecordTTL <= 0 || cfg.PurgeInterval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := a.sqlStore.Purge(ctx, now.Add(-cfg.RecordTTL))
			if err != nil {
				a.Logger.Warn().Err(err).Msg("Job record purge failed")
				continue
			}
			if n > 0 {
				a.Logger.Info().Int64("purged", n).Msg("Expired job records purged")
			}
		}
	}
}

// Close stops the queue and releases connections.
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if mc, ok := a.cache.(*cache.MemoryClient); ok {
		errs = append(errs, mc.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
