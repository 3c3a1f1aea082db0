// Package jobs runs the extraction pipeline as asynchronous jobs: intake,
// queueing, the per-job state machine and the progress records clients poll.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/spherical/text-extractor/internal/cache"
	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/extract"
	"github.com/spherical/text-extractor/internal/fileformat"
	"github.com/spherical/text-extractor/internal/llm"
	"github.com/spherical/text-extractor/internal/observability"
)

// Saver persists a finished text under a storage profile and returns the
// name it was written as.
type Saver interface {
	Save(ctx context.Context, profile, sourceName, destination, text string) (string, error)
}

// Observer sees every record the orchestrator writes, in order.
type Observer func(rec domain.JobRecord)

// Orchestrator sequences cache, extraction, LLM transformation and storage
// for each job and records progress after every step.
type Orchestrator struct {
	formats    *fileformat.Registry
	strategies *extract.Registry
	cache      *cache.Extractions
	llm        llm.Streamer
	saver      Saver
	store      Store
	queue      Queue
	metrics    *observability.Metrics
	logger     *observability.Logger
	observer   Observer

	flight singleflight.Group
	now    func() time.Time
}

// Config lists the orchestrator collaborators. Cache, LLM, Saver, Queue,
// Metrics and Observer are optional.
type Config struct {
	Formats    *fileformat.Registry
	Strategies *extract.Registry
	Cache      *cache.Extractions
	LLM        llm.Streamer
	Saver      Saver
	Store      Store
	Queue      Queue
	Metrics    *observability.Metrics
	Logger     *observability.Logger
	Observer   Observer
}

// NewOrchestrator validates the required collaborators.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Formats == nil || cfg.Strategies == nil || cfg.Store == nil {
		return nil, domain.ConfigError("orchestrator needs formats, strategies and a store", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Nop()
	}

	return &Orchestrator{
		formats:    cfg.Formats,
		strategies: cfg.Strategies,
		cache:      cfg.Cache,
		llm:        cfg.LLM,
		saver:      cfg.Saver,
		store:      cfg.Store,
		queue:      cfg.Queue,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.WithOperation("orchestrator"),
		observer:   cfg.Observer,
		now:        time.Now,
	}, nil
}

// Submit validates req, records it as PENDING and enqueues it. Unknown
// strategies and unresolvable formats fail here, before any record exists.
func (o *Orchestrator) Submit(ctx context.Context, req *domain.JobRequest) (string, error) {
	if o.queue == nil {
		return "", domain.ConfigError("no job queue configured", nil)
	}

	rec, err := o.intake(ctx, req)
	if err != nil {
		return "", err
	}

	if err := o.queue.Enqueue(ctx, req); err != nil {
		o.fail(ctx, rec, fmt.Errorf("enqueue job: %w", err))
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	o.logger.Info().
		Str("task_id", req.TaskID).
		Str("strategy", req.Strategy).
		Bool("cache", req.Cache).
		Msg("Job submitted")
	return req.TaskID, nil
}

// Process runs req inline and returns its terminal record.
func (o *Orchestrator) Process(ctx context.Context, req *domain.JobRequest) (*domain.JobRecord, error) {
	if _, err := o.intake(ctx, req); err != nil {
		return nil, err
	}
	return o.run(ctx, req)
}

// Handle is the queue Handler. A job whose record is already terminal is
// skipped so redelivery never reopens it.
func (o *Orchestrator) Handle(ctx context.Context, req *domain.JobRequest) error {
	// a started job runs to completion even when the worker is shutting down
	ctx = context.WithoutCancel(ctx)

	if rec, err := o.store.Get(ctx, req.TaskID); err == nil && rec.State.Terminal() {
		o.logger.Warn().Str("task_id", req.TaskID).Str("state", string(rec.State)).Msg("Skipping finished job")
		return nil
	}

	rec, err := o.run(ctx, req)
	if err != nil {
		return err
	}
	if rec.State == domain.StateFailure {
		return errors.New(rec.Error)
	}
	return nil
}

// Get returns the latest record for taskID.
func (o *Orchestrator) Get(ctx context.Context, taskID string) (*domain.JobRecord, error) {
	return o.store.Get(ctx, taskID)
}

// ClearCache drops every cached extraction.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	if o.cache == nil {
		return nil
	}
	if err := o.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	o.logger.Info().Msg("Extraction cache cleared")
	return nil
}

// Ping checks the record store and the cache.
func (o *Orchestrator) Ping(ctx context.Context) error {
	if err := o.store.Ping(ctx); err != nil {
		return fmt.Errorf("job store: %w", err)
	}
	if o.cache != nil {
		if err := o.cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

// Strategies lists the known strategy names.
func (o *Orchestrator) Strategies() []string {
	return o.strategies.Names()
}

func (o *Orchestrator) intake(ctx context.Context, req *domain.JobRequest) (*domain.JobRecord, error) {
	if len(req.Content) == 0 {
		return nil, domain.EmptyContent("uploaded file is empty")
	}
	if strings.TrimSpace(req.Strategy) == "" {
		return nil, domain.ValidationError("strategy is required", nil)
	}
	if _, err := o.strategies.Get(req.Strategy); err != nil {
		return nil, err
	}

	f, err := o.formats.FromBinary(req.Content, req.Filename, req.MIMEType)
	if err != nil {
		return nil, err
	}
	req.MIMEType = f.MIMEType()
	req.Filename = f.Filename()

	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	now := o.now()
	rec := &domain.JobRecord{
		TaskID:    req.TaskID,
		State:     domain.StatePending,
		Status:    domain.StatusPending,
		StartTime: now,
		UpdatedAt: now,
	}
	if err := o.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}
	o.notify(rec)
	o.metrics.JobSubmitted(req.Strategy)
	return rec, nil
}

// run executes the pipeline. Only a failure to write the terminal record is
// returned as an error; pipeline failures end in a FAILURE record.
func (o *Orchestrator) run(ctx context.Context, req *domain.JobRequest) (*domain.JobRecord, error) {
	logger := o.logger.WithTask(req.TaskID)

	rec, err := o.store.Get(ctx, req.TaskID)
	if err != nil {
		rec = &domain.JobRecord{TaskID: req.TaskID}
	}
	rec.StartTime = o.now()

	text, err := o.pipeline(ctx, req, rec, logger)
	if err != nil {
		logger.Error().Err(err).Str("error_type", string(domain.TypeOf(err))).Msg("Job failed")
		if werr := o.fail(ctx, rec, err); werr != nil {
			return nil, werr
		}
		o.metrics.JobFinished(req.Strategy, string(domain.StateFailure), o.elapsed(rec))
		return rec, nil
	}

	rec.State = domain.StateSuccess
	rec.Progress = domain.ProgressDone
	rec.Status = domain.StatusDone
	rec.Result = text
	if err := o.write(ctx, rec); err != nil {
		return nil, fmt.Errorf("record job result: %w", err)
	}

	logger.Info().Dur("elapsed", o.elapsed(rec)).Int("chars", len(text)).Msg("Job succeeded")
	o.metrics.JobFinished(req.Strategy, string(domain.StateSuccess), o.elapsed(rec))
	return rec, nil
}

func (o *Orchestrator) pipeline(ctx context.Context, req *domain.JobRequest, rec *domain.JobRecord, logger *observability.Logger) (string, error) {
	o.progress(ctx, rec, domain.ProgressUploaded, domain.StatusUploaded, logger)

	text, cached, err := o.extractText(ctx, req, rec, logger)
	if err != nil {
		return "", err
	}

	rec.ExtractedText = text
	status := domain.StatusExtracted
	if cached {
		status = domain.StatusCacheHit
	}
	o.progress(ctx, rec, domain.ProgressExtracted, status, logger)

	if strings.TrimSpace(req.Prompt) != "" {
		text, err = o.transform(ctx, req, text, rec, logger)
		if err != nil {
			return "", err
		}
	}

	if req.StorageProfile != "" {
		if err := o.save(ctx, req, text, rec, logger); err != nil {
			return "", err
		}
	}

	return text, nil
}

// extractText serves from the cache when allowed, otherwise runs the
// strategy. Identical concurrent extractions in this process share one
// backend call. The bool reports a cache hit.
func (o *Orchestrator) extractText(ctx context.Context, req *domain.JobRequest, rec *domain.JobRecord, logger *observability.Logger) (string, bool, error) {
	hash := fileformat.ContentHash(req.Content)
	useCache := req.Cache && o.cache != nil

	if useCache {
		text, hit, err := o.cache.Lookup(ctx, hash)
		if err != nil {
			return "", false, domain.IOError("cache lookup failed", err)
		}
		o.metrics.CacheLookup(hit)
		if hit {
			logger.Info().Str("hash", hash).Msg("Extraction served from cache")
			return text, true, nil
		}
	}

	o.progress(ctx, rec, domain.ProgressExtracting, domain.StatusExtracting, logger)

	if !useCache {
		text, err := o.runStrategy(ctx, req, rec, logger)
		return text, false, err
	}

	// joiners wait on the leader's call, so the leader's caller going away
	// must not cancel it
	flightCtx := context.WithoutCancel(ctx)
	key := strings.Join([]string{hash, req.Strategy, req.Language}, "|")
	v, err, shared := o.flight.Do(key, func() (any, error) {
		text, err := o.runStrategy(flightCtx, req, rec, logger)
		if err != nil {
			return "", err
		}
		if err := o.cache.Store(flightCtx, hash, text); err != nil {
			logger.Warn().Err(err).Str("hash", hash).Msg("Failed to cache extraction")
		}
		return text, nil
	})
	if shared {
		logger.Debug().Str("hash", hash).Msg("Joined in-flight extraction")
	}
	if err != nil {
		return "", false, err
	}
	return v.(string), false, nil
}

func (o *Orchestrator) runStrategy(ctx context.Context, req *domain.JobRequest, rec *domain.JobRecord, logger *observability.Logger) (string, error) {
	strategy, err := o.strategies.Get(req.Strategy)
	if err != nil {
		return "", err
	}

	f, err := o.formats.FromBinary(req.Content, req.Filename, req.MIMEType)
	if err != nil {
		return "", err
	}

	start := o.now()
	text, err := strategy.Extract(ctx, f, extract.Options{
		Language: req.Language,
		Progress: func(progress int, status string) {
			o.progress(ctx, rec, progress, status, logger)
		},
	})
	o.metrics.ExtractionObserved(req.Strategy, o.now().Sub(start))
	if err != nil {
		return "", err
	}

	logger.Info().Str("strategy", req.Strategy).Int("chars", len(text)).Msg("Text extracted")
	return text, nil
}

func (o *Orchestrator) transform(ctx context.Context, req *domain.JobRequest, text string, rec *domain.JobRecord, logger *observability.Logger) (string, error) {
	if o.llm == nil {
		return "", domain.ConfigError("a prompt was given but no LLM backend is configured", nil)
	}

	o.progress(ctx, rec, domain.ProgressLLM, domain.StatusLLM, logger)

	out, err := llm.Collect(ctx, o.llm, llm.Prompt{
		Model: req.Model,
		Text:  req.Prompt + "\n\n" + text,
	}, func(n int, _ string) {
		if n%50 == 0 {
			logger.Debug().Int("chunks", n).Msg("LLM streaming")
		}
	})
	if err != nil {
		return "", domain.APIError("LLM transformation failed", err)
	}
	return out, nil
}

func (o *Orchestrator) save(ctx context.Context, req *domain.JobRequest, text string, rec *domain.JobRecord, logger *observability.Logger) error {
	if o.saver == nil {
		return domain.StorageFailure("no storage configured", nil)
	}

	rec.Status = domain.StatusStoring
	if err := o.write(ctx, rec); err != nil {
		logger.Warn().Err(err).Msg("Dropped progress update")
	}

	name, err := o.saver.Save(ctx, req.StorageProfile, req.Filename, req.StorageFilename, text)
	o.metrics.StorageWrite(req.StorageProfile, err)
	if err != nil {
		if domain.IsType(err, domain.ErrorTypeStorageFailure) {
			return err
		}
		return domain.StorageFailure(fmt.Sprintf("failed to save result to profile %s", req.StorageProfile), err)
	}

	logger.Info().Str("profile", req.StorageProfile).Str("file", name).Msg("Result stored")
	return nil
}

// progress writes a PROGRESS snapshot. Store errors are logged and the job
// carries on; the next write replaces the record anyway.
func (o *Orchestrator) progress(ctx context.Context, rec *domain.JobRecord, percent int, status string, logger *observability.Logger) {
	rec.State = domain.StateProgress
	rec.Progress = percent
	rec.Status = status
	if err := o.write(ctx, rec); err != nil {
		logger.Warn().Err(err).Int("progress", percent).Msg("Dropped progress update")
	}
}

func (o *Orchestrator) fail(ctx context.Context, rec *domain.JobRecord, cause error) error {
	rec.State = domain.StateFailure
	rec.Status = cause.Error()
	rec.Error = cause.Error()
	rec.ErrorType = domain.TypeOf(cause)
	if err := o.write(ctx, rec); err != nil {
		return fmt.Errorf("record job failure: %w", err)
	}
	return nil
}

func (o *Orchestrator) write(ctx context.Context, rec *domain.JobRecord) error {
	now := o.now()
	rec.UpdatedAt = now
	rec.ElapsedTime = now.Sub(rec.StartTime).Seconds()
	if err := o.store.Put(ctx, rec); err != nil {
		return err
	}
	o.notify(rec)
	return nil
}

func (o *Orchestrator) notify(rec *domain.JobRecord) {
	if o.observer != nil {
		o.observer(*rec)
	}
}

func (o *Orchestrator) elapsed(rec *domain.JobRecord) time.Duration {
	return time.Duration(rec.ElapsedTime * float64(time.Second))
}
