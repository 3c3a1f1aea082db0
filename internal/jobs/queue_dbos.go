package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/observability"
)

// DBOSConfig configures the durable queue.
type DBOSConfig struct {
	DatabaseURL        string
	AppName            string
	ApplicationVersion string
	QueueName          string
	ShutdownTimeout    time.Duration
}

// WithDefaults fills unset fields.
func (c DBOSConfig) WithDefaults() DBOSConfig {
	if c.AppName == "" {
		c.AppName = "text-extractor"
	}
	if c.ApplicationVersion == "" {
		c.ApplicationVersion = "1"
	}
	if c.QueueName == "" {
		c.QueueName = "extraction"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

// DBOSQueue runs one durable DBOS workflow per job, keyed by task id, so a
// job survives worker restarts and is never enqueued twice.
type DBOSQueue struct {
	dbosCtx dbos.DBOSContext
	queue   dbos.WorkflowQueue
	cfg     DBOSConfig
	logger  *observability.Logger

	mu       sync.RWMutex
	handler  Handler
	launched bool
}

// NewDBOSQueue connects to the DBOS system database and registers the job
// workflow. Start launches the runtime.
func NewDBOSQueue(ctx context.Context, cfg DBOSConfig, logger *observability.Logger) (*DBOSQueue, error) {
	if cfg.DatabaseURL == "" {
		return nil, domain.ConfigError("DBOS_SYSTEM_DATABASE_URL is required for the dbos queue", nil)
	}
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = observability.Nop()
	}

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, domain.ConfigError("failed to initialise DBOS", err)
	}

	q := &DBOSQueue{
		dbosCtx: dbosCtx,
		queue:   dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName),
		cfg:     cfg,
		logger:  logger.WithOperation("dbos_queue"),
	}
	dbos.RegisterWorkflow(dbosCtx, q.runJob)
	return q, nil
}

// Enqueue starts the workflow on the queue. It requires a launched runtime,
// which API processes get by calling Start with their own handler.
func (q *DBOSQueue) Enqueue(ctx context.Context, req *domain.JobRequest) error {
	q.mu.RLock()
	launched := q.launched
	q.mu.RUnlock()
	if !launched {
		return errors.New("dbos runtime not launched")
	}

	handle, err := dbos.RunWorkflow[domain.JobRequest, string](
		q.dbosCtx,
		q.runJob,
		*req,
		dbos.WithWorkflowID(req.TaskID),
		dbos.WithQueue(q.cfg.QueueName),
	)
	if err != nil {
		return err
	}

	q.logger.Debug().Str("workflow_id", handle.GetWorkflowID()).Msg("Workflow enqueued")
	return nil
}

// Start installs h and launches the runtime, which also recovers workflows
// left pending by a previous process.
func (q *DBOSQueue) Start(ctx context.Context, h Handler) error {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()

	if err := dbos.Launch(q.dbosCtx); err != nil {
		return err
	}

	q.mu.Lock()
	q.launched = true
	q.mu.Unlock()

	q.logger.Info().Str("queue", q.cfg.QueueName).Msg("DBOS runtime launched")
	return nil
}

func (q *DBOSQueue) runJob(dbosCtx dbos.DBOSContext, req domain.JobRequest) (string, error) {
	q.mu.RLock()
	h := q.handler
	q.mu.RUnlock()
	if h == nil {
		return "", errors.New("no job handler installed")
	}

	if err := h(dbosCtx, &req); err != nil {
		return "", err
	}
	return req.TaskID, nil
}

func (q *DBOSQueue) Close() error {
	dbos.Shutdown(q.dbosCtx, q.cfg.ShutdownTimeout)
	return nil
}
