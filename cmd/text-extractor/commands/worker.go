package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/text-extractor/internal/app"
	"github.com/spherical/text-extractor/internal/observability"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued jobs until interrupted",
	Long: `Run extraction workers against the configured queue. Use this with the redis
or dbos queue drivers when the API server runs with jobs.queue.in_process off.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "workers", 0, "worker count (default from config)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if workerCount > 0 {
		cfg.Jobs.Queue.Workers = workerCount
	}
	if cfg.Jobs.Queue.Driver == "memory" {
		return fmt.Errorf("the memory queue only serves the process that owns it; configure redis or dbos")
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer a.Close()

	if err := a.StartWorkers(ctx); err != nil {
		return err
	}
	go a.RunPurge(ctx)

	logger.Info().Str("queue", cfg.Jobs.Queue.Driver).Int("workers", cfg.Jobs.Queue.Workers).Msg("Worker running")
	<-ctx.Done()
	logger.Info().Msg("Worker stopping")
	return nil
}
