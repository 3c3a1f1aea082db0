package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/text-extractor/cmd/text-extractor/ui"
	"github.com/spherical/text-extractor/internal/app"
	"github.com/spherical/text-extractor/internal/domain"
)

// jobFlags are the per-document options shared by extract and upload.
type jobFlags struct {
	strategy        string
	prompt          string
	model           string
	language        string
	cache           bool
	storageProfile  string
	storageFilename string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "extraction strategy (required)")
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "rewrite the extracted text with this LLM prompt")
	cmd.Flags().StringVar(&f.model, "model", "", "LLM model for the prompt")
	cmd.Flags().StringVar(&f.language, "language", "", "document language hint")
	cmd.Flags().BoolVar(&f.cache, "cache", false, "reuse and fill the extraction cache")
	cmd.Flags().StringVar(&f.storageProfile, "storage-profile", "", "save the result under this storage profile")
	cmd.Flags().StringVar(&f.storageFilename, "storage-filename", "", "destination name template, e.g. {file_name}_{Y}{mm}{dd}.md")
	_ = cmd.MarkFlagRequired("strategy")
}

var (
	extractFlags    jobFlags
	extractOutput   string
	extractFilename string
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract text from a document locally",
	Long: `Run the full pipeline in this process: detect the format, extract text with the
chosen strategy, optionally rewrite it with an LLM and save it to storage.
Use "-" to read the document from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractFlags.register(extractCmd)
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "write the text to this file instead of stdout")
	extractCmd.Flags().StringVar(&extractFilename, "filename", "", "file name to report when reading stdin")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	path := args[0]
	content, err := readInput(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	filename := extractFilename
	if filename == "" && path != "-" {
		filename = filepath.Base(path)
	}

	var bar *ui.ProgressBar
	a, err := app.New(ctx, cfg, newLogger(cfg), app.Options{
		NoQueue: true,
		Observer: func(rec domain.JobRecord) {
			if bar != nil {
				bar.Update(rec.Progress, rec.Status)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer a.Close()

	start := time.Now()
	bar = ui.NewProgressBar(domain.StatusPending)
	rec, err := a.Orchestrator.Process(ctx, &domain.JobRequest{
		Content:         content,
		Filename:        filename,
		Strategy:        extractFlags.strategy,
		Prompt:          extractFlags.prompt,
		Model:           extractFlags.model,
		Language:        extractFlags.language,
		Cache:           extractFlags.cache,
		StorageProfile:  extractFlags.storageProfile,
		StorageFilename: extractFlags.storageFilename,
	})
	bar.Finish()
	if err != nil {
		return err
	}
	if rec.State == domain.StateFailure {
		return fmt.Errorf("extraction failed [%s]: %s", rec.ErrorType, rec.Error)
	}

	if err := writeOutput(extractOutput, rec.Result); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if extractOutput != "" && extractOutput != "-" {
		ui.Success("Extraction completed in %s", ui.FormatDuration(time.Since(start)))
		ui.Info("Text saved to: %s", extractOutput)
		if extractFlags.storageProfile != "" {
			ui.Info("Stored under profile: %s", extractFlags.storageProfile)
		}
	}
	return nil
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the configured extraction strategies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		a, err := app.New(cmd.Context(), cfg, newLogger(cfg), app.Options{NoQueue: true})
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		defer a.Close()

		for _, name := range a.Orchestrator.Strategies() {
			ui.Print(name)
		}
		ui.Debug("Accepted MIME types: %s", strings.Join(a.Formats.AcceptedMIMETypes(), ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}
