package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/text-extractor/cmd/text-extractor/ui"
	"github.com/spherical/text-extractor/pkg/extractor"
)

var (
	uploadFlags    jobFlags
	uploadWait     bool
	uploadOutput   string
	uploadInterval time.Duration
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Submit a document to the API server",
	Long: `Upload a document to a running API server. Prints the task id, or with --wait
polls until the task finishes and prints the text.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadFlags.register(uploadCmd)
	uploadCmd.Flags().BoolVarP(&uploadWait, "wait", "w", false, "poll until the task finishes")
	uploadCmd.Flags().StringVarP(&uploadOutput, "output", "o", "", "with --wait, write the text to this file")
	uploadCmd.Flags().DurationVar(&uploadInterval, "interval", time.Second, "poll interval")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient()
	if err != nil {
		return err
	}

	taskID, err := client.Upload(ctx, args[0], extractor.Options{
		Strategy:        uploadFlags.strategy,
		Prompt:          uploadFlags.prompt,
		Model:           uploadFlags.model,
		Language:        uploadFlags.language,
		Cache:           uploadFlags.cache,
		StorageProfile:  uploadFlags.storageProfile,
		StorageFilename: uploadFlags.storageFilename,
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if !uploadWait {
		ui.Print(taskID)
		return nil
	}
	ui.Debug("Task %s submitted", taskID)

	res, err := waitForTask(ctx, client, taskID, uploadInterval)
	if err != nil {
		return err
	}
	return writeOutput(uploadOutput, res.Text())
}

// waitForTask polls with a spinner and turns FAILURE into an error.
func waitForTask(ctx context.Context, client *extractor.Client, taskID string, interval time.Duration) (*extractor.Result, error) {
	spin := ui.NewSpinner("Waiting for task " + taskID)
	spin.Start()
	res, err := client.Wait(ctx, taskID, interval, func(r *extractor.Result) {
		if r.Info != nil {
			spin.UpdateMessage(fmt.Sprintf("%3d%% %s", r.Info.Progress, r.Info.Status))
		} else {
			spin.UpdateMessage(r.Status)
		}
	})
	spin.Stop()
	if err != nil {
		return nil, fmt.Errorf("poll task %s: %w", taskID, err)
	}
	if res.State == extractor.StateFailure {
		return nil, fmt.Errorf("task %s failed [%s]: %s", taskID, res.ErrorType, res.Status)
	}
	return res, nil
}

var (
	resultWait     bool
	resultOutput   string
	resultInterval time.Duration
)

var resultCmd = &cobra.Command{
	Use:   "result <task-id>",
	Short: "Show the state of a submitted task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		if resultWait {
			res, err := waitForTask(cmd.Context(), client, args[0], resultInterval)
			if err != nil {
				return err
			}
			return writeOutput(resultOutput, res.Text())
		}

		res, err := client.Result(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		rows := [][]string{
			{"Task", args[0]},
			{"State", res.State},
			{"Status", res.Status},
		}
		if res.Info != nil {
			rows = append(rows,
				[]string{"Progress", fmt.Sprintf("%d%%", res.Info.Progress)},
				[]string{"Elapsed", ui.FormatDuration(time.Duration(res.Info.ElapsedTime * float64(time.Second)))},
			)
		}
		if res.ErrorType != "" {
			rows = append(rows, []string{"Error type", res.ErrorType})
		}
		ui.Table([]string{"Field", "Value"}, rows)

		if res.State == extractor.StateSuccess {
			ui.Section("Result")
			return writeOutput(resultOutput, res.Text())
		}
		return nil
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop every cached extraction on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.ClearCache(cmd.Context()); err != nil {
			return err
		}
		ui.Success("OCR cache cleared")
		return nil
	},
}

func init() {
	resultCmd.Flags().BoolVarP(&resultWait, "wait", "w", false, "poll until the task finishes")
	resultCmd.Flags().StringVarP(&resultOutput, "output", "o", "", "write the text to this file")
	resultCmd.Flags().DurationVar(&resultInterval, "interval", time.Second, "poll interval")
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(clearCacheCmd)
}
