package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/text-extractor/cmd/text-extractor/ui"
)

var generateModel string

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Work with the server's local LLM",
}

var llmPullCmd = &cobra.Command{
	Use:   "pull <model>",
	Short: "Download a model into the local LLM server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		spin := ui.NewSpinner(fmt.Sprintf("Pulling %s...", args[0]))
		spin.Start()
		err = client.PullModel(cmd.Context(), args[0])
		spin.Stop()
		if err != nil {
			return err
		}
		ui.Success("Model pulled successfully")
		return nil
	},
}

var llmGenerateCmd = &cobra.Command{
	Use:   "generate <prompt>...",
	Short: "Run a plain prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		spin := ui.NewSpinner("Generating...")
		spin.Start()
		text, err := client.Generate(cmd.Context(), generateModel, strings.Join(args, " "))
		spin.Stop()
		if err != nil {
			return err
		}
		ui.Print(text)
		return nil
	},
}

func init() {
	llmGenerateCmd.Flags().StringVarP(&generateModel, "model", "m", "", "model to run (server default when empty)")
	llmCmd.AddCommand(llmPullCmd, llmGenerateCmd)
	rootCmd.AddCommand(llmCmd)
}
