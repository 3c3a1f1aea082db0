package commands

import (
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical/text-extractor/cmd/text-extractor/ui"
	"github.com/spherical/text-extractor/internal/config"
	"github.com/spherical/text-extractor/internal/observability"
	"github.com/spherical/text-extractor/pkg/extractor"
)

var (
	cfgFile   string
	serverURL string
	verbose   bool
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "text-extractor",
	Short: "Text Extractor - extract text from PDFs and images",
	Long: `Text Extractor turns PDFs and images into text using a configurable set of
extraction strategies (text layer, local vision LLM, remote OCR service), then
optionally rewrites the text with an LLM and stores it under a storage profile.

Commands either run the pipeline locally or talk to a running API server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load() // Ignore error if .env doesn't exist
		ui.Init(noColor, verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "API server URL (default $TEXT_EXTRACTOR_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return config.Load(path)
}

// newLogger keeps library logs off the terminal unless --verbose is set.
func newLogger(cfg *config.Config) *observability.Logger {
	if !verbose {
		return observability.NewLogger(observability.LogConfig{
			Level:  "warn",
			Format: "console",
			Output: os.Stderr,
		})
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       "debug",
		Format:      "console",
		Output:      os.Stderr,
		ServiceName: cfg.Observability.ServiceName,
	})
}

func newClient() (*extractor.Client, error) {
	if serverURL != "" {
		return extractor.NewClientWithConfig(&extractor.Config{BaseURL: serverURL})
	}
	return extractor.NewClient()
}

func writeOutput(path, text string) error {
	if path == "" || path == "-" {
		ui.Print(text)
		return nil
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
