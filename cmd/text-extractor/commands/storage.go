package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/text-extractor/cmd/text-extractor/ui"
	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/storage"
	"github.com/spherical/text-extractor/pkg/extractor"
)

var (
	storageProfile string
	storageLocal   bool
	storageOutput  string
)

// fileStore is what the storage commands need, served either by the API
// client or by a local storage manager.
type fileStore interface {
	list(ctx context.Context, profile string) ([]string, error)
	load(ctx context.Context, profile, name string) (string, error)
	remove(ctx context.Context, profile, name string) error
}

type localStore struct{ m *storage.Manager }

func (s localStore) list(ctx context.Context, profile string) ([]string, error) {
	return s.m.List(ctx, profile)
}

func (s localStore) load(ctx context.Context, profile, name string) (string, error) {
	content, ok, err := s.m.Load(ctx, profile, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.NotFound(fmt.Sprintf("file %s not found", name))
	}
	return content, nil
}

func (s localStore) remove(ctx context.Context, profile, name string) error {
	return s.m.Delete(ctx, profile, name)
}

type remoteStore struct{ c *extractor.Client }

func (s remoteStore) list(ctx context.Context, profile string) ([]string, error) {
	return s.c.ListFiles(ctx, profile)
}

func (s remoteStore) load(ctx context.Context, profile, name string) (string, error) {
	return s.c.LoadFile(ctx, profile, name)
}

func (s remoteStore) remove(ctx context.Context, profile, name string) error {
	return s.c.DeleteFile(ctx, profile, name)
}

func openFileStore() (fileStore, error) {
	if storageLocal {
		cfg, err := loadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return localStore{m: storage.NewManager(cfg.Storage.ProfilePath, newLogger(cfg))}, nil
	}

	client, err := newClient()
	if err != nil {
		return nil, err
	}
	return remoteStore{c: client}, nil
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Manage stored extraction results",
	Long: `List, print and delete files saved under a storage profile. By default the
commands go through the API server; --local reads the profiles directly.`,
}

var storageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := openFileStore()
		if err != nil {
			return err
		}
		files, err := fs.list(cmd.Context(), storageProfile)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			ui.Warning("No files under profile %s", storageProfile)
			return nil
		}
		for _, f := range files {
			ui.Print(f)
		}
		return nil
	},
}

var storageLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Print a stored file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := openFileStore()
		if err != nil {
			return err
		}
		content, err := fs.load(cmd.Context(), storageProfile, args[0])
		if err != nil {
			return err
		}
		return writeOutput(storageOutput, content)
	},
}

var storageDeleteCmd = &cobra.Command{
	Use:   "delete <file>",
	Short: "Delete a stored file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := openFileStore()
		if err != nil {
			return err
		}
		if err := fs.remove(cmd.Context(), storageProfile, args[0]); err != nil {
			return err
		}
		ui.Success("File %s deleted successfully", args[0])
		return nil
	},
}

func init() {
	storageCmd.PersistentFlags().StringVarP(&storageProfile, "profile", "p", "default", "storage profile name")
	storageCmd.PersistentFlags().BoolVar(&storageLocal, "local", false, "use the local storage profiles instead of the API server")
	storageLoadCmd.Flags().StringVarP(&storageOutput, "output", "o", "", "write the content to this file")

	storageCmd.AddCommand(storageListCmd, storageLoadCmd, storageDeleteCmd)
	rootCmd.AddCommand(storageCmd)
}
