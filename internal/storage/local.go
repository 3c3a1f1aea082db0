package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spherical/text-extractor/internal/domain"
)

// LocalSettings configures a local_filesystem profile.
type LocalSettings struct {
	RootPath             string `yaml:"root_path"`
	CreateSubfolders     bool   `yaml:"create_subfolders"`
	SubfolderNamesFormat string `yaml:"subfolder_names_format"`
}

// LocalBackend stores results as files under a root directory.
type LocalBackend struct {
	root            string
	subfolderFormat string
	now             func() time.Time
}

// NewLocalBackend resolves the root (expanding a leading ~) and creates it.
// When create_subfolders is set, saved files go into a subfolder named after
// subfolder_names_format, templated like destination names. Load and Delete
// take root-relative names, the form List returns.
func NewLocalBackend(s LocalSettings, now func() time.Time) (*LocalBackend, error) {
	if s.RootPath == "" {
		return nil, domain.ConfigError("local storage needs root_path", nil)
	}
	if now == nil {
		now = time.Now
	}

	root, err := resolvePath(s.RootPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, domain.IOError(fmt.Sprintf("failed to create %s", root), err)
	}

	b := &LocalBackend{root: root, now: now}
	if s.CreateSubfolders {
		b.subfolderFormat = s.SubfolderNamesFormat
	}
	return b, nil
}

// Root is the absolute base directory.
func (b *LocalBackend) Root() string {
	return b.root
}

func (b *LocalBackend) Save(ctx context.Context, name, text string) error {
	path, err := b.path(name)
	if err != nil {
		return err
	}
	if b.subfolderFormat != "" {
		dir := FormatFileName(b.subfolderFormat, name, b.now())
		if path, err = b.path(filepath.ToSlash(filepath.Join(dir, filepath.FromSlash(name)))); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.IOError(fmt.Sprintf("failed to create directory for %s", name), err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return domain.IOError(fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

func (b *LocalBackend) Load(ctx context.Context, name string) (string, bool, error) {
	path, err := b.path(name)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.IOError(fmt.Sprintf("failed to read %s", path), err)
	}
	return string(data), true, nil
}

// List walks the root and returns slash-separated paths relative to it.
func (b *LocalBackend) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("failed to list %s", b.root), err)
	}
	sort.Strings(names)
	return names, nil
}

func (b *LocalBackend) Delete(ctx context.Context, name string) error {
	path, err := b.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NotFound(fmt.Sprintf("file %s not found", name))
	}
	if err != nil {
		return domain.IOError(fmt.Sprintf("failed to delete %s", path), err)
	}
	return nil
}

// path joins name under the root and refuses anything that would escape it.
func (b *LocalBackend) path(name string) (string, error) {
	path := filepath.Join(b.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(b.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", domain.ValidationError(fmt.Sprintf("file name %q escapes the storage root", name), nil)
	}
	return path, nil
}

func resolvePath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", domain.ConfigError("cannot expand ~ without a home directory", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", domain.ConfigError(fmt.Sprintf("invalid root_path %s", p), err)
	}
	return abs, nil
}
