// Package storage persists extraction results through named storage
// profiles backed by the local filesystem, S3 or Google Drive.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spherical/text-extractor/internal/domain"
)

// Profile strategies.
const (
	StrategyLocal = "local_filesystem"
	StrategyS3    = "aws_s3"
	StrategyDrive = "google_drive"
)

// Backend is the contract every storage medium implements. Names passed in
// are already resolved; templating happens in the Manager.
type Backend interface {
	Save(ctx context.Context, name, text string) error
	// Load returns false when name does not exist.
	Load(ctx context.Context, name string) (string, bool, error)
	List(ctx context.Context) ([]string, error)
	// Delete returns a not_found error when name does not exist.
	Delete(ctx context.Context, name string) error
}

// Profile is one <name>.yaml file of the profile directory.
type Profile struct {
	Name     string    `yaml:"-"`
	Strategy string    `yaml:"strategy"`
	Settings yaml.Node `yaml:"settings"`
}

// Decode unmarshals the strategy settings into out.
func (p *Profile) Decode(out any) error {
	if p.Settings.Kind == 0 {
		return nil
	}
	if err := p.Settings.Decode(out); err != nil {
		return domain.ConfigError(fmt.Sprintf("invalid settings in storage profile %s", p.Name), err)
	}
	return nil
}

// LoadProfile reads <dir>/<name>.yaml and resolves ${VAR} and
// ${VAR:-default} in every string value from the environment.
func LoadProfile(dir, name string) (*Profile, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, domain.ValidationError(fmt.Sprintf("invalid storage profile name %q", name), nil)
	}

	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NotFound(fmt.Sprintf("storage profile %s not found", name))
	}
	if err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("failed to read %s", path), err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("failed to parse %s", path), err)
	}
	if err := expandNode(&doc); err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("storage profile %s", name), err)
	}

	p := &Profile{Name: name}
	if err := doc.Decode(p); err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("failed to decode %s", path), err)
	}

	switch p.Strategy {
	case StrategyLocal, StrategyS3, StrategyDrive:
	case "":
		return nil, domain.ConfigError(fmt.Sprintf("storage profile %s has no strategy", name), nil)
	default:
		return nil, domain.ConfigError(fmt.Sprintf("storage profile %s has unknown strategy %q", name, p.Strategy), nil)
	}
	return p, nil
}

func expandNode(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str" {
		v, err := expandEnv(n.Value)
		if err != nil {
			return err
		}
		n.Value = v
		return nil
	}
	for _, c := range n.Content {
		if err := expandNode(c); err != nil {
			return err
		}
	}
	return nil
}

func expandEnv(s string) (string, error) {
	var missing []string
	out := os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		missing = append(missing, name)
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment variable %s is missing and has no default", missing[0])
	}
	return out, nil
}
