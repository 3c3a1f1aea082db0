package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/llm"
	"github.com/spherical/text-extractor/internal/observability"
)

// Strategy types understood by the factories.
const (
	TypeOllama     = "ollama"
	TypeOpenRouter = "openrouter"
	TypeRemote     = "remote"
	TypePDFText    = "pdf_text"
)

const defaultVisionPrompt = "You are an OCR engine. Convert the image to markdown. Return only the text content of the image, preserving headings, lists and tables."

// StrategyConfig is one entry of strategies.yaml.
type StrategyConfig struct {
	Type          string `yaml:"type"`
	Model         string `yaml:"model"`
	Prompt        string `yaml:"prompt"`
	URL           string `yaml:"url"`
	PageSeparator string `yaml:"page_separator"`
	MaxImageSide  int    `yaml:"max_image_side"`
}

// FileConfig is the strategies.yaml document.
type FileConfig struct {
	Strategies map[string]StrategyConfig `yaml:"strategies"`
}

// Backends are the shared clients strategies are built on. A nil OpenRouter
// client leaves the openrouter built-in unregistered.
type Backends struct {
	Ollama        llm.Streamer
	OpenRouter    llm.Streamer
	HTTPClient    *http.Client
	RemoteURL     string
	DefaultPrompt string
	Logger        *observability.Logger
}

// Factory builds a strategy of one type.
type Factory func(name string, cfg StrategyConfig, b Backends) (Strategy, error)

var factories = map[string]Factory{
	TypeOllama:     newOllamaStrategy,
	TypeOpenRouter: newOpenRouterStrategy,
	TypeRemote:     newRemoteStrategy,
	TypePDFText:    newPDFTextStrategy,
}

// LoadConfig reads strategies.yaml. A missing file yields an empty config.
func LoadConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{Strategies: map[string]StrategyConfig{}}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("failed to read %s", path), err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("failed to parse %s", path), err)
	}
	if cfg.Strategies == nil {
		cfg.Strategies = map[string]StrategyConfig{}
	}

	for name, sc := range cfg.Strategies {
		if sc.Type == "" {
			return nil, domain.ConfigError(fmt.Sprintf("strategy %q in %s has no type", name, path), nil)
		}
		if _, ok := factories[sc.Type]; !ok {
			return nil, domain.ConfigError(fmt.Sprintf("strategy %q in %s has unknown type %q", name, path, sc.Type), nil)
		}
	}
	return cfg, nil
}

// Builtins is the closed table registered after the config file.
func Builtins(b Backends) map[string]StrategyConfig {
	builtins := map[string]StrategyConfig{
		"llama_vision": {Type: TypeOllama, Model: "llama3.2-vision"},
		"minicpm_v":    {Type: TypeOllama, Model: "minicpm-v"},
		"remote":       {Type: TypeRemote},
		"pdf_text":     {Type: TypePDFText},
	}
	if b.OpenRouter != nil {
		builtins["openrouter"] = StrategyConfig{Type: TypeOpenRouter}
	}
	return builtins
}

// Build constructs the strategy described by cfg.
func Build(name string, cfg StrategyConfig, b Backends) (Strategy, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, domain.ConfigError(fmt.Sprintf("strategy %q has unknown type %q", name, cfg.Type), nil)
	}
	return factory(name, cfg, b)
}

// NewDiscovery loads configPath first, registering its entries with override
// so they win, then fills the remaining names from Builtins. The built-ins
// are registered even when the config file is broken; its error is still
// returned.
func NewDiscovery(configPath string, b Backends) DiscoverFunc {
	return func(r *Registry) error {
		var errs []error

		fileCfg, err := LoadConfig(configPath)
		if err != nil {
			errs = append(errs, err)
		} else {
			for _, name := range sortedKeys(fileCfg.Strategies) {
				s, err := Build(name, fileCfg.Strategies[name], b)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				r.Register(s, name, true)
			}
		}

		builtins := Builtins(b)
		for _, name := range sortedKeys(builtins) {
			s, err := Build(name, builtins[name], b)
			if err != nil {
				r.logger.Warn().Str("strategy", name).Err(err).Msg("Skipping built-in strategy")
				continue
			}
			r.Register(s, name, false)
		}
		return errors.Join(errs...)
	}
}

func sortedKeys(m map[string]StrategyConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
