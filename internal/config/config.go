// Package config provides unified configuration loading for the text extractor.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spherical/text-extractor/internal/domain"
)

// Config holds all configuration for the text extractor.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Redis         RedisConfig         `yaml:"redis"`
	Cache         CacheConfig         `yaml:"cache"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	LLM           LLMConfig           `yaml:"llm"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// RedisConfig holds the connection shared by the cache, record store and
// queue when they run on Redis. URL wins over Addr.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// CacheConfig holds extraction cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory, redis or none
	TTL        time.Duration `yaml:"ttl"`    // 0 keeps entries until cleared
	MaxEntries int           `yaml:"max_entries"`
}

// JobsConfig holds job record and queue settings.
type JobsConfig struct {
	Store StoreConfig `yaml:"store"`
	Queue QueueConfig `yaml:"queue"`
}

// StoreConfig selects where job records live.
type StoreConfig struct {
	Driver        string        `yaml:"driver"` // memory, redis, postgres or sqlite
	DSN           string        `yaml:"dsn"`
	RecordTTL     time.Duration `yaml:"record_ttl"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// QueueConfig selects the job queue and worker pool.
type QueueConfig struct {
	Driver          string `yaml:"driver"` // memory, redis or dbos
	Workers         int    `yaml:"workers"`
	Buffer          int    `yaml:"buffer"`
	InProcess       bool   `yaml:"in_process"`
	DBOSDatabaseURL string `yaml:"dbos_database_url"`
	DBOSQueueName   string `yaml:"dbos_queue_name"`
}

// ExtractionConfig holds format and strategy settings.
type ExtractionConfig struct {
	StrategiesPath string  `yaml:"strategies_path"`
	JPEGQuality    int     `yaml:"jpeg_quality"`
	DPI            float64 `yaml:"dpi"`
	RemoteURL      string  `yaml:"remote_url"`
	Prompt         string  `yaml:"prompt"`
}

// LLMConfig holds the language model backends.
type LLMConfig struct {
	Provider         string        `yaml:"provider"` // ollama or openrouter
	Model            string        `yaml:"model"`
	OllamaHost       string        `yaml:"ollama_host"`
	OpenRouterAPIKey string        `yaml:"openrouter_api_key"`
	OpenRouterURL    string        `yaml:"openrouter_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
}

// StorageConfig holds storage profile settings.
type StorageConfig struct {
	ProfilePath string `yaml:"profile_path"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	ServiceName    string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// Relative paths set in the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		defaults := *cfg
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		if cfg.Extraction.StrategiesPath != defaults.Extraction.StrategiesPath {
			cfg.Extraction.StrategiesPath = ResolveRelativePath(path, cfg.Extraction.StrategiesPath)
		}
		if cfg.Storage.ProfilePath != defaults.Storage.ProfilePath {
			cfg.Storage.ProfilePath = ResolveRelativePath(path, cfg.Storage.ProfilePath)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			MaxUploadBytes:   64 << 20,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			Prefix:   "te:",
		},
		Cache: CacheConfig{
			Driver:     "memory",
			MaxEntries: 1000,
		},
		Jobs: JobsConfig{
			Store: StoreConfig{
				Driver:        "memory",
				RecordTTL:     24 * time.Hour,
				PurgeInterval: time.Hour,
			},
			Queue: QueueConfig{
				Driver:        "memory",
				Workers:       2,
				Buffer:        100,
				InProcess:     true,
				DBOSQueueName: "extraction",
			},
		},
		Extraction: ExtractionConfig{
			StrategiesPath: "config/strategies.yaml",
			JPEGQuality:    85,
			DPI:            150,
		},
		LLM: LLMConfig{
			Provider:   "ollama",
			OllamaHost: "http://localhost:11434",
			Timeout:    5 * time.Minute,
			MaxRetries: 3,
		},
		Storage: StorageConfig{
			ProfilePath: "config/storage_profiles",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
			ServiceName:    "text-extractor",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return domain.ConfigError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}

	if !oneOf(c.Cache.Driver, "memory", "redis", "none") {
		return domain.ConfigError(fmt.Sprintf("invalid cache driver: %s", c.Cache.Driver), nil)
	}

	switch c.Jobs.Store.Driver {
	case "memory", "redis":
	case "postgres", "sqlite":
		if c.Jobs.Store.DSN == "" {
			return domain.ConfigError(fmt.Sprintf("job store %s needs a dsn", c.Jobs.Store.Driver), nil)
		}
	default:
		return domain.ConfigError(fmt.Sprintf("invalid job store driver: %s", c.Jobs.Store.Driver), nil)
	}

	switch c.Jobs.Queue.Driver {
	case "memory", "redis":
	case "dbos":
		if c.Jobs.Queue.DBOSDatabaseURL == "" {
			return domain.ConfigError("dbos queue needs dbos_database_url", nil)
		}
	default:
		return domain.ConfigError(fmt.Sprintf("invalid queue driver: %s", c.Jobs.Queue.Driver), nil)
	}

	if c.Jobs.Queue.Driver == "memory" && !c.Jobs.Queue.InProcess {
		return domain.ConfigError("memory queue can only be consumed in process", nil)
	}

	if c.Jobs.Queue.Workers < 1 {
		return domain.ConfigError("workers must be at least 1", nil)
	}

	if c.UsesRedis() && c.Redis.URL == "" && c.Redis.Addr == "" {
		return domain.ConfigError("redis url or addr is required", nil)
	}

	if c.Extraction.JPEGQuality < 1 || c.Extraction.JPEGQuality > 100 {
		return domain.ConfigError(fmt.Sprintf("jpeg_quality must be between 1 and 100, got %d", c.Extraction.JPEGQuality), nil)
	}

	if !oneOf(c.LLM.Provider, "ollama", "openrouter") {
		return domain.ConfigError(fmt.Sprintf("invalid llm provider: %s", c.LLM.Provider), nil)
	}

	return nil
}

// UsesRedis reports whether any component needs the Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Cache.Driver == "redis" || c.Jobs.Store.Driver == "redis" || c.Jobs.Queue.Driver == "redis"
}

// Addr is the listen address of the API server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SQLDriver maps the store driver to its database/sql driver name.
func (c *Config) SQLDriver() string {
	if c.Jobs.Store.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Jobs.Store.Driver
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Cache.Driver = "redis"
	}

	if v := os.Getenv("CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Jobs.Store.Driver = "sqlite"
			cfg.Jobs.Store.DSN = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Jobs.Store.Driver = "postgres"
			cfg.Jobs.Store.DSN = v
		}
	}

	if v := os.Getenv("JOB_STORE"); v != "" {
		cfg.Jobs.Store.Driver = v
	}

	if v := os.Getenv("QUEUE_DRIVER"); v != "" {
		cfg.Jobs.Queue.Driver = v
	}

	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.Queue.Workers = n
		}
	}

	if v := os.Getenv("DBOS_SYSTEM_DATABASE_URL"); v != "" {
		cfg.Jobs.Queue.DBOSDatabaseURL = v
	}

	if v := os.Getenv("OCR_CONFIG_PATH"); v != "" {
		cfg.Extraction.StrategiesPath = v
	}

	if v := os.Getenv("LLAMA_VISION_PROMPT"); v != "" {
		cfg.Extraction.Prompt = v
	}

	if v := os.Getenv("REMOTE_API_URL"); v != "" {
		cfg.Extraction.RemoteURL = v
	}

	if v := os.Getenv("STORAGE_PROFILE_PATH"); v != "" {
		cfg.Storage.ProfilePath = v
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.LLM.OllamaHost = v
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.OpenRouterAPIKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if targetPath == "" || filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
