package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/text-extractor/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SERVER_PORT", "SERVER_HOST", "REDIS_URL", "CACHE_DRIVER", "DATABASE_URL", "JOB_STORE",
		"QUEUE_DRIVER", "WORKERS", "DBOS_SYSTEM_DATABASE_URL", "OCR_CONFIG_PATH", "REMOTE_API_URL",
		"LLAMA_VISION_PROMPT",
		"STORAGE_PROFILE_PATH", "LLM_PROVIDER", "LLM_MODEL", "OLLAMA_HOST", "OPENROUTER_API_KEY",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
}

func TestLoad_FileAndRelativePaths(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  read_timeout: 5s
cache:
  driver: none
jobs:
  store:
    driver: sqlite
    dsn: /tmp/jobs.db
  queue:
    workers: 4
extraction:
  strategies_path: strategies.yaml
storage:
  profile_path: /etc/profiles
llm:
  provider: openrouter
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "none", cfg.Cache.Driver)
	assert.Equal(t, "sqlite3", cfg.SQLDriver())
	assert.Equal(t, 4, cfg.Jobs.Queue.Workers)
	assert.Equal(t, filepath.Join(dir, "strategies.yaml"), cfg.Extraction.StrategiesPath)
	assert.Equal(t, "/etc/profiles", cfg.Storage.ProfilePath)
	assert.Equal(t, "openrouter", cfg.LLM.Provider)
	// untouched sections keep their defaults
	assert.Equal(t, 2*time.Minute, cfg.Server.IdleTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/jobs")
	t.Setenv("QUEUE_DRIVER", "redis")
	t.Setenv("WORKERS", "8")
	t.Setenv("OCR_CONFIG_PATH", "/srv/strategies.yaml")
	t.Setenv("STORAGE_PROFILE_PATH", "/srv/profiles")
	t.Setenv("LLM_MODEL", "llama3.2")
	t.Setenv("OLLAMA_HOST", "http://ollama:11434")
	t.Setenv("REMOTE_API_URL", "http://marker:8000/marker/upload")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "postgres", cfg.Jobs.Store.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/jobs", cfg.Jobs.Store.DSN)
	assert.Equal(t, "redis", cfg.Jobs.Queue.Driver)
	assert.Equal(t, 8, cfg.Jobs.Queue.Workers)
	assert.Equal(t, "/srv/strategies.yaml", cfg.Extraction.StrategiesPath)
	assert.Equal(t, "/srv/profiles", cfg.Storage.ProfilePath)
	assert.Equal(t, "llama3.2", cfg.LLM.Model)
	assert.Equal(t, "http://ollama:11434", cfg.LLM.OllamaHost)
	assert.Equal(t, "http://marker:8000/marker/upload", cfg.Extraction.RemoteURL)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_SQLiteDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "sqlite:/var/lib/te/jobs.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Jobs.Store.Driver)
	assert.Equal(t, "/var/lib/te/jobs.db", cfg.Jobs.Store.DSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "bad cache driver", mutate: func(c *Config) { c.Cache.Driver = "memcached" }},
		{name: "bad store driver", mutate: func(c *Config) { c.Jobs.Store.Driver = "mongo" }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Jobs.Store.Driver = "postgres" }},
		{name: "bad queue driver", mutate: func(c *Config) { c.Jobs.Queue.Driver = "kafka" }},
		{name: "dbos without database", mutate: func(c *Config) { c.Jobs.Queue.Driver = "dbos" }},
		{name: "memory queue out of process", mutate: func(c *Config) { c.Jobs.Queue.InProcess = false }},
		{name: "no workers", mutate: func(c *Config) { c.Jobs.Queue.Workers = 0 }},
		{name: "redis without address", mutate: func(c *Config) {
			c.Cache.Driver = "redis"
			c.Redis.Addr = ""
		}},
		{name: "bad jpeg quality", mutate: func(c *Config) { c.Extraction.JPEGQuality = 101 }},
		{name: "bad llm provider", mutate: func(c *Config) { c.LLM.Provider = "gpt" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolveRelativePath(t *testing.T) {
	assert.Equal(t, "/etc/te/strategies.yaml", ResolveRelativePath("/etc/te/config.yaml", "strategies.yaml"))
	assert.Equal(t, "/abs/x.yaml", ResolveRelativePath("/etc/te/config.yaml", "/abs/x.yaml"))
	assert.Equal(t, "", ResolveRelativePath("/etc/te/config.yaml", ""))
}
