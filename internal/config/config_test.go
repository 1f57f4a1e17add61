package config

import (
	"benritz/dtd/internal/merton"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "dtd.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, merton.DefaultParams(), cfg.Params())
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "csv", cfg.Storage.OutputFormat)
	assert.NoError(t, cfg.Params().Validate())
}

func TestLoad_File(t *testing.T) {
	p := writeConfig(t, `
model:
  sigma: 0.5
  max_iterations: 50
workers: 4
server:
  address: 127.0.0.1:9090
  read_timeout: 5s
logging:
  level: DEBUG
  format: json
`)

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Model.Sigma)
	assert.Equal(t, 50, cfg.Model.MaxIterations)
	assert.Equal(t, merton.Weight, cfg.Model.Weight)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeConfig(t, `
workers: 4
storage:
  output_bucket: file-bucket
`)

	t.Setenv("DTD_WORKERS", "8")
	t.Setenv("DTD_MODEL_TOLERANCE", "1e-6")
	t.Setenv("DTD_STORAGE_OUTPUT_BUCKET", "env-bucket")
	t.Setenv("DTD_STORAGE_OUTPUT_FORMAT", "Parquet")
	t.Setenv("DTD_SERVER_RATE_LIMIT_ENABLED", "false")

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 1e-6, cfg.Model.Tolerance)
	assert.Equal(t, "env-bucket", cfg.Storage.OutputBucket)
	assert.Equal(t, "parquet", cfg.Storage.OutputFormat)
	assert.False(t, cfg.Server.RateLimit.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("DTD_WORKERS", "many")

	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sigma", func(c *Config) { c.Model.Sigma = 0 }},
		{"negative weight", func(c *Config) { c.Model.Weight = -1 }},
		{"zero iterations", func(c *Config) { c.Model.MaxIterations = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad output format", func(c *Config) { c.Storage.OutputFormat = "pdf" }},
		{"zero burst", func(c *Config) { c.Server.RateLimit.Burst = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
