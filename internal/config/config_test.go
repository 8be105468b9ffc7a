package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrain/agentbrain/internal/errors"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendEmbedded, cfg.Backend)
	assert.Equal(t, 5, cfg.PoolSize)
	assert.Equal(t, 10, cfg.PoolMaxOverflow)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.BatchSize)
	assert.False(t, cfg.Graph.Enabled)
	assert.Equal(t, GraphStoreSimple, cfg.Graph.Store)
	assert.Equal(t, 10, cfg.Graph.MaxTripletsPerChunk)
	assert.Equal(t, 2, cfg.Graph.TraversalDepth)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 0, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.InDelta(t, 0.3, cfg.Search.Threshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.Search.Alpha, 1e-9)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
}

func TestLoadAppliesProjectOverDefaults(t *testing.T) {
	// Given a project config overriding backend settings
	root := t.TempDir()
	projectCfg := ProjectConfigPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(projectCfg), 0o755))
	require.NoError(t, os.WriteFile(projectCfg, []byte(`
backend: postgres
database_url: postgres://localhost:5432/brain
pool_size: 8
graph:
  enabled: true
  store: bolt
`), 0o644))

	// When loading
	cfg, err := Load(root)
	require.NoError(t, err)

	// Then overrides win and untouched values keep defaults
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://localhost:5432/brain", cfg.DatabaseURL)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.True(t, cfg.Graph.Enabled)
	assert.Equal(t, GraphStoreBolt, cfg.Graph.Store)
	assert.Equal(t, 10, cfg.PoolMaxOverflow)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestEnvOverridesProjectConfig(t *testing.T) {
	// Given a project config and a conflicting env var
	root := t.TempDir()
	projectCfg := ProjectConfigPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(projectCfg), 0o755))
	require.NoError(t, os.WriteFile(projectCfg, []byte("log_level: warn\n"), 0o644))

	t.Setenv("AGENT_BRAIN_LOG_LEVEL", "debug")
	t.Setenv("AGENT_BRAIN_SERVER_PORT", "4311")

	// When loading
	cfg, err := Load(root)
	require.NoError(t, err)

	// Then env wins
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4311, cfg.Server.Port)
}

func TestLoadWithoutAnyConfigUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, BackendEmbedded, cfg.Backend)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "duckdb" }},
		{"postgres without url", func(c *Config) { c.Backend = BackendPostgres; c.DatabaseURL = "" }},
		{"zero pool", func(c *Config) { c.PoolSize = 0 }},
		{"negative overflow", func(c *Config) { c.PoolMaxOverflow = -1 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "openai-compat" }},
		{"zero batch", func(c *Config) { c.Embedding.BatchSize = 0 }},
		{"unknown graph store", func(c *Config) { c.Graph.Store = "kuzu" }},
		{"zero triplets", func(c *Config) { c.Graph.MaxTripletsPerChunk = 0 }},
		{"zero depth", func(c *Config) { c.Graph.TraversalDepth = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad alpha", func(c *Config) { c.Search.Alpha = 1.5 }},
		{"weights not summing", func(c *Config) { c.Search.VectorWeight = 0.9 }},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			// Configuration failures exit with the config code
			assert.Equal(t, errors.ExitConfigError, errors.ExitCode(err))
		})
	}
}

func TestExcludePatternsMergeWithDefaults(t *testing.T) {
	root := t.TempDir()
	projectCfg := ProjectConfigPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(projectCfg), 0o755))
	require.NoError(t, os.WriteFile(projectCfg, []byte("exclude:\n  - '**/generated/**'\n"), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Contains(t, cfg.Exclude, "**/generated/**")
	assert.Contains(t, cfg.Exclude, "**/node_modules/**")
}

func TestAPIKeyResolution(t *testing.T) {
	cfg := New()
	assert.Empty(t, cfg.APIKey())

	cfg.Embedding.APIKeyEnv = "BRAIN_TEST_KEY"
	t.Setenv("BRAIN_TEST_KEY", "sk-123")
	assert.Equal(t, "sk-123", cfg.APIKey())
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	// Given a config written to disk
	root := t.TempDir()
	cfg := New()
	cfg.Backend = BackendPostgres
	cfg.DatabaseURL = "postgres://u:p@localhost/brain"

	path := ProjectConfigPath(root)
	require.NoError(t, cfg.WriteYAML(path))

	// When loading it back
	loaded, err := Load(root)
	require.NoError(t, err)

	// Then the written values survive
	assert.Equal(t, BackendPostgres, loaded.Backend)
	assert.Equal(t, "postgres://u:p@localhost/brain", loaded.DatabaseURL)
}

func TestBackupCreatesTimestampedCopy(t *testing.T) {
	// Given an existing config file
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: embedded\n"), 0o644))

	// When backing it up
	backup, err := Backup(path)
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	// Then the copy holds the original content
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "backend: embedded\n", string(data))

	// And backing up a missing file is a no-op
	missing, err := Backup(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
