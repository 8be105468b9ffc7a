package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentbrain/agentbrain/internal/errors"
)

// Backend names accepted by the backend option.
const (
	BackendEmbedded = "embedded"
	BackendPostgres = "postgres"
)

// Graph store names accepted by graph.store.
const (
	GraphStoreSimple = "simple"
	GraphStoreBolt   = "bolt"
)

// Config is the complete service configuration. Precedence, lowest to
// highest: compiled defaults, user config, project config, AGENT_BRAIN_*
// environment variables, CLI flags (applied by the command layer).
type Config struct {
	// Backend selects the storage implementation: embedded | postgres.
	Backend string `yaml:"backend" json:"backend"`

	// DatabaseURL is the PostgreSQL connection string (postgres backend).
	DatabaseURL string `yaml:"database_url" json:"database_url"`

	// PoolSize is the base connection pool size (postgres backend).
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// PoolMaxOverflow is the number of connections allowed beyond the
	// base pool under load.
	PoolMaxOverflow int `yaml:"pool_max_overflow" json:"pool_max_overflow"`

	Embedding     EmbeddingConfig     `yaml:"embedding" json:"embedding"`
	Summarization SummarizationConfig `yaml:"summarization" json:"summarization"`
	Graph         GraphConfig         `yaml:"graph" json:"graph"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	Search        SearchConfig        `yaml:"search" json:"search"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Exclude holds glob patterns skipped during ingestion, merged
	// with the built-in defaults.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider selects the embedding client: ollama | static.
	Provider string `yaml:"provider" json:"provider"`
	// Model is the provider-specific model name.
	Model string `yaml:"model" json:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	// Local providers leave it empty.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// Endpoint is the provider base URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// BatchSize is the number of texts per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Dimensions pins the vector dimension; 0 auto-detects.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
}

// SummarizationConfig configures the LLM used for chunk summaries and
// graph triple extraction. An empty provider disables both.
type SummarizationConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// GraphConfig configures the graph index.
type GraphConfig struct {
	// Enabled turns the graph index on (default false).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Store selects the graph persistence: simple | bolt.
	Store string `yaml:"store" json:"store"`
	// MaxTripletsPerChunk bounds LLM extraction output per chunk.
	MaxTripletsPerChunk int `yaml:"max_triplets_per_chunk" json:"max_triplets_per_chunk"`
	// TraversalDepth is the default BFS depth for graph queries.
	TraversalDepth int `yaml:"traversal_depth" json:"traversal_depth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host is the bind address (default 127.0.0.1).
	Host string `yaml:"host" json:"host"`
	// Port is the bind port; 0 lets the OS assign one.
	Port int `yaml:"port" json:"port"`
}

// SearchConfig configures retrieval defaults and fusion weights.
type SearchConfig struct {
	// TopK is the default result count.
	TopK int `yaml:"top_k" json:"top_k"`
	// Threshold drops vector/hybrid results scoring below it.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// Alpha is the hybrid vector weight; keyword weight is 1-alpha.
	Alpha float64 `yaml:"alpha" json:"alpha"`
	// RRFConstant is the fusion smoothing parameter K.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// Multi-mode fusion weights; must sum to 1.
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`
	GraphWeight   float64 `yaml:"graph_weight" json:"graph_weight"`
}

// defaultExcludePatterns are always excluded from ingestion.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/.claude/agent-brain/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// New returns a Config populated with the compiled defaults.
func New() *Config {
	return &Config{
		Backend:         BackendEmbedded,
		DatabaseURL:     "",
		PoolSize:        5,
		PoolMaxOverflow: 10,
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			APIKeyEnv:  "",
			Endpoint:   "http://localhost:11434",
			BatchSize:  64,
			Dimensions: 0,
		},
		Summarization: SummarizationConfig{
			Provider: "",
			Model:    "qwen2.5:3b",
			Endpoint: "http://localhost:11434",
		},
		Graph: GraphConfig{
			Enabled:             false,
			Store:               GraphStoreSimple,
			MaxTripletsPerChunk: 10,
			TraversalDepth:      2,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Search: SearchConfig{
			TopK:      5,
			Threshold: 0.3,
			Alpha:     0.5,
			// K=60 is the literature default (also used by Azure AI
			// Search and OpenSearch).
			RRFConstant:   60,
			VectorWeight:  0.4,
			KeywordWeight: 0.3,
			GraphWeight:   0.3,
		},
		LogLevel: "info",
		Exclude:  defaultExcludePatterns,
	}
}

// UserConfigPath returns the user-level config path following the XDG
// base directory convention.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agent-brain", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "agent-brain", "config.yaml")
	}
	return filepath.Join(home, ".config", "agent-brain", "config.yaml")
}

// ProjectConfigPath returns the project config path inside the state
// directory.
func ProjectConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".claude", "agent-brain", "config.yaml")
}

// Load assembles the effective configuration for a project root:
// defaults, then user config, then project config, then environment
// overrides, then validation. CLI flags are applied by the caller
// afterwards (they re-validate).
func Load(projectRoot string) (*Config, error) {
	cfg := New()

	if err := cfg.mergeFile(UserConfigPath()); err != nil {
		return nil, errors.ConfigWrap("invalid user config", err)
	}
	if err := cfg.mergeFile(ProjectConfigPath(projectRoot)); err != nil {
		return nil, errors.ConfigWrap("invalid project config", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile merges a YAML file into the config when it exists.
func (c *Config) mergeFile(path string) error {
	if !fileExists(path) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero values from other. Boolean fields that
// legitimately default to false (graph.enabled) merge when their
// section carries any other setting.
func (c *Config) mergeWith(other *Config) {
	if other.Backend != "" {
		c.Backend = other.Backend
	}
	if other.DatabaseURL != "" {
		c.DatabaseURL = other.DatabaseURL
	}
	if other.PoolSize != 0 {
		c.PoolSize = other.PoolSize
	}
	if other.PoolMaxOverflow != 0 {
		c.PoolMaxOverflow = other.PoolMaxOverflow
	}

	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.APIKeyEnv != "" {
		c.Embedding.APIKeyEnv = other.Embedding.APIKeyEnv
	}
	if other.Embedding.Endpoint != "" {
		c.Embedding.Endpoint = other.Embedding.Endpoint
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}

	if other.Summarization.Provider != "" {
		c.Summarization.Provider = other.Summarization.Provider
	}
	if other.Summarization.Model != "" {
		c.Summarization.Model = other.Summarization.Model
	}
	if other.Summarization.Endpoint != "" {
		c.Summarization.Endpoint = other.Summarization.Endpoint
	}

	if other.Graph.Enabled {
		c.Graph.Enabled = true
	}
	if other.Graph.Store != "" {
		c.Graph.Store = other.Graph.Store
	}
	if other.Graph.MaxTripletsPerChunk != 0 {
		c.Graph.MaxTripletsPerChunk = other.Graph.MaxTripletsPerChunk
	}
	if other.Graph.TraversalDepth != 0 {
		c.Graph.TraversalDepth = other.Graph.TraversalDepth
	}

	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}

	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.Threshold != 0 {
		c.Search.Threshold = other.Search.Threshold
	}
	if other.Search.Alpha != 0 {
		c.Search.Alpha = other.Search.Alpha
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.VectorWeight != 0 || other.Search.KeywordWeight != 0 || other.Search.GraphWeight != 0 {
		c.Search.VectorWeight = other.Search.VectorWeight
		c.Search.KeywordWeight = other.Search.KeywordWeight
		c.Search.GraphWeight = other.Search.GraphWeight
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if len(other.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Exclude = append(c.Exclude, other.Exclude...)
	}
}

// applyEnvOverrides applies AGENT_BRAIN_* environment overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AGENT_BRAIN_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("AGENT_BRAIN_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("AGENT_BRAIN_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PoolSize = n
		}
	}
	if v := os.Getenv("AGENT_BRAIN_POOL_MAX_OVERFLOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.PoolMaxOverflow = n
		}
	}
	if v := os.Getenv("AGENT_BRAIN_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("AGENT_BRAIN_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("AGENT_BRAIN_EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("AGENT_BRAIN_SUMMARIZATION_PROVIDER"); v != "" {
		c.Summarization.Provider = v
	}
	if v := os.Getenv("AGENT_BRAIN_GRAPH_ENABLED"); v != "" {
		c.Graph.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("AGENT_BRAIN_GRAPH_STORE"); v != "" {
		c.Graph.Store = v
	}
	if v := os.Getenv("AGENT_BRAIN_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("AGENT_BRAIN_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 65535 {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("AGENT_BRAIN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate rejects configurations the service cannot run with. All
// failures carry the configuration category so the CLI exits 5.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendEmbedded, BackendPostgres:
	default:
		return errors.Config(fmt.Sprintf("backend must be %q or %q, got %q",
			BackendEmbedded, BackendPostgres, c.Backend))
	}

	if c.Backend == BackendPostgres && c.DatabaseURL == "" {
		return errors.Config("database_url is required for the postgres backend").
			WithSuggestion("set database_url or AGENT_BRAIN_DATABASE_URL")
	}
	if c.PoolSize <= 0 {
		return errors.Config(fmt.Sprintf("pool_size must be positive, got %d", c.PoolSize))
	}
	if c.PoolMaxOverflow < 0 {
		return errors.Config(fmt.Sprintf("pool_max_overflow must be non-negative, got %d", c.PoolMaxOverflow))
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case "ollama", "static":
	default:
		return errors.Config(fmt.Sprintf("embedding.provider must be 'ollama' or 'static', got %q", c.Embedding.Provider))
	}
	if c.Embedding.BatchSize <= 0 {
		return errors.Config(fmt.Sprintf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize))
	}

	if p := strings.ToLower(c.Summarization.Provider); p != "" && p != "ollama" && p != "static" {
		return errors.Config(fmt.Sprintf("summarization.provider must be 'ollama', 'static', or empty, got %q", c.Summarization.Provider))
	}

	switch c.Graph.Store {
	case GraphStoreSimple, GraphStoreBolt:
	default:
		return errors.Config(fmt.Sprintf("graph.store must be %q or %q, got %q",
			GraphStoreSimple, GraphStoreBolt, c.Graph.Store))
	}
	if c.Graph.MaxTripletsPerChunk <= 0 {
		return errors.Config(fmt.Sprintf("graph.max_triplets_per_chunk must be positive, got %d", c.Graph.MaxTripletsPerChunk))
	}
	if c.Graph.TraversalDepth <= 0 {
		return errors.Config(fmt.Sprintf("graph.traversal_depth must be positive, got %d", c.Graph.TraversalDepth))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Config(fmt.Sprintf("server.port must be in [0, 65535], got %d", c.Server.Port))
	}

	if c.Search.TopK <= 0 {
		return errors.Config(fmt.Sprintf("search.top_k must be positive, got %d", c.Search.TopK))
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return errors.Config(fmt.Sprintf("search.threshold must be in [0, 1], got %f", c.Search.Threshold))
	}
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return errors.Config(fmt.Sprintf("search.alpha must be in [0, 1], got %f", c.Search.Alpha))
	}
	if c.Search.RRFConstant <= 0 {
		return errors.Config(fmt.Sprintf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant))
	}
	sum := c.Search.VectorWeight + c.Search.KeywordWeight + c.Search.GraphWeight
	if math.Abs(sum-1.0) > 0.01 {
		return errors.Config(fmt.Sprintf("search fusion weights must sum to 1.0, got %.2f", sum))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return errors.Config(fmt.Sprintf("log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.LogLevel))
	}

	return nil
}

// APIKey resolves the embedding API key from the configured
// environment variable. Local providers return an empty string.
func (c *Config) APIKey() string {
	if c.Embedding.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Embedding.APIKeyEnv)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
