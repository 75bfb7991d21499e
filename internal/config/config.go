// Package config provides configuration loading and structs for the nutrirag service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredential is returned by Validate when a required secret is not set.
var ErrMissingCredential = errors.New("missing credential")

// Environment variables applied by ApplyEnv.
const (
	EnvAppEnv    = "APP_ENV"
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvRedisURL  = "REDIS_URL"
	EnvCacheDir  = "NUTRIRAG_CACHE_DIR"
	EnvIndexName = "NUTRIRAG_INDEX_NAME"
)

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool            `yaml:"debug"`
	Deployment string          `yaml:"deployment"`
	Server     ServerConfig    `yaml:"server"`
	Index      IndexConfig     `yaml:"index"`
	Cache      CacheConfig     `yaml:"cache"`
	Redis      RedisConfig     `yaml:"redis"`
	Embedding  EmbeddingConfig `yaml:"embedding"`
	Ingest     IngestConfig    `yaml:"ingest"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`
	Interview  InterviewConfig `yaml:"interview"`
	Watch      WatchConfig     `yaml:"watch"`

	// OpenAIAPIKey comes from the environment only and is never written by Save.
	OpenAIAPIKey string `yaml:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// IndexConfig describes the similarity index.
type IndexConfig struct {
	Name       string `yaml:"name"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"`
	// FilterableFields are metadata keys the remote index declares as TAG fields.
	FilterableFields []string `yaml:"filterable_fields"`
}

// CacheConfig holds the cache directory and result cache backend.
type CacheConfig struct {
	Dir            string `yaml:"dir"`
	ResultBackend  string `yaml:"result_backend"`
	ResultCapacity int    `yaml:"result_capacity"`
}

// RedisConfig holds the Redis connection used by the remote index and result cache.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// IngestConfig holds chunking and batching settings.
type IngestConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	BatchSize    int    `yaml:"batch_size"`
	URLColumn    string `yaml:"url_column"`
}

// RetrievalConfig holds query defaults.
type RetrievalConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
}

// InterviewConfig configures the recommendation workflow.
type InterviewConfig struct {
	ChatModel   string  `yaml:"chat_model"`
	Temperature float64 `yaml:"temperature"`
	MaxAnalysts int     `yaml:"max_analysts"`
	MaxTurns    int     `yaml:"max_turns"`
	TopK        int     `yaml:"top_k"`
}

// WatchConfig holds inbox directory settings for "serve --watch".
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	DebounceMS  int      `yaml:"debounce_ms"`
}

// Production reports whether the deployment is production.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Deployment, "production")
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Cache.Dir = expandPath(cfg.Cache.Dir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Default returns a config with every default applied and paths relative to the
// working directory.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if abs, err := filepath.Abs(cfg.Cache.Dir); err == nil {
		cfg.Cache.Dir = abs
	}
	return cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// LoadEnv loads .env files into the process environment. Missing files are ignored and
// variables already set are not overridden.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with values from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvAppEnv); v != "" {
		cfg.Deployment = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		if abs, err := filepath.Abs(v); err == nil {
			v = abs
		}
		cfg.Cache.Dir = v
	}
	if v := os.Getenv(EnvIndexName); v != "" {
		cfg.Index.Name = v
	}
}

// Validate checks that the credentials the configured components need are present.
// needChat is set by commands that run the interview workflow.
func (c *Config) Validate(needChat bool) error {
	var errs []error
	if c.Embedding.Provider == ProviderOpenAI && c.OpenAIAPIKey == "" {
		errs = append(errs, fmt.Errorf("%w: %s is required for the openai embedding provider", ErrMissingCredential, EnvOpenAIKey))
	}
	if needChat && c.OpenAIAPIKey == "" && c.Embedding.Provider != ProviderOpenAI {
		errs = append(errs, fmt.Errorf("%w: %s is required for recommendations", ErrMissingCredential, EnvOpenAIKey))
	}
	if c.Production() && c.Redis.URL == "" {
		errs = append(errs, fmt.Errorf("%w: redis.url (or %s) is required in production", ErrMissingCredential, EnvRedisURL))
	}
	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderONNX, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize))
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = strings.TrimPrefix(path, "~/")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
