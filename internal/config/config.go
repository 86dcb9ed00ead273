// Package config provides application configuration management using koanf
package config

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	apperrors "policy-rag/internal/errors"
)

// EnvPrefix is the prefix for environment overrides, e.g. POLICYRAG_RETRIEVAL__TOP_K.
const EnvPrefix = "POLICYRAG_"

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `koanf:"server"`

	// Database configuration
	Database DatabaseConfig `koanf:"database"`

	// Index backend selection
	Index IndexConfig `koanf:"index"`

	// External services
	Services ServicesConfig `koanf:"services"`

	Chunking  ChunkingConfig  `koanf:"chunking"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Logging   LoggingConfig   `koanf:"logging"`
	Data      DataConfig      `koanf:"data"`

	// Security settings
	Security SecurityConfig `koanf:"security"`

	// Application settings
	App AppConfig `koanf:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string    `koanf:"host"`
	Port         int       `koanf:"port"`
	ReadTimeout  int       `koanf:"read_timeout"`  // seconds
	WriteTimeout int       `koanf:"write_timeout"` // seconds
	TLS          TLSConfig `koanf:"tls"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	MinTLS   string `koanf:"min_version"` // "1.2" or "1.3"
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// IndexConfig selects the vector index implementation
type IndexConfig struct {
	Backend string `koanf:"backend"` // "sqlite" or "memory"
}

// ServicesConfig holds external service configuration
type ServicesConfig struct {
	LLM        LLMConfig        `koanf:"llm"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
}

// LLMConfig holds the hosted language model settings
type LLMConfig struct {
	Provider       string               `koanf:"provider"` // "groq", "openai" or "ollama"
	BaseURL        string               `koanf:"base_url"`
	Model          string               `koanf:"model"`
	APIKey         string               `koanf:"api_key"`
	Temperature    float32              `koanf:"temperature"`
	MaxTokens      int                  `koanf:"max_tokens"`
	Timeout        int                  `koanf:"timeout"` // seconds, 0 disables
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

// CircuitBreakerConfig controls fail-fast behaviour around the model call
type CircuitBreakerConfig struct {
	Enabled          bool `koanf:"enabled"`
	FailureThreshold int  `koanf:"failure_threshold"` // consecutive failures before opening
	OpenTimeout      int  `koanf:"open_timeout"`      // seconds
}

// EmbeddingsConfig holds embedding provider configuration
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // "hash", "ollama" or "openai"
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	APIKey    string `koanf:"api_key"`
	Dimension int    `koanf:"dimension"` // hash embedder only
	Timeout   int    `koanf:"timeout"`   // seconds
}

// ChunkingConfig controls the word-window chunker
type ChunkingConfig struct {
	Size    int `koanf:"size"`    // words per chunk
	Overlap int `koanf:"overlap"` // words shared by consecutive chunks
}

// RetrievalConfig controls retrieval and context assembly
type RetrievalConfig struct {
	TopK          int    `koanf:"top_k"`
	ContextBudget int    `koanf:"context_budget"` // characters
	Truncation    string `koanf:"truncation"`     // "prefix" or "chunk"
}

// LoggingConfig holds query log settings
type LoggingConfig struct {
	QueryLog string `koanf:"query_log"`
	// LogFailures also writes a query log entry when the model call fails.
	LogFailures bool `koanf:"log_failures"`
}

// DataConfig points at the policy documents
type DataConfig struct {
	PoliciesDir string `koanf:"policies_dir"`
}

// SecurityConfig holds security-related settings
type SecurityConfig struct {
	APIToken  string `koanf:"api_token"`  // empty disables auth
	ErrorMode string `koanf:"error_mode"` // "detailed" or "secure"
}

// AppConfig holds general application settings
type AppConfig struct {
	Environment string `koanf:"environment"` // "development", "staging", "production"
	LogLevel    string `koanf:"log_level"`   // "debug", "info", "warn", "error"
	LogFormat   string `koanf:"log_format"`  // "text" or "json"
}

// Options customises where Load reads from. The zero value reads the real environment.
type Options struct {
	// ConfigFile overrides the config.yaml / config.json lookup.
	ConfigFile string
	// DotEnvFile is loaded into the process environment if it exists. Default ".env".
	DotEnvFile string
	// Environ replaces os.Environ, mostly for tests.
	Environ func() []string
}

// Load loads configuration from multiple sources with precedence:
// 1. defaults
// 2. config.yaml / config.json (or opts.ConfigFile)
// 3. POLICYRAG_* environment variables, after loading .env
// 4. GROQ_API_KEY (highest precedence for the LLM key)
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	// Set defaults
	setDefaults(k)

	// Load from config files (optional)
	if err := loadConfigFiles(k, opts.ConfigFile); err != nil {
		return nil, err
	}

	dotenv := opts.DotEnvFile
	if dotenv == "" {
		dotenv = ".env"
	}
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return nil, fmt.Errorf("error loading %s: %w", dotenv, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
		EnvironFunc:   opts.Environ,
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "GROQ_API_KEY",
		TransformFunc: func(key, value string) (string, any) {
			if key != "GROQ_API_KEY" || value == "" {
				return "", nil
			}
			return "services.llm.api_key", value
		},
		EnvironFunc: opts.Environ,
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading GROQ_API_KEY: %w", err)
	}

	// Unmarshal into config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// transformEnv maps POLICYRAG_SERVICES__LLM__API_KEY to services.llm.api_key.
func transformEnv(key, value string) (string, any) {
	key = strings.TrimPrefix(key, EnvPrefix)
	key = strings.ToLower(strings.ReplaceAll(key, "__", "."))
	return key, value
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]any {
	return map[string]any{
		// Server defaults
		"server.host":            "localhost",
		"server.port":            8080,
		"server.read_timeout":    30,
		"server.write_timeout":   90,
		"server.tls.enabled":     false,
		"server.tls.min_version": "1.3",

		"database.path": "data/vector_store.db",
		"index.backend": "sqlite",

		// Services defaults
		"services.llm.provider":                          "groq",
		"services.llm.base_url":                          "",
		"services.llm.model":                             "llama-3.1-8b-instant",
		"services.llm.temperature":                       0.0,
		"services.llm.max_tokens":                        1024,
		"services.llm.timeout":                           60,
		"services.llm.circuit_breaker.enabled":           true,
		"services.llm.circuit_breaker.failure_threshold": 5,
		"services.llm.circuit_breaker.open_timeout":      30,
		"services.embeddings.provider":                   "hash",
		"services.embeddings.base_url":                   "http://localhost:11434",
		"services.embeddings.model":                      "nomic-embed-text",
		"services.embeddings.dimension":                  384,
		"services.embeddings.timeout":                    30,

		"chunking.size":    500,
		"chunking.overlap": 100,

		"retrieval.top_k":          5,
		"retrieval.context_budget": 4000,
		"retrieval.truncation":     "prefix",

		"logging.query_log":    "logs/queries.jsonl",
		"logging.log_failures": false,

		"data.policies_dir": "data/policies",

		// Security defaults
		"security.error_mode": "detailed",

		// App defaults
		"app.environment": "development",
		"app.log_level":   "info",
		"app.log_format":  "text",
	}
}

// setDefaults sets default configuration values
func setDefaults(k *koanf.Koanf) {
	for key, value := range Defaults() {
		_ = k.Set(key, value) // Ignore error for setting defaults
	}
}

// loadConfigFiles loads configuration from files. An explicit path must exist;
// the implicit config.yaml / config.json are optional.
func loadConfigFiles(k *koanf.Koanf, explicit string) error {
	if explicit != "" {
		if err := k.Load(file.Provider(explicit), parserFor(explicit)); err != nil {
			return fmt.Errorf("failed to load %s: %w", explicit, err)
		}
		return nil
	}

	// Try to load YAML config
	if _, err := os.Stat("config.yaml"); err == nil {
		if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
			slog.Warn("failed to load config.yaml", "error", err)
		}
	}

	// Try to load JSON config
	if _, err := os.Stat("config.json"); err == nil {
		if err := k.Load(file.Provider("config.json"), json.Parser()); err != nil {
			slog.Warn("failed to load config.json", "error", err)
		}
	}
	return nil
}

func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Parser()
	}
	return yaml.Parser()
}

func invalid(format string, args ...any) error {
	return apperrors.ErrInvalidConfiguration.WithCause(fmt.Errorf(format, args...))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return invalid("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return invalid("chunking.overlap (%d) must be in [0, chunking.size=%d)", c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Retrieval.TopK <= 0 {
		return invalid("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.ContextBudget <= 0 {
		return invalid("retrieval.context_budget must be positive, got %d", c.Retrieval.ContextBudget)
	}
	switch c.Retrieval.Truncation {
	case "prefix", "chunk":
	default:
		return invalid("unknown retrieval.truncation %q", c.Retrieval.Truncation)
	}
	switch c.Index.Backend {
	case "sqlite", "memory":
	default:
		return invalid("unknown index.backend %q", c.Index.Backend)
	}
	switch c.Services.LLM.Provider {
	case "groq", "openai", "ollama":
	default:
		return invalid("unknown services.llm.provider %q", c.Services.LLM.Provider)
	}
	switch c.Services.Embeddings.Provider {
	case "hash", "ollama", "openai":
	default:
		return invalid("unknown services.embeddings.provider %q", c.Services.Embeddings.Provider)
	}
	if c.Services.Embeddings.Provider == "hash" && c.Services.Embeddings.Dimension <= 0 {
		return invalid("services.embeddings.dimension must be positive")
	}

	// Validate TLS configuration
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return invalid("TLS cert file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return invalid("TLS key file is required when TLS is enabled")
		}

		// Check if files exist
		if _, err := os.Stat(c.Server.TLS.CertFile); os.IsNotExist(err) {
			return invalid("TLS cert file does not exist: %s", c.Server.TLS.CertFile)
		}
		if _, err := os.Stat(c.Server.TLS.KeyFile); os.IsNotExist(err) {
			return invalid("TLS key file does not exist: %s", c.Server.TLS.KeyFile)
		}
	}

	return nil
}

// RequireLLMCredential fails when the configured model provider needs an API key and none is set.
func (c *Config) RequireLLMCredential() error {
	if c.Services.LLM.Provider == "ollama" {
		return nil
	}
	if strings.TrimSpace(c.Services.LLM.APIKey) == "" {
		name := "GROQ_API_KEY"
		if c.Services.LLM.Provider == "openai" {
			name = EnvPrefix + "SERVICES__LLM__API_KEY"
		}
		return apperrors.ErrMissingCredential.WithMessage(name + " environment variable not set")
	}
	return nil
}

// EnsureDirectories creates the directories the application writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Data.PoliciesDir, filepath.Dir(c.Logging.QueryLog)}
	if c.Index.Backend == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// GetTLSConfig returns a TLS configuration based on the config
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.Server.TLS.Enabled {
		return nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12, // Set default minimum version
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}

	// Set minimum TLS version
	switch c.Server.TLS.MinTLS {
	case "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
	default:
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig
}

// GetDatabaseDSN returns the sqlite connection string
func (c *Config) GetDatabaseDSN() string {
	return c.Database.Path + "?_busy_timeout=5000&_journal_mode=WAL"
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
