// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.modulo/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, generation model, embedder model, temperature, max tokens
//   - Index: storage backend (local chromem directory or PostgreSQL+pgvector)
//   - Ingestion: chunk size/overlap, OCR languages, trigger threshold and scale
//   - Retrieval: top-k
//   - Observability: optional OTLP trace export
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidStorage indicates the index storage backend is not supported.
	ErrInvalidStorage = errors.New("invalid storage backend")

	// ErrInvalidIndexDir indicates the local index directory is invalid.
	ErrInvalidIndexDir = errors.New("invalid index directory")

	// ErrInvalidChunking indicates chunk size/overlap values are out of range.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidEmbedRateLimit indicates the embedding rate limit is negative.
	ErrInvalidEmbedRateLimit = errors.New("invalid embed rate limit")

	// ErrInvalidOCR indicates OCR settings are out of range.
	ErrInvalidOCR = errors.New("invalid OCR configuration")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Index storage backend identifiers used in Config.Storage.
const (
	// StorageLocal persists the vector index in an on-disk chromem database
	// under IndexDir. This is the default; no external services required.
	StorageLocal = "local"

	// StoragePostgres persists the vector index in PostgreSQL with pgvector.
	StoragePostgres = "postgres"
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultChunkSize is the target chunk size in characters.
	// Inherited from the original ingestion pipeline; not tuned.
	DefaultChunkSize = 2000

	// DefaultChunkOverlap is the overlap between adjacent chunks in characters.
	DefaultChunkOverlap = 400

	// DefaultTopK is the number of passages retrieved per query.
	// Preserved as a configuration default, not assumed optimal.
	DefaultTopK = 8

	// DefaultOCRMinTextChars is the native-extraction character threshold
	// below which a PDF is treated as image-based and sent through OCR.
	DefaultOCRMinTextChars = 100

	// DefaultOCRScale is the page rasterization upscale factor for OCR.
	DefaultOCRScale = 2.0
)

// OTLPConfig holds optional trace export configuration.
// Tracing is disabled when Endpoint is empty.
type OTLPConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`     // "gemini" (default), "ollama", "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "llama3.3", "gpt-4o"
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedding configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	// EmbedRateLimit caps embedding provider calls per second. 0 disables.
	EmbedRateLimit int `mapstructure:"embed_rate_limit" json:"embed_rate_limit"`

	// Index storage configuration
	Storage  string `mapstructure:"storage" json:"storage"`     // "local" (default) or "postgres"
	IndexDir string `mapstructure:"index_dir" json:"index_dir"` // local backend only

	// PostgreSQL configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Ingestion configuration
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// OCR configuration
	OCRLanguages    []string `mapstructure:"ocr_languages" json:"ocr_languages"`
	OCRMinTextChars int      `mapstructure:"ocr_min_text_chars" json:"ocr_min_text_chars"`
	OCRScale        float64  `mapstructure:"ocr_scale" json:"ocr_scale"`

	// Retrieval configuration
	TopK int `mapstructure:"top_k" json:"top_k"`

	// Observability configuration
	OTLP OTLPConfig `mapstructure:"otlp" json:"otlp"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.modulo/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".modulo")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults(configDir)
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Embedding defaults
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("embed_rate_limit", 0)

	// Index storage defaults
	viper.SetDefault("storage", StorageLocal)
	viper.SetDefault("index_dir", filepath.Join(configDir, "index"))

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "modulo")
	viper.SetDefault("postgres_password", "modulo_dev_password")
	viper.SetDefault("postgres_db_name", "modulo")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Ingestion defaults
	viper.SetDefault("chunk_size", DefaultChunkSize)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)

	// OCR defaults. Languages follow the original deployment (Spanish-first
	// study material with English fallback).
	viper.SetDefault("ocr_languages", []string{"spa", "eng"})
	viper.SetDefault("ocr_min_text_chars", DefaultOCRMinTextChars)
	viper.SetDefault("ocr_scale", DefaultOCRScale)

	// Retrieval defaults
	viper.SetDefault("top_k", DefaultTopK)

	// OTLP defaults (disabled unless endpoint is set)
	viper.SetDefault("otlp.endpoint", "")
	viper.SetDefault("otlp.service_name", "modulo-rag")
	viper.SetDefault("otlp.environment", "dev")
}

// bindEnvVariables binds sensitive environment variables explicitly.
// Only secrets come from the environment; everything else has a
// config-file key with a default.
func bindEnvVariables() {
	// Errors only occur for empty keys; keys here are non-empty constants.
	_ = viper.BindEnv("postgres_password", "MODULO_POSTGRES_PASSWORD")
	_ = viper.BindEnv("postgres_host", "MODULO_POSTGRES_HOST")
	_ = viper.BindEnv("storage", "MODULO_STORAGE")
	_ = viper.BindEnv("index_dir", "MODULO_INDEX_DIR")
}
