package config

import (
	"fmt"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 0. Check for nil config (defensive programming)
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider validation
	validProviders := []string{ProviderGemini, ProviderOllama, ProviderOpenAI}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q, must be one of: gemini, ollama, openai", ErrInvalidProvider, c.Provider)
	}

	// API keys are required for hosted providers. Checked here so the
	// process fails at startup instead of on the first embed call.
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
		}
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 3. Index storage validation
	switch c.Storage {
	case StorageLocal:
		if c.IndexDir == "" {
			return fmt.Errorf("%w: index_dir cannot be empty for local storage", ErrInvalidIndexDir)
		}
	case StoragePostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
		}
		if c.PostgresDBName == "" {
			return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
		}
	default:
		return fmt.Errorf("%w: %q, must be %q or %q", ErrInvalidStorage, c.Storage, StorageLocal, StoragePostgres)
	}

	// 4. Ingestion validation
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d (chunk_size %d)",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	// 5. OCR validation
	if c.OCRMinTextChars < 0 {
		return fmt.Errorf("%w: ocr_min_text_chars must be non-negative, got %d", ErrInvalidOCR, c.OCRMinTextChars)
	}
	if c.OCRScale < 1.0 || c.OCRScale > 4.0 {
		return fmt.Errorf("%w: ocr_scale must be between 1.0 and 4.0, got %.1f", ErrInvalidOCR, c.OCRScale)
	}
	if len(c.OCRLanguages) == 0 {
		return fmt.Errorf("%w: at least one OCR language is required", ErrInvalidOCR)
	}

	// 6. Retrieval validation
	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.TopK)
	}

	if c.EmbedRateLimit < 0 {
		return fmt.Errorf("%w: must be non-negative, got %d", ErrInvalidEmbedRateLimit, c.EmbedRateLimit)
	}

	return nil
}
