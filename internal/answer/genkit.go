package answer

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"

	"github.com/moduloapp/modulo-rag/internal/config"
)

// GenkitGenerator produces completions through a Genkit model. The model
// name must be provider-qualified (e.g. "googleai/gemini-2.5-flash").
type GenkitGenerator struct {
	g           *genkit.Genkit
	modelName   string
	temperature float32
	maxTokens   int
	gemini      bool
}

// NewGenkitGenerator builds a generator from the loaded configuration.
// Generation parameters are only passed through for the Gemini provider;
// the other plugins use their model defaults.
func NewGenkitGenerator(g *genkit.Genkit, cfg *config.Config) *GenkitGenerator {
	return &GenkitGenerator{
		g:           g,
		modelName:   qualifiedModelName(cfg.Provider, cfg.ModelName),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		gemini:      cfg.Provider == config.ProviderGemini,
	}
}

// Generate runs the prompt and returns the model's text response.
func (gg *GenkitGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(gg.modelName),
		ai.WithPrompt(prompt),
	}
	if gg.gemini {
		opts = append(opts, ai.WithConfig(&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(gg.temperature),
			MaxOutputTokens: int32(gg.maxTokens),
		}))
	}

	response, err := genkit.Generate(ctx, gg.g, opts...)
	if err != nil {
		return "", fmt.Errorf("model generation failed: %w", err)
	}
	return response.Text(), nil
}

// qualifiedModelName prefixes the bare model name with its Genkit plugin
// namespace.
func qualifiedModelName(provider, model string) string {
	switch provider {
	case config.ProviderGemini:
		return "googleai/" + model
	case config.ProviderOllama:
		return "ollama/" + model
	case config.ProviderOpenAI:
		return "openai/" + model
	default:
		return model
	}
}
