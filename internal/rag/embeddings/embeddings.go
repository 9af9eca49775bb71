package embeddings

import (
	"context"
	"fmt"

	"github.com/yann6182/Projet-chat-back/internal/config"
)

// Model is the interface every embedding provider must implement.
type Model interface {
	// Embed generates one vector per input text. All vectors returned by
	// a provider share the same dimension.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NewModel is a factory returning the embedding client selected by the
// configuration.
func NewModel(cfg config.EmbeddingConfig) (Model, error) {
	switch cfg.Provider {
	case "openai", "mistral", "":
		// Mistral and other OpenAI-compatible endpoints go through the
		// same client, pointed at their base URL.
		return NewOpenAIModel(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "ollama":
		return NewOllamaModel(cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
