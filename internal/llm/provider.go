package llm

import (
	"context"
	"fmt"

	"github.com/campuslabs/socratic-tutor/internal/config"
	"go.uber.org/zap"
)

// NewProvider builds the embedding/generation client selected by LLM_PROVIDER.
func NewProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Provider, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:          cfg.GeminiAPIKey,
			ChatModel:       cfg.ChatModel,
			EmbeddingModel:  cfg.EmbeddingModel,
			EmbedTimeout:    cfg.EmbedTimeout,
			GenerateTimeout: cfg.GenerateTimeout,
		}, logger)
	case config.ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:          cfg.OpenAIAPIKey,
			ChatModel:       cfg.ChatModel,
			EmbeddingModel:  cfg.EmbeddingModel,
			Dimensions:      cfg.EmbeddingDimension,
			EmbedTimeout:    cfg.EmbedTimeout,
			GenerateTimeout: cfg.GenerateTimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
