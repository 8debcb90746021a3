package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	defaultGeminiChatModel      = "gemini-2.0-flash"
	defaultGeminiEmbeddingModel = "text-embedding-004"
)

type GeminiConfig struct {
	APIKey          string
	ChatModel       string
	EmbeddingModel  string
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
}

type GeminiClient struct {
	client          *genai.Client
	chatModel       string
	embeddingModel  string
	embedTimeout    time.Duration
	generateTimeout time.Duration
	logger          *zap.Logger
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	c := &GeminiClient{
		client:          client,
		chatModel:       cfg.ChatModel,
		embeddingModel:  cfg.EmbeddingModel,
		embedTimeout:    cfg.EmbedTimeout,
		generateTimeout: cfg.GenerateTimeout,
		logger:          logger,
	}
	if c.chatModel == "" {
		c.chatModel = defaultGeminiChatModel
	}
	if c.embeddingModel == "" {
		c.embeddingModel = defaultGeminiEmbeddingModel
	}
	return c, nil
}

func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("closing GenAI client: %w", err)
	}
	c.logger.Debug("GenAI client closed")
	return nil
}

func (c *GeminiClient) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, c.embedTimeout)
	defer cancel()

	em := c.client.EmbeddingModel(c.embeddingModel)
	em.TaskType = genai.TaskTypeRetrievalDocument
	if purpose == PurposeQuery {
		em.TaskType = genai.TaskTypeRetrievalQuery
	}

	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, wrapCallErr(ctx, "gemini embedding request failed", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	ctx, cancel := withTimeout(ctx, c.generateTimeout)
	defer cancel()

	model := c.client.GenerativeModel(c.chatModel)
	model.SetTemperature(opts.Temperature)
	if opts.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(opts.MaxOutputTokens)
	}
	if opts.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", wrapCallErr(ctx, "gemini generate request failed", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			c.logger.Debug("Skipping non-text gemini response part", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("gemini returned an empty text response")
	}
	return text.String(), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
