package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultOpenAIChatModel = "gpt-4o-mini"
	defaultOpenAIEmbedding = openai.SmallEmbedding3
)

type OpenAIConfig struct {
	APIKey          string
	ChatModel       string
	EmbeddingModel  string
	Dimensions      int
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
}

// OpenAIClient is the alternate provider. Embeddings are requested at the
// configured dimension so both providers can share one vector column.
type OpenAIClient struct {
	client          *openai.Client
	chatModel       string
	embeddingModel  openai.EmbeddingModel
	dimensions      int
	embedTimeout    time.Duration
	generateTimeout time.Duration
	logger          *zap.Logger
}

func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	c := &OpenAIClient{
		client:          openai.NewClient(cfg.APIKey),
		chatModel:       cfg.ChatModel,
		embeddingModel:  openai.EmbeddingModel(cfg.EmbeddingModel),
		dimensions:      cfg.Dimensions,
		embedTimeout:    cfg.EmbedTimeout,
		generateTimeout: cfg.GenerateTimeout,
		logger:          logger,
	}
	if c.chatModel == "" {
		c.chatModel = defaultOpenAIChatModel
	}
	if c.embeddingModel == "" {
		c.embeddingModel = defaultOpenAIEmbedding
	}
	return c, nil
}

func (c *OpenAIClient) Close() error { return nil }

// Embed ignores purpose: OpenAI embedding models are symmetric.
func (c *OpenAIClient) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, c.embedTimeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      []string{text},
		Model:      c.embeddingModel,
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, wrapCallErr(ctx, "openai embedding request failed", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding data received from openai")
	}
	return resp.Data[0].Embedding, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	ctx, cancel := withTimeout(ctx, c.generateTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: opts.Temperature,
		MaxTokens:   int(opts.MaxOutputTokens),
	}
	if opts.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrapCallErr(ctx, "openai chat completion failed", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned no completion choices")
	}
	c.logger.Debug("OpenAI completion",
		zap.String("model", c.chatModel),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}
