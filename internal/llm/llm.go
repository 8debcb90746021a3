package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Purpose tells the embedding model whether the text is stored material or a search query.
type Purpose int

const (
	PurposeDocument Purpose = iota
	PurposeQuery
)

func (p Purpose) String() string {
	if p == PurposeQuery {
		return "query"
	}
	return "document"
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error)
}

// GenerateOptions controls a single generation call.
type GenerateOptions struct {
	Temperature     float32
	MaxOutputTokens int32
	// JSON asks the provider for a JSON payload when it supports a response MIME type.
	JSON bool
}

// Generator produces text from a single instruction prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Provider is implemented by clients that can both embed and generate.
type Provider interface {
	Embedder
	Generator
	Close() error
}

// EmbedBatch embeds texts one at a time, sleeping between batches of batchSize
// to stay under provider rate limits. The first failure aborts the batch.
func EmbedBatch(ctx context.Context, e Embedder, texts []string, purpose Purpose, batchSize int, pause time.Duration) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))

		for i := start; i < end; i++ {
			vec, err := e.Embed(ctx, texts[i], purpose)
			if err != nil {
				return nil, fmt.Errorf("embedding text %d: %w", i, err)
			}
			embeddings = append(embeddings, vec)
		}

		if end < len(texts) && pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return embeddings, nil
}

// StripJSONFences removes a surrounding ```json ... ``` block from model output.
func StripJSONFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
	}
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, "```") {
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}

// DecodeJSON strips code fences from raw model output and unmarshals it into v.
func DecodeJSON(raw string, v any) error {
	cleaned := StripJSONFences(raw)
	if cleaned == "" {
		return fmt.Errorf("empty model output")
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("failed to parse model output as JSON: %w", err)
	}
	return nil
}

// wrapCallErr keeps a deadline or cancellation visible in the chain even when the
// SDK hides it behind its own error type.
func wrapCallErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w: %w", op, ctxErr, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
