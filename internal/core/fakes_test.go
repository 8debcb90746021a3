package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/campuslabs/socratic-tutor/internal/config"
	"github.com/campuslabs/socratic-tutor/internal/llm"
	"github.com/campuslabs/socratic-tutor/internal/store"
)

var errBoom = errors.New("boom")

type fakeEmbedder struct {
	mu       sync.Mutex
	err      error
	calls    int
	purposes []llm.Purpose
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, purpose llm.Purpose) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.purposes = append(f.purposes, purpose)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

// fakeGenerator answers prompts through respond and records what it was asked.
type fakeGenerator struct {
	mu      sync.Mutex
	respond func(prompt string, opts llm.GenerateOptions) (string, error)
	prompts []string
	opts    []llm.GenerateOptions
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return "", errBoom
	}
	return respond(prompt, opts)
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeKnowledgeStore serves canned search results.
type fakeKnowledgeStore struct {
	mu          sync.Mutex
	semantic    []store.ScoredChunk
	keyword     []store.Chunk
	semanticErr error
	search      func(subjectID string, patterns []string) ([]store.Chunk, error)
	blockSearch bool

	thresholds []float64
	limits     []int
	patterns   [][]string
}

func (f *fakeKnowledgeStore) InsertChunks(context.Context, []store.Chunk) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeKnowledgeStore) SimilaritySearch(_ context.Context, _ []float32, _ string, threshold float64, limit int) ([]store.ScoredChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thresholds = append(f.thresholds, threshold)
	f.limits = append(f.limits, limit)
	return f.semantic, f.semanticErr
}

func (f *fakeKnowledgeStore) SearchContent(ctx context.Context, subjectID string, patterns []string, limit int) ([]store.Chunk, error) {
	f.mu.Lock()
	f.patterns = append(f.patterns, patterns)
	f.limits = append(f.limits, limit)
	search, block := f.search, f.blockSearch
	f.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, errors.New("search was never cancelled")
		}
	}
	if search != nil {
		return search(subjectID, patterns)
	}
	return f.keyword, nil
}

func (f *fakeKnowledgeStore) DeleteDocument(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (f *fakeKnowledgeStore) ReplaceDocument(context.Context, string, string, []store.Chunk) (int64, error) {
	return 0, nil
}

func (f *fakeKnowledgeStore) ListDocuments(context.Context, string) ([]store.DocumentSummary, error) {
	return nil, nil
}

func chunk(id, subjectID, content string) store.Chunk {
	return store.Chunk{ID: id, SubjectID: subjectID, SourceDocument: subjectID + ".md", Content: content}
}

func scored(id, subjectID string, similarity float64) store.ScoredChunk {
	return store.ScoredChunk{Chunk: chunk(id, subjectID, "content of "+id), Similarity: similarity}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.StoreTimeout = time.Second
	return cfg
}
