package core

import (
	"context"
	"testing"

	"github.com/campuslabs/socratic-tutor/internal/llm"
	"github.com/campuslabs/socratic-tutor/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func newTestRetriever(t *testing.T, embedder llm.Embedder, ks store.KnowledgeStore) *HybridRetriever {
	cfg := testConfig()
	return NewHybridRetriever(embedder, ks, cfg.RAG, cfg.StoreTimeout, zaptest.NewLogger(t))
}

func TestMergeResults(t *testing.T) {
	semantic := []store.ScoredChunk{
		scored("a", "bio", 0.9),
		scored("b", "bio", 0.2),
		scored("x", "chem", 0.99),
		scored("a", "bio", 0.5),
	}
	keyword := []store.Chunk{
		chunk("b", "bio", "also a keyword hit"),
		chunk("c", "bio", "keyword only"),
		chunk("y", "chem", "other subject"),
	}

	got := mergeResults(semantic, keyword, "bio", 10, 0.7, 0.3)
	require.Len(t, got, 3)

	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	assert.Equal(t, []string{"a", "c", "b"}, ids)

	assert.InDelta(t, 0.63, got[0].CombinedScore, 1e-9)
	assert.False(t, got[0].KeywordHit)
	assert.InDelta(t, 0.3, got[1].CombinedScore, 1e-9)
	assert.True(t, got[1].KeywordHit)

	// found by both: semantic score kept, not summed
	assert.InDelta(t, 0.14, got[2].CombinedScore, 1e-9)
	assert.True(t, got[2].KeywordHit)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].CombinedScore, got[i].CombinedScore)
	}
	for _, r := range got {
		assert.Equal(t, "bio", r.SubjectID)
	}
}

func TestMergeResultsTruncates(t *testing.T) {
	semantic := []store.ScoredChunk{scored("a", "bio", 0.1), scored("b", "bio", 0.9), scored("c", "bio", 0.5)}

	got := mergeResults(semantic, nil, "bio", 2, 0.7, 0.3)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestKeywordPatterns(t *testing.T) {
	assert.Equal(t, []string{"%what%", "%mitochondria%"}, keywordPatterns("What is a mitochondria?"))
	assert.Equal(t, []string{"%dna%"}, keywordPatterns("DNA? dna!"))
	assert.Equal(t, []string{"%is it%"}, keywordPatterns(" is it "))
	assert.Equal(t, []string{"%100%"}, keywordPatterns("100%"))
	assert.Equal(t, []string{`%under\_score%`}, keywordPatterns("under_score"))
}

func TestHybridRetriever_Retrieve(t *testing.T) {
	ks := &fakeKnowledgeStore{
		semantic: []store.ScoredChunk{scored("a", "bio", 0.9), scored("leak", "chem", 0.95)},
		keyword:  []store.Chunk{chunk("k", "bio", "keyword")},
	}
	embedder := &fakeEmbedder{}
	r := newTestRetriever(t, embedder, ks)

	got, err := r.Retrieve(context.Background(), "what are cells", "bio", 5, 0.1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "k", got[1].ID)

	assert.Equal(t, []llm.Purpose{llm.PurposeQuery}, embedder.purposes)
	assert.Equal(t, []float64{0.1}, ks.thresholds)
	assert.ElementsMatch(t, []int{10, 10}, ks.limits, "both searches fetch twice top_k")
}

func TestHybridRetriever_EmptySubject(t *testing.T) {
	ks := &fakeKnowledgeStore{semantic: []store.ScoredChunk{scored("a", "", 0.9)}}
	embedder := &fakeEmbedder{}
	r := newTestRetriever(t, embedder, ks)

	got, err := r.Retrieve(context.Background(), "cells", "  ", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, embedder.calls)
}

func TestHybridRetriever_Validation(t *testing.T) {
	r := newTestRetriever(t, &fakeEmbedder{}, &fakeKnowledgeStore{})

	_, err := r.Retrieve(context.Background(), " ", "bio", 5, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.Retrieve(context.Background(), "cells", "bio", 0, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHybridRetriever_EmbeddingFailureFailsClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	ks := &fakeKnowledgeStore{blockSearch: true}
	r := newTestRetriever(t, &fakeEmbedder{err: errBoom}, ks)

	got, err := r.Retrieve(context.Background(), "cells", "bio", 5, 0)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, IsRetryable(err))
}

func TestHybridRetriever_StoreFailure(t *testing.T) {
	ks := &fakeKnowledgeStore{semanticErr: errBoom}
	r := newTestRetriever(t, &fakeEmbedder{}, ks)

	_, err := r.Retrieve(context.Background(), "cells", "bio", 5, 0)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestHybridRetriever_CancelledRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestRetriever(t, &fakeEmbedder{err: context.Canceled}, &fakeKnowledgeStore{blockSearch: true})

	_, err := r.Retrieve(ctx, "cells", "bio", 5, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
