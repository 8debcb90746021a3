package core

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/campuslabs/socratic-tutor/internal/config"
	"github.com/campuslabs/socratic-tutor/internal/llm"
	"github.com/campuslabs/socratic-tutor/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minKeywordLen = 3

// RankedResult is a retrieval candidate with its merge-stage score.
type RankedResult struct {
	store.Chunk
	Similarity    float64 `json:"similarity"`
	KeywordHit    bool    `json:"keyword_hit"`
	CombinedScore float64 `json:"combined_score"`
}

// HybridRetriever combines semantic and keyword search into one ranked list.
type HybridRetriever struct {
	embedder       llm.Embedder
	store          store.KnowledgeStore
	semanticWeight float64
	keywordWeight  float64
	storeTimeout   time.Duration
	logger         *zap.Logger
}

func NewHybridRetriever(embedder llm.Embedder, ks store.KnowledgeStore, rag config.RAGSettings, storeTimeout time.Duration, logger *zap.Logger) *HybridRetriever {
	return &HybridRetriever{
		embedder:       embedder,
		store:          ks,
		semanticWeight: rag.SemanticWeight,
		keywordWeight:  rag.KeywordWeight,
		storeTimeout:   storeTimeout,
		logger:         logger,
	}
}

// Retrieve returns at most topK chunks of the subject ranked by combined score.
// relevanceThreshold is the similarity floor passed to the semantic search.
// An embedding failure fails the whole call; there is no keyword-only fallback.
func (r *HybridRetriever) Retrieve(ctx context.Context, query, subjectID string, topK int, relevanceThreshold float64) ([]RankedResult, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, validationErr("query must not be empty")
	}
	if topK <= 0 {
		return nil, validationErr("top_k must be positive, got %d", topK)
	}
	fetch := 2 * topK

	var (
		semantic []store.ScoredChunk
		keyword  []store.Chunk
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := r.embedder.Embed(gctx, query, llm.PurposeQuery)
		if err != nil {
			return upstreamErr("embedding query", err)
		}
		sctx, cancel := withTimeout(gctx, r.storeTimeout)
		defer cancel()
		semantic, err = r.store.SimilaritySearch(sctx, vec, subjectID, relevanceThreshold, fetch)
		if err != nil {
			return upstreamErr("semantic search", err)
		}
		return nil
	})
	g.Go(func() error {
		sctx, cancel := withTimeout(gctx, r.storeTimeout)
		defer cancel()
		var err error
		keyword, err = r.store.SearchContent(sctx, subjectID, keywordPatterns(query), fetch)
		if err != nil {
			return upstreamErr("keyword search", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := mergeResults(semantic, keyword, subjectID, topK, r.semanticWeight, r.keywordWeight)
	r.logger.Debug("Hybrid retrieval complete",
		zap.String("subject_id", subjectID),
		zap.Int("semantic", len(semantic)),
		zap.Int("keyword", len(keyword)),
		zap.Int("returned", len(results)))
	return results, nil
}

// mergeResults ranks semantic hits by similarity*semanticWeight and adds
// keyword-only hits at the flat keywordWeight. A chunk found by both keeps its
// semantic score. Chunks of other subjects are dropped.
func mergeResults(semantic []store.ScoredChunk, keyword []store.Chunk, subjectID string, topK int, semanticWeight, keywordWeight float64) []RankedResult {
	seen := make(map[string]int, len(semantic)+len(keyword))
	merged := make([]RankedResult, 0, len(semantic)+len(keyword))

	for _, sc := range semantic {
		if sc.ID == "" || sc.SubjectID != subjectID {
			continue
		}
		if _, ok := seen[sc.ID]; ok {
			continue
		}
		seen[sc.ID] = len(merged)
		merged = append(merged, RankedResult{
			Chunk:         sc.Chunk,
			Similarity:    sc.Similarity,
			CombinedScore: sc.Similarity * semanticWeight,
		})
	}

	for _, c := range keyword {
		if c.ID == "" || c.SubjectID != subjectID {
			continue
		}
		if i, ok := seen[c.ID]; ok {
			merged[i].KeywordHit = true
			continue
		}
		seen[c.ID] = len(merged)
		merged = append(merged, RankedResult{
			Chunk:         c,
			KeywordHit:    true,
			CombinedScore: keywordWeight,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CombinedScore > merged[j].CombinedScore
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

// keywordPatterns turns a query into one contains-pattern per token. Short
// tokens are ignored unless nothing else is left.
func keywordPatterns(query string) []string {
	var patterns []string
	seen := make(map[string]bool)
	for _, field := range strings.Fields(query) {
		tok := strings.ToLower(strings.TrimFunc(field, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}))
		if len([]rune(tok)) < minKeywordLen || seen[tok] {
			continue
		}
		seen[tok] = true
		patterns = append(patterns, store.ContainsPattern(tok))
	}
	if len(patterns) == 0 {
		patterns = append(patterns, store.ContainsPattern(strings.TrimSpace(query)))
	}
	return patterns
}
