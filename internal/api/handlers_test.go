package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/campuslabs/socratic-tutor/internal/config"
	"github.com/campuslabs/socratic-tutor/internal/core"
	"github.com/campuslabs/socratic-tutor/internal/ingest"
	"github.com/campuslabs/socratic-tutor/internal/llm"
	"github.com/campuslabs/socratic-tutor/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testQuizJSON = `{"questions": [
	{"type": "mcq", "question": "Where is ATP made?", "options": ["A) Nucleus", "B) Mitochondria"], "correct_answer": "B", "explanation": "Respiration."},
	{"type": "true_false", "question": "Glycolysis needs oxygen.", "correct_answer": "False", "explanation": "Anaerobic."}
]}`

// fakeLLM embeds every text onto the same axis and answers prompts by kind.
type fakeLLM struct {
	embedErr error
}

func (f *fakeLLM) Embed(context.Context, string, llm.Purpose) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	switch {
	case strings.HasPrefix(prompt, "Classify this student query"):
		return "conceptual_understanding", nil
	case strings.HasPrefix(prompt, "Generate "):
		return testQuizJSON, nil
	case strings.HasPrefix(prompt, "A student answered"):
		return "", errors.New("feedback model offline")
	default:
		return "What do you think happens inside the mitochondria?", nil
	}
}

func newTestServer(t *testing.T, model *fakeLLM) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.StoreTimeout = time.Second
	cfg.RAG.EmbedBatchPause = 0

	ingestor := ingest.NewIngestor(db, &fakeLLM{}, cfg.RAG, logger)
	_, err = ingestor.Ingest(context.Background(), ingest.Document{
		SubjectID:      "bio",
		SourceDocument: "respiration.md",
		Text:           "Cellular respiration turns glucose into ATP inside the mitochondria.",
	})
	require.NoError(t, err)

	tutor := core.NewTutorService(model, model, db, cfg, logger)
	engine := core.NewQuizEngine(db, model, cfg.RAG, cfg.StoreTimeout, logger,
		core.WithRandomSource(func() float64 { return 0.99 }))
	quizzes := core.NewQuizService(engine, db, cfg.StoreTimeout, logger)

	return NewRouter(NewAPIHandler(tutor, quizzes, ingestor, logger))
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	rec, out := do(t, newTestServer(t, &fakeLLM{}), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestQueryHandler(t *testing.T) {
	h := newTestServer(t, &fakeLLM{})

	t.Run("answered from curriculum", func(t *testing.T) {
		rec, out := do(t, h, http.MethodPost, "/api/chat/query", map[string]any{
			"query":      "How do cells make ATP?",
			"subject_id": "bio",
			"student_id": "s-1",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "What do you think happens inside the mitochondria?", out["response"])
		assert.Equal(t, "conceptual_understanding", out["intent"])
		assert.Equal(t, "guided_discovery", out["strategy"])
		assert.InDelta(t, 0.5, out["mastery_considered"], 1e-9)
		sources := out["sources"].([]any)
		require.Len(t, sources, 1)
		assert.Equal(t, "respiration.md", sources[0].(map[string]any)["source_document"])
	})

	t.Run("other subject is refused", func(t *testing.T) {
		rec, out := do(t, h, http.MethodPost, "/api/chat/query", map[string]any{
			"query": "How do cells make ATP?", "subject_id": "history", "mastery_score": 0.9,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, core.MessageOutsideCurriculum, out["response"])
		assert.Equal(t, "out_of_scope", out["intent"])
		assert.Equal(t, "boundary_enforcement", out["strategy"])
		assert.Equal(t, "low", out["confidence"])
		assert.Equal(t, true, out["flag_for_review"])
		assert.Empty(t, out["sources"])
	})

	t.Run("validation", func(t *testing.T) {
		rec, _ := do(t, h, http.MethodPost, "/api/chat/query", map[string]any{"query": "ATP?"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, _ = do(t, h, http.MethodPost, "/api/chat/query", map[string]any{"query": "ATP?", "subject_id": "bio", "mastery_score": 2})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		req := httptest.NewRequest(http.MethodPost, "/api/chat/query", strings.NewReader("{not json"))
		raw := httptest.NewRecorder()
		h.ServeHTTP(raw, req)
		assert.Equal(t, http.StatusBadRequest, raw.Code)
	})
}

func TestQueryHandlerUpstreamFailure(t *testing.T) {
	h := newTestServer(t, &fakeLLM{embedErr: errors.New("embedding quota exceeded")})

	rec, out := do(t, h, http.MethodPost, "/api/chat/query", map[string]any{"query": "ATP?", "subject_id": "bio"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, core.GenerationApology, out["response"])
	assert.NotContains(t, rec.Body.String(), "quota")
}

func TestRetrieveHandler(t *testing.T) {
	h := newTestServer(t, &fakeLLM{})

	rec, out := do(t, h, http.MethodPost, "/api/chat/retrieve", map[string]any{"query": "glucose", "subject_id": "bio"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["count"])
	result := out["results"].([]any)[0].(map[string]any)
	assert.InDelta(t, 0.7, result["combined_score"], 1e-6)
	assert.Equal(t, true, result["keyword_hit"])
}

func TestQuizFlow(t *testing.T) {
	h := newTestServer(t, &fakeLLM{})

	rec, quiz := do(t, h, http.MethodPost, "/api/quiz/create", map[string]any{
		"topic": "cellular respiration", "subject_id": "bio", "faculty_id": "prof-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	quizID := quiz["id"].(string)
	assert.Equal(t, "Quiz: cellular respiration", quiz["title"])
	assert.Equal(t, false, quiz["is_published"])
	assert.Len(t, quiz["questions"], 2)

	answers := []map[string]any{
		{"question_index": 0, "selected_option": "B"},
		{"question_index": 1, "selected_option": "True"},
	}
	rec, _ = do(t, h, http.MethodPost, "/api/quiz/attempt", map[string]any{"quiz_id": quizID, "student_id": "s-1", "answers": answers})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/quiz/list/bio", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/quiz/publish", map[string]any{"quiz_id": quizID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, listed := do(t, h, http.MethodGet, "/api/quiz/list/bio?published_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, listed["count"])

	rec, result := do(t, h, http.MethodPost, "/api/quiz/attempt", map[string]any{"quiz_id": quizID, "student_id": "s-1", "answers": answers})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 50, result["score"])
	assert.Equal(t, "D", result["grade"])
	assert.Equal(t, "Keep practicing!", result["message"])

	rec, history := do(t, h, http.MethodGet, "/api/quiz/history/s-1?subject_id=bio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, history["count"])

	rec, results := do(t, h, http.MethodGet, "/api/quiz/results/"+quizID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, results["count"])
	assert.InDelta(t, 50, results["average_score"], 1e-9)

	rec, _ = do(t, h, http.MethodGet, "/api/quiz/results/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/quiz/publish", map[string]any{"quiz_id": "unknown"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateQuizWithoutCurriculum(t *testing.T) {
	h := newTestServer(t, &fakeLLM{})

	rec, out := do(t, h, http.MethodPost, "/api/quiz/create", map[string]any{
		"topic": "the french revolution", "subject_id": "history", "faculty_id": "prof-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, core.ErrNoGroundingContext.Error(), out["error"])
	assert.NotNil(t, out["questions"])
	assert.Empty(t, out["questions"])
}

func TestEvaluateAndTopics(t *testing.T) {
	h := newTestServer(t, &fakeLLM{})

	rec, out := do(t, h, http.MethodPost, "/api/quiz/evaluate", map[string]any{
		"question": "Where is ATP made?", "correct_answer": "Mitochondria", "student_answer": "mitochondria",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["correct"])
	assert.Equal(t, "Correct!", out["feedback"])

	rec, _ = do(t, h, http.MethodPost, "/api/quiz/evaluate", map[string]any{"student_answer": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = do(t, h, http.MethodPost, "/api/quiz/topics", map[string]any{"conversation": "Student: what is ATP?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, out["topics"])
}

func TestDocumentRoutes(t *testing.T) {
	h := newTestServer(t, &fakeLLM{})

	rec, out := do(t, h, http.MethodPost, "/api/documents/bio", map[string]any{
		"source_document": "dna.md",
		"text":            "DNA stores genetic information.\n\nGenes are stretches of DNA.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, out["chunks_created"])

	rec, _ = do(t, h, http.MethodPost, "/api/documents/bio", map[string]any{"source_document": "blank.md", "text": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = do(t, h, http.MethodGet, "/api/documents/bio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["total_documents"])

	rec, out = do(t, h, http.MethodDelete, "/api/documents/bio/dna.md", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["chunks_deleted"])

	rec, _ = do(t, h, http.MethodDelete, "/api/documents/bio/dna.md", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
