package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/campuslabs/socratic-tutor/internal/core"
	"github.com/campuslabs/socratic-tutor/internal/ingest"
	"github.com/campuslabs/socratic-tutor/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultMasteryScore = 0.5

type APIHandler struct {
	tutor    *core.TutorService
	quizzes  *core.QuizService
	ingestor *ingest.Ingestor
	logger   *zap.Logger
}

func NewAPIHandler(tutor *core.TutorService, quizzes *core.QuizService, ingestor *ingest.Ingestor, logger *zap.Logger) *APIHandler {
	return &APIHandler{tutor: tutor, quizzes: quizzes, ingestor: ingestor, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps the core error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, ingest.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrQuizNotPublished):
		return http.StatusConflict
	case errors.Is(err, core.ErrNoGroundingContext):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrMalformedGenerationOutput):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns the text safe to show a caller. Upstream failure
// details stay in the logs.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, ingest.ErrEmptyDocument):
		return err.Error()
	case errors.Is(err, core.ErrNotFound):
		return "Not found"
	case errors.Is(err, core.ErrQuizNotPublished):
		return core.ErrQuizNotPublished.Error()
	case errors.Is(err, core.ErrNoGroundingContext):
		return core.ErrNoGroundingContext.Error()
	case errors.Is(err, core.ErrMalformedGenerationOutput):
		return "The generated content could not be understood. Please try again."
	default:
		return "Service temporarily unavailable"
	}
}

func (h *APIHandler) fail(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
	} else {
		h.logger.Debug(msg, append(fields, zap.Error(err))...)
	}
	writeJSON(w, status, map[string]string{"error": errorMessage(err)})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Chat

type QueryRequest struct {
	Query               string      `json:"query"`
	SubjectID           string      `json:"subject_id"`
	StudentID           string      `json:"student_id"`
	ConversationHistory []core.Turn `json:"conversation_history"`
	MasteryScore        *float64    `json:"mastery_score,omitempty"`
}

func (h *APIHandler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mastery := defaultMasteryScore
	if req.MasteryScore != nil {
		mastery = *req.MasteryScore
	}

	resp, err := h.tutor.Ask(r.Context(), core.AskRequest{
		Query:        req.Query,
		SubjectID:    req.SubjectID,
		History:      req.ConversationHistory,
		MasteryScore: mastery,
		StudentID:    req.StudentID,
	})
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("Tutoring request failed",
			zap.String("subject_id", req.SubjectID),
			zap.String("student_id", req.StudentID),
			zap.Error(err))
		writeJSON(w, statusFor(err), map[string]any{
			"error":    errorMessage(err),
			"response": core.GenerationApology,
			"sources":  []core.Source{},
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type RetrieveRequest struct {
	Query     string `json:"query"`
	SubjectID string `json:"subject_id"`
}

func (h *APIHandler) RetrieveHandler(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	results, err := h.tutor.Retrieve(r.Context(), req.Query, req.SubjectID)
	if err != nil {
		h.fail(w, "Retrieval failed", err, zap.String("subject_id", req.SubjectID))
		return
	}
	if results == nil {
		results = []core.RankedResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// Quiz

type CreateQuizRequest struct {
	Topic         string `json:"topic"`
	SubjectID     string `json:"subject_id"`
	FacultyID     string `json:"faculty_id"`
	Title         string `json:"title"`
	QuestionCount int    `json:"question_count"`
}

func (h *APIHandler) CreateQuizHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateQuizRequest
	if !decodeBody(w, r, &req) {
		return
	}
	quiz, err := h.quizzes.CreateQuiz(r.Context(), core.CreateQuizRequest(req))
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Quiz creation failed", zap.String("topic", req.Topic), zap.Error(err))
		}
		writeJSON(w, status, map[string]any{"error": errorMessage(err), "questions": []store.Question{}})
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

type QuizIDRequest struct {
	QuizID string `json:"quiz_id"`
}

func (h *APIHandler) PublishQuizHandler(w http.ResponseWriter, r *http.Request) {
	var req QuizIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.quizzes.PublishQuiz(r.Context(), req.QuizID); err != nil {
		h.fail(w, "Publishing quiz failed", err, zap.String("quiz_id", req.QuizID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quiz_id": req.QuizID, "is_published": true})
}

func (h *APIHandler) ListQuizzesHandler(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	publishedOnly := true
	if v := r.URL.Query().Get("published_only"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "published_only must be a boolean"})
			return
		}
		publishedOnly = parsed
	}

	quizzes, err := h.quizzes.ListQuizzes(r.Context(), subjectID, publishedOnly)
	if err != nil {
		h.fail(w, "Listing quizzes failed", err, zap.String("subject_id", subjectID))
		return
	}
	if quizzes == nil {
		quizzes = []store.Quiz{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": quizzes, "count": len(quizzes)})
}

type SubmitAttemptRequest struct {
	QuizID    string                   `json:"quiz_id"`
	StudentID string                   `json:"student_id"`
	Answers   []store.AnswerSubmission `json:"answers"`
}

func (h *APIHandler) SubmitAttemptHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitAttemptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.quizzes.SubmitAttempt(r.Context(), req.QuizID, req.StudentID, req.Answers)
	if err != nil {
		h.fail(w, "Submitting attempt failed", err, zap.String("quiz_id", req.QuizID), zap.String("student_id", req.StudentID))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *APIHandler) AttemptHistoryHandler(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	attempts, err := h.quizzes.AttemptHistory(r.Context(), studentID, r.URL.Query().Get("subject_id"))
	if err != nil {
		h.fail(w, "Listing attempt history failed", err, zap.String("student_id", studentID))
		return
	}
	if attempts == nil {
		attempts = []store.QuizAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts, "count": len(attempts)})
}

func (h *APIHandler) QuizResultsHandler(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	quiz, err := h.quizzes.GetQuiz(r.Context(), quizID)
	if err != nil {
		h.fail(w, "Loading quiz failed", err, zap.String("quiz_id", quizID))
		return
	}
	attempts, err := h.quizzes.QuizResults(r.Context(), quizID)
	if err != nil {
		h.fail(w, "Listing quiz results failed", err, zap.String("quiz_id", quizID))
		return
	}
	if attempts == nil {
		attempts = []store.QuizAttempt{}
	}

	avg := 0.0
	for _, a := range attempts {
		avg += float64(a.Score)
	}
	if len(attempts) > 0 {
		avg /= float64(len(attempts))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quiz":          quiz,
		"attempts":      attempts,
		"count":         len(attempts),
		"average_score": avg,
	})
}

type EvaluateRequest struct {
	Question      string `json:"question"`
	CorrectAnswer string `json:"correct_answer"`
	StudentAnswer string `json:"student_answer"`
}

func (h *APIHandler) EvaluateAnswerHandler(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.CorrectAnswer) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question and correct_answer are required"})
		return
	}
	writeJSON(w, http.StatusOK, h.quizzes.EvaluateAnswer(r.Context(), req.Question, req.CorrectAnswer, req.StudentAnswer))
}

type TopicsRequest struct {
	Conversation string `json:"conversation"`
}

func (h *APIHandler) ExtractTopicsHandler(w http.ResponseWriter, r *http.Request) {
	var req TopicsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": h.quizzes.ExtractTopics(r.Context(), req.Conversation)})
}

// Documents

type UploadDocumentRequest struct {
	SourceDocument string         `json:"source_document"`
	Text           string         `json:"text"`
	Metadata       store.Metadata `json:"metadata,omitempty"`
}

func (h *APIHandler) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	var req UploadDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SourceDocument) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source_document is required"})
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), ingest.Document{
		SubjectID:      subjectID,
		SourceDocument: req.SourceDocument,
		Text:           req.Text,
		Metadata:       req.Metadata,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyDocument) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("Document ingestion failed",
			zap.String("subject_id", subjectID),
			zap.String("source_document", req.SourceDocument),
			zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Failed to ingest document"})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *APIHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	docs, err := h.ingestor.ListDocuments(r.Context(), subjectID)
	if err != nil {
		h.logger.Error("Listing documents failed", zap.String("subject_id", subjectID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Failed to list documents"})
		return
	}
	if docs == nil {
		docs = []store.DocumentSummary{}
	}

	total := 0
	for _, d := range docs {
		total += d.ChunkCount
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject_id":      subjectID,
		"documents":       docs,
		"total_documents": len(docs),
		"total_chunks":    total,
	})
}

func (h *APIHandler) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	source := chi.URLParam(r, "source")

	deleted, err := h.ingestor.DeleteDocument(r.Context(), source, subjectID)
	if err != nil {
		h.logger.Error("Deleting document failed",
			zap.String("subject_id", subjectID),
			zap.String("source_document", source),
			zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Failed to delete document"})
		return
	}
	if deleted == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Document not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_document": source, "chunks_deleted": deleted})
}
