package core

import (
	"context"
	"strings"

	"github.com/campuslabs/socratic-tutor/internal/config"
	"github.com/campuslabs/socratic-tutor/internal/llm"
	"github.com/campuslabs/socratic-tutor/internal/store"
	"go.uber.org/zap"
)

// GenerationApology replaces the reply when the generation service fails.
const GenerationApology = "I encountered an issue processing your question. Please try rephrasing."

var tutorGeneration = llm.GenerateOptions{Temperature: 0.7, MaxOutputTokens: 2048}

type AskRequest struct {
	Query        string
	SubjectID    string
	History      []Turn
	MasteryScore float64
	StudentID    string
}

type TutorResponse struct {
	Response          string   `json:"response"`
	Sources           []Source `json:"sources"`
	Confidence        string   `json:"confidence"`
	Intent            Intent   `json:"intent"`
	Strategy          Strategy `json:"strategy"`
	MasteryConsidered float64  `json:"mastery_considered"`
	FlagForReview     bool     `json:"flag_for_review,omitempty"`
}

// TutorService runs the tutoring pipeline: retrieve, check the curriculum
// boundary, classify, select a strategy, compose and generate.
type TutorService struct {
	retriever  *HybridRetriever
	classifier *IntentClassifier
	composer   *ResponseComposer
	generator  llm.Generator
	rag        config.RAGSettings
	logger     *zap.Logger
}

func NewTutorService(embedder llm.Embedder, generator llm.Generator, ks store.KnowledgeStore, cfg *config.Config, logger *zap.Logger) *TutorService {
	return &TutorService{
		retriever:  NewHybridRetriever(embedder, ks, cfg.RAG, cfg.StoreTimeout, logger),
		classifier: NewIntentClassifier(generator, logger),
		composer:   NewResponseComposer(cfg.RAG.HistoryTurns, cfg.RAG.HighConfidenceScore),
		generator:  generator,
		rag:        cfg.RAG,
		logger:     logger,
	}
}

// Ask answers a student question from the subject's curriculum. Retrieval
// failures are returned as errors so no answer is produced; a generation
// failure yields GenerationApology with intent and strategy still set.
func (s *TutorService) Ask(ctx context.Context, req AskRequest) (*TutorResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, validationErr("query must not be empty")
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		return nil, validationErr("subject_id is required")
	}
	if req.MasteryScore < 0 || req.MasteryScore > 1 {
		return nil, validationErr("mastery_score must be between 0 and 1, got %v", req.MasteryScore)
	}

	results, err := s.retriever.Retrieve(ctx, req.Query, req.SubjectID, s.rag.TopK, s.rag.SemanticFloor)
	if err != nil {
		return nil, err
	}

	decision := CheckBoundary(results, req.SubjectID, s.rag.RelevanceThreshold)
	if !decision.Allowed {
		s.logger.Warn("Query outside curriculum boundary",
			zap.String("subject_id", req.SubjectID),
			zap.String("student_id", req.StudentID),
			zap.Int("candidates", len(results)),
			zap.Bool("flag_for_review", decision.FlagForReview))
		return &TutorResponse{
			Response:          decision.Message,
			Sources:           []Source{},
			Confidence:        ConfidenceLow,
			Intent:            IntentOutOfScope,
			Strategy:          StrategyBoundaryEnforcement,
			MasteryConsidered: req.MasteryScore,
			FlagForReview:     decision.FlagForReview,
		}, nil
	}

	intent := s.classifier.Classify(ctx, req.Query)
	strategy := SelectStrategy(intent, req.MasteryScore, s.rag.MasteryThreshold)
	prompt := s.composer.Compose(strategy, AssembleContext(decision.Candidates), req.History, req.Query)

	reply, err := s.generator.Generate(ctx, prompt, tutorGeneration)
	if err != nil {
		s.logger.Error("Socratic response generation failed",
			zap.String("subject_id", req.SubjectID),
			zap.String("intent", string(intent)),
			zap.String("strategy", string(strategy)),
			zap.Error(err))
		reply = GenerationApology
	}

	return &TutorResponse{
		Response:          reply,
		Sources:           BuildSources(decision.Candidates),
		Confidence:        s.composer.Confidence(decision.Candidates),
		Intent:            intent,
		Strategy:          strategy,
		MasteryConsidered: req.MasteryScore,
	}, nil
}

// Retrieve exposes the raw ranked results for a query.
func (s *TutorService) Retrieve(ctx context.Context, query, subjectID string) ([]RankedResult, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, validationErr("subject_id is required")
	}
	return s.retriever.Retrieve(ctx, query, subjectID, s.rag.TopK, s.rag.SemanticFloor)
}
