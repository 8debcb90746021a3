package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/campuslabs/socratic-tutor/internal/config"
	"github.com/campuslabs/socratic-tutor/internal/llm"
	"github.com/campuslabs/socratic-tutor/internal/store"
	"go.uber.org/zap"
)

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

const (
	bumpMasteryFloor   = 0.5
	bumpProbability    = 0.3
	maxTopicKeywords   = 3
	minTopicImportance = 0.5
)

var (
	quizGeneration     = llm.GenerateOptions{Temperature: 0.5, MaxOutputTokens: 3000, JSON: true}
	feedbackGeneration = llm.GenerateOptions{Temperature: 0.3, MaxOutputTokens: 1024, JSON: true}
	topicGeneration    = llm.GenerateOptions{Temperature: 0.3, MaxOutputTokens: 1024, JSON: true}
)

// CalculateDifficulty maps mastery to a difficulty level. Above 0.5 mastery a
// draw below 0.3 bumps the level up by one; draw is only called in that range.
func CalculateDifficulty(mastery float64, draw func() float64) Difficulty {
	var d Difficulty
	switch {
	case mastery < 0.3:
		d = DifficultyBeginner
	case mastery < 0.7:
		d = DifficultyIntermediate
	default:
		d = DifficultyAdvanced
	}

	if mastery > bumpMasteryFloor && draw() < bumpProbability {
		switch d {
		case DifficultyBeginner:
			d = DifficultyIntermediate
		case DifficultyIntermediate:
			d = DifficultyAdvanced
		}
	}
	return d
}

// contextTier is one strategy for finding quiz context. Tiers run in order
// until one returns rows.
type contextTier struct {
	name  string
	fetch func(ctx context.Context, topic, subjectID string) ([]store.Chunk, error)
}

type GeneratedQuiz struct {
	Topic      string           `json:"topic"`
	Difficulty Difficulty       `json:"difficulty"`
	Questions  []store.Question `json:"questions"`
}

type AnswerEvaluation struct {
	Correct       bool     `json:"correct"`
	Feedback      string   `json:"feedback"`
	Misconception *string  `json:"misconception"`
	ReviewTopics  []string `json:"review_topics"`
}

type Topic struct {
	Concept    string  `json:"concept"`
	Importance float64 `json:"importance"`
	Coverage   string  `json:"coverage"`
}

// QuizEngine generates quizzes from keyword-matched curriculum context and
// scores attempts. It never uses embeddings.
type QuizEngine struct {
	store        store.KnowledgeStore
	generator    llm.Generator
	contextLimit int
	storeTimeout time.Duration
	rand         func() float64
	tiers        []contextTier
	logger       *zap.Logger
}

type QuizEngineOption func(*QuizEngine)

// WithRandomSource replaces the draw used for the difficulty bump.
func WithRandomSource(draw func() float64) QuizEngineOption {
	return func(e *QuizEngine) { e.rand = draw }
}

func NewQuizEngine(ks store.KnowledgeStore, generator llm.Generator, rag config.RAGSettings, storeTimeout time.Duration, logger *zap.Logger, opts ...QuizEngineOption) *QuizEngine {
	e := &QuizEngine{
		store:        ks,
		generator:    generator,
		contextLimit: rag.QuizContextLimit,
		storeTimeout: storeTimeout,
		rand:         rand.Float64,
		logger:       logger,
	}
	e.tiers = []contextTier{
		{name: "phrase", fetch: e.fetchByPhrase},
		{name: "keyword", fetch: e.fetchByKeyword},
		{name: "subject", fetch: e.fetchAny},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *QuizEngine) Difficulty(mastery float64) Difficulty {
	return CalculateDifficulty(mastery, e.rand)
}

func (e *QuizEngine) search(ctx context.Context, subjectID string, patterns []string) ([]store.Chunk, error) {
	sctx, cancel := withTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.SearchContent(sctx, subjectID, patterns, e.contextLimit)
}

func (e *QuizEngine) fetchByPhrase(ctx context.Context, topic, subjectID string) ([]store.Chunk, error) {
	return e.search(ctx, subjectID, []string{store.PhrasePattern(strings.Fields(topic))})
}

func (e *QuizEngine) fetchByKeyword(ctx context.Context, topic, subjectID string) ([]store.Chunk, error) {
	words := strings.Fields(topic)
	if len(words) > maxTopicKeywords {
		words = words[:maxTopicKeywords]
	}
	for _, w := range words {
		if len([]rune(w)) < minKeywordLen {
			continue
		}
		rows, err := e.search(ctx, subjectID, []string{store.ContainsPattern(w)})
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	return nil, nil
}

func (e *QuizEngine) fetchAny(ctx context.Context, _, subjectID string) ([]store.Chunk, error) {
	return e.search(ctx, subjectID, nil)
}

// FetchContext returns formatted curriculum context for a topic, trying each
// tier in turn. A failing tier is logged and skipped; if every tier failed the
// error is ErrUpstreamUnavailable, if none found rows it is ErrNoGroundingContext.
func (e *QuizEngine) FetchContext(ctx context.Context, topic, subjectID string) (string, error) {
	var errs []error
	for _, tier := range e.tiers {
		rows, err := tier.fetch(ctx, topic, subjectID)
		if err != nil {
			if ctx.Err() != nil {
				return "", upstreamErr("fetching quiz context", err)
			}
			e.logger.Warn("Quiz context tier failed",
				zap.String("tier", tier.name),
				zap.String("subject_id", subjectID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s tier: %w", tier.name, err))
			continue
		}
		if len(rows) > 0 {
			e.logger.Debug("Quiz context found",
				zap.String("tier", tier.name),
				zap.Int("chunks", len(rows)))
			return formatQuizContext(rows), nil
		}
	}

	if len(errs) == len(e.tiers) {
		return "", upstreamErr("fetching quiz context", errors.Join(errs...))
	}
	return "", ErrNoGroundingContext
}

func formatQuizContext(rows []store.Chunk) string {
	parts := make([]string, 0, len(rows))
	for i, row := range rows {
		source := row.SourceDocument
		if source == "" {
			source = "Unknown"
		}
		parts = append(parts, fmt.Sprintf("[Source %d: %s]\n%s", i+1, source, row.Content))
	}
	return strings.Join(parts, contextSeparator)
}

// GenerateQuiz builds questions for topic at a difficulty derived from mastery.
// The generation service is only called when curriculum context exists.
func (e *QuizEngine) GenerateQuiz(ctx context.Context, topic, subjectID string, mastery float64, count int) (*GeneratedQuiz, error) {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return nil, validationErr("topic must not be empty")
	case strings.TrimSpace(subjectID) == "":
		return nil, validationErr("subject_id is required")
	case count <= 0:
		return nil, validationErr("question_count must be positive, got %d", count)
	case mastery < 0 || mastery > 1:
		return nil, validationErr("mastery_score must be between 0 and 1, got %v", mastery)
	}

	difficulty := e.Difficulty(mastery)

	quizContext, err := e.FetchContext(ctx, topic, subjectID)
	if err != nil {
		return nil, err
	}

	raw, err := e.generator.Generate(ctx, quizPrompt(topic, difficulty, count, quizContext), quizGeneration)
	if err != nil {
		return nil, upstreamErr("generating quiz", err)
	}

	questions, err := parseQuestions(raw, difficulty)
	if err != nil {
		e.logger.Warn("Discarding malformed quiz output", zap.String("topic", topic), zap.Error(err))
		return nil, err
	}
	if len(questions) > count {
		questions = questions[:count]
	}

	return &GeneratedQuiz{Topic: topic, Difficulty: difficulty, Questions: questions}, nil
}

// parseQuestions accepts either {"questions": [...]} or a bare array and keeps
// only well-formed questions.
func parseQuestions(raw string, difficulty Difficulty) ([]store.Question, error) {
	var payload struct {
		Questions []store.Question `json:"questions"`
	}
	if err := llm.DecodeJSON(raw, &payload); err != nil {
		var bare []store.Question
		if errArr := llm.DecodeJSON(raw, &bare); errArr != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedGenerationOutput, err)
		}
		payload.Questions = bare
	}

	valid := make([]store.Question, 0, len(payload.Questions))
	for _, q := range payload.Questions {
		q.Type = store.QuestionType(strings.ToLower(strings.TrimSpace(string(q.Type))))
		if !q.Type.Valid() || strings.TrimSpace(q.Prompt) == "" || strings.TrimSpace(q.CorrectAnswer) == "" {
			continue
		}
		switch q.Type {
		case store.QuestionMCQ:
			if len(q.Options) < 2 {
				continue
			}
		case store.QuestionTrueFalse:
			if len(q.Options) == 0 {
				q.Options = []string{"True", "False"}
			}
		}
		if q.Difficulty == "" {
			q.Difficulty = string(difficulty)
		}
		valid = append(valid, q)
	}

	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: no usable questions in model output", ErrMalformedGenerationOutput)
	}
	return valid, nil
}

// EvaluateAnswer asks the generation service to judge a free-form answer and
// falls back to a case-insensitive exact match when that fails.
func (e *QuizEngine) EvaluateAnswer(ctx context.Context, question, correctAnswer, studentAnswer string) AnswerEvaluation {
	raw, err := e.generator.Generate(ctx, fmt.Sprintf(feedbackPrompt, question, correctAnswer, studentAnswer), feedbackGeneration)
	if err == nil {
		var eval AnswerEvaluation
		if err = llm.DecodeJSON(raw, &eval); err == nil {
			if eval.Misconception != nil {
				if m := strings.TrimSpace(*eval.Misconception); m == "" || strings.EqualFold(m, "null") {
					eval.Misconception = nil
				}
			}
			if eval.ReviewTopics == nil {
				eval.ReviewTopics = []string{}
			}
			return eval
		}
	}
	e.logger.Warn("Answer evaluation fell back to exact match", zap.Error(err))

	correct := answersMatch(studentAnswer, correctAnswer)
	feedback := "Correct!"
	if !correct {
		feedback = "The correct answer is: " + correctAnswer
	}
	return AnswerEvaluation{Correct: correct, Feedback: feedback, ReviewTopics: []string{}}
}

// ExtractTopics pulls quiz-worthy concepts out of a conversation. Failures
// yield an empty list.
func (e *QuizEngine) ExtractTopics(ctx context.Context, conversation string) []Topic {
	topics := []Topic{}
	if strings.TrimSpace(conversation) == "" {
		return topics
	}

	raw, err := e.generator.Generate(ctx, fmt.Sprintf(topicExtractionPrompt, conversation), topicGeneration)
	if err != nil {
		e.logger.Warn("Topic extraction failed", zap.Error(err))
		return topics
	}
	// JSON-mode providers may wrap the array in {"topics": [...]}
	var extracted []Topic
	if err := llm.DecodeJSON(raw, &extracted); err != nil {
		var wrapped struct {
			Topics []Topic `json:"topics"`
		}
		if errObj := llm.DecodeJSON(raw, &wrapped); errObj != nil {
			e.logger.Warn("Topic extraction returned malformed output", zap.Error(err))
			return topics
		}
		extracted = wrapped.Topics
	}
	for _, t := range extracted {
		if t.Importance > minTopicImportance && strings.TrimSpace(t.Concept) != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

type ScoreResult struct {
	CorrectCount   int                    `json:"correct_count"`
	TotalQuestions int                    `json:"total_questions"`
	Score          int                    `json:"score"`
	Grade          string                 `json:"grade"`
	Feedback       []store.AnswerFeedback `json:"feedback"`
}

// ScoreAttempt grades answers against the quiz questions. Answers pointing at
// a question index that does not exist are skipped.
func ScoreAttempt(questions []store.Question, answers []store.AnswerSubmission) ScoreResult {
	res := ScoreResult{TotalQuestions: len(questions), Feedback: []store.AnswerFeedback{}}

	for _, a := range answers {
		if a.QuestionIndex < 0 || a.QuestionIndex >= len(questions) {
			continue
		}
		q := questions[a.QuestionIndex]
		correct := answersMatch(a.SelectedOption, q.CorrectAnswer)
		if correct {
			res.CorrectCount++
		}
		res.Feedback = append(res.Feedback, store.AnswerFeedback{
			QuestionIndex: a.QuestionIndex,
			Question:      q.Prompt,
			Selected:      a.SelectedOption,
			CorrectAnswer: q.CorrectAnswer,
			IsCorrect:     correct,
		})
	}

	if res.TotalQuestions > 0 {
		res.Score = int(math.Round(float64(res.CorrectCount) / float64(res.TotalQuestions) * 100))
	}
	res.Grade = LetterGrade(res.Score)
	return res
}

func LetterGrade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

func answersMatch(given, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(expected))
}
