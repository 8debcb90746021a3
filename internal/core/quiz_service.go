package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/campuslabs/socratic-tutor/internal/store"
	"go.uber.org/zap"
)

const (
	defaultQuestionCount = 10
	facultyQuizMastery   = 0.5
)

type CreateQuizRequest struct {
	Topic         string
	SubjectID     string
	FacultyID     string
	Title         string
	QuestionCount int
}

type AttemptResult struct {
	AttemptID      string                 `json:"attempt_id"`
	Score          int                    `json:"score"`
	CorrectCount   int                    `json:"correct_count"`
	TotalQuestions int                    `json:"total_questions"`
	Grade          string                 `json:"grade"`
	Message        string                 `json:"message"`
	Feedback       []store.AnswerFeedback `json:"feedback"`
}

// QuizService owns the quiz lifecycle: generate, publish, attempt, review.
type QuizService struct {
	engine       *QuizEngine
	quizzes      store.QuizStore
	storeTimeout time.Duration
	logger       *zap.Logger
}

func NewQuizService(engine *QuizEngine, quizzes store.QuizStore, storeTimeout time.Duration, logger *zap.Logger) *QuizService {
	return &QuizService{engine: engine, quizzes: quizzes, storeTimeout: storeTimeout, logger: logger}
}

// CreateQuiz generates questions for a topic and stores them as an
// unpublished quiz.
func (s *QuizService) CreateQuiz(ctx context.Context, req CreateQuizRequest) (*store.Quiz, error) {
	if strings.TrimSpace(req.FacultyID) == "" {
		return nil, validationErr("faculty_id is required")
	}
	count := req.QuestionCount
	if count == 0 {
		count = defaultQuestionCount
	}

	generated, err := s.engine.GenerateQuiz(ctx, req.Topic, req.SubjectID, facultyQuizMastery, count)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Quiz: " + generated.Topic
	}
	quiz := &store.Quiz{
		SubjectID:  req.SubjectID,
		FacultyID:  req.FacultyID,
		Title:      title,
		Topic:      generated.Topic,
		Difficulty: string(generated.Difficulty),
		Questions:  generated.Questions,
	}

	sctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.quizzes.CreateQuiz(sctx, quiz); err != nil {
		return nil, upstreamErr("saving quiz", err)
	}

	s.logger.Info("Created quiz",
		zap.String("quiz_id", quiz.ID),
		zap.String("subject_id", quiz.SubjectID),
		zap.String("difficulty", quiz.Difficulty),
		zap.Int("questions", len(quiz.Questions)))
	return quiz, nil
}

func (s *QuizService) PublishQuiz(ctx context.Context, quizID string) error {
	sctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.quizzes.PublishQuiz(sctx, quizID); err != nil {
		return storeErr("publishing quiz", err)
	}
	s.logger.Info("Published quiz", zap.String("quiz_id", quizID))
	return nil
}

func (s *QuizService) GetQuiz(ctx context.Context, quizID string) (*store.Quiz, error) {
	sctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	quiz, err := s.quizzes.GetQuiz(sctx, quizID)
	if err != nil {
		return nil, storeErr("loading quiz", err)
	}
	return quiz, nil
}

func (s *QuizService) ListQuizzes(ctx context.Context, subjectID string, publishedOnly bool) ([]store.Quiz, error) {
	sctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	quizzes, err := s.quizzes.ListQuizzes(sctx, subjectID, publishedOnly)
	if err != nil {
		return nil, upstreamErr("listing quizzes", err)
	}
	return quizzes, nil
}

// SubmitAttempt scores a student's answers against a published quiz and
// records the attempt.
func (s *QuizService) SubmitAttempt(ctx context.Context, quizID, studentID string, answers []store.AnswerSubmission) (*AttemptResult, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, validationErr("student_id is required")
	}

	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if !quiz.IsPublished {
		return nil, ErrQuizNotPublished
	}
	if len(answers) > len(quiz.Questions) {
		return nil, validationErr("got %d answers for %d questions", len(answers), len(quiz.Questions))
	}
	seen := make(map[int]bool, len(answers))
	for _, a := range answers {
		if seen[a.QuestionIndex] {
			return nil, validationErr("question %d answered more than once", a.QuestionIndex)
		}
		seen[a.QuestionIndex] = true
	}

	scored := ScoreAttempt(quiz.Questions, answers)
	attempt := &store.QuizAttempt{
		QuizID:         quiz.ID,
		StudentID:      studentID,
		Answers:        answers,
		Score:          scored.Score,
		CorrectCount:   scored.CorrectCount,
		TotalQuestions: scored.TotalQuestions,
		Feedback:       scored.Feedback,
	}

	sctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.quizzes.CreateAttempt(sctx, attempt); err != nil {
		return nil, upstreamErr("saving attempt", err)
	}

	s.logger.Info("Recorded quiz attempt",
		zap.String("quiz_id", quiz.ID),
		zap.String("student_id", studentID),
		zap.Int("score", scored.Score))

	return &AttemptResult{
		AttemptID:      attempt.ID,
		Score:          scored.Score,
		CorrectCount:   scored.CorrectCount,
		TotalQuestions: scored.TotalQuestions,
		Grade:          scored.Grade,
		Message:        attemptMessage(scored.Score),
		Feedback:       scored.Feedback,
	}, nil
}

func attemptMessage(score int) string {
	switch {
	case score >= 75:
		return "Great job!"
	case score >= 40:
		return "Keep practicing!"
	default:
		return "Review this topic."
	}
}

// AttemptHistory lists a student's attempts, newest first. An empty subjectID
// covers every subject.
func (s *QuizService) AttemptHistory(ctx context.Context, studentID, subjectID string) ([]store.QuizAttempt, error) {
	sctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	attempts, err := s.quizzes.ListAttemptsByStudent(sctx, studentID, subjectID)
	if err != nil {
		return nil, upstreamErr("listing attempts", err)
	}
	return attempts, nil
}

func (s *QuizService) QuizResults(ctx context.Context, quizID string) ([]store.QuizAttempt, error) {
	sctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	attempts, err := s.quizzes.ListAttemptsByQuiz(sctx, quizID)
	if err != nil {
		return nil, upstreamErr("listing quiz results", err)
	}
	return attempts, nil
}

func (s *QuizService) EvaluateAnswer(ctx context.Context, question, correctAnswer, studentAnswer string) AnswerEvaluation {
	return s.engine.EvaluateAnswer(ctx, question, correctAnswer, studentAnswer)
}

func (s *QuizService) ExtractTopics(ctx context.Context, conversation string) []Topic {
	return s.engine.ExtractTopics(ctx, conversation)
}

// storeErr keeps ErrNotFound distinct from upstream failures.
func storeErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	return upstreamErr(op, err)
}
