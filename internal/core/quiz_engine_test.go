package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/campuslabs/socratic-tutor/internal/llm"
	"github.com/campuslabs/socratic-tutor/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const quizJSON = "```json\n" + `{
  "questions": [
    {"type": "mcq", "question": "Where is ATP made?", "options": ["A) Nucleus", "B) Mitochondria"], "correct_answer": "B", "explanation": "Cellular respiration."},
    {"type": "TRUE_FALSE", "question": "Glycolysis needs oxygen.", "correct_answer": "False", "explanation": "It is anaerobic."},
    {"type": "mcq", "question": "Only one option?", "options": ["A) yes"], "correct_answer": "A"},
    {"type": "essay", "question": "Unsupported type", "correct_answer": "x"},
    {"type": "short_answer", "question": "", "correct_answer": "missing prompt"},
    {"type": "short_answer", "question": "Name the cycle.", "correct_answer": "Krebs", "difficulty": "advanced"}
  ]
}` + "\n```"

func newTestEngine(t *testing.T, ks store.KnowledgeStore, gen llm.Generator, draw float64) *QuizEngine {
	cfg := testConfig()
	return NewQuizEngine(ks, gen, cfg.RAG, cfg.StoreTimeout, zaptest.NewLogger(t),
		WithRandomSource(func() float64 { return draw }))
}

func staticGenerator(out string) *fakeGenerator {
	return &fakeGenerator{respond: func(string, llm.GenerateOptions) (string, error) { return out, nil }}
}

func TestCalculateDifficulty(t *testing.T) {
	noBump := func() float64 { return 0.99 }
	bump := func() float64 { return 0.1 }

	assert.Equal(t, DifficultyBeginner, CalculateDifficulty(0.2, noBump))
	assert.Equal(t, DifficultyIntermediate, CalculateDifficulty(0.3, noBump))
	assert.Equal(t, DifficultyIntermediate, CalculateDifficulty(0.5, noBump))
	assert.Equal(t, DifficultyAdvanced, CalculateDifficulty(0.7, noBump))
	assert.Equal(t, DifficultyAdvanced, CalculateDifficulty(0.9, noBump))

	assert.Equal(t, DifficultyAdvanced, CalculateDifficulty(0.6, bump))
	assert.Equal(t, DifficultyAdvanced, CalculateDifficulty(0.95, bump), "advanced cannot go higher")

	draws := 0
	counting := func() float64 { draws++; return 0.0 }
	assert.Equal(t, DifficultyBeginner, CalculateDifficulty(0.1, counting))
	assert.Equal(t, DifficultyIntermediate, CalculateDifficulty(0.5, counting))
	assert.Zero(t, draws, "no draw at or below 0.5 mastery")
}

func TestQuizEngine_FetchContextTiers(t *testing.T) {
	ks := &fakeKnowledgeStore{search: func(_ string, patterns []string) ([]store.Chunk, error) {
		if patterns == nil {
			return []store.Chunk{chunk("a", "bio", "Any chunk for the subject.")}, nil
		}
		return nil, nil
	}}
	e := newTestEngine(t, ks, staticGenerator(""), 0.99)

	got, err := e.FetchContext(context.Background(), "of Krebs cycle steps", "bio")
	require.NoError(t, err)
	assert.Equal(t, "[Source 1: bio.md]\nAny chunk for the subject.", got)

	assert.Equal(t, [][]string{
		{"%of%Krebs%cycle%steps%"},
		{"%Krebs%"},
		{"%cycle%"},
		nil,
	}, ks.patterns)
	for _, limit := range ks.limits {
		assert.Equal(t, 10, limit)
	}
}

func TestQuizEngine_FetchContextStopsAtFirstHit(t *testing.T) {
	ks := &fakeKnowledgeStore{search: func(_ string, patterns []string) ([]store.Chunk, error) {
		if len(patterns) == 1 && patterns[0] == "%Krebs%cycle%" {
			return []store.Chunk{chunk("a", "bio", "first"), chunk("b", "bio", "second")}, nil
		}
		return nil, nil
	}}
	e := newTestEngine(t, ks, staticGenerator(""), 0.99)

	got, err := e.FetchContext(context.Background(), "Krebs cycle", "bio")
	require.NoError(t, err)
	assert.Equal(t, "[Source 1: bio.md]\nfirst\n\n---\n\n[Source 2: bio.md]\nsecond", got)
	assert.Len(t, ks.patterns, 1)
}

func TestQuizEngine_FetchContextFailures(t *testing.T) {
	t.Run("partial failure is skipped", func(t *testing.T) {
		ks := &fakeKnowledgeStore{search: func(_ string, patterns []string) ([]store.Chunk, error) {
			if patterns != nil && patterns[0] == "%Krebs%" {
				return nil, errBoom
			}
			return nil, nil
		}}
		e := newTestEngine(t, ks, staticGenerator(""), 0.99)

		_, err := e.FetchContext(context.Background(), "Krebs", "bio")
		assert.ErrorIs(t, err, ErrNoGroundingContext)
	})

	t.Run("every tier failing is an upstream error", func(t *testing.T) {
		ks := &fakeKnowledgeStore{search: func(string, []string) ([]store.Chunk, error) { return nil, errBoom }}
		e := newTestEngine(t, ks, staticGenerator(""), 0.99)

		_, err := e.FetchContext(context.Background(), "Krebs", "bio")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
		assert.ErrorIs(t, err, errBoom)
	})
}

func TestQuizEngine_GenerateQuiz(t *testing.T) {
	ks := &fakeKnowledgeStore{keyword: []store.Chunk{chunk("a", "bio", "Mitochondria make ATP.")}}
	gen := staticGenerator(quizJSON)
	e := newTestEngine(t, ks, gen, 0.99)

	quiz, err := e.GenerateQuiz(context.Background(), "  cellular respiration ", "bio", 0.2, 10)
	require.NoError(t, err)

	assert.Equal(t, "cellular respiration", quiz.Topic)
	assert.Equal(t, DifficultyBeginner, quiz.Difficulty)
	require.Len(t, quiz.Questions, 3)

	assert.Equal(t, store.QuestionMCQ, quiz.Questions[0].Type)
	assert.Equal(t, "beginner", quiz.Questions[0].Difficulty)
	assert.Equal(t, store.QuestionTrueFalse, quiz.Questions[1].Type)
	assert.Equal(t, []string{"True", "False"}, quiz.Questions[1].Options)
	assert.Equal(t, "advanced", quiz.Questions[2].Difficulty)

	require.Equal(t, 1, gen.calls())
	assert.Contains(t, gen.prompts[0], "Generate 10 quiz questions on the topic: cellular respiration")
	assert.Contains(t, gen.prompts[0], "Difficulty level: beginner")
	assert.Contains(t, gen.prompts[0], "[Source 1: bio.md]\nMitochondria make ATP.")
	assert.Equal(t, quizGeneration, gen.opts[0])
}

func TestQuizEngine_GenerateQuizTruncates(t *testing.T) {
	ks := &fakeKnowledgeStore{keyword: []store.Chunk{chunk("a", "bio", "ctx")}}
	e := newTestEngine(t, ks, staticGenerator(quizJSON), 0.99)

	quiz, err := e.GenerateQuiz(context.Background(), "respiration", "bio", 0.5, 2)
	require.NoError(t, err)
	assert.Len(t, quiz.Questions, 2)
}

func TestQuizEngine_GenerateQuizWithoutContext(t *testing.T) {
	gen := staticGenerator(quizJSON)
	e := newTestEngine(t, &fakeKnowledgeStore{}, gen, 0.99)

	quiz, err := e.GenerateQuiz(context.Background(), "quantum gravity", "bio", 0.5, 5)
	assert.Nil(t, quiz)
	assert.ErrorIs(t, err, ErrNoGroundingContext)
	assert.Zero(t, gen.calls(), "no generation without curriculum context")
}

func TestQuizEngine_GenerateQuizFailures(t *testing.T) {
	ks := &fakeKnowledgeStore{keyword: []store.Chunk{chunk("a", "bio", "ctx")}}

	for name, out := range map[string]string{
		"not json":           "Here are your questions!",
		"no usable question": `{"questions": [{"type": "mcq", "question": "x", "options": ["A"], "correct_answer": "A"}]}`,
		"empty object":       `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			e := newTestEngine(t, ks, staticGenerator(out), 0.99)
			_, err := e.GenerateQuiz(context.Background(), "respiration", "bio", 0.5, 5)
			assert.ErrorIs(t, err, ErrMalformedGenerationOutput)
		})
	}

	t.Run("generation error", func(t *testing.T) {
		e := newTestEngine(t, ks, &fakeGenerator{}, 0.99)
		_, err := e.GenerateQuiz(context.Background(), "respiration", "bio", 0.5, 5)
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})

	t.Run("validation", func(t *testing.T) {
		e := newTestEngine(t, ks, staticGenerator(quizJSON), 0.99)
		for _, tc := range []struct {
			topic, subject string
			mastery        float64
			count          int
		}{
			{" ", "bio", 0.5, 5},
			{"respiration", "", 0.5, 5},
			{"respiration", "bio", 0.5, 0},
			{"respiration", "bio", 1.2, 5},
		} {
			_, err := e.GenerateQuiz(context.Background(), tc.topic, tc.subject, tc.mastery, tc.count)
			assert.ErrorIs(t, err, ErrValidation, fmt.Sprintf("%+v", tc))
		}
	})
}

func TestParseQuestionsBareArray(t *testing.T) {
	got, err := parseQuestions(`[{"type": "short_answer", "question": "Define osmosis.", "correct_answer": "Diffusion of water"}]`, DifficultyIntermediate)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Define osmosis.", got[0].Prompt)
	assert.Equal(t, "intermediate", got[0].Difficulty)
}

func TestScoreAttempt(t *testing.T) {
	questions := []store.Question{
		{Prompt: "q1", CorrectAnswer: "A"},
		{Prompt: "q2", CorrectAnswer: "B"},
		{Prompt: "q3", CorrectAnswer: "C"},
		{Prompt: "q4", CorrectAnswer: "D"},
	}
	answers := []store.AnswerSubmission{
		{QuestionIndex: 0, SelectedOption: "a"},
		{QuestionIndex: 1, SelectedOption: " B "},
		{QuestionIndex: 2, SelectedOption: "X"},
		{QuestionIndex: 3, SelectedOption: "d"},
		{QuestionIndex: 9, SelectedOption: "A"},
	}

	res := ScoreAttempt(questions, answers)
	assert.Equal(t, 3, res.CorrectCount)
	assert.Equal(t, 4, res.TotalQuestions)
	assert.Equal(t, 75, res.Score)
	assert.Equal(t, "B", res.Grade)
	require.Len(t, res.Feedback, 4, "out-of-range answers are skipped")
	assert.False(t, res.Feedback[2].IsCorrect)
	assert.Equal(t, "C", res.Feedback[2].CorrectAnswer)

	assert.Equal(t, 67, ScoreAttempt(questions[:3], answers[:2]).Score)

	empty := ScoreAttempt(nil, answers)
	assert.Zero(t, empty.Score)
	assert.Equal(t, "F", empty.Grade)
	assert.Empty(t, empty.Feedback)
}

func TestLetterGrade(t *testing.T) {
	tests := map[int]string{100: "A", 90: "A", 89: "B", 75: "B", 74: "C", 60: "C", 59: "D", 40: "D", 39: "F", 0: "F"}
	for score, want := range tests {
		assert.Equal(t, want, LetterGrade(score), "score %d", score)
	}
}

func TestQuizEngine_EvaluateAnswer(t *testing.T) {
	t.Run("model judgement", func(t *testing.T) {
		gen := staticGenerator(`{"correct": false, "feedback": "Close!", "misconception": "Confuses mitosis with meiosis", "review_topics": ["cell division"]}`)
		e := newTestEngine(t, &fakeKnowledgeStore{}, gen, 0.99)

		got := e.EvaluateAnswer(context.Background(), "How many daughter cells?", "2", "4")
		assert.False(t, got.Correct)
		assert.Equal(t, "Close!", got.Feedback)
		require.NotNil(t, got.Misconception)
		assert.Equal(t, "Confuses mitosis with meiosis", *got.Misconception)
		assert.Equal(t, []string{"cell division"}, got.ReviewTopics)
		assert.Contains(t, gen.prompts[0], "Student's Answer: 4")
	})

	t.Run("null misconception", func(t *testing.T) {
		e := newTestEngine(t, &fakeKnowledgeStore{}, staticGenerator(`{"correct": true, "feedback": "Yes", "misconception": "null"}`), 0.99)

		got := e.EvaluateAnswer(context.Background(), "q", "2", "2")
		assert.True(t, got.Correct)
		assert.Nil(t, got.Misconception)
		assert.NotNil(t, got.ReviewTopics)
	})

	t.Run("fallback on generation error", func(t *testing.T) {
		e := newTestEngine(t, &fakeKnowledgeStore{}, &fakeGenerator{}, 0.99)

		right := e.EvaluateAnswer(context.Background(), "q", "Krebs", " krebs ")
		assert.True(t, right.Correct)
		assert.Equal(t, "Correct!", right.Feedback)

		wrong := e.EvaluateAnswer(context.Background(), "q", "Krebs", "Calvin")
		assert.False(t, wrong.Correct)
		assert.Equal(t, "The correct answer is: Krebs", wrong.Feedback)
		assert.Nil(t, wrong.Misconception)
	})

	t.Run("fallback on malformed output", func(t *testing.T) {
		e := newTestEngine(t, &fakeKnowledgeStore{}, staticGenerator("looks right to me"), 0.99)
		got := e.EvaluateAnswer(context.Background(), "q", "2", "2")
		assert.True(t, got.Correct)
		assert.Equal(t, "Correct!", got.Feedback)
	})
}

func TestQuizEngine_ExtractTopics(t *testing.T) {
	gen := staticGenerator(`[
		{"concept": "Binary Search", "importance": 0.9, "coverage": "detailed"},
		{"concept": "Big O", "importance": 0.5, "coverage": "brief"},
		{"concept": "", "importance": 0.8, "coverage": "brief"}
	]`)
	e := newTestEngine(t, &fakeKnowledgeStore{}, gen, 0.99)

	got := e.ExtractTopics(context.Background(), "Student: how does binary search work?")
	assert.Equal(t, []Topic{{Concept: "Binary Search", Importance: 0.9, Coverage: "detailed"}}, got)

	wrapped := newTestEngine(t, &fakeKnowledgeStore{}, staticGenerator(`{"topics": [{"concept": "Recursion", "importance": 0.7, "coverage": "brief"}]}`), 0.99)
	assert.Equal(t, []Topic{{Concept: "Recursion", Importance: 0.7, Coverage: "brief"}}, wrapped.ExtractTopics(context.Background(), "x"))

	failing := newTestEngine(t, &fakeKnowledgeStore{}, &fakeGenerator{}, 0.99)
	empty := failing.ExtractTopics(context.Background(), "anything")
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	assert.Empty(t, e.ExtractTopics(context.Background(), "   "))
}
