package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Chunk is a slice of curriculum text. Unique per (SubjectID, SourceDocument, ChunkIndex)
// and never updated once stored.
type Chunk struct {
	ID             string    `json:"id"` // UUID
	SubjectID      string    `json:"subject_id"`
	SourceDocument string    `json:"source_document"`
	ChunkIndex     int       `json:"chunk_index"`
	Title          string    `json:"title,omitempty"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"-"`
	Metadata       Metadata  `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ScoredChunk is a chunk returned by similarity search.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

type DocumentSummary struct {
	SourceDocument string    `json:"source_document"`
	ChunkCount     int       `json:"chunk_count"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// Metadata is free-form JSON attached to a chunk.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	// text, not bytes: lib/pq would send []byte as bytea
	return string(raw), nil
}

func (m *Metadata) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

type QuestionType string

const (
	QuestionMCQ         QuestionType = "mcq"
	QuestionTrueFalse   QuestionType = "true_false"
	QuestionShortAnswer QuestionType = "short_answer"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMCQ, QuestionTrueFalse, QuestionShortAnswer:
		return true
	}
	return false
}

type Question struct {
	Type          QuestionType `json:"type"`
	Prompt        string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer"`
	Explanation   string       `json:"explanation"`
	Difficulty    string       `json:"difficulty"`
}

// Quiz questions are fixed at creation; only IsPublished transitions.
type Quiz struct {
	ID          string     `json:"id"` // UUID
	SubjectID   string     `json:"subject_id"`
	FacultyID   string     `json:"faculty_id"`
	Title       string     `json:"title"`
	Topic       string     `json:"topic"`
	Difficulty  string     `json:"difficulty"`
	Questions   []Question `json:"questions"`
	IsPublished bool       `json:"is_published"`
	CreatedAt   time.Time  `json:"created_at"`
}

type AnswerSubmission struct {
	QuestionIndex  int    `json:"question_index"`
	SelectedOption string `json:"selected_option"`
}

type AnswerFeedback struct {
	QuestionIndex int    `json:"question_index"`
	Question      string `json:"question"`
	Selected      string `json:"selected"`
	CorrectAnswer string `json:"correct_answer"`
	IsCorrect     bool   `json:"is_correct"`
}

// QuizAttempt is written once per submission and never modified.
type QuizAttempt struct {
	ID             string             `json:"id"` // UUID
	QuizID         string             `json:"quiz_id"`
	StudentID      string             `json:"student_id"`
	Answers        []AnswerSubmission `json:"answers"`
	Score          int                `json:"score"`
	CorrectCount   int                `json:"correct_count"`
	TotalQuestions int                `json:"total_questions"`
	Feedback       []AnswerFeedback   `json:"feedback"`
	CompletedAt    time.Time          `json:"completed_at"`

	// Populated by history queries.
	QuizTitle string `json:"quiz_title,omitempty"`
	QuizTopic string `json:"quiz_topic,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
}
