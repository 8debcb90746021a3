package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a quiz lookup matches no rows.
var ErrNotFound = errors.New("record not found")

// KnowledgeStore persists curriculum chunks and exposes the search primitives
// used by retrieval and quiz generation. Every read is scoped to one subject.
type KnowledgeStore interface {
	// InsertChunks writes all chunks in one transaction.
	InsertChunks(ctx context.Context, chunks []Chunk) (int, error)
	// SimilaritySearch returns up to limit chunks of the subject whose cosine
	// similarity to embedding is at least threshold, best first.
	SimilaritySearch(ctx context.Context, embedding []float32, subjectID string, threshold float64, limit int) ([]ScoredChunk, error)
	// SearchContent returns chunks whose content matches any of the
	// case-insensitive LIKE patterns, ordered by chunk index. No patterns
	// means no content filter.
	SearchContent(ctx context.Context, subjectID string, patterns []string, limit int) ([]Chunk, error)
	// DeleteDocument removes every chunk of a source document within a subject.
	DeleteDocument(ctx context.Context, sourceDocument, subjectID string) (int64, error)
	// ReplaceDocument atomically swaps a document's chunks for a new set and
	// reports how many old chunks were removed.
	ReplaceDocument(ctx context.Context, sourceDocument, subjectID string, chunks []Chunk) (int64, error)
	ListDocuments(ctx context.Context, subjectID string) ([]DocumentSummary, error)
}

type QuizStore interface {
	CreateQuiz(ctx context.Context, quiz *Quiz) error
	GetQuiz(ctx context.Context, quizID string) (*Quiz, error)
	ListQuizzes(ctx context.Context, subjectID string, publishedOnly bool) ([]Quiz, error)
	PublishQuiz(ctx context.Context, quizID string) error
	CreateAttempt(ctx context.Context, attempt *QuizAttempt) error
	ListAttemptsByStudent(ctx context.Context, studentID, subjectID string) ([]QuizAttempt, error)
	ListAttemptsByQuiz(ctx context.Context, quizID string) ([]QuizAttempt, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	KnowledgeStore
	QuizStore
	Close() error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes LIKE metacharacters in user text. Patterns built from it
// must be used with ESCAPE '\'.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ContainsPattern matches content containing term anywhere.
func ContainsPattern(term string) string {
	return "%" + EscapeLike(term) + "%"
}

// PhrasePattern matches content containing the words in order with anything
// between them.
func PhrasePattern(words []string) string {
	escaped := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			escaped = append(escaped, EscapeLike(w))
		}
	}
	return "%" + strings.Join(escaped, "%") + "%"
}
