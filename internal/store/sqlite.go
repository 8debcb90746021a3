package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/campuslabs/socratic-tutor/internal/utils"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dataSourceName, ":memory:") {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS knowledge_chunks (
        id TEXT PRIMARY KEY, -- UUID
        subject_id TEXT NOT NULL,
        source_document TEXT NOT NULL,
        chunk_index INTEGER NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        content TEXT NOT NULL,
        embedding_json TEXT, -- JSON array of float32
        metadata TEXT NOT NULL DEFAULT '{}',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (subject_id, source_document, chunk_index)
    );
    CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_subject ON knowledge_chunks (subject_id, chunk_index);

    CREATE TABLE IF NOT EXISTS quizzes (
        id TEXT PRIMARY KEY, -- UUID
        subject_id TEXT NOT NULL,
        faculty_id TEXT NOT NULL,
        title TEXT NOT NULL,
        topic TEXT NOT NULL,
        difficulty TEXT NOT NULL DEFAULT '',
        questions TEXT NOT NULL, -- JSON array of questions
        is_published BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS quiz_attempts (
        id TEXT PRIMARY KEY, -- UUID
        quiz_id TEXT NOT NULL,
        student_id TEXT NOT NULL,
        answers TEXT NOT NULL,
        score INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
        correct_count INTEGER NOT NULL,
        total_questions INTEGER NOT NULL,
        feedback TEXT NOT NULL,
        completed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (quiz_id) REFERENCES quizzes (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Knowledge chunk methods

func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin chunk insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := insertSQLiteChunks(ctx, tx, chunks); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunk insert: %w", err)
	}
	return len(chunks), nil
}

// ReplaceDocument deletes the document's existing chunks and inserts the new
// set in one transaction.
func (s *SQLiteStore) ReplaceDocument(ctx context.Context, sourceDocument, subjectID string, chunks []Chunk) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin document replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, "DELETE FROM knowledge_chunks WHERE source_document = ? AND subject_id = ?", sourceDocument, subjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", sourceDocument, err)
	}
	deleted, _ := res.RowsAffected()

	if err := insertSQLiteChunks(ctx, tx, chunks); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit document replace: %w", err)
	}
	return deleted, nil
}

// SimilaritySearch scores the subject's chunks in process. The table is small
// enough per subject that a full scan is acceptable for local use.
func (s *SQLiteStore) SimilaritySearch(ctx context.Context, embedding []float32, subjectID string, threshold float64, limit int) ([]ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, subject_id, source_document, chunk_index, title, content, embedding_json, metadata, created_at
        FROM knowledge_chunks WHERE subject_id = ? AND embedding_json IS NOT NULL`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge_chunks: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	for rows.Next() {
		var chunk Chunk
		var embeddingJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.SubjectID, &chunk.SourceDocument, &chunk.ChunkIndex, &chunk.Title, &chunk.Content, &embeddingJSON, &chunk.Metadata, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge_chunks row: %w", err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
			s.logger.Warn("Skipping chunk with unreadable embedding", zap.String("chunk_id", chunk.ID), zap.Error(err))
			continue
		}

		similarity, err := utils.CosineSimilarity(embedding, chunk.Embedding)
		if err != nil {
			s.logger.Warn("Skipping chunk during similarity scoring", zap.String("chunk_id", chunk.ID), zap.Error(err))
			continue
		}
		if similarity >= threshold {
			scored = append(scored, ScoredChunk{Chunk: chunk, Similarity: similarity})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge_chunks: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *SQLiteStore) SearchContent(ctx context.Context, subjectID string, patterns []string, limit int) ([]Chunk, error) {
	query := `SELECT id, subject_id, source_document, chunk_index, title, content, metadata, created_at
        FROM knowledge_chunks WHERE subject_id = ?`
	args := []any{subjectID}

	if len(patterns) > 0 {
		clauses := make([]string, len(patterns))
		for i, p := range patterns {
			clauses[i] = `content LIKE ? ESCAPE '\'`
			args = append(args, p)
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}
	query += " ORDER BY chunk_index ASC, source_document ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var chunk Chunk
		if err := rows.Scan(&chunk.ID, &chunk.SubjectID, &chunk.SourceDocument, &chunk.ChunkIndex, &chunk.Title, &chunk.Content, &chunk.Metadata, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge_chunks row: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge_chunks: %w", err)
	}
	return chunks, nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, sourceDocument, subjectID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_chunks WHERE source_document = ? AND subject_id = ?", sourceDocument, subjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", sourceDocument, err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, subjectID string) ([]DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_document, COUNT(*), MIN(created_at)
        FROM knowledge_chunks WHERE subject_id = ? GROUP BY source_document ORDER BY source_document`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentSummary
	for rows.Next() {
		var doc DocumentSummary
		var uploadedAt string
		if err := rows.Scan(&doc.SourceDocument, &doc.ChunkCount, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		// aggregates lose the DATETIME column type, so the driver hands back text
		doc.UploadedAt = parseSQLiteTime(uploadedAt)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Quiz methods

func (s *SQLiteStore) CreateQuiz(ctx context.Context, quiz *Quiz) error {
	questionsJSON, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}

	quiz.ID = uuid.NewString()
	quiz.CreatedAt = time.Now().UTC()

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO quizzes (id, subject_id, faculty_id, title, topic, difficulty, questions, is_published, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare quiz insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, quiz.ID, quiz.SubjectID, quiz.FacultyID, quiz.Title, quiz.Topic, quiz.Difficulty, string(questionsJSON), quiz.IsPublished, quiz.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute quiz insert: %w", err)
	}
	return nil
}

const quizColumns = "id, subject_id, faculty_id, title, topic, difficulty, questions, is_published, created_at"

func scanQuiz(scan func(dest ...any) error) (*Quiz, error) {
	var quiz Quiz
	var questionsJSON string
	if err := scan(&quiz.ID, &quiz.SubjectID, &quiz.FacultyID, &quiz.Title, &quiz.Topic, &quiz.Difficulty, &questionsJSON, &quiz.IsPublished, &quiz.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(questionsJSON), &quiz.Questions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions for quiz %s: %w", quiz.ID, err)
	}
	return &quiz, nil
}

func (s *SQLiteStore) GetQuiz(ctx context.Context, quizID string) (*Quiz, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+quizColumns+" FROM quizzes WHERE id = ?", quizID)
	quiz, err := scanQuiz(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	return quiz, nil
}

func (s *SQLiteStore) ListQuizzes(ctx context.Context, subjectID string, publishedOnly bool) ([]Quiz, error) {
	query := "SELECT " + quizColumns + " FROM quizzes WHERE subject_id = ?"
	if publishedOnly {
		query += " AND is_published = TRUE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quizzes: %w", err)
	}
	defer rows.Close()

	var quizzes []Quiz
	for rows.Next() {
		quiz, err := scanQuiz(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quiz row: %w", err)
		}
		quizzes = append(quizzes, *quiz)
	}
	return quizzes, rows.Err()
}

func (s *SQLiteStore) PublishQuiz(ctx context.Context, quizID string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE quizzes SET is_published = TRUE WHERE id = ?", quizID)
	if err != nil {
		return fmt.Errorf("failed to execute quiz publish: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Attempt methods

func (s *SQLiteStore) CreateAttempt(ctx context.Context, attempt *QuizAttempt) error {
	answersJSON, err := json.Marshal(attempt.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}
	feedbackJSON, err := json.Marshal(attempt.Feedback)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}

	attempt.ID = uuid.NewString()
	attempt.CompletedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `INSERT INTO quiz_attempts
        (id, quiz_id, student_id, answers, score, correct_count, total_questions, feedback, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.QuizID, attempt.StudentID, string(answersJSON), attempt.Score,
		attempt.CorrectCount, attempt.TotalQuestions, string(feedbackJSON), attempt.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to execute attempt insert: %w", err)
	}
	return nil
}

const attemptColumns = `a.id, a.quiz_id, a.student_id, a.answers, a.score, a.correct_count, a.total_questions,
        a.feedback, a.completed_at, q.title, q.topic, q.subject_id`

func (s *SQLiteStore) ListAttemptsByStudent(ctx context.Context, studentID, subjectID string) ([]QuizAttempt, error) {
	query := "SELECT " + attemptColumns + " FROM quiz_attempts a JOIN quizzes q ON q.id = a.quiz_id WHERE a.student_id = ?"
	args := []any{studentID}
	if subjectID != "" {
		query += " AND q.subject_id = ?"
		args = append(args, subjectID)
	}
	query += " ORDER BY a.completed_at DESC"
	return queryAttempts(ctx, s.db, query, args...)
}

func (s *SQLiteStore) ListAttemptsByQuiz(ctx context.Context, quizID string) ([]QuizAttempt, error) {
	query := "SELECT " + attemptColumns + " FROM quiz_attempts a JOIN quizzes q ON q.id = a.quiz_id WHERE a.quiz_id = ? ORDER BY a.completed_at DESC"
	return queryAttempts(ctx, s.db, query, quizID)
}

func insertSQLiteChunks(ctx context.Context, tx *sql.Tx, chunks []Chunk) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO knowledge_chunks
        (id, subject_id, source_document, chunk_index, title, content, embedding_json, metadata, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CreatedAt = now

		var embeddingJSON sql.NullString
		if len(c.Embedding) > 0 {
			raw, err := json.Marshal(c.Embedding)
			if err != nil {
				return fmt.Errorf("failed to marshal embedding for chunk %d: %w", c.ChunkIndex, err)
			}
			embeddingJSON = sql.NullString{String: string(raw), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, c.ID, c.SubjectID, c.SourceDocument, c.ChunkIndex, c.Title, c.Content, embeddingJSON, c.Metadata, now); err != nil {
			return fmt.Errorf("failed to execute chunk insert (index %d): %w", c.ChunkIndex, err)
		}
	}

	return nil
}

// queryAttempts expects attemptColumns as its select list.
func queryAttempts(ctx context.Context, db *sql.DB, query string, args ...any) ([]QuizAttempt, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []QuizAttempt
	for rows.Next() {
		var a QuizAttempt
		var answersJSON, feedbackJSON string
		if err := rows.Scan(&a.ID, &a.QuizID, &a.StudentID, &answersJSON, &a.Score, &a.CorrectCount, &a.TotalQuestions,
			&feedbackJSON, &a.CompletedAt, &a.QuizTitle, &a.QuizTopic, &a.SubjectID); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		if err := json.Unmarshal([]byte(answersJSON), &a.Answers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answers for attempt %s: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(feedbackJSON), &a.Feedback); err != nil {
			return nil, fmt.Errorf("failed to unmarshal feedback for attempt %s: %w", a.ID, err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func parseSQLiteTime(value string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
