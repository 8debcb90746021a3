package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // Postgres driver
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// PostgresStore keeps chunks in a pgvector column and runs similarity search
// server side through the match_embeddings function.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, dsn string, embeddingDim int, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db, logger: logger}
	if err = store.initSchema(ctx, embeddingDim); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Info("Initialized Postgres store", zap.Int("embedding_dim", embeddingDim))
	return store, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) initSchema(ctx context.Context, embeddingDim int) error {
	if embeddingDim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim)
	}

	// vector(n) cannot take a bind parameter
	schema := fmt.Sprintf(`
    CREATE EXTENSION IF NOT EXISTS vector;

    CREATE TABLE IF NOT EXISTS knowledge_chunks (
        id UUID PRIMARY KEY,
        subject_id TEXT NOT NULL,
        source_document TEXT NOT NULL,
        chunk_index INTEGER NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        content TEXT NOT NULL,
        embedding vector(%[1]d),
        metadata JSONB NOT NULL DEFAULT '{}',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        UNIQUE (subject_id, source_document, chunk_index)
    );
    CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_subject ON knowledge_chunks (subject_id, chunk_index);

    CREATE OR REPLACE FUNCTION match_embeddings(
        query_embedding vector(%[1]d),
        filter_subject_id TEXT,
        match_threshold FLOAT,
        match_count INT
    )
    RETURNS TABLE (
        id UUID, subject_id TEXT, source_document TEXT, chunk_index INTEGER, title TEXT,
        content TEXT, metadata JSONB, created_at TIMESTAMPTZ, similarity FLOAT
    )
    LANGUAGE sql STABLE AS $$
        SELECT k.id, k.subject_id, k.source_document, k.chunk_index, k.title,
               k.content, k.metadata, k.created_at,
               1 - (k.embedding <=> query_embedding) AS similarity
        FROM knowledge_chunks k
        WHERE k.subject_id = filter_subject_id
          AND k.embedding IS NOT NULL
          AND 1 - (k.embedding <=> query_embedding) >= match_threshold
        ORDER BY k.embedding <=> query_embedding
        LIMIT match_count;
    $$;

    CREATE TABLE IF NOT EXISTS quizzes (
        id UUID PRIMARY KEY,
        subject_id TEXT NOT NULL,
        faculty_id TEXT NOT NULL,
        title TEXT NOT NULL,
        topic TEXT NOT NULL,
        difficulty TEXT NOT NULL DEFAULT '',
        questions JSONB NOT NULL,
        is_published BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS quiz_attempts (
        id UUID PRIMARY KEY,
        quiz_id UUID NOT NULL REFERENCES quizzes (id),
        student_id TEXT NOT NULL,
        answers JSONB NOT NULL,
        score INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
        correct_count INTEGER NOT NULL,
        total_questions INTEGER NOT NULL,
        feedback JSONB NOT NULL,
        completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    `, embeddingDim)

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) InsertChunks(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin chunk insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := insertPostgresChunks(ctx, tx, chunks); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunk insert: %w", err)
	}
	return len(chunks), nil
}

func insertPostgresChunks(ctx context.Context, tx *sql.Tx, chunks []Chunk) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO knowledge_chunks
        (id, subject_id, source_document, chunk_index, title, content, embedding, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
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

		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pgvector.NewVector(c.Embedding)
		}

		if _, err := stmt.ExecContext(ctx, c.ID, c.SubjectID, c.SourceDocument, c.ChunkIndex, c.Title, c.Content, embedding, c.Metadata, now); err != nil {
			return fmt.Errorf("failed to execute chunk insert (index %d): %w", c.ChunkIndex, err)
		}
	}

	return nil
}

// ReplaceDocument deletes the document's existing chunks and inserts the new
// set in one transaction.
func (s *PostgresStore) ReplaceDocument(ctx context.Context, sourceDocument, subjectID string, chunks []Chunk) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin document replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, "DELETE FROM knowledge_chunks WHERE source_document = $1 AND subject_id = $2", sourceDocument, subjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", sourceDocument, err)
	}
	deleted, _ := res.RowsAffected()

	if err := insertPostgresChunks(ctx, tx, chunks); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit document replace: %w", err)
	}
	return deleted, nil
}

func (s *PostgresStore) SimilaritySearch(ctx context.Context, embedding []float32, subjectID string, threshold float64, limit int) ([]ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, source_document, chunk_index, title, content, metadata, created_at, similarity
         FROM match_embeddings($1, $2, $3, $4)`,
		pgvector.NewVector(embedding), subjectID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("match_embeddings failed: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.SubjectID, &sc.SourceDocument, &sc.ChunkIndex, &sc.Title, &sc.Content, &sc.Metadata, &sc.CreatedAt, &sc.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		scored = append(scored, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate match rows: %w", err)
	}
	return scored, nil
}

func (s *PostgresStore) SearchContent(ctx context.Context, subjectID string, patterns []string, limit int) ([]Chunk, error) {
	query := `SELECT id, subject_id, source_document, chunk_index, title, content, metadata, created_at
        FROM knowledge_chunks WHERE subject_id = $1`
	args := []any{subjectID}

	if len(patterns) > 0 {
		clauses := make([]string, len(patterns))
		for i, p := range patterns {
			args = append(args, p)
			clauses[i] = fmt.Sprintf(`content ILIKE $%d ESCAPE '\'`, len(args))
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY chunk_index ASC, source_document ASC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.SubjectID, &c.SourceDocument, &c.ChunkIndex, &c.Title, &c.Content, &c.Metadata, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge_chunks row: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, sourceDocument, subjectID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_chunks WHERE source_document = $1 AND subject_id = $2", sourceDocument, subjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", sourceDocument, err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, subjectID string) ([]DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_document, COUNT(*), MIN(created_at)
        FROM knowledge_chunks WHERE subject_id = $1 GROUP BY source_document ORDER BY source_document`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentSummary
	for rows.Next() {
		var doc DocumentSummary
		if err := rows.Scan(&doc.SourceDocument, &doc.ChunkCount, &doc.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) CreateQuiz(ctx context.Context, quiz *Quiz) error {
	questionsJSON, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}
	quiz.ID = uuid.NewString()
	quiz.CreatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quizzes (id, subject_id, faculty_id, title, topic, difficulty, questions, is_published, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		quiz.ID, quiz.SubjectID, quiz.FacultyID, quiz.Title, quiz.Topic, quiz.Difficulty, string(questionsJSON), quiz.IsPublished, quiz.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute quiz insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuiz(ctx context.Context, quizID string) (*Quiz, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+quizColumns+" FROM quizzes WHERE id = $1", quizID)
	quiz, err := scanQuiz(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	return quiz, nil
}

func (s *PostgresStore) ListQuizzes(ctx context.Context, subjectID string, publishedOnly bool) ([]Quiz, error) {
	query := "SELECT " + quizColumns + " FROM quizzes WHERE subject_id = $1"
	if publishedOnly {
		query += " AND is_published"
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

func (s *PostgresStore) PublishQuiz(ctx context.Context, quizID string) error {
	if _, err := uuid.Parse(quizID); err != nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, "UPDATE quizzes SET is_published = TRUE WHERE id = $1", quizID)
	if err != nil {
		return fmt.Errorf("failed to execute quiz publish: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateAttempt(ctx context.Context, attempt *QuizAttempt) error {
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
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		attempt.ID, attempt.QuizID, attempt.StudentID, string(answersJSON), attempt.Score,
		attempt.CorrectCount, attempt.TotalQuestions, string(feedbackJSON), attempt.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to execute attempt insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttemptsByStudent(ctx context.Context, studentID, subjectID string) ([]QuizAttempt, error) {
	query := "SELECT " + attemptColumns + " FROM quiz_attempts a JOIN quizzes q ON q.id = a.quiz_id WHERE a.student_id = $1"
	args := []any{studentID}
	if subjectID != "" {
		query += " AND q.subject_id = $2"
		args = append(args, subjectID)
	}
	query += " ORDER BY a.completed_at DESC"
	return queryAttempts(ctx, s.db, query, args...)
}

func (s *PostgresStore) ListAttemptsByQuiz(ctx context.Context, quizID string) ([]QuizAttempt, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return nil, nil
	}
	query := "SELECT " + attemptColumns + " FROM quiz_attempts a JOIN quizzes q ON q.id = a.quiz_id WHERE a.quiz_id = $1 ORDER BY a.completed_at DESC"
	return queryAttempts(ctx, s.db, query, quizID)
}
