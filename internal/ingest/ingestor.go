package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/campuslabs/socratic-tutor/internal/config"
	"github.com/campuslabs/socratic-tutor/internal/llm"
	"github.com/campuslabs/socratic-tutor/internal/store"
	"go.uber.org/zap"
)

// ErrEmptyDocument is returned when a document yields no chunks.
var ErrEmptyDocument = errors.New("document has no extractable text")

// Document is one curriculum file to be indexed for a subject.
type Document struct {
	SubjectID      string
	SourceDocument string
	Text           string
	Metadata       store.Metadata
}

type Result struct {
	SourceDocument string `json:"source_document"`
	ChunksCreated  int    `json:"chunks_created"`
	ChunksReplaced int64  `json:"chunks_replaced"`
}

// Ingestor chunks, embeds and stores curriculum documents. A document is
// written only after every chunk has been embedded, and replaces any previous
// version of the same document in the subject.
type Ingestor struct {
	store     store.KnowledgeStore
	embedder  llm.Embedder
	chunker   Chunker
	batchSize int
	pause     time.Duration
	logger    *zap.Logger
}

func NewIngestor(ks store.KnowledgeStore, embedder llm.Embedder, rag config.RAGSettings, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		store:     ks,
		embedder:  embedder,
		chunker:   Chunker{Size: rag.ChunkSize, Overlap: rag.ChunkOverlap},
		batchSize: rag.EmbedBatchSize,
		pause:     rag.EmbedBatchPause,
		logger:    logger,
	}
}

func (i *Ingestor) Ingest(ctx context.Context, doc Document) (*Result, error) {
	if doc.SubjectID == "" || doc.SourceDocument == "" {
		return nil, fmt.Errorf("subject and source document are required")
	}

	pieces := i.chunker.Split(doc.Text)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%s: %w", doc.SourceDocument, ErrEmptyDocument)
	}

	texts := make([]string, len(pieces))
	for n, p := range pieces {
		texts[n] = p.Content
	}

	i.logger.Info("Embedding document chunks",
		zap.String("source_document", doc.SourceDocument),
		zap.String("subject_id", doc.SubjectID),
		zap.Int("chunks", len(pieces)))

	embeddings, err := llm.EmbedBatch(ctx, i.embedder, texts, llm.PurposeDocument, i.batchSize, i.pause)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %s: %w", doc.SourceDocument, err)
	}

	chunks := make([]store.Chunk, len(pieces))
	for n, p := range pieces {
		meta := store.Metadata{}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta["chunk_size"] = len(p.Content)

		chunks[n] = store.Chunk{
			SubjectID:      doc.SubjectID,
			SourceDocument: doc.SourceDocument,
			ChunkIndex:     p.Index,
			Title:          p.Title,
			Content:        p.Content,
			Embedding:      embeddings[n],
			Metadata:       meta,
		}
	}

	replaced, err := i.store.ReplaceDocument(ctx, doc.SourceDocument, doc.SubjectID, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", doc.SourceDocument, err)
	}

	i.logger.Info("Ingested document",
		zap.String("source_document", doc.SourceDocument),
		zap.Int("chunks_created", len(chunks)),
		zap.Int64("chunks_replaced", replaced))

	return &Result{SourceDocument: doc.SourceDocument, ChunksCreated: len(chunks), ChunksReplaced: replaced}, nil
}

// IngestFile reads a text or markdown file and indexes it under its base name.
func (i *Ingestor) IngestFile(ctx context.Context, path, subjectID string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file %s: %w", path, err)
	}
	name := filepath.Base(path)
	return i.Ingest(ctx, Document{
		SubjectID:      subjectID,
		SourceDocument: name,
		Text:           string(content),
		Metadata:       store.Metadata{"title": strings.TrimSuffix(name, filepath.Ext(name))},
	})
}

// IngestDir indexes every .md and .txt file under root. Files are processed
// one at a time and the first failure stops the walk.
func (i *Ingestor) IngestDir(ctx context.Context, root, subjectID string) ([]Result, error) {
	var results []Result
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isTextDocument(path) {
			return nil
		}
		res, err := i.IngestFile(ctx, path, subjectID)
		if errors.Is(err, ErrEmptyDocument) {
			i.logger.Warn("Skipping empty document", zap.String("path", path))
			return nil
		}
		if err != nil {
			return err
		}
		results = append(results, *res)
		return nil
	})
	return results, err
}

func isTextDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// ListDocuments reports the indexed documents of a subject with their chunk counts.
func (i *Ingestor) ListDocuments(ctx context.Context, subjectID string) ([]store.DocumentSummary, error) {
	docs, err := i.store.ListDocuments(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents for %s: %w", subjectID, err)
	}
	return docs, nil
}

// DeleteDocument removes every chunk of a document. Deleting a document that
// was never indexed is not an error; the count is zero.
func (i *Ingestor) DeleteDocument(ctx context.Context, sourceDocument, subjectID string) (int64, error) {
	deleted, err := i.store.DeleteDocument(ctx, sourceDocument, subjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", sourceDocument, err)
	}
	i.logger.Info("Deleted document",
		zap.String("source_document", sourceDocument),
		zap.String("subject_id", subjectID),
		zap.Int64("chunks_deleted", deleted))
	return deleted, nil
}
