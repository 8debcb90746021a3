package main

import (
	"fmt"
	"os"

	"github.com/campuslabs/socratic-tutor/internal/ingest"
	"github.com/spf13/cobra"
)

var ingestSubject string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file-or-directory>",
	Short: "Index curriculum documents for a subject",
	Long: `Chunk, embed and store a text or markdown file, or every .md and .txt
file under a directory. Re-ingesting a document replaces its previous version.

Examples:
  tutor ingest --subject bio-101 notes/cells.md
  tutor ingest --subject bio-101 notes/`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSubject, "subject", "", "Subject the documents belong to (required)")
	_ = ingestCmd.MarkFlagRequired("subject")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var results []ingest.Result
	if info.IsDir() {
		results, err = a.ingestor.IngestDir(cmd.Context(), path, ingestSubject)
	} else {
		var res *ingest.Result
		res, err = a.ingestor.IngestFile(cmd.Context(), path, ingestSubject)
		if res != nil {
			results = append(results, *res)
		}
	}
	if err != nil {
		return fmt.Errorf("data ingestion failed: %w", err)
	}

	out := cmd.OutOrStdout()
	total := 0
	for _, r := range results {
		total += r.ChunksCreated
		fmt.Fprintf(out, "%s: %d chunks (%d replaced)\n", r.SourceDocument, r.ChunksCreated, r.ChunksReplaced)
	}
	fmt.Fprintf(out, "Ingested %d documents, %d chunks into %s\n", len(results), total, ingestSubject)
	return nil
}
