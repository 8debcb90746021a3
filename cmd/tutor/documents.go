package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteSubject string

var deleteDocumentCmd = &cobra.Command{
	Use:   "delete-document <source-document>",
	Short: "Remove an indexed document from a subject",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteDocument,
}

func init() {
	deleteDocumentCmd.Flags().StringVar(&deleteSubject, "subject", "", "Subject the document belongs to (required)")
	_ = deleteDocumentCmd.MarkFlagRequired("subject")
}

func runDeleteDocument(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	deleted, err := a.ingestor.DeleteDocument(cmd.Context(), args[0], deleteSubject)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("document %s not found in %s", args[0], deleteSubject)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chunks of %s from %s\n", deleted, args[0], deleteSubject)
	return nil
}
