package main

import (
	"fmt"
	"strings"

	"github.com/campuslabs/socratic-tutor/internal/core"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	askSubject string
	askMastery float64
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the tutor a question from the terminal",
	Long: `Run one question through the tutoring pipeline and print the Socratic
reply with the strategy that was used and the curriculum sources.

Example:
  tutor ask --subject bio-101 --mastery 0.3 "Why do cells need ATP?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSubject, "subject", "", "Subject to answer from (required)")
	askCmd.Flags().Float64Var(&askMastery, "mastery", 0.5, "Student mastery score between 0 and 1")
	_ = askCmd.MarkFlagRequired("subject")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.tutor.Ask(cmd.Context(), core.AskRequest{
		Query:        strings.Join(args, " "),
		SubjectID:    askSubject,
		MasteryScore: askMastery,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	label := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)

	if resp.FlagForReview {
		color.New(color.FgYellow).Fprintln(out, resp.Response)
	} else {
		fmt.Fprintln(out, resp.Response)
	}
	fmt.Fprintln(out)
	label.Fprint(out, "intent: ")
	fmt.Fprintf(out, "%s  ", resp.Intent)
	label.Fprint(out, "strategy: ")
	fmt.Fprintf(out, "%s  ", resp.Strategy)
	label.Fprint(out, "confidence: ")
	fmt.Fprintln(out, resp.Confidence)

	for i, s := range resp.Sources {
		label.Fprintf(out, "[%d] %s ", i+1, s.SourceDocument)
		dim.Fprintf(out, "(%.2f) %s\n", s.Relevance, s.Snippet)
	}
	return nil
}
