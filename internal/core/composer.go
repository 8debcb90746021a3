package core

import (
	"fmt"
	"strings"
)

const (
	contextSeparator = "\n\n---\n\n"
	snippetLength    = 200
	maxSources       = 3

	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Turn is one message of the dialogue so far. Role "user" is the student,
// anything else is the tutor.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Source struct {
	SourceDocument string  `json:"source_document"`
	Relevance      float64 `json:"relevance"`
	Snippet        string  `json:"snippet"`
}

// ResponseComposer builds the generation prompt for a strategy and packages
// the result with sources and confidence.
type ResponseComposer struct {
	historyTurns        int
	highConfidenceScore float64
}

func NewResponseComposer(historyTurns int, highConfidenceScore float64) *ResponseComposer {
	return &ResponseComposer{historyTurns: historyTurns, highConfidenceScore: highConfidenceScore}
}

// Compose joins the rule preamble, strategy guidance, recent history (oldest
// first) and the current question into one instruction.
func (c *ResponseComposer) Compose(strategy Strategy, context string, history []Turn, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, baseRules, context)
	b.WriteString("\n\n")
	b.WriteString(strategyGuidance(strategy))

	if len(history) > c.historyTurns && c.historyTurns >= 0 {
		history = history[len(history)-c.historyTurns:]
	}
	if len(history) > 0 {
		b.WriteString("\n\nConversation History:\n")
		for i, t := range history {
			if i > 0 {
				b.WriteString("\n")
			}
			role := "Tutor"
			if t.Role == "user" {
				role = "Student"
			}
			fmt.Fprintf(&b, "%s: %s", role, t.Content)
		}
	}

	fmt.Fprintf(&b, "\n\nStudent Question: %s\n\nYour Socratic Response:", query)
	return b.String()
}

// Confidence is high when the best combined score exceeds the configured
// cut-off.
func (c *ResponseComposer) Confidence(results []RankedResult) string {
	var top float64
	for _, r := range results {
		top = max(top, r.CombinedScore)
	}
	if top > c.highConfidenceScore {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}

// AssembleContext formats ranked chunks as numbered, scored source blocks.
func AssembleContext(results []RankedResult) string {
	parts := make([]string, 0, len(results))
	for i, r := range results {
		source := r.SourceDocument
		if source == "" {
			source = "Unknown"
		}
		parts = append(parts, fmt.Sprintf("[Source %d: %s] (Relevance: %.2f)\n%s", i+1, source, r.CombinedScore, r.Content))
	}
	return strings.Join(parts, contextSeparator)
}

// BuildSources returns citations for the top three results.
func BuildSources(results []RankedResult) []Source {
	n := min(len(results), maxSources)
	sources := make([]Source, 0, n)
	for _, r := range results[:n] {
		sources = append(sources, Source{
			SourceDocument: r.SourceDocument,
			Relevance:      r.CombinedScore,
			Snippet:        snippet(r.Content),
		})
	}
	return sources
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) > snippetLength {
		runes = runes[:snippetLength]
	}
	return string(runes) + "..."
}
