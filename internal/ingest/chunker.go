package ingest

import (
	"regexp"
	"strings"
)

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	pageMarker     = regexp.MustCompile(`\[Page \d+\]\s*\d*`)
)

// Piece is one chunk of a document before embedding.
type Piece struct {
	Index   int
	Title   string // nearest markdown heading above the chunk, if any
	Content string
}

// Chunker packs paragraphs into chunks of roughly Size characters. When a
// chunk is closed its last Overlap words are carried into the next one.
type Chunker struct {
	Size    int
	Overlap int
}

// CleanText collapses whitespace runs and drops page markers and NUL bytes
// left behind by text extraction.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = pageMarker.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

func (c Chunker) Split(text string) []Piece {
	var (
		pieces       []Piece
		current      string
		heading      string
		currentTitle string
	)

	emit := func() {
		content := strings.TrimSpace(current)
		if content == "" {
			return
		}
		pieces = append(pieces, Piece{Index: len(pieces), Title: currentTitle, Content: content})
	}

	for _, raw := range paragraphBreak.Split(text, -1) {
		if h, ok := markdownHeading(raw); ok {
			heading = h
		}
		para := CleanText(raw)
		if para == "" {
			continue
		}

		if current != "" && len(current)+len(para) > c.Size {
			emit()
			current = joinNonEmpty(c.tail(current), para)
			currentTitle = heading
			continue
		}
		if current == "" {
			currentTitle = heading
		}
		current = joinNonEmpty(current, para)
	}
	emit()

	return pieces
}

// tail returns the last Overlap words of s.
func (c Chunker) tail(s string) string {
	if c.Overlap <= 0 {
		return ""
	}
	words := strings.Fields(s)
	if len(words) > c.Overlap {
		words = words[len(words)-c.Overlap:]
	}
	return strings.Join(words, " ")
}

func markdownHeading(paragraph string) (string, bool) {
	line := strings.TrimSpace(paragraph)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if !strings.HasPrefix(line, "#") {
		return "", false
	}
	title := strings.TrimSpace(strings.TrimLeft(line, "#"))
	return title, title != ""
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
