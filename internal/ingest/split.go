package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/scholar/internal/knowledge"
)

const (
	maxTopicRunes    = 100
	maxContentRunes  = 300
	minParagraphRune = 50
)

var blankLine = regexp.MustCompile(`\n\s*\n`)

// CleanText collapses runs of whitespace into single spaces and trims the ends.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Paragraphs splits text on blank lines. Paragraphs of 50 characters or fewer
// are merged into the one that follows; a short trailing paragraph is merged
// into the one before it.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	pending := ""
	for _, raw := range blankLine.Split(text, -1) {
		p := CleanText(raw)
		if p == "" {
			continue
		}
		if pending != "" {
			p = pending + " " + p
			pending = ""
		}
		if utf8.RuneCountInString(p) <= minParagraphRune {
			pending = p
			continue
		}
		out = append(out, p)
	}
	if pending != "" {
		if len(out) > 0 {
			out[len(out)-1] += " " + pending
		} else {
			out = append(out, pending)
		}
	}
	return out
}

// Entries turns a document into knowledge entries, one per paragraph.
// A document whose whole text is 50 characters or fewer yields nothing.
func Entries(title, text string) []knowledge.Entry {
	title = CleanText(title)
	var entries []knowledge.Entry
	for _, p := range Paragraphs(text) {
		if utf8.RuneCountInString(p) <= minParagraphRune {
			continue
		}
		topic := title
		if topic == "" {
			topic = p
		}
		entries = append(entries, knowledge.Entry{
			Topic:    knowledge.Truncate(topic, maxTopicRunes),
			Content:  knowledge.Truncate(p, maxContentRunes),
			Question: title,
			Answer:   p,
		})
	}
	return entries
}
