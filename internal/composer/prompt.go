package composer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/scholar/internal/knowledge"
	"github.com/kalambet/scholar/internal/memory"
)

const (
	systemPreamble = "You are an academic AI assistant. Help students clearly and accurately.\n\n"
	questionPrefix = "\n\nUser Question: "

	// contextWindow is how many trailing turns and entries go into the context.
	contextWindow = 5
)

// BuildContext renders the preamble followed by the last five knowledge
// entries and the last five conversation turns. Empty sections are omitted.
func BuildContext(history []memory.Turn, entries []knowledge.Entry) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)

	if len(entries) > 0 {
		sb.WriteString("Knowledge Base:\n")
		for _, e := range tail(entries, contextWindow) {
			sb.WriteString("- ")
			sb.WriteString(e.Topic)
			sb.WriteString(": ")
			sb.WriteString(e.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(history) > 0 {
		sb.WriteString("Recent Conversation:\n")
		for _, t := range tail(history, contextWindow) {
			sb.WriteString(displayRole(t.Role))
			sb.WriteString(": ")
			sb.WriteString(t.Content)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// Prompt appends the user's question to a context built by BuildContext.
func Prompt(context, message string) string {
	return context + questionPrefix + message
}

// displayRole upper-cases the first letter and lower-cases the rest.
// An empty role is shown as "User".
func displayRole(role string) string {
	if role == "" {
		return "User"
	}
	r, size := utf8.DecodeRuneInString(role)
	return string(unicode.ToUpper(r)) + strings.ToLower(role[size:])
}

func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
