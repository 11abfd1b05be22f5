package knowledge

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/scholar/internal/storage"
)

const (
	maxTopicRunes   = 100
	maxContentRunes = 300
	minAnswerRunes  = 50
)

// learningPhrases mark a question as asking for an explanation.
var learningPhrases = []string{"explain", "what is", "define", "describe", "how does", "why"}

// Entry is one piece of retained study material.
type Entry struct {
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON accepts timestamps with or without a zone offset.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	aux := struct {
		*plain
		Timestamp string `json:"timestamp"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := storage.ParseTimestamp(aux.Timestamp)
	if err != nil {
		return err
	}
	e.Timestamp = ts
	return nil
}

// Validate reports whether e can be loaded back into the knowledge base.
func (e Entry) Validate() error {
	if e.Topic == "" {
		return errors.New("entry has no topic")
	}
	if e.Content == "" {
		return errors.New("entry has no content")
	}
	return nil
}

// Extract decides whether a question/answer pair is worth keeping. It accepts
// questions containing a learning phrase whose answer is longer than 50 characters.
// The returned entry has no timestamp; Base.Add stamps it.
func Extract(question, answer string) (Entry, bool) {
	q := strings.ToLower(question)
	matched := false
	for _, p := range learningPhrases {
		if strings.Contains(q, p) {
			matched = true
			break
		}
	}
	if !matched || utf8.RuneCountInString(answer) <= minAnswerRunes {
		return Entry{}, false
	}
	return Entry{
		Topic:    Truncate(question, maxTopicRunes),
		Content:  Truncate(answer, maxContentRunes),
		Question: question,
		Answer:   answer,
	}, true
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
