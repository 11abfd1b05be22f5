package memory

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/kalambet/scholar/internal/storage"
)

// Roles written by the chat flow. Other values are stored as-is.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one chat message.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
}

// UnmarshalJSON accepts timestamps with or without a zone offset.
func (t *Turn) UnmarshalJSON(data []byte) error {
	type plain Turn
	aux := struct {
		*plain
		Timestamp string `json:"timestamp"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := storage.ParseTimestamp(aux.Timestamp)
	if err != nil {
		return err
	}
	t.Timestamp = ts
	return nil
}

// Validate reports whether t can be loaded back into history.
func (t Turn) Validate() error {
	if t.Role == "" {
		return errors.New("turn has no role")
	}
	return nil
}

// Summary holds message counts over the whole history.
type Summary struct {
	TotalMessages     int `json:"total_messages"`
	UserMessages      int `json:"user_messages"`
	AssistantMessages int `json:"assistant_messages"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
