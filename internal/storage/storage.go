package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrCorrupt is returned by a Backend whose persisted data cannot be parsed.
var ErrCorrupt = errors.New("corrupt storage")

// Backend persists one ordered sequence of JSON records.
// Save always replaces the whole sequence.
type Backend interface {
	Load(ctx context.Context) ([]json.RawMessage, error)
	Save(ctx context.Context, records []json.RawMessage) error
}

// Record is implemented by every type stored through a List.
type Record interface {
	Validate() error
}

// CorruptPolicy decides what Load does when the backend cannot be read.
type CorruptPolicy string

const (
	// OnCorruptEmpty logs the failure and continues with an empty sequence.
	OnCorruptEmpty CorruptPolicy = "empty"
	// OnCorruptFail returns the failure to the caller.
	OnCorruptFail CorruptPolicy = "fail"
)

// ParseCorruptPolicy validates a policy name. The empty string selects OnCorruptEmpty.
func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch CorruptPolicy(s) {
	case "", OnCorruptEmpty:
		return OnCorruptEmpty, nil
	case OnCorruptFail:
		return OnCorruptFail, nil
	default:
		return "", fmt.Errorf("unknown corrupt policy %q (want %q or %q)", s, OnCorruptEmpty, OnCorruptFail)
	}
}

// LoadReport describes the outcome of a List.Load call.
type LoadReport struct {
	Loaded   int  `json:"loaded"`
	Rejected int  `json:"rejected"`
	Corrupt  bool `json:"corrupt"`
}

// List is a typed view over a Backend. Records that fail to decode or to
// validate are dropped at load time and counted in the LoadReport.
type List[T Record] struct {
	name    string
	backend Backend
	policy  CorruptPolicy
	logger  *slog.Logger
}

// NewList wraps backend. name is only used in logs and error messages.
func NewList[T Record](name string, backend Backend, policy CorruptPolicy) *List[T] {
	if policy == "" {
		policy = OnCorruptEmpty
	}
	return &List[T]{
		name:    name,
		backend: backend,
		policy:  policy,
		logger:  slog.Default(),
	}
}

// Name returns the list name.
func (l *List[T]) Name() string {
	return l.name
}

// Load reads the full sequence in stored order.
func (l *List[T]) Load(ctx context.Context) ([]T, LoadReport, error) {
	raw, err := l.backend.Load(ctx)
	if err != nil {
		if l.policy == OnCorruptFail {
			return nil, LoadReport{Corrupt: errors.Is(err, ErrCorrupt)}, fmt.Errorf("loading %s: %w", l.name, err)
		}
		l.logger.Warn("storage unreadable, starting empty", "list", l.name, "error", err)
		return []T{}, LoadReport{Corrupt: true}, nil
	}

	var report LoadReport
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var rec T
		if err := json.Unmarshal(r, &rec); err != nil {
			report.Rejected++
			l.logger.Warn("rejecting undecodable record", "list", l.name, "index", i, "error", err)
			continue
		}
		if err := rec.Validate(); err != nil {
			report.Rejected++
			l.logger.Warn("rejecting invalid record", "list", l.name, "index", i, "error", err)
			continue
		}
		out = append(out, rec)
	}
	report.Loaded = len(out)
	return out, report, nil
}

// Save replaces the stored sequence with records.
func (l *List[T]) Save(ctx context.Context, records []T) error {
	raw := make([]json.RawMessage, len(records))
	for i, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding %s record %d: %w", l.name, i, err)
		}
		raw[i] = b
	}
	if err := l.backend.Save(ctx, raw); err != nil {
		return fmt.Errorf("saving %s: %w", l.name, err)
	}
	return nil
}

// Clear stores an empty sequence.
func (l *List[T]) Clear(ctx context.Context) error {
	return l.Save(ctx, nil)
}
