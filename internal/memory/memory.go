package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kalambet/scholar/internal/storage"
)

// Memory is the conversation history, persisted after every change.
type Memory struct {
	list     *storage.List[Turn]
	clock    Clock
	logger   *slog.Logger
	maxTurns int

	mu     sync.RWMutex
	turns  []Turn
	report storage.LoadReport
}

// Option configures a Memory.
type Option func(*Memory)

// WithClock sets the clock used to stamp turns.
func WithClock(c Clock) Option {
	return func(m *Memory) { m.clock = c }
}

// WithMaxTurns keeps at most n turns, dropping the oldest after an append.
// Zero or negative means unlimited.
func WithMaxTurns(n int) Option {
	return func(m *Memory) { m.maxTurns = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) { m.logger = l }
}

// New loads the history from list.
func New(ctx context.Context, list *storage.List[Turn], opts ...Option) (*Memory, error) {
	m := &Memory{
		list:   list,
		clock:  realClock{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}

	turns, report, err := list.Load(ctx)
	if err != nil {
		return nil, err
	}
	if report.Rejected > 0 {
		m.logger.Warn("dropped malformed turns from history", "rejected", report.Rejected, "loaded", report.Loaded)
	}
	m.turns = turns
	m.report = report
	return m, nil
}

// AddMessage appends a turn stamped with the current time.
func (m *Memory) AddMessage(ctx context.Context, role, content string) error {
	return m.AddTurn(ctx, Turn{Role: role, Content: content})
}

// AddTurn appends t, keeping its model tag. The timestamp is always set here.
// On a failed save the history is left as it was.
func (m *Memory) AddTurn(ctx context.Context, t Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.Timestamp = m.clock.Now()
	next := make([]Turn, len(m.turns), len(m.turns)+1)
	copy(next, m.turns)
	next = append(next, t)
	if m.maxTurns > 0 && len(next) > m.maxTurns {
		next = next[len(next)-m.maxTurns:]
	}

	if err := m.list.Save(ctx, next); err != nil {
		return err
	}
	m.turns = next
	return nil
}

// Recent returns the last limit turns in chronological order.
func (m *Memory) Recent(limit int) []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || len(m.turns) == 0 {
		return []Turn{}
	}
	start := 0
	if len(m.turns) > limit {
		start = len(m.turns) - limit
	}
	return cloneTurns(m.turns[start:])
}

// All returns the full history.
func (m *Memory) All() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneTurns(m.turns)
}

// Clear empties the history.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.list.Clear(ctx); err != nil {
		return err
	}
	m.turns = []Turn{}
	return nil
}

// Summary counts all, user and assistant turns.
func (m *Memory) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{TotalMessages: len(m.turns)}
	for _, t := range m.turns {
		switch t.Role {
		case RoleUser:
			s.UserMessages++
		case RoleAssistant:
			s.AssistantMessages++
		}
	}
	return s
}

// LoadReport describes how the history was loaded.
func (m *Memory) LoadReport() storage.LoadReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.report
}

func cloneTurns(src []Turn) []Turn {
	out := make([]Turn, len(src))
	copy(out, src)
	return out
}
