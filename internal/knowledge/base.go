package knowledge

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/scholar/internal/storage"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Base is the knowledge base, persisted after every change.
type Base struct {
	list       *storage.List[Entry]
	clock      Clock
	logger     *slog.Logger
	maxEntries int

	mu      sync.RWMutex
	entries []Entry
	report  storage.LoadReport
}

// Option configures a Base.
type Option func(*Base)

// WithClock sets the clock used to stamp entries.
func WithClock(c Clock) Option {
	return func(b *Base) { b.clock = c }
}

// WithMaxEntries keeps at most n entries, dropping the oldest after an append.
// Zero or negative means unlimited.
func WithMaxEntries(n int) Option {
	return func(b *Base) { b.maxEntries = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Base) { b.logger = l }
}

// New loads the knowledge base from list.
func New(ctx context.Context, list *storage.List[Entry], opts ...Option) (*Base, error) {
	b := &Base{
		list:   list,
		clock:  realClock{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}

	entries, report, err := list.Load(ctx)
	if err != nil {
		return nil, err
	}
	if report.Rejected > 0 {
		b.logger.Warn("dropped malformed knowledge entries", "rejected", report.Rejected, "loaded", report.Loaded)
	}
	b.entries = entries
	b.report = report
	return b, nil
}

// Add stamps e with the current time and appends it.
func (b *Base) Add(ctx context.Context, e Entry) error {
	return b.AddAll(ctx, []Entry{e})
}

// AddAll appends entries in order with a single save.
// On a failed save the knowledge base is left as it was.
func (b *Base) AddAll(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	next := make([]Entry, len(b.entries), len(b.entries)+len(entries))
	copy(next, b.entries)
	for _, e := range entries {
		e.Timestamp = now
		next = append(next, e)
	}
	if b.maxEntries > 0 && len(next) > b.maxEntries {
		next = next[len(next)-b.maxEntries:]
	}

	if err := b.list.Save(ctx, next); err != nil {
		return err
	}
	b.entries = next
	return nil
}

// All returns every entry in insertion order.
func (b *Base) All() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneEntries(b.entries)
}

// Len returns the number of entries.
func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Clear removes every entry.
func (b *Base) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.list.Clear(ctx); err != nil {
		return err
	}
	b.entries = []Entry{}
	return nil
}

// Search returns entries whose topic or content contains query, ignoring case.
func (b *Base) Search(query string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q := strings.ToLower(query)
	out := []Entry{}
	for _, e := range b.entries {
		if strings.Contains(strings.ToLower(e.Topic), q) || strings.Contains(strings.ToLower(e.Content), q) {
			out = append(out, e)
		}
	}
	return out
}

// LoadReport describes how the knowledge base was loaded.
func (b *Base) LoadReport() storage.LoadReport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.report
}

func cloneEntries(src []Entry) []Entry {
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}
