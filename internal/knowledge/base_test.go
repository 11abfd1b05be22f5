package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/scholar/internal/storage"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubBackend struct {
	records []json.RawMessage
	fail    bool
}

func (b *stubBackend) Load(context.Context) ([]json.RawMessage, error) { return b.records, nil }

func (b *stubBackend) Save(_ context.Context, records []json.RawMessage) error {
	if b.fail {
		return errors.New("write failed")
	}
	b.records = records
	return nil
}

func newFileBase(t *testing.T, path string, opts ...Option) *Base {
	t.Helper()
	f, err := storage.NewJSONFile(path)
	if err != nil {
		t.Fatalf("NewJSONFile: %v", err)
	}
	b, err := New(context.Background(), storage.NewList[Entry]("knowledge_base", f, storage.OnCorruptEmpty), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestAdd_StampsAndPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "knowledge_base.json")
	now := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)

	b := newFileBase(t, path, WithClock(fixedClock{now}))
	if err := b.Add(ctx, Entry{Topic: "Cells", Content: "Basic unit of life", Timestamp: time.Unix(1, 0)}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reloaded := newFileBase(t, path)
	got := reloaded.All()
	if len(got) != 1 {
		t.Fatalf("len(All()) = %d, want 1", len(got))
	}
	if got[0].Topic != "Cells" {
		t.Errorf("Topic = %q, want %q", got[0].Topic, "Cells")
	}
	if !got[0].Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, now)
	}
}

func TestAddAll_PreservesOrder(t *testing.T) {
	b := newFileBase(t, filepath.Join(t.TempDir(), "kb.json"))
	in := []Entry{{Topic: "a", Content: "1"}, {Topic: "b", Content: "2"}, {Topic: "c", Content: "3"}}
	if err := b.AddAll(context.Background(), in); err != nil {
		t.Fatalf("AddAll: %v", err)
	}
	got := b.All()
	for i := range in {
		if got[i].Topic != in[i].Topic {
			t.Errorf("got[%d].Topic = %q, want %q", i, got[i].Topic, in[i].Topic)
		}
	}
	if b.Len() != 3 {
		t.Errorf("Len() = %d, want 3", b.Len())
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	b := newFileBase(t, filepath.Join(t.TempDir(), "kb.json"))
	entries := []Entry{
		{Topic: "Explain Photosynthesis", Content: "Plants convert light"},
		{Topic: "What is TCP", Content: "A transport protocol"},
		{Topic: "Define osmosis", Content: "Movement of water through membranes"},
	}
	if err := b.AddAll(ctx, entries); err != nil {
		t.Fatalf("AddAll: %v", err)
	}

	if got := b.Search("PHOTO"); len(got) != 1 || got[0].Topic != "Explain Photosynthesis" {
		t.Errorf("Search(PHOTO) = %+v", got)
	}
	if got := b.Search("water"); len(got) != 1 || got[0].Topic != "Define osmosis" {
		t.Errorf("Search(water) matched %+v, want content match", got)
	}
	if got := b.Search(""); len(got) != 3 {
		t.Errorf("Search(\"\") returned %d entries, want 3", len(got))
	}
	if got := b.Search("quantum"); got == nil || len(got) != 0 {
		t.Errorf("Search(quantum) = %v, want empty non-nil", got)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	b := newFileBase(t, filepath.Join(t.TempDir(), "kb.json"))
	if err := b.Add(ctx, Entry{Topic: "t", Content: "c"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := b.All(); len(got) != 0 {
		t.Errorf("All() after Clear = %+v", got)
	}
}

func TestAdd_SaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	sb := &stubBackend{}
	b, err := New(ctx, storage.NewList[Entry]("knowledge_base", sb, storage.OnCorruptEmpty))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Add(ctx, Entry{Topic: "kept", Content: "c"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	sb.fail = true
	if err := b.Add(ctx, Entry{Topic: "lost", Content: "c"}); err == nil {
		t.Fatal("expected save error")
	}
	if got := b.All(); len(got) != 1 || got[0].Topic != "kept" {
		t.Errorf("All() = %+v, want only the first entry", got)
	}
}

func TestNew_RejectsMalformedEntries(t *testing.T) {
	sb := &stubBackend{records: []json.RawMessage{
		json.RawMessage(`{"topic":"t","content":"c","question":"q","answer":"a","timestamp":"2024-01-01T00:00:00Z"}`),
		json.RawMessage(`{"topic":"no content"}`),
		json.RawMessage(`"string"`),
	}}
	b, err := New(context.Background(), storage.NewList[Entry]("knowledge_base", sb, storage.OnCorruptEmpty))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
	if r := b.LoadReport(); r.Rejected != 2 || r.Loaded != 1 {
		t.Errorf("LoadReport() = %+v, want loaded=1 rejected=2", r)
	}
}

func TestWithMaxEntries(t *testing.T) {
	b := newFileBase(t, filepath.Join(t.TempDir(), "kb.json"), WithMaxEntries(2))
	in := []Entry{{Topic: "a", Content: "1"}, {Topic: "b", Content: "2"}, {Topic: "c", Content: "3"}}
	if err := b.AddAll(context.Background(), in); err != nil {
		t.Fatalf("AddAll: %v", err)
	}
	got := b.All()
	if len(got) != 2 || got[0].Topic != "b" || got[1].Topic != "c" {
		t.Errorf("All() = %+v, want [b c]", got)
	}
}

func TestNew_LoadsZonelessTimestamps(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "knowledge_base.json")
	legacy := `[{"topic": "Explain osmosis", "content": "Water moves across a membrane.", "question": "Explain osmosis", "answer": "Water moves across a membrane.", "timestamp": "2024-05-01T10:20:30.123456"}]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	b := newFileBase(t, path)
	if r := b.LoadReport(); r.Loaded != 1 || r.Rejected != 0 {
		t.Fatalf("LoadReport() = %+v, want 1 loaded and none rejected", r)
	}
	if err := b.Add(ctx, Entry{Topic: "Cells", Content: "Basic unit of life"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := newFileBase(t, path).All()
	if len(got) != 2 || got[0].Topic != "Explain osmosis" || got[1].Topic != "Cells" {
		t.Fatalf("All() after reload = %+v", got)
	}
	want := time.Date(2024, 5, 1, 10, 20, 30, 123456000, time.Local)
	if !got[0].Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, want)
	}
}

func TestAdd_Concurrent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "knowledge_base.json")
	b := newFileBase(t, path)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := Entry{Topic: "topic " + strconv.Itoa(i), Content: "content"}
			if err := b.Add(ctx, e); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Add: %v", err)
	}

	if got := b.Len(); got != n {
		t.Errorf("Len() = %d, want %d", got, n)
	}
	if got := newFileBase(t, path).Len(); got != n {
		t.Errorf("Len() after reload = %d, want %d", got, n)
	}
}
