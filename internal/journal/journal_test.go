package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	worker := uuid.New()

	for i, line := range []string{"one", "two", "three"} {
		ev := &Event{WorkerID: worker, Stream: StreamStdout, Line: line, Ts: int64(1000 + i)}
		if err := j.Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if ev.ID == 0 {
			t.Error("Append did not backfill the row id")
		}
	}

	events, err := j.Recent(ctx, worker, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Line != "one" || events[2].Line != "three" {
		t.Errorf("order wrong: %q .. %q", events[0].Line, events[2].Line)
	}
	if events[0].WorkerID != worker || events[0].Stream != StreamStdout {
		t.Errorf("event = %+v", events[0])
	}
}

func TestRecent_LimitKeepsNewest(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	worker := uuid.New()
	for i := 0; i < 10; i++ {
		j.Append(ctx, &Event{WorkerID: worker, Stream: StreamStdout, Line: string(rune('a' + i))})
	}
	events, err := j.Recent(ctx, worker, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Line != "h" || events[2].Line != "j" {
		t.Errorf("limit kept wrong window: %q .. %q", events[0].Line, events[2].Line)
	}
}

func TestRecent_IsolatedPerWorker(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	w1, w2 := uuid.New(), uuid.New()
	j.Append(ctx, &Event{WorkerID: w1, Stream: StreamStdout, Line: "w1 line"})
	j.Append(ctx, &Event{WorkerID: w2, Stream: StreamStderr, Line: "w2 line"})

	events, err := j.Recent(ctx, w1, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 || events[0].Line != "w1 line" {
		t.Errorf("w1 events = %+v", events)
	}
}

func TestPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	worker := uuid.New()

	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	j.Append(ctx, &Event{WorkerID: worker, Stream: StreamSystem, Line: "stale", Ts: old})
	j.Append(ctx, &Event{WorkerID: worker, Stream: StreamSystem, Line: "fresh"})

	n, err := j.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	events, _ := j.Recent(ctx, worker, 0)
	if len(events) != 1 || events[0].Line != "fresh" {
		t.Errorf("remaining = %+v", events)
	}
}
