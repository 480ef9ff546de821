package scheduler

import (
	"log/slog"
	"testing"
	"time"

	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/internal/notify"
	"github.com/fleetworks/fleetd/internal/planner"
	"github.com/fleetworks/fleetd/internal/store"
)

func testScheduler(cfg Config) *Scheduler {
	log := slog.New(slog.DiscardHandler)
	b := bus.New(log)
	stores := &store.Stores{}
	pl := planner.New(planner.Config{}, stores, nil, b, log)
	return New(cfg, stores, pl, b, &notify.LogNotifier{Log: log}, log)
}

func TestValidateCron(t *testing.T) {
	s := testScheduler(Config{})
	valid := []string{"* * * * *", "0 3 * * *", "*/15 * * * 1-5", "@daily"}
	for _, expr := range valid {
		if err := s.ValidateCron(expr); err != nil {
			t.Errorf("ValidateCron(%q) = %v", expr, err)
		}
	}
	invalid := []string{"", "not cron", "61 * * * *", "* * * *"}
	for _, expr := range invalid {
		if err := s.ValidateCron(expr); err == nil {
			t.Errorf("ValidateCron(%q) accepted", expr)
		}
	}
}

func TestNextRun_Future(t *testing.T) {
	s := testScheduler(Config{})
	next, err := s.NextRun("* * * * *")
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	now := time.Now().UnixMilli()
	if next <= now {
		t.Errorf("next run %d is not in the future (now %d)", next, now)
	}
	if next > now+2*time.Minute.Milliseconds() {
		t.Errorf("every-minute cron scheduled %dms out", next-now)
	}
}

func TestGate_CountsOnlyAdmittedFlights(t *testing.T) {
	s := testScheduler(Config{MaxConcurrentTasks: 2})

	if !s.Gate() {
		t.Fatal("empty scheduler should be under capacity")
	}

	// Pending flights (no handle yet) do not consume capacity.
	s.mu.Lock()
	for i := 0; i < 5; i++ {
		f := &flight{ItemID: store.NewID()}
		s.byItem[f.ItemID] = f
	}
	s.mu.Unlock()
	if !s.Gate() {
		t.Error("pending flights must not count against the cap")
	}

	// Admitted flights do.
	s.mu.Lock()
	n := 0
	for _, f := range s.byItem {
		if n == 2 {
			break
		}
		f.Handle = "h"
		n++
	}
	s.mu.Unlock()
	if s.Gate() {
		t.Error("two admitted flights should close a cap of two")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	s := testScheduler(Config{Tick: time.Hour})
	ctx := t.Context()

	s.Start(ctx)
	s.Start(ctx) // second start is a no-op
	if !s.Running() {
		t.Fatal("scheduler should be running")
	}
	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatal("scheduler should be stopped")
	}

	st := s.Status()
	if st["running"] != false {
		t.Errorf("Status = %v", st)
	}
}
