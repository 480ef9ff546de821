package supervisor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/pkg/protocol"
)

// --- fakes ---

type fakeWorkerStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]store.Worker
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{rows: make(map[uuid.UUID]store.Worker)}
}

func (f *fakeWorkerStore) InsertWorker(ctx context.Context, w *store.Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[w.ID] = *w
	return nil
}

func (f *fakeWorkerStore) GetWorker(ctx context.Context, id uuid.UUID) (*store.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.rows[id]
	if !ok {
		return nil, store.NotFound("workers.get")
	}
	return &w, nil
}

func (f *fakeWorkerStore) GetWorkerByHandle(ctx context.Context, teamName, handle string) (*store.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.rows {
		if w.TeamName == teamName && w.Handle == handle {
			return &w, nil
		}
	}
	return nil, store.NotFound("workers.get_by_handle")
}

func (f *fakeWorkerStore) ListWorkers(ctx context.Context, teamName string) ([]store.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Worker
	for _, w := range f.rows {
		if teamName == "" || w.TeamName == teamName {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeWorkerStore) UpdateWorker(ctx context.Context, w *store.Worker) error {
	return f.InsertWorker(ctx, w)
}

func (f *fakeWorkerStore) CountLiveWorkers(ctx context.Context, swarmID *uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.rows {
		if w.Live() {
			n++
		}
	}
	return n, nil
}

// state returns the persisted lifecycle state for a worker id.
func (f *fakeWorkerStore) state(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].State
}

type fakeCheckpointStore struct {
	latest *store.Checkpoint
}

func (f *fakeCheckpointStore) CreateCheckpoint(ctx context.Context, c *store.Checkpoint) error {
	return nil
}

func (f *fakeCheckpointStore) GetCheckpoint(ctx context.Context, id uuid.UUID) (*store.Checkpoint, error) {
	return nil, store.NotFound("checkpoints.get")
}

func (f *fakeCheckpointStore) LatestCheckpoint(ctx context.Context, workerHandle string) (*store.Checkpoint, error) {
	if f.latest == nil {
		return nil, store.NotFound("checkpoints.latest")
	}
	return f.latest, nil
}

func (f *fakeCheckpointStore) ListCheckpoints(ctx context.Context, status string, limit int) ([]store.Checkpoint, error) {
	return nil, nil
}

func (f *fakeCheckpointStore) ResolveCheckpoint(ctx context.Context, id uuid.UUID, status string) error {
	return nil
}

type eventSink struct {
	mu     sync.Mutex
	events []bus.Event
}

func (e *eventSink) record(ev bus.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventSink) has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.Name == name {
			return true
		}
	}
	return false
}

type fixture struct {
	super       *Supervisor
	workers     *fakeWorkerStore
	checkpoints *fakeCheckpointStore
	sink        *eventSink
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = t.TempDir()
	}
	f := &fixture{
		workers:     newFakeWorkerStore(),
		checkpoints: &fakeCheckpointStore{},
		sink:        &eventSink{},
	}
	log := slog.New(slog.DiscardHandler)
	b := bus.New(log)
	b.Subscribe("test", f.sink.record)
	stores := &store.Stores{Workers: f.workers, Checkpoints: f.checkpoints}
	// No agent command configured: the memory transport hosts workers.
	f.super = New(cfg, stores, nil, b, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		f.super.Shutdown(ctx)
	})
	return f
}

func (f *fixture) spawn(t *testing.T, handle string) *store.Worker {
	t.Helper()
	w, err := f.super.Spawn(context.Background(), SpawnRequest{
		Handle:     handle,
		TeamName:   "t",
		Role:       "scout",
		WorkingDir: f.super.cfg.WorkRoot,
		DepthLevel: 1,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return w
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- tests ---

func TestSpawn_MemoryTransportBecomesReady(t *testing.T) {
	f := newFixture(t, Config{})
	f.spawn(t, "w1")

	waitFor(t, "worker ready", func() bool {
		w, err := f.super.Worker("t", "w1")
		return err == nil && w.State == store.WorkerStateReady
	})
	w, err := f.super.Worker("t", "w1")
	if err != nil {
		t.Fatalf("Worker: %v", err)
	}
	if w.SessionID == "" {
		t.Error("init event did not capture a session id")
	}
	if w.SpawnMode != store.SpawnModeMemory {
		t.Errorf("spawnMode = %q, want memory", w.SpawnMode)
	}
	if !f.sink.has(protocol.EventWorkerReady) {
		t.Error("worker:ready was not emitted")
	}
}

func TestSpawn_DuplicateHandleRefused(t *testing.T) {
	f := newFixture(t, Config{})
	f.spawn(t, "w1")
	_, err := f.super.Spawn(context.Background(), SpawnRequest{
		Handle: "w1", TeamName: "t", Role: "scout", WorkingDir: f.super.cfg.WorkRoot,
	})
	if err == nil {
		t.Fatal("second spawn with the same handle should fail")
	}
}

func TestSpawn_ConcurrentSameHandleAdmitsOne(t *testing.T) {
	f := newFixture(t, Config{})

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.super.Spawn(context.Background(), SpawnRequest{
				Handle: "w1", TeamName: "t", Role: "scout", WorkingDir: f.super.cfg.WorkRoot,
			})
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("%d concurrent spawns of one handle succeeded, want exactly 1", won)
	}
	if n := f.super.LiveCount(nil); n != 1 {
		t.Errorf("LiveCount = %d, want 1", n)
	}
}

func TestSpawn_WorkingDirOutsideRootRefused(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.super.Spawn(context.Background(), SpawnRequest{
		Handle: "w1", TeamName: "t", Role: "scout", WorkingDir: "/",
	})
	if err == nil {
		t.Fatal("working dir outside the work root should be refused")
	}
}

func TestSendToWorker_RoundTripsThroughWorking(t *testing.T) {
	f := newFixture(t, Config{})
	f.spawn(t, "w1")
	waitFor(t, "worker ready", func() bool {
		w, err := f.super.Worker("t", "w1")
		return err == nil && w.State == store.WorkerStateReady
	})

	if err := f.super.SendToWorker("t", "w1", "do the thing"); err != nil {
		t.Fatalf("SendToWorker: %v", err)
	}
	// The loopback agent answers with a result, returning the worker to
	// ready and emitting worker:result.
	waitFor(t, "result event", func() bool { return f.sink.has(protocol.EventWorkerResult) })
	waitFor(t, "worker ready again", func() bool {
		w, err := f.super.Worker("t", "w1")
		return err == nil && w.State == store.WorkerStateReady
	})

	lines, err := f.super.CaptureOutput("t", "w1", 0)
	if err != nil {
		t.Fatalf("CaptureOutput: %v", err)
	}
	found := false
	for _, l := range lines {
		if strings.Contains(l, "do the thing") {
			found = true
		}
	}
	if !found {
		t.Errorf("ring buffer does not contain the echoed message: %v", lines)
	}
}

func TestDeliverTask_SetsCurrentTask(t *testing.T) {
	f := newFixture(t, Config{})
	f.spawn(t, "w1")
	waitFor(t, "worker ready", func() bool {
		w, err := f.super.Worker("t", "w1")
		return err == nil && w.State == store.WorkerStateReady
	})

	task := &store.Task{ID: "task-ab12c", Subject: "wire the widget", Description: "see notes"}
	if err := f.super.DeliverTask("t", "w1", task); err != nil {
		t.Fatalf("DeliverTask: %v", err)
	}
	w, err := f.super.Worker("t", "w1")
	if err != nil {
		t.Fatalf("Worker: %v", err)
	}
	if w.CurrentTaskID != task.ID {
		t.Errorf("currentTaskId = %q, want %q", w.CurrentTaskID, task.ID)
	}
	// The result event leaves currentTaskId in place as a breadcrumb.
	waitFor(t, "result event", func() bool { return f.sink.has(protocol.EventWorkerResult) })
	w, _ = f.super.Worker("t", "w1")
	if w.CurrentTaskID != task.ID {
		t.Errorf("result cleared currentTaskId, want it preserved")
	}
}

func TestDismissWorker_StopsAndPersists(t *testing.T) {
	f := newFixture(t, Config{})
	row := f.spawn(t, "w1")
	waitFor(t, "worker ready", func() bool {
		w, err := f.super.Worker("t", "w1")
		return err == nil && w.State == store.WorkerStateReady
	})

	if err := f.super.DismissWorker("t", "w1"); err != nil {
		t.Fatalf("DismissWorker: %v", err)
	}
	waitFor(t, "worker removed", func() bool {
		_, err := f.super.Worker("t", "w1")
		return err != nil
	})
	waitFor(t, "stopped persisted", func() bool {
		return f.workers.state(row.ID) == store.WorkerStateStopped
	})
	if !f.sink.has(protocol.EventWorkerExit) {
		t.Error("worker:exit was not emitted")
	}
	if f.super.LiveCount(nil) != 0 {
		t.Errorf("LiveCount = %d after dismissal, want 0", f.super.LiveCount(nil))
	}
}

func TestRestart_ReplaysCheckpointPrompt(t *testing.T) {
	f := newFixture(t, Config{RestartCap: 3})
	f.checkpoints.latest = &store.Checkpoint{
		WorkerHandle: "w1",
		Goal:         "finish the migration",
		Now:          "halfway through table renames",
	}
	row := f.spawn(t, "w1")
	waitFor(t, "worker ready", func() bool {
		w, err := f.super.Worker("t", "w1")
		return err == nil && w.State == store.WorkerStateReady
	})

	// Simulate an unexpected exit; the supervisor restarts with the
	// checkpoint rendered as the initial prompt.
	lw, err := f.super.get("t", "w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	lw.tr.Terminate()

	waitFor(t, "restart", func() bool {
		w, err := f.super.Worker("t", "w1")
		return err == nil && w.RestartCount == 1 && w.State == store.WorkerStateReady
	})
	waitFor(t, "resume prompt replayed", func() bool {
		lines, err := f.super.CaptureOutput("t", "w1", 0)
		if err != nil {
			return false
		}
		for _, l := range lines {
			if strings.Contains(l, "finish the migration") {
				return true
			}
		}
		return false
	})
	if f.workers.state(row.ID) != store.WorkerStateReady {
		t.Errorf("persisted state = %q, want ready", f.workers.state(row.ID))
	}
}

func TestRestart_CapExhaustionFailsWorker(t *testing.T) {
	f := newFixture(t, Config{RestartCap: 1})
	row := f.spawn(t, "w1")

	for i := 0; i < 2; i++ {
		waitFor(t, "worker ready", func() bool {
			w, err := f.super.Worker("t", "w1")
			return err == nil && w.State == store.WorkerStateReady
		})
		lw, err := f.super.get("t", "w1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		lw.tr.Terminate()
		if i == 0 {
			waitFor(t, "first restart", func() bool {
				w, err := f.super.Worker("t", "w1")
				return err == nil && w.RestartCount == 1
			})
		}
	}

	waitFor(t, "error state persisted", func() bool {
		return f.workers.state(row.ID) == store.WorkerStateError
	})
	waitFor(t, "worker removed", func() bool {
		_, err := f.super.Worker("t", "w1")
		return err != nil
	})
	if !f.sink.has(protocol.EventWorkerExit) {
		t.Error("worker:exit was not emitted after cap exhaustion")
	}
}

func TestWaitForIdle(t *testing.T) {
	f := newFixture(t, Config{})
	f.spawn(t, "w1")
	waitFor(t, "worker ready", func() bool {
		w, err := f.super.Worker("t", "w1")
		return err == nil && w.State == store.WorkerStateReady
	})

	idle, err := f.super.WaitForIdle(context.Background(), "t", "w1", 2*time.Second, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForIdle: %v", err)
	}
	if !idle {
		t.Error("quiet worker should report idle within the timeout")
	}
}

func TestStateCounts(t *testing.T) {
	f := newFixture(t, Config{})
	f.spawn(t, "w1")
	f.spawn(t, "w2")
	waitFor(t, "both ready", func() bool {
		return f.super.StateCounts()[store.WorkerStateReady] == 2
	})
	total, healthy, _, _ := f.super.HealthCounts()
	if total != 2 || healthy != 2 {
		t.Errorf("HealthCounts = (%d, %d healthy), want (2, 2)", total, healthy)
	}
}
