package planner

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/internal/supervisor"
)

// --- fakes ---

type fakeSpawnQueue struct {
	items map[uuid.UUID]*store.SpawnItem
	order []uuid.UUID
}

func newFakeSpawnQueue() *fakeSpawnQueue {
	return &fakeSpawnQueue{items: make(map[uuid.UUID]*store.SpawnItem)}
}

func (f *fakeSpawnQueue) add(it *store.SpawnItem) *store.SpawnItem {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	if it.Status == "" {
		it.Status = store.SpawnStatusPending
	}
	f.items[it.ID] = it
	f.order = append(f.order, it.ID)
	return it
}

func (f *fakeSpawnQueue) EnqueueSpawn(ctx context.Context, it *store.SpawnItem) error {
	f.add(it)
	return nil
}

func (f *fakeSpawnQueue) GetSpawnItem(ctx context.Context, id uuid.UUID) (*store.SpawnItem, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, store.NotFound("spawn_queue.get")
	}
	cp := *it
	return &cp, nil
}

func (f *fakeSpawnQueue) GetReadySpawnItems(ctx context.Context, limit int) ([]store.SpawnItem, error) {
	var out []store.SpawnItem
	for _, id := range f.order {
		if it := f.items[id]; it.Status == store.SpawnStatusPending {
			out = append(out, *it)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSpawnQueue) ListSpawnItems(ctx context.Context, status string, limit int) ([]store.SpawnItem, error) {
	return f.GetReadySpawnItems(ctx, limit)
}

func (f *fakeSpawnQueue) UpdateSpawnStatus(ctx context.Context, id uuid.UUID, status string, workerID *uuid.UUID, reason string) error {
	it, ok := f.items[id]
	if !ok {
		return store.NotFound("spawn_queue.update")
	}
	it.Status = status
	it.WorkerID = workerID
	it.Reason = reason
	return nil
}

func (f *fakeSpawnQueue) CountSpawnedBySource(ctx context.Context, source string, statuses []string) (int, error) {
	return 0, nil
}

type fakeWorkers struct {
	workers []store.Worker
}

func (f *fakeWorkers) InsertWorker(ctx context.Context, w *store.Worker) error { return nil }
func (f *fakeWorkers) GetWorker(ctx context.Context, id uuid.UUID) (*store.Worker, error) {
	return nil, store.NotFound("workers.get")
}
func (f *fakeWorkers) GetWorkerByHandle(ctx context.Context, teamName, handle string) (*store.Worker, error) {
	return nil, store.NotFound("workers.get_by_handle")
}
func (f *fakeWorkers) ListWorkers(ctx context.Context, teamName string) ([]store.Worker, error) {
	return f.workers, nil
}
func (f *fakeWorkers) UpdateWorker(ctx context.Context, w *store.Worker) error { return nil }
func (f *fakeWorkers) CountLiveWorkers(ctx context.Context, swarmID *uuid.UUID) (int, error) {
	n := 0
	for i := range f.workers {
		w := &f.workers[i]
		if !w.Live() {
			continue
		}
		if swarmID != nil && (w.SwarmID == nil || *w.SwarmID != *swarmID) {
			continue
		}
		n++
	}
	return n, nil
}

type fakeSwarms struct {
	swarms map[uuid.UUID]*store.Swarm
}

func (f *fakeSwarms) CreateSwarm(ctx context.Context, s *store.Swarm) error { return nil }
func (f *fakeSwarms) GetSwarm(ctx context.Context, id uuid.UUID) (*store.Swarm, error) {
	s, ok := f.swarms[id]
	if !ok {
		return nil, store.NotFound("swarms.get")
	}
	return s, nil
}
func (f *fakeSwarms) ListSwarms(ctx context.Context) ([]store.Swarm, error) { return nil, nil }
func (f *fakeSwarms) DeleteSwarm(ctx context.Context, id uuid.UUID) error   { return nil }

type fakeSpawner struct {
	spawned []supervisor.SpawnRequest
	err     error
}

func (f *fakeSpawner) Spawn(ctx context.Context, req supervisor.SpawnRequest) (*store.Worker, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.spawned = append(f.spawned, req)
	return &store.Worker{ID: uuid.New(), Handle: req.Handle, Role: req.Role}, nil
}

type fixture struct {
	planner *Planner
	queue   *fakeSpawnQueue
	workers *fakeWorkers
	swarms  *fakeSwarms
	spawner *fakeSpawner
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		queue:   newFakeSpawnQueue(),
		workers: &fakeWorkers{},
		swarms:  &fakeSwarms{swarms: make(map[uuid.UUID]*store.Swarm)},
		spawner: &fakeSpawner{},
	}
	stores := &store.Stores{
		SpawnQueue: f.queue,
		Workers:    f.workers,
		Swarms:     f.swarms,
	}
	log := slog.New(slog.DiscardHandler)
	f.planner = New(cfg, stores, f.spawner, bus.New(log), log)
	return f
}

// --- tests ---

func TestTick_AdmitsPendingItem(t *testing.T) {
	f := newFixture(Config{})
	it := f.queue.add(&store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "scout",
		Priority:        store.PriorityNormal,
		Source:          store.SpawnSourceAPI,
	})

	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(f.spawner.spawned) != 1 {
		t.Fatalf("spawned %d workers, want 1", len(f.spawner.spawned))
	}
	got := f.queue.items[it.ID]
	if got.Status != store.SpawnStatusSpawned {
		t.Errorf("status = %q, want spawned", got.Status)
	}
	if got.WorkerID == nil {
		t.Error("workerId not recorded")
	}
	if f.spawner.spawned[0].DepthLevel != it.DepthLevel+1 {
		t.Errorf("child depth = %d, want %d", f.spawner.spawned[0].DepthLevel, it.DepthLevel+1)
	}
}

func TestTick_RejectsDepthViolation(t *testing.T) {
	f := newFixture(Config{})
	it := f.queue.add(&store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "worker", // max depth 2
		DepthLevel:      2,        // child would land at 3
		Priority:        store.PriorityNormal,
	})

	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got := f.queue.items[it.ID]
	if got.Status != store.SpawnStatusRejected {
		t.Fatalf("status = %q, want rejected", got.Status)
	}
	if got.Reason == "" {
		t.Error("rejection recorded no reason")
	}
	if len(f.spawner.spawned) != 0 {
		t.Error("rejected item was spawned")
	}
}

func TestTick_RejectsNonSpawningRequester(t *testing.T) {
	f := newFixture(Config{})
	f.workers.workers = []store.Worker{
		{Handle: "drone-1", Role: "worker", State: store.WorkerStateReady},
	}
	it := f.queue.add(&store.SpawnItem{
		RequesterHandle: "drone-1",
		TargetAgentType: "scout",
		Priority:        store.PriorityNormal,
	})

	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := f.queue.items[it.ID]; got.Status != store.SpawnStatusRejected {
		t.Errorf("status = %q, want rejected (worker role may not spawn)", got.Status)
	}
}

func TestTick_WaitsOnPendingDependency(t *testing.T) {
	f := newFixture(Config{})
	dep := f.queue.add(&store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "scout",
		Priority:        store.PriorityNormal,
	})
	dep.Status = store.SpawnStatusApproved // in flight, not yet spawned
	it := f.queue.add(&store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "scout",
		Priority:        store.PriorityNormal,
		DependsOn:       []uuid.UUID{dep.ID},
	})

	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := f.queue.items[it.ID]; got.Status != store.SpawnStatusPending {
		t.Errorf("status = %q, want pending (waiting on dependency)", got.Status)
	}

	// Once the dependency reaches spawned, the item advances.
	dep.Status = store.SpawnStatusSpawned
	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := f.queue.items[it.ID]; got.Status != store.SpawnStatusSpawned {
		t.Errorf("status = %q, want spawned after dependency resolved", got.Status)
	}
}

func TestTick_RejectsFailedDependency(t *testing.T) {
	f := newFixture(Config{})
	dep := f.queue.add(&store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "scout",
		Priority:        store.PriorityNormal,
	})
	dep.Status = store.SpawnStatusCancelled
	it := f.queue.add(&store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "scout",
		Priority:        store.PriorityNormal,
		DependsOn:       []uuid.UUID{dep.ID},
	})

	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := f.queue.items[it.ID]; got.Status != store.SpawnStatusRejected {
		t.Errorf("status = %q, want rejected (dependency cancelled)", got.Status)
	}
}

func TestTick_SwarmCapWaits(t *testing.T) {
	f := newFixture(Config{})
	swarmID := uuid.New()
	f.swarms.swarms[swarmID] = &store.Swarm{ID: swarmID, Name: "sw", MaxAgents: 1}
	f.workers.workers = []store.Worker{
		{Handle: "busy", Role: "scout", State: store.WorkerStateWorking, SwarmID: &swarmID},
	}
	it := f.queue.add(&store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "scout",
		Priority:        store.PriorityNormal,
		SwarmID:         &swarmID,
	})

	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := f.queue.items[it.ID]; got.Status != store.SpawnStatusPending {
		t.Errorf("status = %q, want pending (swarm full)", got.Status)
	}

	// A slot opens up when the live worker stops.
	f.workers.workers[0].State = store.WorkerStateStopped
	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := f.queue.items[it.ID]; got.Status != store.SpawnStatusSpawned {
		t.Errorf("status = %q, want spawned after slot opened", got.Status)
	}
}

func TestTick_GlobalCapWaits(t *testing.T) {
	f := newFixture(Config{GlobalCap: 1})
	f.workers.workers = []store.Worker{
		{Handle: "only", Role: "scout", State: store.WorkerStateReady},
	}
	it := f.queue.add(&store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "scout",
		Priority:        store.PriorityNormal,
	})

	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := f.queue.items[it.ID]; got.Status != store.SpawnStatusPending {
		t.Errorf("status = %q, want pending (global cap)", got.Status)
	}
}

func TestTick_SchedulerGate(t *testing.T) {
	open := false
	f := newFixture(Config{SchedulerGate: func() bool { return open }})
	it := f.queue.add(&store.SpawnItem{
		RequesterHandle: "scheduler",
		TargetAgentType: "scout",
		Priority:        store.PriorityNormal,
		Source:          store.SpawnSourceScheduler,
	})

	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := f.queue.items[it.ID]; got.Status != store.SpawnStatusPending {
		t.Fatalf("status = %q, want pending while gate closed", got.Status)
	}

	open = true
	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := f.queue.items[it.ID]; got.Status != store.SpawnStatusSpawned {
		t.Errorf("status = %q, want spawned with gate open", got.Status)
	}
}

func TestTick_GateIgnoresAPIItems(t *testing.T) {
	f := newFixture(Config{SchedulerGate: func() bool { return false }})
	it := f.queue.add(&store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "scout",
		Priority:        store.PriorityNormal,
		Source:          store.SpawnSourceAPI,
	})
	if err := f.planner.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := f.queue.items[it.ID]; got.Status != store.SpawnStatusSpawned {
		t.Errorf("API item blocked by scheduler gate: status = %q", got.Status)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	f := newFixture(Config{})
	err := f.planner.Enqueue(context.Background(), &store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "scout",
		Priority:        "urgent",
	})
	if err == nil {
		t.Error("expected error for invalid priority")
	}
	err = f.planner.Enqueue(context.Background(), &store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "wizard",
		Priority:        store.PriorityNormal,
	})
	if err == nil {
		t.Error("expected error for unknown role")
	}
	err = f.planner.Enqueue(context.Background(), &store.SpawnItem{
		RequesterHandle: "ops",
		TargetAgentType: "scout",
		Priority:        store.PriorityHigh,
	})
	if err != nil {
		t.Errorf("valid item rejected: %v", err)
	}
	if len(f.queue.items) != 1 {
		t.Errorf("queue holds %d items, want 1", len(f.queue.items))
	}
}

func TestCanSpawnAt(t *testing.T) {
	tests := []struct {
		name       string
		requester  string
		target     string
		childDepth int
		want       bool
	}{
		{"lead spawns worker at 1", "lead", "worker", 1, true},
		{"lead spawns worker at 2", "lead", "worker", 2, true},
		{"worker exceeds depth", "lead", "worker", 3, false},
		{"scout allowed deeper", "lead", "scout", 3, true},
		{"worker cannot spawn", "worker", "scout", 2, false},
		{"unknown requester", "ghost", "scout", 1, false},
		{"unknown target", "lead", "ghost", 1, false},
		{"zero depth", "lead", "scout", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanSpawnAt(tt.requester, tt.target, tt.childDepth); got != tt.want {
				t.Errorf("CanSpawnAt(%q, %q, %d) = %v, want %v",
					tt.requester, tt.target, tt.childDepth, got, tt.want)
			}
		})
	}
}
