// Package supervisor owns the live worker child processes: spawning,
// stdin delivery, output streaming, heartbeat health, restarts, and
// dismissal. Durable worker rows live in the store; the supervisor is the
// only writer of their lifecycle fields.
package supervisor

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/internal/journal"
	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/pkg/protocol"
)

// Config tunes the supervisor. Zero values fall back to the defaults
// noted per field.
type Config struct {
	WorkRoot     string        // whitelisted root for worker working dirs
	AgentCommand []string      // argv of the agent binary
	FleetURL     string        // handed to children via FLEET_URL
	GracePeriod  time.Duration // SIGTERM to SIGKILL window, default 10s
	RestartCap   int           // restarts before error state, default 3
	RingCapacity int           // per-worker output lines, default 300
	TaskTimeout  time.Duration // interrupt unhealthy working workers past this, 0 disables
	ForceMemory  bool          // use the in-memory transport even when a command is set
}

func (c *Config) defaults() {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 10 * time.Second
	}
	if c.RestartCap <= 0 {
		c.RestartCap = 3
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = 300
	}
}

// Heartbeat thresholds for the derived health field.
const (
	healthyWithin  = 30 * time.Second
	degradedWithin = 60 * time.Second
)

type liveWorker struct {
	mu         sync.Mutex
	row        *store.Worker
	tr         transport
	ring       *ring
	outHash    uint64
	hashedAt   time.Time // last time outHash changed
	dismissing bool
}

func (lw *liveWorker) key() string { return workerKey(lw.row.TeamName, lw.row.Handle) }

func workerKey(teamName, handle string) string { return teamName + "/" + handle }

// Supervisor manages every live worker in the process.
type Supervisor struct {
	cfg    Config
	stores *store.Stores
	jrnl   *journal.Journal // optional
	bus    *bus.Bus
	log    *slog.Logger

	mu       sync.RWMutex
	live     map[string]*liveWorker
	spawning map[string]struct{} // handles reserved by in-flight Spawn calls

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, stores *store.Stores, jrnl *journal.Journal, b *bus.Bus, log *slog.Logger) *Supervisor {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:      cfg,
		stores:   stores,
		jrnl:     jrnl,
		bus:      b,
		log:      log,
		live:     make(map[string]*liveWorker),
		spawning: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.healthLoop()
	return s
}

// SpawnRequest is the caller-facing shape of Spawn.
type SpawnRequest struct {
	Handle        string
	TeamName      string
	Role          string
	WorkingDir    string
	InitialPrompt string
	Model         string
	SwarmID       *uuid.UUID
	DepthLevel    int
}

// validateWorkingDir requires an existing directory inside the work root.
func (s *Supervisor) validateWorkingDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("working dir: %w", err)
	}
	if s.cfg.WorkRoot != "" {
		root, err := filepath.Abs(s.cfg.WorkRoot)
		if err != nil {
			return "", fmt.Errorf("work root: %w", err)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("working dir %q escapes work root", dir)
		}
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("working dir %q does not exist", dir)
	}
	return abs, nil
}

// Spawn launches a worker and returns once the process is started; the
// worker is in state starting until its init event arrives.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (*store.Worker, error) {
	dir, err := s.validateWorkingDir(req.WorkingDir)
	if err != nil {
		return nil, err
	}

	// Reserve the handle under the lock so two concurrent spawns of the
	// same handle cannot both pass the liveness check.
	key := workerKey(req.TeamName, req.Handle)
	s.mu.Lock()
	_, isLive := s.live[key]
	_, isSpawning := s.spawning[key]
	if isLive || isSpawning {
		s.mu.Unlock()
		return nil, fmt.Errorf("worker %q already live", req.Handle)
	}
	s.spawning[key] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.spawning, key)
		s.mu.Unlock()
	}()

	mode := store.SpawnModeProcess
	if s.cfg.ForceMemory || len(s.cfg.AgentCommand) == 0 {
		mode = store.SpawnModeMemory
	}
	row := &store.Worker{
		ID:         store.NewID(),
		Handle:     req.Handle,
		TeamName:   req.TeamName,
		State:      store.WorkerStateStarting,
		Health:     store.HealthHealthy,
		Role:       req.Role,
		SwarmID:    req.SwarmID,
		DepthLevel: req.DepthLevel,
		WorkingDir: dir,
		SpawnMode:  mode,
	}
	if err := s.stores.Workers.InsertWorker(ctx, row); err != nil {
		return nil, err
	}

	lw := &liveWorker{row: row, ring: newRing(s.cfg.RingCapacity), hashedAt: time.Now()}
	if err := s.launch(lw, req.InitialPrompt, req.Model); err != nil {
		row.State = store.WorkerStateError
		row.Health = store.HealthUnhealthy
		if uerr := s.stores.Workers.UpdateWorker(ctx, row); uerr != nil {
			s.log.Error("supervisor: record failed spawn", "handle", req.Handle, "error", uerr)
		}
		return nil, err
	}

	s.mu.Lock()
	s.live[key] = lw
	s.mu.Unlock()

	s.log.Info("supervisor: spawned worker",
		"handle", req.Handle, "team", req.TeamName, "mode", mode, "pid", row.PID)
	return row, nil
}

func (s *Supervisor) launch(lw *liveWorker, prompt, model string) error {
	spec := spawnSpec{
		Handle:          lw.row.Handle,
		TeamName:        lw.row.TeamName,
		AgentType:       lw.row.Role,
		WorkingDir:      lw.row.WorkingDir,
		InitialPrompt:   prompt,
		Model:           model,
		FleetURL:        s.cfg.FleetURL,
		ParentSessionID: lw.row.SessionID,
		Command:         s.cfg.AgentCommand,
	}
	var tr transport
	if lw.row.SpawnMode == store.SpawnModeMemory {
		tr = newMemoryTransport(spec)
	} else {
		tr = newProcessTransport(spec)
	}
	if err := tr.Start(s.ctx); err != nil {
		return err
	}
	lw.mu.Lock()
	lw.tr = tr
	lw.row.PID = tr.PID()
	lw.row.LastHeartbeat = store.NowMillis()
	lw.mu.Unlock()

	s.wg.Add(1)
	go s.pump(lw)
	return nil
}

// pump consumes the worker's output until exit, then applies the restart
// policy.
func (s *Supervisor) pump(lw *liveWorker) {
	defer s.wg.Done()
	tr := lw.tr
	for line := range tr.Lines() {
		s.handleLine(lw, line)
	}
	exitErr := <-tr.Done()
	s.handleExit(lw, exitErr)
}

func (s *Supervisor) handleLine(lw *liveWorker, line outputLine) {
	lw.ring.push(line.Text)
	lw.mu.Lock()
	h := fnv.New64a()
	for _, l := range lw.ring.last(0) {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	if sum := h.Sum64(); sum != lw.outHash {
		lw.outHash = sum
		lw.hashedAt = time.Now()
	}
	lw.row.LastHeartbeat = store.NowMillis()
	lw.mu.Unlock()

	ev, ok := classifyLine(line.Text)
	if s.jrnl != nil {
		kind := ""
		if ok {
			kind = ev.Type
		}
		jev := &journal.Event{WorkerID: lw.row.ID, Stream: line.Stream, Kind: kind, Line: line.Text}
		if err := s.jrnl.Append(s.ctx, jev); err != nil {
			s.log.Warn("supervisor: journal append", "handle", lw.row.Handle, "error", err)
		}
	}
	if !ok {
		return
	}

	switch {
	case ev.isInit():
		lw.mu.Lock()
		lw.row.SessionID = ev.SessionID
		lw.row.State = store.WorkerStateReady
		lw.mu.Unlock()
		s.persist(lw)
		s.emit(lw, protocol.EventWorkerReady, map[string]any{"sessionId": ev.SessionID})

	case ev.Type == protocol.AgentEventAssistant:
		lw.mu.Lock()
		if lw.row.State == store.WorkerStateReady {
			lw.row.State = store.WorkerStateWorking
		}
		lw.mu.Unlock()
		for _, text := range ev.textBlocks() {
			s.emit(lw, protocol.EventWorkerOutput, map[string]any{"text": text})
		}
		for _, tool := range ev.toolUses() {
			s.emit(lw, protocol.EventWorkerTool, map[string]any{"tool": tool})
		}

	case ev.Type == protocol.AgentEventResult:
		// currentTaskId deliberately survives the result event; only a new
		// task delivery replaces it.
		lw.mu.Lock()
		if lw.row.State == store.WorkerStateWorking {
			lw.row.State = store.WorkerStateReady
		}
		lw.mu.Unlock()
		s.persist(lw)
		s.emit(lw, protocol.EventWorkerResult, map[string]any{
			"result": ev.Result, "isError": ev.IsError,
		})

	case ev.Type == protocol.AgentEventError:
		// State unchanged: the supervisor is not the policy authority for
		// agent-level errors.
		s.emit(lw, protocol.EventWorkerError, map[string]any{"error": ev.Error})
	}
}

func (s *Supervisor) handleExit(lw *liveWorker, exitErr error) {
	lw.mu.Lock()
	state := lw.row.State
	dismissing := lw.dismissing
	lw.mu.Unlock()

	if dismissing || state == store.WorkerStateStopping {
		lw.mu.Lock()
		lw.row.State = store.WorkerStateStopped
		lw.row.DismissedAt = store.NowMillis()
		lw.mu.Unlock()
		s.persist(lw)
		s.removeLive(lw)
		s.emit(lw, protocol.EventWorkerExit, map[string]any{"reason": "dismissed"})
		return
	}

	// Unexpected exit while active: apply the restart policy.
	if state == store.WorkerStateReady || state == store.WorkerStateWorking {
		lw.mu.Lock()
		lw.row.RestartCount++
		count := lw.row.RestartCount
		lw.mu.Unlock()

		if count <= s.cfg.RestartCap && s.ctx.Err() == nil {
			s.log.Warn("supervisor: worker exited, restarting",
				"handle", lw.row.Handle, "restart", count, "error", exitErr)
			prompt := s.resumePrompt(lw.row.Handle)
			lw.mu.Lock()
			lw.row.State = store.WorkerStateStarting
			lw.mu.Unlock()
			s.persist(lw)
			if err := s.launch(lw, prompt, ""); err != nil {
				s.log.Error("supervisor: restart failed", "handle", lw.row.Handle, "error", err)
				s.fail(lw)
			}
			return
		}
	}
	s.fail(lw)
}

func (s *Supervisor) fail(lw *liveWorker) {
	lw.mu.Lock()
	lw.row.State = store.WorkerStateError
	lw.row.Health = store.HealthUnhealthy
	lw.mu.Unlock()
	s.persist(lw)
	s.removeLive(lw)
	s.emit(lw, protocol.EventWorkerExit, map[string]any{"reason": "exhausted restarts"})
}

// resumePrompt renders the worker's latest checkpoint for replay, or
// empty when none exists.
func (s *Supervisor) resumePrompt(handle string) string {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	cp, err := s.stores.Checkpoints.LatestCheckpoint(ctx, handle)
	if err != nil {
		if !store.IsNotFound(err) {
			s.log.Warn("supervisor: load checkpoint", "handle", handle, "error", err)
		}
		return ""
	}
	return cp.FormatForResume()
}

func (s *Supervisor) removeLive(lw *liveWorker) {
	s.mu.Lock()
	delete(s.live, lw.key())
	s.mu.Unlock()
}

func (s *Supervisor) persist(lw *liveWorker) {
	lw.mu.Lock()
	row := *lw.row
	lw.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.stores.Workers.UpdateWorker(ctx, &row); err != nil {
		s.log.Error("supervisor: persist worker", "handle", row.Handle, "error", err)
	}
}

func (s *Supervisor) emit(lw *liveWorker, name string, payload map[string]any) {
	lw.mu.Lock()
	payload["workerId"] = lw.row.ID
	payload["handle"] = lw.row.Handle
	payload["teamName"] = lw.row.TeamName
	payload["state"] = lw.row.State
	if lw.row.CurrentTaskID != "" {
		payload["taskId"] = lw.row.CurrentTaskID
	}
	lw.mu.Unlock()
	s.bus.PublishJSON(protocol.TopicWorkers, name, payload)
}

func (s *Supervisor) get(teamName, handle string) (*liveWorker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lw, ok := s.live[workerKey(teamName, handle)]
	if !ok {
		return nil, fmt.Errorf("worker %q not live", handle)
	}
	return lw, nil
}

// SendToWorker writes one message line to the worker's stdin.
func (s *Supervisor) SendToWorker(teamName, handle, message string) error {
	lw, err := s.get(teamName, handle)
	if err != nil {
		return err
	}
	if err := lw.tr.Send(message); err != nil {
		return fmt.Errorf("send to %q: %w", handle, err)
	}
	lw.mu.Lock()
	lw.row.LastHeartbeat = store.NowMillis()
	if lw.row.State == store.WorkerStateReady {
		lw.row.State = store.WorkerStateWorking
	}
	lw.mu.Unlock()
	s.persist(lw)
	return nil
}

// DeliverTask wraps the task in the delivery template and records it as
// the worker's current task.
func (s *Supervisor) DeliverTask(teamName, handle string, task *store.Task) error {
	lw, err := s.get(teamName, handle)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("## Task %s\n\n**%s**\n\n%s", task.ID, task.Subject, task.Description)
	if err := lw.tr.Send(msg); err != nil {
		return fmt.Errorf("deliver task to %q: %w", handle, err)
	}
	lw.mu.Lock()
	lw.row.CurrentTaskID = task.ID
	lw.row.LastHeartbeat = store.NowMillis()
	if lw.row.State == store.WorkerStateReady {
		lw.row.State = store.WorkerStateWorking
	}
	lw.mu.Unlock()
	s.persist(lw)
	s.emit(lw, protocol.EventTaskAssigned, map[string]any{"task": task})
	return nil
}

// DismissWorker stops a worker: SIGTERM, then SIGKILL after the grace
// period. The exit pump finishes the state transition.
func (s *Supervisor) DismissWorker(teamName, handle string) error {
	lw, err := s.get(teamName, handle)
	if err != nil {
		return err
	}
	lw.mu.Lock()
	lw.dismissing = true
	lw.row.State = store.WorkerStateStopping
	lw.mu.Unlock()
	s.persist(lw)

	if err := lw.tr.Terminate(); err != nil {
		s.log.Warn("supervisor: terminate", "handle", handle, "error", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-lw.tr.Done():
		case <-time.After(s.cfg.GracePeriod):
			s.log.Warn("supervisor: grace period elapsed, killing", "handle", handle)
			lw.tr.Kill()
		}
	}()
	return nil
}

// InterruptWorker sends the interrupt signal without terminating.
func (s *Supervisor) InterruptWorker(teamName, handle string) error {
	lw, err := s.get(teamName, handle)
	if err != nil {
		return err
	}
	return lw.tr.Interrupt()
}

// CaptureOutput returns the last n ring-buffered lines, oldest first.
func (s *Supervisor) CaptureOutput(teamName, handle string, n int) ([]string, error) {
	lw, err := s.get(teamName, handle)
	if err != nil {
		return nil, err
	}
	return lw.ring.last(n), nil
}

// WaitForIdle reports whether the worker's output was stable for stableMs
// within timeout.
func (s *Supervisor) WaitForIdle(ctx context.Context, teamName, handle string, timeout, stable time.Duration) (bool, error) {
	lw, err := s.get(teamName, handle)
	if err != nil {
		return false, err
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			return false, nil
		case <-ticker.C:
			lw.mu.Lock()
			idle := time.Since(lw.hashedAt) >= stable
			lw.mu.Unlock()
			if idle {
				return true, nil
			}
		}
	}
}

// Worker returns a snapshot of a live worker's row.
func (s *Supervisor) Worker(teamName, handle string) (*store.Worker, error) {
	lw, err := s.get(teamName, handle)
	if err != nil {
		return nil, err
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	row := *lw.row
	return &row, nil
}

// LiveCount reports live workers, optionally scoped to one swarm.
func (s *Supervisor) LiveCount(swarmID *uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, lw := range s.live {
		lw.mu.Lock()
		match := swarmID == nil || (lw.row.SwarmID != nil && *lw.row.SwarmID == *swarmID)
		lw.mu.Unlock()
		if match {
			n++
		}
	}
	return n
}

// StateCounts tallies live workers by lifecycle state.
func (s *Supervisor) StateCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, lw := range s.live {
		lw.mu.Lock()
		out[lw.row.State]++
		lw.mu.Unlock()
	}
	return out
}

// HealthCounts tallies live workers by derived health.
func (s *Supervisor) HealthCounts() (total, healthy, degraded, unhealthy int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, lw := range s.live {
		lw.mu.Lock()
		h := lw.row.Health
		lw.mu.Unlock()
		total++
		switch h {
		case store.HealthHealthy:
			healthy++
		case store.HealthDegraded:
			degraded++
		default:
			unhealthy++
		}
	}
	return
}

// healthLoop periodically derives health from heartbeat age and applies
// the optional stuck-task interrupt.
func (s *Supervisor) healthLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth()
		}
	}
}

func (s *Supervisor) checkHealth() {
	s.mu.RLock()
	workers := make([]*liveWorker, 0, len(s.live))
	for _, lw := range s.live {
		workers = append(workers, lw)
	}
	s.mu.RUnlock()

	now := store.NowMillis()
	for _, lw := range workers {
		lw.mu.Lock()
		age := time.Duration(now-lw.row.LastHeartbeat) * time.Millisecond
		prev := lw.row.Health
		switch {
		case age <= healthyWithin:
			lw.row.Health = store.HealthHealthy
		case age <= degradedWithin:
			lw.row.Health = store.HealthDegraded
		default:
			lw.row.Health = store.HealthUnhealthy
		}
		changed := prev != lw.row.Health
		stuck := lw.row.Health == store.HealthUnhealthy &&
			lw.row.State == store.WorkerStateWorking &&
			s.cfg.TaskTimeout > 0 && age > s.cfg.TaskTimeout
		handle := lw.row.Handle
		lw.mu.Unlock()

		if changed {
			s.persist(lw)
		}
		if stuck {
			s.log.Warn("supervisor: interrupting stuck worker", "handle", handle, "age", age)
			if err := lw.tr.Interrupt(); err != nil {
				s.log.Warn("supervisor: interrupt", "handle", handle, "error", err)
			}
		}
	}
}

// Shutdown terminates every live worker (SIGTERM, SIGKILL after the
// grace period) and waits for pumps to drain.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.RLock()
	workers := make([]*liveWorker, 0, len(s.live))
	for _, lw := range s.live {
		workers = append(workers, lw)
	}
	s.mu.RUnlock()

	for _, lw := range workers {
		lw.mu.Lock()
		lw.dismissing = true
		lw.mu.Unlock()
		if err := lw.tr.Terminate(); err != nil {
			s.log.Debug("supervisor: shutdown terminate", "handle", lw.row.Handle, "error", err)
		}
	}

	killTimer := time.AfterFunc(s.cfg.GracePeriod, func() {
		for _, lw := range workers {
			lw.tr.Kill()
		}
	})
	defer killTimer.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
