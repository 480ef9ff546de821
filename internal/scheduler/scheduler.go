// Package scheduler translates cron expressions and task templates into
// spawn-queue items, enforces a scheduler-wide concurrency cap, and
// retries failed runs.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/internal/notify"
	"github.com/fleetworks/fleetd/internal/planner"
	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/pkg/protocol"
)

// Config tunes the scheduler.
type Config struct {
	Tick               time.Duration // cron check interval, default 30s
	MaxConcurrentTasks int           // cap on in-flight scheduler tasks, default 5
	DefaultRetries     int           // retries per fired task, default 2
	DefaultRetryDelay  time.Duration // delay between retries, default 1m
}

func (c *Config) defaults() {
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 5
	}
	if c.DefaultRetries <= 0 {
		c.DefaultRetries = 2
	}
	if c.DefaultRetryDelay <= 0 {
		c.DefaultRetryDelay = time.Minute
	}
}

// flight is one in-flight scheduler-originated task.
type flight struct {
	ItemID      uuid.UUID
	ScheduleID  uuid.UUID
	TemplateID  uuid.UUID
	Handle      string
	RetriesLeft int
	RetryDelay  time.Duration
	StartedAt   time.Time
}

// Scheduler runs the cron loop.
type Scheduler struct {
	cfg      Config
	stores   *store.Stores
	planner  *planner.Planner
	bus      *bus.Bus
	notifier notify.Notifier
	log      *slog.Logger
	gron     *gronx.Gronx

	mu       sync.Mutex
	running  bool
	byItem   map[uuid.UUID]*flight
	byHandle map[string]*flight

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, stores *store.Stores, pl *planner.Planner, b *bus.Bus, n notify.Notifier, log *slog.Logger) *Scheduler {
	cfg.defaults()
	s := &Scheduler{
		cfg:      cfg,
		stores:   stores,
		planner:  pl,
		bus:      b,
		notifier: n,
		log:      log,
		gron:     gronx.New(),
		byItem:   make(map[uuid.UUID]*flight),
		byHandle: make(map[string]*flight),
	}
	b.Subscribe("scheduler", s.onEvent)
	return s
}

// Gate reports whether another scheduler-originated item may advance.
// Handed to the planner so admission respects the cap. Only admitted,
// unfinished flights count; pending items wait without blocking each
// other.
func (s *Scheduler) Gate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.byItem {
		if f.Handle != "" {
			n++
		}
	}
	return n < s.cfg.MaxConcurrentTasks
}

// Start launches the cron loop. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := s.fireDue(ctx); err != nil {
					s.log.Error("scheduler: fire due", "error", err)
				}
			}
		}
	}()
}

// Stop halts the loop; pending timers are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status summarizes the scheduler for the HTTP surface.
func (s *Scheduler) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"running":            s.running,
		"inFlight":           len(s.byItem),
		"maxConcurrentTasks": s.cfg.MaxConcurrentTasks,
	}
}

// ValidateCron rejects malformed cron expressions at registration time.
func (s *Scheduler) ValidateCron(expr string) error {
	if !s.gron.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// NextRun computes the next firing time for expr, in epoch millis.
func (s *Scheduler) NextRun(expr string) (int64, error) {
	next, err := gronx.NextTick(expr, false)
	if err != nil {
		return 0, fmt.Errorf("next tick for %q: %w", expr, err)
	}
	return next.UnixMilli(), nil
}

// fireDue fires every enabled schedule whose nextRun has passed.
func (s *Scheduler) fireDue(ctx context.Context) error {
	schedules, err := s.stores.Schedules.ListSchedules(ctx)
	if err != nil {
		return err
	}
	now := store.NowMillis()
	for i := range schedules {
		sc := &schedules[i]
		if !sc.Enabled {
			continue
		}
		if sc.NextRun == 0 {
			// Never scheduled: compute without firing.
			next, err := s.NextRun(sc.CronExpr)
			if err != nil {
				s.log.Warn("scheduler: bad cron", "schedule", sc.Name, "error", err)
				continue
			}
			if err := s.stores.Schedules.MarkScheduleRun(ctx, sc.ID, sc.LastRun, next); err != nil {
				return err
			}
			continue
		}
		if sc.NextRun > now {
			continue
		}
		if err := s.Fire(ctx, sc); err != nil {
			s.log.Error("scheduler: fire", "schedule", sc.Name, "error", err)
		}
		next, err := s.NextRun(sc.CronExpr)
		if err != nil {
			s.log.Warn("scheduler: bad cron", "schedule", sc.Name, "error", err)
			continue
		}
		if err := s.stores.Schedules.MarkScheduleRun(ctx, sc.ID, now, next); err != nil {
			return err
		}
	}
	return nil
}

// Fire enqueues every template task of one schedule.
func (s *Scheduler) Fire(ctx context.Context, sc *store.Schedule) error {
	s.bus.PublishJSON(protocol.TopicWorkers, protocol.EventScheduleFired, map[string]any{
		"scheduleId": sc.ID, "name": sc.Name,
	})
	tctx := TemplateContext{Repository: sc.Repository}
	for _, tid := range sc.Tasks {
		tmpl, err := s.stores.Schedules.GetTemplate(ctx, tid)
		if err != nil {
			s.log.Warn("scheduler: missing template", "schedule", sc.Name, "template", tid, "error", err)
			continue
		}
		if err := s.enqueueTemplate(ctx, sc, tmpl, tctx, s.cfg.DefaultRetries); err != nil {
			s.log.Warn("scheduler: enqueue template", "schedule", sc.Name, "template", tmpl.Name, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) enqueueTemplate(ctx context.Context, sc *store.Schedule, tmpl *store.Template, tctx TemplateContext, retries int) error {
	prompt, err := RenderTemplate(tmpl, tctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(planner.SpawnPayload{Prompt: prompt, TeamName: "scheduler"})
	if err != nil {
		return err
	}
	item := &store.SpawnItem{
		RequesterHandle: "scheduler",
		TargetAgentType: tmpl.Role,
		Priority:        store.PriorityNormal,
		Payload:         payload,
		Source:          store.SpawnSourceScheduler,
		Retries:         retries,
		RetryDelayMs:    s.cfg.DefaultRetryDelay.Milliseconds(),
	}
	if err := s.planner.Enqueue(ctx, item); err != nil {
		return err
	}
	s.mu.Lock()
	s.byItem[item.ID] = &flight{
		ItemID:      item.ID,
		ScheduleID:  sc.ID,
		TemplateID:  tmpl.ID,
		RetriesLeft: retries,
		RetryDelay:  s.cfg.DefaultRetryDelay,
	}
	s.mu.Unlock()
	return nil
}

// onEvent correlates worker lifecycle events back to scheduler flights.
func (s *Scheduler) onEvent(ev bus.Event) {
	switch ev.Name {
	case protocol.EventSpawnAdmitted:
		var p struct {
			ItemID uuid.UUID `json:"itemId"`
			Handle string    `json:"handle"`
		}
		if json.Unmarshal(ev.Payload, &p) != nil {
			return
		}
		s.mu.Lock()
		if f, ok := s.byItem[p.ItemID]; ok {
			f.Handle = p.Handle
			f.StartedAt = time.Now()
			s.byHandle[p.Handle] = f
		}
		s.mu.Unlock()
		s.bus.PublishJSON(protocol.TopicWorkers, protocol.EventTaskStarted, p)

	case protocol.EventSpawnRejected:
		var p struct {
			ItemID uuid.UUID `json:"itemId"`
			Reason string    `json:"reason"`
		}
		if json.Unmarshal(ev.Payload, &p) != nil {
			return
		}
		s.mu.Lock()
		f, ok := s.byItem[p.ItemID]
		if ok {
			delete(s.byItem, p.ItemID)
		}
		s.mu.Unlock()
		if ok {
			s.failFlight(f, p.Reason)
		}

	case protocol.EventWorkerResult:
		var p struct {
			Handle  string `json:"handle"`
			IsError bool   `json:"isError"`
		}
		if json.Unmarshal(ev.Payload, &p) != nil {
			return
		}
		s.mu.Lock()
		f, ok := s.byHandle[p.Handle]
		if ok {
			delete(s.byHandle, p.Handle)
			delete(s.byItem, f.ItemID)
		}
		s.mu.Unlock()
		if !ok {
			return
		}
		if p.IsError {
			s.failFlight(f, "worker reported error")
			return
		}
		elapsed := time.Since(f.StartedAt)
		s.bus.PublishJSON(protocol.TopicWorkers, protocol.EventTaskCompleted, map[string]any{
			"itemId": f.ItemID, "handle": f.Handle, "elapsedMs": elapsed.Milliseconds(),
		})
		s.planner.Kick()

	case protocol.EventWorkerError, protocol.EventWorkerExit:
		var p struct {
			Handle string `json:"handle"`
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(ev.Payload, &p) != nil {
			return
		}
		s.mu.Lock()
		f, ok := s.byHandle[p.Handle]
		if ok {
			delete(s.byHandle, p.Handle)
			delete(s.byItem, f.ItemID)
		}
		s.mu.Unlock()
		if !ok {
			return
		}
		reason := p.Error
		if reason == "" {
			reason = p.Reason
		}
		s.failFlight(f, reason)
	}
}

// failFlight retries with backoff while retries remain, then records
// permanent failure and notifies.
func (s *Scheduler) failFlight(f *flight, reason string) {
	elapsed := time.Since(f.StartedAt)
	if f.RetriesLeft > 0 {
		s.log.Warn("scheduler: task failed, retrying",
			"item", f.ItemID, "retriesLeft", f.RetriesLeft-1, "reason", reason)
		time.AfterFunc(f.RetryDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sc, err := s.stores.Schedules.GetSchedule(ctx, f.ScheduleID)
			if err != nil {
				s.log.Error("scheduler: retry load schedule", "error", err)
				return
			}
			tmpl, err := s.stores.Schedules.GetTemplate(ctx, f.TemplateID)
			if err != nil {
				s.log.Error("scheduler: retry load template", "error", err)
				return
			}
			if err := s.enqueueTemplate(ctx, sc, tmpl, TemplateContext{Repository: sc.Repository}, f.RetriesLeft-1); err != nil {
				s.log.Error("scheduler: retry enqueue", "error", err)
			}
		})
		return
	}

	s.bus.PublishJSON(protocol.TopicWorkers, protocol.EventTaskFailed, map[string]any{
		"itemId": f.ItemID, "handle": f.Handle, "elapsedMs": elapsed.Milliseconds(), "reason": reason,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.notifier.Notify(ctx, "scheduler", "Scheduled task failed",
		fmt.Sprintf("task %s failed after retries: %s", f.ItemID, reason),
		notify.SeverityError, map[string]string{"itemId": f.ItemID.String()}); err != nil {
		s.log.Warn("scheduler: notify", "error", err)
	}
}
