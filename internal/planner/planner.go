// Package planner decides which pending spawn requests are admitted to
// the supervisor, and in what order. Ordering is (priority DESC,
// createdAt ASC, id); admission additionally checks dependencies, the
// role matrix, and swarm/global caps.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/internal/supervisor"
	"github.com/fleetworks/fleetd/pkg/protocol"
)

// Spawner is the supervisor surface the planner needs. Narrow so tests
// can fake it.
type Spawner interface {
	Spawn(ctx context.Context, req supervisor.SpawnRequest) (*store.Worker, error)
}

// Config tunes the planner loop.
type Config struct {
	Tick      time.Duration // periodic tick, default 1s
	BatchSize int           // items examined per tick, default 16
	GlobalCap int           // system-wide live worker cap, default 50
	WorkRoot  string        // default working dir for items without one

	// SchedulerGate, when set, must return true before a
	// scheduler-originated item may advance. Lets the scheduler cap its
	// in-flight tasks without the planner knowing the policy.
	SchedulerGate func() bool
}

func (c *Config) defaults() {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.GlobalCap <= 0 {
		c.GlobalCap = 50
	}
}

// SpawnPayload is the planner-interpreted portion of a spawn item's
// payload. Unknown fields pass through to the worker untouched.
type SpawnPayload struct {
	Handle     string `json:"handle,omitempty"`
	TeamName   string `json:"teamName,omitempty"`
	WorkingDir string `json:"workingDir,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Model      string `json:"model,omitempty"`
}

// Planner runs the admission loop.
type Planner struct {
	cfg     Config
	stores  *store.Stores
	spawner Spawner
	bus     *bus.Bus
	log     *slog.Logger

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, stores *store.Stores, spawner Spawner, b *bus.Bus, log *slog.Logger) *Planner {
	cfg.defaults()
	return &Planner{
		cfg:     cfg,
		stores:  stores,
		spawner: spawner,
		bus:     b,
		log:     log,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Enqueue validates and persists a spawn request, then kicks the loop.
func (p *Planner) Enqueue(ctx context.Context, it *store.SpawnItem) error {
	if !store.ValidPriority(it.Priority) {
		return fmt.Errorf("invalid priority %q", it.Priority)
	}
	if _, ok := Roles[it.TargetAgentType]; !ok {
		return fmt.Errorf("unknown agent role %q", it.TargetAgentType)
	}
	if err := p.stores.SpawnQueue.EnqueueSpawn(ctx, it); err != nil {
		return err
	}
	p.bus.PublishJSON(protocol.TopicWorkers, protocol.EventSpawnQueued, it)
	p.Kick()
	return nil
}

// Cancel flips a pending item to cancelled; items past pending conflict.
func (p *Planner) Cancel(ctx context.Context, id uuid.UUID) error {
	return p.stores.SpawnQueue.UpdateSpawnStatus(ctx, id, store.SpawnStatusCancelled, nil, "cancelled by request")
}

// Kick schedules an immediate tick. Safe from any goroutine; coalesces.
func (p *Planner) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start runs the loop until Stop.
func (p *Planner) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
			case <-p.kick:
			}
			if err := p.Tick(ctx); err != nil {
				p.log.Error("planner: tick", "error", err)
			}
		}
	}()
}

func (p *Planner) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// Tick examines one batch of pending items and admits every item passing
// the predicate. Exported so tests and callers can drive the loop
// synchronously.
func (p *Planner) Tick(ctx context.Context) error {
	items, err := p.stores.SpawnQueue.GetReadySpawnItems(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	for i := range items {
		it := &items[i]
		ok, reason, err := p.admissible(ctx, it)
		if err != nil {
			return err
		}
		if !ok {
			if reason != "" {
				// Permanent refusals reject; capacity waits silently.
				if err := p.reject(ctx, it, reason); err != nil {
					return err
				}
			}
			continue
		}
		if err := p.admit(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

// admissible applies the admission predicate. A false result with an
// empty reason means "not yet" (dependency or capacity); a non-empty
// reason is a permanent refusal.
func (p *Planner) admissible(ctx context.Context, it *store.SpawnItem) (bool, string, error) {
	if it.Source == store.SpawnSourceScheduler && p.cfg.SchedulerGate != nil && !p.cfg.SchedulerGate() {
		return false, "", nil // scheduler at capacity, wait
	}

	// Dependencies must all have reached spawned.
	for _, dep := range it.DependsOn {
		d, err := p.stores.SpawnQueue.GetSpawnItem(ctx, dep)
		if err != nil {
			if store.IsNotFound(err) {
				return false, fmt.Sprintf("dependency %s not found", dep), nil
			}
			return false, "", err
		}
		switch d.Status {
		case store.SpawnStatusSpawned:
		case store.SpawnStatusRejected, store.SpawnStatusCancelled:
			return false, fmt.Sprintf("dependency %s is %s", dep, d.Status), nil
		default:
			return false, "", nil // waiting
		}
	}

	role, err := p.requesterRole(ctx, it.RequesterHandle)
	if err != nil {
		return false, "", err
	}
	if !CanSpawnAt(role, it.TargetAgentType, it.DepthLevel+1) {
		return false, fmt.Sprintf("role %q may not spawn %q at depth %d",
			role, it.TargetAgentType, it.DepthLevel+1), nil
	}

	if it.SwarmID != nil {
		sw, err := p.stores.Swarms.GetSwarm(ctx, *it.SwarmID)
		if err != nil {
			if store.IsNotFound(err) {
				return false, fmt.Sprintf("swarm %s not found", it.SwarmID), nil
			}
			return false, "", err
		}
		n, err := p.stores.Workers.CountLiveWorkers(ctx, it.SwarmID)
		if err != nil {
			return false, "", err
		}
		if n >= sw.MaxAgents {
			return false, "", nil // swarm at capacity, wait
		}
	}

	total, err := p.stores.Workers.CountLiveWorkers(ctx, nil)
	if err != nil {
		return false, "", err
	}
	if total >= p.cfg.GlobalCap {
		return false, "", nil // global capacity, wait
	}
	return true, "", nil
}

// requesterRole resolves the spawner's role. Requests from handles with
// no worker row come from the operator surface and act as lead.
func (p *Planner) requesterRole(ctx context.Context, handle string) (string, error) {
	workers, err := p.stores.Workers.ListWorkers(ctx, "")
	if err != nil {
		return "", err
	}
	for i := range workers {
		w := &workers[i]
		if w.Handle == handle && w.Live() {
			return w.Role, nil
		}
	}
	return "lead", nil
}

func (p *Planner) admit(ctx context.Context, it *store.SpawnItem) error {
	var payload SpawnPayload
	if len(it.Payload) > 0 {
		if err := json.Unmarshal(it.Payload, &payload); err != nil {
			return p.reject(ctx, it, fmt.Sprintf("bad payload: %v", err))
		}
	}
	handle := payload.Handle
	if handle == "" {
		handle = store.NewShortID(it.TargetAgentType)
	}
	teamName := payload.TeamName
	if teamName == "" {
		teamName = it.RequesterHandle
	}
	dir := payload.WorkingDir
	if dir == "" {
		dir = p.cfg.WorkRoot
	}

	w, err := p.spawner.Spawn(ctx, supervisor.SpawnRequest{
		Handle:        handle,
		TeamName:      teamName,
		Role:          it.TargetAgentType,
		WorkingDir:    dir,
		InitialPrompt: payload.Prompt,
		Model:         payload.Model,
		SwarmID:       it.SwarmID,
		DepthLevel:    it.DepthLevel + 1,
	})
	if err != nil {
		return p.reject(ctx, it, fmt.Sprintf("spawn failed: %v", err))
	}
	if err := p.stores.SpawnQueue.UpdateSpawnStatus(ctx, it.ID, store.SpawnStatusSpawned, &w.ID, ""); err != nil {
		return err
	}
	p.log.Info("planner: admitted spawn", "item", it.ID, "worker", w.ID, "handle", handle)
	p.bus.PublishJSON(protocol.TopicWorkers, protocol.EventSpawnAdmitted, map[string]any{
		"itemId": it.ID, "workerId": w.ID, "handle": handle,
	})
	return nil
}

func (p *Planner) reject(ctx context.Context, it *store.SpawnItem, reason string) error {
	if err := p.stores.SpawnQueue.UpdateSpawnStatus(ctx, it.ID, store.SpawnStatusRejected, nil, reason); err != nil {
		return err
	}
	p.log.Warn("planner: rejected spawn", "item", it.ID, "reason", reason)
	p.bus.PublishJSON(protocol.TopicWorkers, protocol.EventSpawnRejected, map[string]any{
		"itemId": it.ID, "reason": reason,
	})
	return nil
}
