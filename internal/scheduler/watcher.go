package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/titanous/json5"

	"github.com/fleetworks/fleetd/internal/store"
)

// seedDoc is the on-disk schedule/template seed document. JSON5 so
// operators can annotate entries.
type seedDoc struct {
	Templates []seedTemplate `json:"templates"`
	Schedules []seedSchedule `json:"schedules"`
}

type seedTemplate struct {
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	Category         string   `json:"category,omitempty"`
	Role             string   `json:"role"`
	PromptTemplate   string   `json:"promptTemplate"`
	EstimatedMinutes int      `json:"estimatedMinutes,omitempty"`
	RequiredContext  []string `json:"requiredContext,omitempty"`
}

type seedSchedule struct {
	Name       string   `json:"name"`
	CronExpr   string   `json:"cronExpr"`
	Tasks      []string `json:"tasks"` // template names
	Repository string   `json:"repository,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty"`
}

// Watcher syncs a seed file of schedules and templates into the store,
// reloading whenever the file changes. Entries are matched by name;
// entries removed from the file are left in the store untouched.
type Watcher struct {
	path   string
	stores *store.Stores
	sched  *Scheduler
	log    *slog.Logger
}

func NewWatcher(path string, stores *store.Stores, sched *Scheduler, log *slog.Logger) *Watcher {
	return &Watcher{path: path, stores: stores, sched: sched, log: log}
}

// Run loads once, then watches until ctx is done. Editors replace files
// on save, so the parent directory is watched and events are debounced.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Sync(ctx); err != nil {
		w.log.Error("scheduler: seed load", "path", w.path, "error", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("seed watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("seed watcher add: %w", err)
	}

	var debounce *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("scheduler: seed watcher", "error", err)
		case <-reload:
			if err := w.Sync(ctx); err != nil {
				w.log.Error("scheduler: seed reload", "path", w.path, "error", err)
			} else {
				w.log.Info("scheduler: seed reloaded", "path", w.path)
			}
		}
	}
}

// Sync applies the seed file to the store. Templates first, so schedule
// task lists can resolve template names to ids.
func (w *Watcher) Sync(ctx context.Context) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var doc seedDoc
	if err := json5.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}

	existing, err := w.stores.Schedules.ListTemplates(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]*store.Template, len(existing))
	for i := range existing {
		byName[existing[i].Name] = &existing[i]
	}

	for _, st := range doc.Templates {
		if _, ok := byName[st.Name]; ok {
			continue // templates are immutable once seeded; rename to change
		}
		t := &store.Template{
			ID:               store.NewID(),
			Name:             st.Name,
			Description:      st.Description,
			Category:         st.Category,
			Role:             st.Role,
			PromptTemplate:   st.PromptTemplate,
			EstimatedMinutes: st.EstimatedMinutes,
			RequiredContext:  st.RequiredContext,
		}
		if err := w.stores.Schedules.CreateTemplate(ctx, t); err != nil {
			return fmt.Errorf("seed template %q: %w", st.Name, err)
		}
		byName[t.Name] = t
	}

	schedules, err := w.stores.Schedules.ListSchedules(ctx)
	if err != nil {
		return err
	}
	schedByName := make(map[string]*store.Schedule, len(schedules))
	for i := range schedules {
		schedByName[schedules[i].Name] = &schedules[i]
	}

	for _, ss := range doc.Schedules {
		if err := w.sched.ValidateCron(ss.CronExpr); err != nil {
			return fmt.Errorf("seed schedule %q: %w", ss.Name, err)
		}
		ids, err := resolveTemplates(ss.Tasks, byName)
		if err != nil {
			return fmt.Errorf("seed schedule %q: %w", ss.Name, err)
		}
		enabled := true
		if ss.Enabled != nil {
			enabled = *ss.Enabled
		}
		if cur, ok := schedByName[ss.Name]; ok {
			cur.CronExpr = ss.CronExpr
			cur.Tasks = ids
			cur.Repository = ss.Repository
			cur.Enabled = enabled
			if cur.NextRun, err = w.sched.NextRun(cur.CronExpr); err != nil {
				return err
			}
			if err := w.stores.Schedules.UpdateSchedule(ctx, cur); err != nil {
				return fmt.Errorf("seed schedule %q: %w", ss.Name, err)
			}
			continue
		}
		nextRun, err := w.sched.NextRun(ss.CronExpr)
		if err != nil {
			return err
		}
		sc := &store.Schedule{
			ID:         store.NewID(),
			Name:       ss.Name,
			CronExpr:   ss.CronExpr,
			Tasks:      ids,
			Repository: ss.Repository,
			Enabled:    enabled,
			NextRun:    nextRun,
		}
		if err := w.stores.Schedules.CreateSchedule(ctx, sc); err != nil {
			return fmt.Errorf("seed schedule %q: %w", ss.Name, err)
		}
	}
	return nil
}

func resolveTemplates(names []string, byName map[string]*store.Template) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown template %q", name)
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}
