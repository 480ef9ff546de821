package pg

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

type workerStore struct {
	db *sql.DB
}

const workerCols = `id, handle, team_name, state, health, pid, session_id, role, swarm_id, depth_level, restart_count, current_task_id, working_dir, spawn_mode, spawned_at, dismissed_at, last_heartbeat`

func (s *workerStore) InsertWorker(ctx context.Context, w *store.Worker) error {
	if w.ID == uuid.Nil {
		w.ID = store.NewID()
	}
	now := store.NowMillis()
	if w.SpawnedAt == 0 {
		w.SpawnedAt = now
	}
	if w.LastHeartbeat == 0 {
		w.LastHeartbeat = now
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO workers (`+workerCols+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			w.ID, w.Handle, w.TeamName, w.State, w.Health, w.PID, w.SessionID,
			w.Role, w.SwarmID, w.DepthLevel, w.RestartCount, w.CurrentTaskID,
			w.WorkingDir, w.SpawnMode, w.SpawnedAt, w.DismissedAt, w.LastHeartbeat)
		return wrapErr("workers.insert", err)
	})
}

func scanWorker(row interface{ Scan(...any) error }) (*store.Worker, error) {
	var w store.Worker
	err := row.Scan(&w.ID, &w.Handle, &w.TeamName, &w.State, &w.Health,
		&w.PID, &w.SessionID, &w.Role, &w.SwarmID, &w.DepthLevel,
		&w.RestartCount, &w.CurrentTaskID, &w.WorkingDir, &w.SpawnMode,
		&w.SpawnedAt, &w.DismissedAt, &w.LastHeartbeat)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *workerStore) GetWorker(ctx context.Context, id uuid.UUID) (*store.Worker, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx,
		`SELECT `+workerCols+` FROM workers WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("workers.get", err)
	}
	return w, nil
}

func (s *workerStore) GetWorkerByHandle(ctx context.Context, teamName, handle string) (*store.Worker, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx,
		`SELECT `+workerCols+` FROM workers
		 WHERE team_name = $1 AND handle = $2 AND dismissed_at = 0
		 ORDER BY spawned_at DESC LIMIT 1`, teamName, handle))
	if err != nil {
		return nil, wrapErr("workers.get_by_handle", err)
	}
	return w, nil
}

func (s *workerStore) ListWorkers(ctx context.Context, teamName string) ([]store.Worker, error) {
	q := `SELECT ` + workerCols + ` FROM workers `
	var args []any
	if teamName != "" {
		q += `WHERE team_name = $1 `
		args = append(args, teamName)
	}
	q += `ORDER BY spawned_at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("workers.list", err)
	}
	defer rows.Close()

	var out []store.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, wrapErr("workers.list", err)
		}
		out = append(out, *w)
	}
	return out, wrapErr("workers.list", rows.Err())
}

func (s *workerStore) UpdateWorker(ctx context.Context, w *store.Worker) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE workers SET state = $1, health = $2, pid = $3, session_id = $4,
			 restart_count = $5, current_task_id = $6, dismissed_at = $7, last_heartbeat = $8
			 WHERE id = $9`,
			w.State, w.Health, w.PID, w.SessionID,
			w.RestartCount, w.CurrentTaskID, w.DismissedAt, w.LastHeartbeat, w.ID)
		if err != nil {
			return wrapErr("workers.update", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.NotFound("workers.update")
		}
		return nil
	})
}

func (s *workerStore) CountLiveWorkers(ctx context.Context, swarmID *uuid.UUID) (int, error) {
	q := `SELECT COUNT(*) FROM workers
	      WHERE dismissed_at = 0 AND state NOT IN ('stopped', 'error')`
	var args []any
	if swarmID != nil {
		q += ` AND swarm_id = $1`
		args = append(args, *swarmID)
	}
	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, wrapErr("workers.count_live", err)
}
