package pg

import (
	"context"
	"database/sql"

	"github.com/fleetworks/fleetd/internal/store"
)

type taskStore struct {
	db *sql.DB
}

const taskCols = `id, team_name, subject, description, status, owner_handle, created_by_handle, priority, created_at, updated_at, completed_at`

func (s *taskStore) InsertTask(ctx context.Context, t *store.Task) error {
	if t.ID == "" {
		t.ID = store.NewShortID("task")
	}
	if t.Status == "" {
		t.Status = store.TaskStatusOpen
	}
	if t.Priority == 0 {
		t.Priority = 3
	}
	now := store.NowMillis()
	t.CreatedAt, t.UpdatedAt = now, now
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tasks (`+taskCols+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.ID, t.TeamName, t.Subject, t.Description, t.Status,
			t.OwnerHandle, t.CreatedByHandle, t.Priority,
			t.CreatedAt, t.UpdatedAt, t.CompletedAt)
		return wrapErr("tasks.insert", err)
	})
}

func scanTask(row interface{ Scan(...any) error }) (*store.Task, error) {
	var t store.Task
	var desc, owner sql.NullString
	err := row.Scan(&t.ID, &t.TeamName, &t.Subject, &desc, &t.Status,
		&owner, &t.CreatedByHandle, &t.Priority,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.OwnerHandle = owner.String
	return &t, nil
}

func (s *taskStore) GetTask(ctx context.Context, id string) (*store.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("tasks.get", err)
	}
	return t, nil
}

func (s *taskStore) UpdateTaskStatus(ctx context.Context, id, status string) (*store.Task, error) {
	var out *store.Task
	err := withRetry(ctx, func() error {
		return inTx(ctx, s.db, func(tx *sql.Tx) error {
			cur, err := scanTask(tx.QueryRowContext(ctx,
				`SELECT `+taskCols+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
			if err != nil {
				return wrapErr("tasks.update_status", err)
			}
			if cur.Status == status {
				out = cur // idempotent no-op
				return nil
			}
			now := store.NowMillis()
			completed := cur.CompletedAt
			if status == store.TaskStatusResolved {
				completed = now
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE tasks SET status = $1, updated_at = $2, completed_at = $3 WHERE id = $4`,
				status, now, completed, id); err != nil {
				return wrapErr("tasks.update_status", err)
			}
			cur.Status, cur.UpdatedAt, cur.CompletedAt = status, now, completed
			out = cur
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *taskStore) ListTasksByTeam(ctx context.Context, teamName string) ([]store.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE team_name = $1
		 ORDER BY priority DESC, created_at`, teamName)
	if err != nil {
		return nil, wrapErr("tasks.list", err)
	}
	defer rows.Close()

	var out []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrapErr("tasks.list", err)
		}
		out = append(out, *t)
	}
	return out, wrapErr("tasks.list", rows.Err())
}
