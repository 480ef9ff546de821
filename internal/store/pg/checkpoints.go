package pg

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

type checkpointStore struct {
	db *sql.DB
}

const checkpointCols = `id, worker_handle, from_handle, to_handle, goal, now_state, test, done_this_session, blockers, questions, next_steps, status, created_at`

func (s *checkpointStore) CreateCheckpoint(ctx context.Context, c *store.Checkpoint) error {
	if c.ID == uuid.Nil {
		c.ID = store.NewID()
	}
	if c.Status == "" {
		c.Status = store.CheckpointStatusPending
	}
	c.CreatedAt = store.NowMillis()

	done, err := jsonColumn(c.DoneThisSession)
	if err != nil {
		return store.NewError(store.KindFatal, "checkpoints.create", err)
	}
	blockers, _ := jsonColumn(c.Blockers)
	questions, _ := jsonColumn(c.Questions)
	next, _ := jsonColumn(c.Next)

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO checkpoints (`+checkpointCols+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			c.ID, c.WorkerHandle, c.FromHandle, c.ToHandle, c.Goal, c.Now,
			c.Test, done, blockers, questions, next, c.Status, c.CreatedAt)
		return wrapErr("checkpoints.create", err)
	})
}

func scanCheckpoint(row interface{ Scan(...any) error }) (*store.Checkpoint, error) {
	var c store.Checkpoint
	var test sql.NullString
	var done, blockers, questions, next []byte
	err := row.Scan(&c.ID, &c.WorkerHandle, &c.FromHandle, &c.ToHandle,
		&c.Goal, &c.Now, &test, &done, &blockers, &questions, &next,
		&c.Status, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Test = test.String
	if err := scanJSON(done, &c.DoneThisSession); err != nil {
		return nil, err
	}
	if err := scanJSON(blockers, &c.Blockers); err != nil {
		return nil, err
	}
	if err := scanJSON(questions, &c.Questions); err != nil {
		return nil, err
	}
	if err := scanJSON(next, &c.Next); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *checkpointStore) GetCheckpoint(ctx context.Context, id uuid.UUID) (*store.Checkpoint, error) {
	c, err := scanCheckpoint(s.db.QueryRowContext(ctx,
		`SELECT `+checkpointCols+` FROM checkpoints WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("checkpoints.get", err)
	}
	return c, nil
}

func (s *checkpointStore) LatestCheckpoint(ctx context.Context, workerHandle string) (*store.Checkpoint, error) {
	c, err := scanCheckpoint(s.db.QueryRowContext(ctx,
		`SELECT `+checkpointCols+` FROM checkpoints
		 WHERE worker_handle = $1 ORDER BY created_at DESC LIMIT 1`, workerHandle))
	if err != nil {
		return nil, wrapErr("checkpoints.latest", err)
	}
	return c, nil
}

func (s *checkpointStore) ListCheckpoints(ctx context.Context, status string, limit int) ([]store.Checkpoint, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT ` + checkpointCols + ` FROM checkpoints `
	args := []any{limit}
	if status != "" {
		q += `WHERE status = $2 `
		args = append(args, status)
	}
	q += `ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("checkpoints.list", err)
	}
	defer rows.Close()

	var out []store.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, wrapErr("checkpoints.list", err)
		}
		out = append(out, *c)
	}
	return out, wrapErr("checkpoints.list", rows.Err())
}

func (s *checkpointStore) ResolveCheckpoint(ctx context.Context, id uuid.UUID, status string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE checkpoints SET status = $1 WHERE id = $2`, status, id)
		if err != nil {
			return wrapErr("checkpoints.resolve", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.NotFound("checkpoints.resolve")
		}
		return nil
	})
}
