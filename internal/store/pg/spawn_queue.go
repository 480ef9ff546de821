package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

type spawnQueueStore struct {
	db *sql.DB
}

const spawnCols = `id, requester_handle, target_agent_type, depth_level, swarm_id, priority, depends_on, payload, status, source, retries, retry_delay_ms, reason, created_at, spawned_at, worker_id`

func (s *spawnQueueStore) EnqueueSpawn(ctx context.Context, it *store.SpawnItem) error {
	if it.ID == uuid.Nil {
		it.ID = store.NewID()
	}
	if it.Status == "" {
		it.Status = store.SpawnStatusPending
	}
	if it.Source == "" {
		it.Source = store.SpawnSourceAPI
	}
	if it.CreatedAt == 0 {
		it.CreatedAt = store.NowMillis()
	}
	rank, ok := store.PriorityRank[it.Priority]
	if !ok {
		return store.Integrity("spawn_queue.enqueue", fmt.Errorf("invalid priority %q", it.Priority))
	}
	deps, err := jsonColumn(it.DependsOn)
	if err != nil {
		return store.NewError(store.KindFatal, "spawn_queue.enqueue", err)
	}
	payload, err := jsonColumn(it.Payload)
	if err != nil {
		return store.NewError(store.KindFatal, "spawn_queue.enqueue", err)
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO spawn_queue
			 (id, requester_handle, target_agent_type, depth_level, swarm_id, priority, priority_rank, depends_on, payload, status, source, retries, retry_delay_ms, reason, created_at, spawned_at, worker_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			it.ID, it.RequesterHandle, it.TargetAgentType, it.DepthLevel,
			it.SwarmID, it.Priority, rank, deps, payload, it.Status, it.Source,
			it.Retries, it.RetryDelayMs, it.Reason, it.CreatedAt, it.SpawnedAt,
			it.WorkerID)
		return wrapErr("spawn_queue.enqueue", err)
	})
}

func scanSpawnItem(row interface{ Scan(...any) error }) (*store.SpawnItem, error) {
	var it store.SpawnItem
	var deps, payload []byte
	var reason sql.NullString
	err := row.Scan(&it.ID, &it.RequesterHandle, &it.TargetAgentType,
		&it.DepthLevel, &it.SwarmID, &it.Priority, &deps, &payload,
		&it.Status, &it.Source, &it.Retries, &it.RetryDelayMs, &reason,
		&it.CreatedAt, &it.SpawnedAt, &it.WorkerID)
	if err != nil {
		return nil, err
	}
	it.Reason = reason.String
	if err := scanJSON(deps, &it.DependsOn); err != nil {
		return nil, err
	}
	if len(payload) > 0 && string(payload) != "null" {
		it.Payload = payload
	}
	return &it, nil
}

func (s *spawnQueueStore) GetSpawnItem(ctx context.Context, id uuid.UUID) (*store.SpawnItem, error) {
	it, err := scanSpawnItem(s.db.QueryRowContext(ctx,
		`SELECT `+spawnCols+` FROM spawn_queue WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("spawn_queue.get", err)
	}
	return it, nil
}

func (s *spawnQueueStore) GetReadySpawnItems(ctx context.Context, limit int) ([]store.SpawnItem, error) {
	if limit <= 0 {
		limit = 16
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+spawnCols+` FROM spawn_queue WHERE status = $1
		 ORDER BY priority_rank DESC, created_at ASC, id LIMIT $2`,
		store.SpawnStatusPending, limit)
	if err != nil {
		return nil, wrapErr("spawn_queue.ready", err)
	}
	defer rows.Close()
	return collectSpawnItems(rows, "spawn_queue.ready")
}

func (s *spawnQueueStore) ListSpawnItems(ctx context.Context, status string, limit int) ([]store.SpawnItem, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT ` + spawnCols + ` FROM spawn_queue `
	args := []any{limit}
	if status != "" {
		q += `WHERE status = $2 `
		args = append(args, status)
	}
	q += `ORDER BY priority_rank DESC, created_at ASC, id LIMIT $1`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("spawn_queue.list", err)
	}
	defer rows.Close()
	return collectSpawnItems(rows, "spawn_queue.list")
}

func collectSpawnItems(rows *sql.Rows, op string) ([]store.SpawnItem, error) {
	var out []store.SpawnItem
	for rows.Next() {
		it, err := scanSpawnItem(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, *it)
	}
	return out, wrapErr(op, rows.Err())
}

func (s *spawnQueueStore) UpdateSpawnStatus(ctx context.Context, id uuid.UUID, status string, workerID *uuid.UUID, reason string) error {
	return withRetry(ctx, func() error {
		return inTx(ctx, s.db, func(tx *sql.Tx) error {
			var cur string
			if err := tx.QueryRowContext(ctx,
				`SELECT status FROM spawn_queue WHERE id = $1 FOR UPDATE`, id).Scan(&cur); err != nil {
				return wrapErr("spawn_queue.update_status", err)
			}
			// Cancellation only applies while the item is still pending.
			if status == store.SpawnStatusCancelled && cur != store.SpawnStatusPending {
				return store.Conflict("spawn_queue.update_status",
					fmt.Errorf("cannot cancel item in status %q", cur))
			}
			spawnedAt := int64(0)
			if status == store.SpawnStatusSpawned {
				spawnedAt = store.NowMillis()
			}
			_, err := tx.ExecContext(ctx,
				`UPDATE spawn_queue SET status = $1, worker_id = $2, reason = $3,
				 spawned_at = CASE WHEN $4 > 0 THEN $4 ELSE spawned_at END
				 WHERE id = $5`,
				status, workerID, reason, spawnedAt, id)
			return wrapErr("spawn_queue.update_status", err)
		})
	})
}

func (s *spawnQueueStore) CountSpawnedBySource(ctx context.Context, source string, statuses []string) (int, error) {
	if len(statuses) == 0 {
		statuses = []string{store.SpawnStatusPending, store.SpawnStatusApproved, store.SpawnStatusSpawned}
	}
	q := `SELECT COUNT(*) FROM spawn_queue WHERE source = $1 AND status IN (`
	args := []any{source}
	for i, st := range statuses {
		if i > 0 {
			q += ", "
		}
		args = append(args, st)
		q += fmt.Sprintf("$%d", len(args))
	}
	q += `)`

	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, wrapErr("spawn_queue.count_by_source", err)
}
