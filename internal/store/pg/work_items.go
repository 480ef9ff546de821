package pg

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

type workItemStore struct {
	db *sql.DB
}

const workItemCols = `id, title, description, status, assigned_to, created_by_handle, priority, blocked_by, batch_id, metadata, created_at, updated_at, completed_at`

func (s *workItemStore) CreateWorkItem(ctx context.Context, w *store.WorkItem) error {
	if w.ID == uuid.Nil {
		w.ID = store.NewID()
	}
	if w.Status == "" {
		w.Status = store.WorkItemStatusPending
	}
	if w.Priority == 0 {
		w.Priority = 3
	}
	now := store.NowMillis()
	w.CreatedAt, w.UpdatedAt = now, now

	blocked, err := jsonColumn(w.BlockedBy)
	if err != nil {
		return store.NewError(store.KindFatal, "work_items.create", err)
	}
	meta, err := jsonColumn(w.Metadata)
	if err != nil {
		return store.NewError(store.KindFatal, "work_items.create", err)
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO work_items (`+workItemCols+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			w.ID, w.Title, w.Description, w.Status, w.AssignedTo,
			w.CreatedByHandle, w.Priority, blocked, w.BatchID, meta,
			w.CreatedAt, w.UpdatedAt, w.CompletedAt)
		return wrapErr("work_items.create", err)
	})
}

func scanWorkItem(row interface{ Scan(...any) error }) (*store.WorkItem, error) {
	var w store.WorkItem
	var desc, assigned sql.NullString
	var blocked, meta []byte
	err := row.Scan(&w.ID, &w.Title, &desc, &w.Status, &assigned,
		&w.CreatedByHandle, &w.Priority, &blocked, &w.BatchID, &meta,
		&w.CreatedAt, &w.UpdatedAt, &w.CompletedAt)
	if err != nil {
		return nil, err
	}
	w.Description = desc.String
	w.AssignedTo = assigned.String
	if err := scanJSON(blocked, &w.BlockedBy); err != nil {
		return nil, err
	}
	if len(meta) > 0 && string(meta) != "null" {
		w.Metadata = meta
	}
	return &w, nil
}

func (s *workItemStore) GetWorkItem(ctx context.Context, id uuid.UUID) (*store.WorkItem, error) {
	w, err := scanWorkItem(s.db.QueryRowContext(ctx,
		`SELECT `+workItemCols+` FROM work_items WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("work_items.get", err)
	}
	return w, nil
}

func (s *workItemStore) ListWorkItems(ctx context.Context, status string, limit int) ([]store.WorkItem, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT ` + workItemCols + ` FROM work_items `
	args := []any{limit}
	if status != "" {
		q += `WHERE status = $2 `
		args = append(args, status)
	}
	q += `ORDER BY priority DESC, created_at LIMIT $1`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("work_items.list", err)
	}
	defer rows.Close()

	var out []store.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, wrapErr("work_items.list", err)
		}
		out = append(out, *w)
	}
	return out, wrapErr("work_items.list", rows.Err())
}

// AssignWorkItem is the CAS at the heart of contention-free claiming: the
// UPDATE only matches while the item is still pending and unassigned.
func (s *workItemStore) AssignWorkItem(ctx context.Context, id uuid.UUID, handle string) (bool, error) {
	var won bool
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE work_items SET assigned_to = $1, status = $2, updated_at = $3
			 WHERE id = $4 AND status = $5 AND (assigned_to IS NULL OR assigned_to = '')`,
			handle, store.WorkItemStatusInProgress, store.NowMillis(),
			id, store.WorkItemStatusPending)
		if err != nil {
			return wrapErr("work_items.assign", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapErr("work_items.assign", err)
		}
		won = n > 0
		return nil
	})
	return won, err
}

func (s *workItemStore) UpdateWorkItemStatus(ctx context.Context, id uuid.UUID, status string) error {
	now := store.NowMillis()
	completed := int64(0)
	if status == store.WorkItemStatusCompleted {
		completed = now
	}
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE work_items SET status = $1, updated_at = $2,
			 completed_at = CASE WHEN $3 > 0 THEN $3 ELSE completed_at END
			 WHERE id = $4`,
			status, now, completed, id)
		if err != nil {
			return wrapErr("work_items.update_status", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.NotFound("work_items.update_status")
		}
		return nil
	})
}

func (s *workItemStore) CreateBatch(ctx context.Context, b *store.Batch) error {
	if b.ID == uuid.Nil {
		b.ID = store.NewID()
	}
	b.CreatedAt = store.NowMillis()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO batches (id, name, created_at) VALUES ($1, $2, $3)`,
			b.ID, b.Name, b.CreatedAt)
		return wrapErr("batches.create", err)
	})
}

// DispatchBatch claims every still-pending member of the batch for handle in
// one transaction. Partially-claimed batches dispatch the remainder.
func (s *workItemStore) DispatchBatch(ctx context.Context, batchID uuid.UUID, handle string) (int, error) {
	var n int64
	err := withRetry(ctx, func() error {
		return inTx(ctx, s.db, func(tx *sql.Tx) error {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM batches WHERE id = $1)`, batchID).Scan(&exists); err != nil {
				return wrapErr("batches.dispatch", err)
			}
			if !exists {
				return store.NotFound("batches.dispatch")
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE work_items SET assigned_to = $1, status = $2, updated_at = $3
				 WHERE batch_id = $4 AND status = $5 AND (assigned_to IS NULL OR assigned_to = '')`,
				handle, store.WorkItemStatusInProgress, store.NowMillis(),
				batchID, store.WorkItemStatusPending)
			if err != nil {
				return wrapErr("batches.dispatch", err)
			}
			n, err = res.RowsAffected()
			return wrapErr("batches.dispatch", err)
		})
	})
	return int(n), err
}

func (s *workItemStore) ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]store.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workItemCols+` FROM work_items WHERE batch_id = $1
		 ORDER BY priority DESC, created_at`, batchID)
	if err != nil {
		return nil, wrapErr("batches.items", err)
	}
	defer rows.Close()

	var out []store.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, wrapErr("batches.items", err)
		}
		out = append(out, *w)
	}
	return out, wrapErr("batches.items", rows.Err())
}

func (s *workItemStore) PlaceBid(ctx context.Context, b *store.Bid) error {
	if b.ID == uuid.Nil {
		b.ID = store.NewID()
	}
	b.CreatedAt = store.NowMillis()
	return withRetry(ctx, func() error {
		// One bid per (item, bidder); a re-bid replaces the old offer.
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO work_item_bids (id, work_item_id, bidder_handle, amount, confidence, estimated_minutes, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (work_item_id, bidder_handle) DO UPDATE SET
			   amount = EXCLUDED.amount,
			   confidence = EXCLUDED.confidence,
			   estimated_minutes = EXCLUDED.estimated_minutes,
			   created_at = EXCLUDED.created_at`,
			b.ID, b.WorkItemID, b.BidderHandle, b.Amount, b.Confidence,
			b.EstimatedMinutes, b.CreatedAt)
		return wrapErr("bids.place", err)
	})
}

func (s *workItemStore) ListBids(ctx context.Context, workItemID uuid.UUID) ([]store.Bid, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, work_item_id, bidder_handle, amount, confidence, estimated_minutes, created_at
		 FROM work_item_bids WHERE work_item_id = $1 ORDER BY created_at`, workItemID)
	if err != nil {
		return nil, wrapErr("bids.list", err)
	}
	defer rows.Close()

	var out []store.Bid
	for rows.Next() {
		var b store.Bid
		if err := rows.Scan(&b.ID, &b.WorkItemID, &b.BidderHandle, &b.Amount,
			&b.Confidence, &b.EstimatedMinutes, &b.CreatedAt); err != nil {
			return nil, wrapErr("bids.list", err)
		}
		out = append(out, b)
	}
	return out, wrapErr("bids.list", rows.Err())
}
