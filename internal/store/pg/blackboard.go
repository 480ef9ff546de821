package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

type blackboardStore struct {
	db *sql.DB
}

func (s *blackboardStore) PostBlackboard(ctx context.Context, m *store.BlackboardMessage) error {
	if m.ID == uuid.Nil {
		m.ID = store.NewID()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = store.NowMillis()
	}
	rank, ok := store.PriorityRank[m.Priority]
	if !ok {
		return store.Integrity("blackboard.post", fmt.Errorf("invalid priority %q", m.Priority))
	}
	payload, err := jsonColumn(m.Payload)
	if err != nil {
		return store.NewError(store.KindFatal, "blackboard.post", err)
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO blackboard_messages
			 (id, swarm_id, sender_handle, message_type, priority, priority_rank, payload, target_handle, created_at, expires_at, archived_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)`,
			m.ID, m.SwarmID, m.SenderHandle, m.MessageType, m.Priority, rank,
			payload, m.TargetHandle, m.CreatedAt, m.ExpiresAt)
		return wrapErr("blackboard.post", err)
	})
}

func (s *blackboardStore) ReadBlackboard(ctx context.Context, f store.BlackboardFilter) ([]store.BlackboardMessage, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	now := store.NowMillis()

	q := `SELECT b.id, b.swarm_id, b.sender_handle, b.message_type, b.priority, b.payload, b.target_handle, b.created_at, b.expires_at, b.archived_at
	      FROM blackboard_messages b
	      WHERE b.swarm_id = $1 AND b.archived_at = 0
	        AND (b.expires_at = 0 OR b.expires_at > $2)`
	args := []any{f.SwarmID, now}

	if f.MessageType != "" {
		args = append(args, f.MessageType)
		q += fmt.Sprintf(` AND b.message_type = $%d`, len(args))
	}
	if f.MinPriority != "" {
		rank, ok := store.PriorityRank[f.MinPriority]
		if !ok {
			return nil, store.Integrity("blackboard.read", fmt.Errorf("invalid priority %q", f.MinPriority))
		}
		args = append(args, rank)
		q += fmt.Sprintf(` AND b.priority_rank >= $%d`, len(args))
	}
	if f.UnreadOnly {
		args = append(args, f.ReaderHandle)
		q += fmt.Sprintf(` AND NOT EXISTS (
			SELECT 1 FROM blackboard_reads r
			WHERE r.message_id = b.id AND r.reader_handle = $%d)`, len(args))
		// Messages posted before the reader joined the swarm are never
		// unread. Readers without a worker row (the operator) see all.
		args = append(args, f.ReaderHandle)
		q += fmt.Sprintf(` AND b.created_at >= COALESCE((
			SELECT MIN(w.spawned_at) FROM workers w
			WHERE w.swarm_id = b.swarm_id AND w.handle = $%d), 0)`, len(args))
	}
	if f.ReaderHandle != "" {
		// Targeted messages are only visible to their target.
		args = append(args, f.ReaderHandle)
		q += fmt.Sprintf(` AND (b.target_handle IS NULL OR b.target_handle = '' OR b.target_handle = $%d)`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY b.created_at DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("blackboard.read", err)
	}
	defer rows.Close()

	var out []store.BlackboardMessage
	for rows.Next() {
		var m store.BlackboardMessage
		var payload []byte
		var target sql.NullString
		if err := rows.Scan(&m.ID, &m.SwarmID, &m.SenderHandle, &m.MessageType,
			&m.Priority, &payload, &target, &m.CreatedAt, &m.ExpiresAt, &m.ArchivedAt); err != nil {
			return nil, wrapErr("blackboard.read", err)
		}
		m.Payload = payload
		m.TargetHandle = target.String
		out = append(out, m)
	}
	return out, wrapErr("blackboard.read", rows.Err())
}

func (s *blackboardStore) MarkBlackboardRead(ctx context.Context, ids []uuid.UUID, reader string) (int, error) {
	now := store.NowMillis()
	marked := 0
	err := withRetry(ctx, func() error {
		marked = 0
		return inTx(ctx, s.db, func(tx *sql.Tx) error {
			for _, id := range ids {
				res, err := tx.ExecContext(ctx,
					`INSERT INTO blackboard_reads (message_id, reader_handle, read_at)
					 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
					id, reader, now)
				if err != nil {
					return wrapErr("blackboard.mark_read", err)
				}
				if n, _ := res.RowsAffected(); n > 0 {
					marked++
				}
			}
			return nil
		})
	})
	return marked, err
}

func (s *blackboardStore) ArchiveBlackboard(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := store.NowMillis()
	archived := 0
	err := withRetry(ctx, func() error {
		archived = 0
		return inTx(ctx, s.db, func(tx *sql.Tx) error {
			for _, id := range ids {
				res, err := tx.ExecContext(ctx,
					`UPDATE blackboard_messages SET archived_at = $1
					 WHERE id = $2 AND archived_at = 0`, now, id)
				if err != nil {
					return wrapErr("blackboard.archive", err)
				}
				if n, _ := res.RowsAffected(); n > 0 {
					archived++
				}
			}
			return nil
		})
	})
	return archived, err
}

func (s *blackboardStore) ArchiveBlackboardOlderThan(ctx context.Context, ageMs int64) (int, error) {
	now := store.NowMillis()
	cutoff := now - ageMs
	res, err := s.db.ExecContext(ctx,
		`UPDATE blackboard_messages SET archived_at = $1
		 WHERE archived_at = 0 AND created_at < $2`, now, cutoff)
	if err != nil {
		return 0, wrapErr("blackboard.archive_old", err)
	}
	n, err := res.RowsAffected()
	return int(n), wrapErr("blackboard.archive_old", err)
}

func (s *blackboardStore) UnreadBlackboardCount(ctx context.Context, swarmID uuid.UUID, reader string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blackboard_messages b
		 WHERE b.swarm_id = $1 AND b.archived_at = 0
		   AND (b.expires_at = 0 OR b.expires_at > $2)
		   AND (b.target_handle IS NULL OR b.target_handle = '' OR b.target_handle = $3)
		   AND NOT EXISTS (
		     SELECT 1 FROM blackboard_reads r
		     WHERE r.message_id = b.id AND r.reader_handle = $3)
		   AND b.created_at >= COALESCE((
		     SELECT MIN(w.spawned_at) FROM workers w
		     WHERE w.swarm_id = b.swarm_id AND w.handle = $3), 0)`,
		swarmID, store.NowMillis(), reader).Scan(&n)
	return n, wrapErr("blackboard.unread_count", err)
}
