package pg

import (
	"context"
	"database/sql"

	"github.com/fleetworks/fleetd/internal/store"
)

type mailStore struct {
	db *sql.DB
}

func (s *mailStore) SendMail(ctx context.Context, m *store.Mail) (*store.Mail, error) {
	m.CreatedAt = store.NowMillis()
	err := withRetry(ctx, func() error {
		return wrapErr("mail.send", s.db.QueryRowContext(ctx,
			`INSERT INTO mailbox (from_handle, to_handle, subject, body, created_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			m.FromHandle, m.ToHandle, m.Subject, m.Body, m.CreatedAt).Scan(&m.ID))
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *mailStore) MarkMailRead(ctx context.Context, id int64, handle string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mailbox SET read_at = $1 WHERE id = $2 AND to_handle = $3 AND read_at = 0`,
		store.NowMillis(), id, handle)
	if err != nil {
		return wrapErr("mail.mark_read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown, someone else's, or already read. Distinguish the
		// first two from the idempotent third.
		var readAt int64
		err := s.db.QueryRowContext(ctx,
			`SELECT read_at FROM mailbox WHERE id = $1 AND to_handle = $2`,
			id, handle).Scan(&readAt)
		if err != nil {
			return wrapErr("mail.mark_read", err)
		}
	}
	return nil
}

func (s *mailStore) MarkAllMailRead(ctx context.Context, handle string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mailbox SET read_at = $1 WHERE to_handle = $2 AND read_at = 0`,
		store.NowMillis(), handle)
	if err != nil {
		return 0, wrapErr("mail.mark_all_read", err)
	}
	n, err := res.RowsAffected()
	return int(n), wrapErr("mail.mark_all_read", err)
}

func (s *mailStore) GetUnreadMail(ctx context.Context, handle string) ([]store.Mail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_handle, to_handle, subject, body, read_at, created_at
		 FROM mailbox WHERE to_handle = $1 AND read_at = 0 ORDER BY created_at`, handle)
	if err != nil {
		return nil, wrapErr("mail.unread", err)
	}
	defer rows.Close()

	var out []store.Mail
	for rows.Next() {
		var m store.Mail
		var subject sql.NullString
		if err := rows.Scan(&m.ID, &m.FromHandle, &m.ToHandle, &subject, &m.Body,
			&m.ReadAt, &m.CreatedAt); err != nil {
			return nil, wrapErr("mail.unread", err)
		}
		m.Subject = subject.String
		out = append(out, m)
	}
	return out, wrapErr("mail.unread", rows.Err())
}

func (s *mailStore) UnreadMailCount(ctx context.Context, handle string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mailbox WHERE to_handle = $1 AND read_at = 0`,
		handle).Scan(&n)
	return n, wrapErr("mail.unread_count", err)
}

func (s *mailStore) CreateHandoff(ctx context.Context, h *store.Handoff) (*store.Handoff, error) {
	h.CreatedAt = store.NowMillis()
	hctx, err := jsonColumn(h.Context)
	if err != nil {
		return nil, store.NewError(store.KindFatal, "handoffs.create", err)
	}
	err = withRetry(ctx, func() error {
		return wrapErr("handoffs.create", s.db.QueryRowContext(ctx,
			`INSERT INTO handoffs (from_handle, to_handle, context, created_at)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			h.FromHandle, h.ToHandle, hctx, h.CreatedAt).Scan(&h.ID))
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *mailStore) AcceptHandoff(ctx context.Context, id int64, handle string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE handoffs SET accepted_at = $1
			 WHERE id = $2 AND to_handle = $3 AND accepted_at = 0`,
			store.NowMillis(), id, handle)
		if err != nil {
			return wrapErr("handoffs.accept", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var accepted int64
			err := s.db.QueryRowContext(ctx,
				`SELECT accepted_at FROM handoffs WHERE id = $1 AND to_handle = $2`,
				id, handle).Scan(&accepted)
			if err != nil {
				return wrapErr("handoffs.accept", err)
			}
			return store.Conflict("handoffs.accept", nil)
		}
		return nil
	})
}

func (s *mailStore) GetHandoffs(ctx context.Context, handle string, pendingOnly bool) ([]store.Handoff, error) {
	q := `SELECT id, from_handle, to_handle, context, accepted_at, created_at
	      FROM handoffs WHERE to_handle = $1 `
	if pendingOnly {
		q += `AND accepted_at = 0 `
	}
	q += `ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, q, handle)
	if err != nil {
		return nil, wrapErr("handoffs.list", err)
	}
	defer rows.Close()

	var out []store.Handoff
	for rows.Next() {
		var h store.Handoff
		var hctx []byte
		if err := rows.Scan(&h.ID, &h.FromHandle, &h.ToHandle, &hctx,
			&h.AcceptedAt, &h.CreatedAt); err != nil {
			return nil, wrapErr("handoffs.list", err)
		}
		h.Context = hctx
		out = append(out, h)
	}
	return out, wrapErr("handoffs.list", rows.Err())
}
