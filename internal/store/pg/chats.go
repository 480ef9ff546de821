package pg

import (
	"context"
	"database/sql"

	"github.com/fleetworks/fleetd/internal/store"
)

type chatStore struct {
	db *sql.DB
}

func (s *chatStore) InsertChat(ctx context.Context, id string, participants []string) (*store.Chat, error) {
	if id == "" {
		id = store.NewShortID("chat")
	}
	c := &store.Chat{ID: id, Participants: participants, CreatedAt: store.NowMillis()}
	parts, err := jsonColumn(participants)
	if err != nil {
		return nil, store.NewError(store.KindFatal, "chats.insert", err)
	}
	err = withRetry(ctx, func() error {
		return wrapErr("chats.insert", inTx(ctx, s.db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chats (id, participants, created_at) VALUES ($1, $2, $3)`,
				c.ID, parts, c.CreatedAt); err != nil {
				return err
			}
			for _, uid := range participants {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO chat_members (chat_id, uid) VALUES ($1, $2)`,
					c.ID, uid); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO unread (chat_id, uid, count) VALUES ($1, $2, 0)`,
					c.ID, uid); err != nil {
					return err
				}
			}
			return nil
		}))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *chatStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	var c store.Chat
	var parts []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, participants, created_at FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &parts, &c.CreatedAt)
	if err != nil {
		return nil, wrapErr("chats.get", err)
	}
	if err := scanJSON(parts, &c.Participants); err != nil {
		return nil, store.NewError(store.KindFatal, "chats.get", err)
	}
	return &c, nil
}

func (s *chatStore) GetChatsByUser(ctx context.Context, uid string) ([]store.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.participants, c.created_at
		 FROM chats c JOIN chat_members m ON m.chat_id = c.id
		 WHERE m.uid = $1 ORDER BY c.created_at DESC`, uid)
	if err != nil {
		return nil, wrapErr("chats.by_user", err)
	}
	defer rows.Close()

	var out []store.Chat
	for rows.Next() {
		var c store.Chat
		var parts []byte
		if err := rows.Scan(&c.ID, &parts, &c.CreatedAt); err != nil {
			return nil, wrapErr("chats.by_user", err)
		}
		if err := scanJSON(parts, &c.Participants); err != nil {
			return nil, store.NewError(store.KindFatal, "chats.by_user", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("chats.by_user", rows.Err())
}

func (s *chatStore) AppendMessage(ctx context.Context, m *store.ChatMessage) (*store.ChatMessage, error) {
	if m.Timestamp == 0 {
		m.Timestamp = store.NowMillis()
	}
	meta, err := jsonColumn(m.Metadata)
	if err != nil {
		return nil, store.NewError(store.KindFatal, "chats.append", err)
	}
	err = withRetry(ctx, func() error {
		return wrapErr("chats.append", inTx(ctx, s.db, func(tx *sql.Tx) error {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1 AND uid = $2)`,
				m.ChatID, m.FromUID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return sql.ErrNoRows
			}
			if err := tx.QueryRowContext(ctx,
				`INSERT INTO messages (chat_id, from_uid, body, metadata, ts)
				 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				m.ChatID, m.FromUID, m.Text, meta, m.Timestamp).Scan(&m.ID); err != nil {
				return err
			}
			// Everyone but the sender gains one unread.
			_, err := tx.ExecContext(ctx,
				`UPDATE unread SET count = count + 1 WHERE chat_id = $1 AND uid != $2`,
				m.ChatID, m.FromUID)
			return err
		}))
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *chatStore) GetMessages(ctx context.Context, chatID string, limit int, afterID int64) ([]store.ChatMessage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, from_uid, body, metadata, ts
		 FROM messages WHERE chat_id = $1 AND id > $2
		 ORDER BY ts, id LIMIT $3`, chatID, afterID, limit)
	if err != nil {
		return nil, wrapErr("chats.messages", err)
	}
	defer rows.Close()

	var out []store.ChatMessage
	for rows.Next() {
		var m store.ChatMessage
		var meta []byte
		if err := rows.Scan(&m.ID, &m.ChatID, &m.FromUID, &m.Text, &meta, &m.Timestamp); err != nil {
			return nil, wrapErr("chats.messages", err)
		}
		if len(meta) > 0 && string(meta) != "null" {
			m.Metadata = meta
		}
		out = append(out, m)
	}
	return out, wrapErr("chats.messages", rows.Err())
}

func (s *chatStore) MarkChatRead(ctx context.Context, chatID, uid string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE unread SET count = 0 WHERE chat_id = $1 AND uid = $2`, chatID, uid)
	return wrapErr("chats.mark_read", err)
}

func (s *chatStore) UnreadCount(ctx context.Context, chatID, uid string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT count FROM unread WHERE chat_id = $1 AND uid = $2), 0)`,
		chatID, uid).Scan(&n)
	return n, wrapErr("chats.unread", err)
}
