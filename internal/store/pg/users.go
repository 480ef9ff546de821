package pg

import (
	"context"
	"database/sql"

	"github.com/fleetworks/fleetd/internal/store"
)

type userStore struct {
	db *sql.DB
}

func (s *userStore) UpsertUser(ctx context.Context, u *store.User) error {
	if u.UID == "" {
		u.UID = store.UserUID(u.TeamName, u.Handle)
	}
	if u.CreatedAt == 0 {
		u.CreatedAt = store.NowMillis()
	}
	// Re-registration keeps the original agentType; identities never escalate.
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO users (uid, handle, team_name, agent_type, created_at, last_seen)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (uid) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
			u.UID, u.Handle, u.TeamName, u.AgentType, u.CreatedAt, store.NowMillis(),
		)
		return wrapErr("users.upsert", err)
	})
	if err != nil {
		return err
	}
	got, err := s.GetUser(ctx, u.UID)
	if err != nil {
		return err
	}
	*u = *got
	return nil
}

func (s *userStore) GetUser(ctx context.Context, uid string) (*store.User, error) {
	var u store.User
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, handle, team_name, agent_type, created_at, last_seen
		 FROM users WHERE uid = $1`, uid,
	).Scan(&u.UID, &u.Handle, &u.TeamName, &u.AgentType, &u.CreatedAt, &u.LastSeen)
	if err != nil {
		return nil, wrapErr("users.get", err)
	}
	return &u, nil
}

func (s *userStore) GetUserByHandle(ctx context.Context, teamName, handle string) (*store.User, error) {
	var u store.User
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, handle, team_name, agent_type, created_at, last_seen
		 FROM users WHERE team_name = $1 AND handle = $2`, teamName, handle,
	).Scan(&u.UID, &u.Handle, &u.TeamName, &u.AgentType, &u.CreatedAt, &u.LastSeen)
	if err != nil {
		return nil, wrapErr("users.get_by_handle", err)
	}
	return &u, nil
}

func (s *userStore) GetUsersByTeam(ctx context.Context, teamName string) ([]store.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, handle, team_name, agent_type, created_at, last_seen
		 FROM users WHERE team_name = $1 ORDER BY created_at`, teamName)
	if err != nil {
		return nil, wrapErr("users.list", err)
	}
	defer rows.Close()

	var out []store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.UID, &u.Handle, &u.TeamName, &u.AgentType, &u.CreatedAt, &u.LastSeen); err != nil {
			return nil, wrapErr("users.list", err)
		}
		out = append(out, u)
	}
	return out, wrapErr("users.list", rows.Err())
}

func (s *userStore) TouchLastSeen(ctx context.Context, uid string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen = $1 WHERE uid = $2`, store.NowMillis(), uid)
	if err != nil {
		return wrapErr("users.touch", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("users.touch")
	}
	return nil
}
