package pg

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

type swarmStore struct {
	db *sql.DB
}

func (s *swarmStore) CreateSwarm(ctx context.Context, sw *store.Swarm) error {
	if sw.ID == uuid.Nil {
		sw.ID = store.NewID()
	}
	if sw.MaxAgents <= 0 {
		sw.MaxAgents = store.DefaultSwarmMaxAgents
	}
	sw.CreatedAt = store.NowMillis()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO swarms (id, name, max_agents, created_at) VALUES ($1, $2, $3, $4)`,
			sw.ID, sw.Name, sw.MaxAgents, sw.CreatedAt)
		return wrapErr("swarms.create", err)
	})
}

func (s *swarmStore) GetSwarm(ctx context.Context, id uuid.UUID) (*store.Swarm, error) {
	var sw store.Swarm
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, max_agents, created_at FROM swarms WHERE id = $1`, id,
	).Scan(&sw.ID, &sw.Name, &sw.MaxAgents, &sw.CreatedAt)
	if err != nil {
		return nil, wrapErr("swarms.get", err)
	}
	return &sw, nil
}

func (s *swarmStore) ListSwarms(ctx context.Context) ([]store.Swarm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, max_agents, created_at FROM swarms ORDER BY created_at`)
	if err != nil {
		return nil, wrapErr("swarms.list", err)
	}
	defer rows.Close()

	var out []store.Swarm
	for rows.Next() {
		var sw store.Swarm
		if err := rows.Scan(&sw.ID, &sw.Name, &sw.MaxAgents, &sw.CreatedAt); err != nil {
			return nil, wrapErr("swarms.list", err)
		}
		out = append(out, sw)
	}
	return out, wrapErr("swarms.list", rows.Err())
}

func (s *swarmStore) DeleteSwarm(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM swarms WHERE id = $1`, id)
	if err != nil {
		return wrapErr("swarms.delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("swarms.delete")
	}
	return nil
}
