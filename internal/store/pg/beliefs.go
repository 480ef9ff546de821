package pg

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

type beliefStore struct {
	db *sql.DB
}

func (s *beliefStore) UpsertBelief(ctx context.Context, b *store.Belief) error {
	b.UpdatedAt = store.NowMillis()
	belief, err := jsonColumn(b.Belief)
	if err != nil {
		return store.NewError(store.KindFatal, "beliefs.upsert", err)
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO agent_beliefs (swarm_id, agent_handle, subject, belief, confidence, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (swarm_id, agent_handle, subject) DO UPDATE SET
			   belief = EXCLUDED.belief,
			   confidence = EXCLUDED.confidence,
			   updated_at = EXCLUDED.updated_at`,
			b.SwarmID, b.AgentHandle, b.Subject, belief, b.Confidence, b.UpdatedAt)
		return wrapErr("beliefs.upsert", err)
	})
}

func (s *beliefStore) GetBeliefs(ctx context.Context, swarmID uuid.UUID, handle string) ([]store.Belief, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT swarm_id, agent_handle, subject, belief, confidence, updated_at
		 FROM agent_beliefs WHERE swarm_id = $1 AND agent_handle = $2
		 ORDER BY subject`, swarmID, handle)
	if err != nil {
		return nil, wrapErr("beliefs.list", err)
	}
	defer rows.Close()

	var out []store.Belief
	for rows.Next() {
		var b store.Belief
		var belief []byte
		if err := rows.Scan(&b.SwarmID, &b.AgentHandle, &b.Subject, &belief,
			&b.Confidence, &b.UpdatedAt); err != nil {
			return nil, wrapErr("beliefs.list", err)
		}
		b.Belief = belief
		out = append(out, b)
	}
	return out, wrapErr("beliefs.list", rows.Err())
}

func (s *beliefStore) UpsertMetaBelief(ctx context.Context, b *store.MetaBelief) error {
	b.UpdatedAt = store.NowMillis()
	belief, err := jsonColumn(b.Belief)
	if err != nil {
		return store.NewError(store.KindFatal, "beliefs.upsert_meta", err)
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO agent_meta_beliefs (swarm_id, agent_handle, about_handle, subject, belief, confidence, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (swarm_id, agent_handle, about_handle, subject) DO UPDATE SET
			   belief = EXCLUDED.belief,
			   confidence = EXCLUDED.confidence,
			   updated_at = EXCLUDED.updated_at`,
			b.SwarmID, b.AgentHandle, b.AboutHandle, b.Subject, belief, b.Confidence, b.UpdatedAt)
		return wrapErr("beliefs.upsert_meta", err)
	})
}

func (s *beliefStore) GetMetaBeliefs(ctx context.Context, swarmID uuid.UUID, handle, aboutHandle string) ([]store.MetaBelief, error) {
	q := `SELECT swarm_id, agent_handle, about_handle, subject, belief, confidence, updated_at
	      FROM agent_meta_beliefs WHERE swarm_id = $1 AND agent_handle = $2 `
	args := []any{swarmID, handle}
	if aboutHandle != "" {
		args = append(args, aboutHandle)
		q += `AND about_handle = $3 `
	}
	q += `ORDER BY about_handle, subject`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("beliefs.list_meta", err)
	}
	defer rows.Close()

	var out []store.MetaBelief
	for rows.Next() {
		var b store.MetaBelief
		var belief []byte
		if err := rows.Scan(&b.SwarmID, &b.AgentHandle, &b.AboutHandle,
			&b.Subject, &belief, &b.Confidence, &b.UpdatedAt); err != nil {
			return nil, wrapErr("beliefs.list_meta", err)
		}
		b.Belief = belief
		out = append(out, b)
	}
	return out, wrapErr("beliefs.list_meta", rows.Err())
}
