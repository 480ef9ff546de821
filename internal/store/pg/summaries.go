package pg

import (
	"context"
	"database/sql"

	"github.com/fleetworks/fleetd/internal/store"
)

type summaryStore struct {
	db *sql.DB
}

func (s *summaryStore) UpsertSummary(ctx context.Context, sum *store.Summary) error {
	sum.UpdatedAt = store.NowMillis()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tldr_summaries (handle, summary, updated_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (handle) DO UPDATE SET
			   summary = EXCLUDED.summary, updated_at = EXCLUDED.updated_at`,
			sum.Handle, sum.Text, sum.UpdatedAt)
		return wrapErr("summaries.upsert", err)
	})
}

func (s *summaryStore) GetSummary(ctx context.Context, handle string) (*store.Summary, error) {
	var sum store.Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT handle, summary, updated_at FROM tldr_summaries WHERE handle = $1`,
		handle).Scan(&sum.Handle, &sum.Text, &sum.UpdatedAt)
	if err != nil {
		return nil, wrapErr("summaries.get", err)
	}
	return &sum, nil
}
