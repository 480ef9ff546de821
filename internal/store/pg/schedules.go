package pg

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

type scheduleStore struct {
	db *sql.DB
}

const scheduleCols = `id, name, cron_expr, tasks, repository, enabled, last_run, next_run`

func (s *scheduleStore) CreateSchedule(ctx context.Context, sc *store.Schedule) error {
	if sc.ID == uuid.Nil {
		sc.ID = store.NewID()
	}
	tasks, err := jsonColumn(sc.Tasks)
	if err != nil {
		return store.NewError(store.KindFatal, "schedules.create", err)
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO schedules (`+scheduleCols+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			sc.ID, sc.Name, sc.CronExpr, tasks, sc.Repository, sc.Enabled,
			sc.LastRun, sc.NextRun)
		return wrapErr("schedules.create", err)
	})
}

func scanSchedule(row interface{ Scan(...any) error }) (*store.Schedule, error) {
	var sc store.Schedule
	var tasks []byte
	var repo sql.NullString
	err := row.Scan(&sc.ID, &sc.Name, &sc.CronExpr, &tasks, &repo,
		&sc.Enabled, &sc.LastRun, &sc.NextRun)
	if err != nil {
		return nil, err
	}
	sc.Repository = repo.String
	if err := scanJSON(tasks, &sc.Tasks); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *scheduleStore) GetSchedule(ctx context.Context, id uuid.UUID) (*store.Schedule, error) {
	sc, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("schedules.get", err)
	}
	return sc, nil
}

func (s *scheduleStore) ListSchedules(ctx context.Context) ([]store.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules ORDER BY name`)
	if err != nil {
		return nil, wrapErr("schedules.list", err)
	}
	defer rows.Close()

	var out []store.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, wrapErr("schedules.list", err)
		}
		out = append(out, *sc)
	}
	return out, wrapErr("schedules.list", rows.Err())
}

func (s *scheduleStore) UpdateSchedule(ctx context.Context, sc *store.Schedule) error {
	tasks, err := jsonColumn(sc.Tasks)
	if err != nil {
		return store.NewError(store.KindFatal, "schedules.update", err)
	}
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE schedules SET name = $1, cron_expr = $2, tasks = $3,
			 repository = $4, enabled = $5 WHERE id = $6`,
			sc.Name, sc.CronExpr, tasks, sc.Repository, sc.Enabled, sc.ID)
		if err != nil {
			return wrapErr("schedules.update", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.NotFound("schedules.update")
		}
		return nil
	})
}

func (s *scheduleStore) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return wrapErr("schedules.delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("schedules.delete")
	}
	return nil
}

func (s *scheduleStore) MarkScheduleRun(ctx context.Context, id uuid.UUID, lastRun, nextRun int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run = $1, next_run = $2 WHERE id = $3`,
		lastRun, nextRun, id)
	if err != nil {
		return wrapErr("schedules.mark_run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("schedules.mark_run")
	}
	return nil
}

// ============================================================
// Templates
// ============================================================

const templateCols = `id, name, description, category, role, prompt_template, estimated_minutes, required_context`

func (s *scheduleStore) CreateTemplate(ctx context.Context, t *store.Template) error {
	if t.ID == uuid.Nil {
		t.ID = store.NewID()
	}
	reqCtx, err := jsonColumn(t.RequiredContext)
	if err != nil {
		return store.NewError(store.KindFatal, "templates.create", err)
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO templates (`+templateCols+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.Name, t.Description, t.Category, t.Role, t.PromptTemplate,
			t.EstimatedMinutes, reqCtx)
		return wrapErr("templates.create", err)
	})
}

func scanTemplate(row interface{ Scan(...any) error }) (*store.Template, error) {
	var t store.Template
	var desc, cat sql.NullString
	var reqCtx []byte
	err := row.Scan(&t.ID, &t.Name, &desc, &cat, &t.Role, &t.PromptTemplate,
		&t.EstimatedMinutes, &reqCtx)
	if err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.Category = cat.String
	if err := scanJSON(reqCtx, &t.RequiredContext); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *scheduleStore) GetTemplate(ctx context.Context, id uuid.UUID) (*store.Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx,
		`SELECT `+templateCols+` FROM templates WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("templates.get", err)
	}
	return t, nil
}

func (s *scheduleStore) ListTemplates(ctx context.Context) ([]store.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateCols+` FROM templates ORDER BY name`)
	if err != nil {
		return nil, wrapErr("templates.list", err)
	}
	defer rows.Close()

	var out []store.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, wrapErr("templates.list", err)
		}
		out = append(out, *t)
	}
	return out, wrapErr("templates.list", rows.Err())
}

func (s *scheduleStore) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return wrapErr("templates.delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("templates.delete")
	}
	return nil
}
