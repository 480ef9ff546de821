// Package journal persists the worker output stream to a local SQLite
// file so output survives supervisor restarts and can be tailed after a
// worker exits. It sits beside the Postgres store on purpose: output is
// high-volume, node-local, and disposable.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Streams recorded per event.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamSystem = "system"
)

// Event is one journaled line of worker output.
type Event struct {
	ID       int64     `json:"id"`
	WorkerID uuid.UUID `json:"workerId"`
	Stream   string    `json:"stream"`
	Kind     string    `json:"kind"` // classified event type, or "" for raw lines
	Line     string    `json:"line"`
	Ts       int64     `json:"ts"`
}

// Journal is an append-only worker event log.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS worker_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	worker_id TEXT NOT NULL,
	stream    TEXT NOT NULL,
	kind      TEXT NOT NULL DEFAULT '',
	line      TEXT NOT NULL,
	ts        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_worker_events_worker ON worker_events (worker_id, id);
CREATE INDEX IF NOT EXISTS idx_worker_events_ts ON worker_events (ts);
`

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One writer; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Append records one event.
func (j *Journal) Append(ctx context.Context, ev *Event) error {
	if ev.Ts == 0 {
		ev.Ts = time.Now().UnixMilli()
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO worker_events (worker_id, stream, kind, line, ts)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.WorkerID.String(), ev.Stream, ev.Kind, ev.Line, ev.Ts)
	if err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

// Recent returns up to limit most recent events for a worker, oldest first.
func (j *Journal) Recent(ctx context.Context, workerID uuid.UUID, limit int) ([]Event, error) {
	if limit <= 0 || limit > 10_000 {
		limit = 300
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, worker_id, stream, kind, line, ts FROM (
		   SELECT * FROM worker_events WHERE worker_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`, workerID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("journal recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var wid string
		if err := rows.Scan(&ev.ID, &wid, &ev.Stream, &ev.Kind, &ev.Line, &ev.Ts); err != nil {
			return nil, fmt.Errorf("journal recent: %w", err)
		}
		ev.WorkerID, err = uuid.Parse(wid)
		if err != nil {
			return nil, fmt.Errorf("journal recent: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune drops events older than keep, returning the count removed.
func (j *Journal) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().Add(-keep).UnixMilli()
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM worker_events WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal prune: %w", err)
	}
	return res.RowsAffected()
}
