package pg

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fleetworks/fleetd/internal/store"
)

// testDB opens the database named by FLEETD_TEST_POSTGRES_DSN, migrates
// it, and empties the tables the test touches. Skips when no DSN is set.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("FLEETD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FLEETD_TEST_POSTGRES_DSN not set")
	}
	db, err := OpenDB(dsn, 5)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	for _, table := range []string{
		"blackboard_reads", "blackboard_messages", "workers",
		"credit_transactions", "agent_credits",
	} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return db
}

func TestWrapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want func(error) bool
	}{
		{"nil passes through", nil, func(err error) bool { return err == nil }},
		{"no rows", sql.ErrNoRows, store.IsNotFound},
		{"wrapped no rows", errors.Join(errors.New("query"), sql.ErrNoRows), store.IsNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, store.IsConflict},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, store.IsIntegrity},
		{"check violation", &pgconn.PgError{Code: "23514"}, store.IsIntegrity},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, store.IsBusy},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, store.IsBusy},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, store.IsBusy},
		{"syntax error", &pgconn.PgError{Code: "42601"}, store.IsFatal},
		{"plain error", errors.New("connection reset"), store.IsFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapErr("op", tt.err)
			if !tt.want(got) {
				t.Fatalf("wrapErr(%v) = %v, wrong kind", tt.err, got)
			}
		})
	}
}

func TestWrapErrKeepsOp(t *testing.T) {
	err := wrapErr("work_items.assign", &pgconn.PgError{Code: "23505"})
	var se *store.Error
	if !errors.As(err, &se) {
		t.Fatalf("wrapErr returned %T, want *store.Error", err)
	}
	if se.Op != "work_items.assign" {
		t.Fatalf("Op = %q, want work_items.assign", se.Op)
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("busy retried until success", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return store.NewError(store.KindBusy, "op", errors.New("deadlock"))
			}
			return nil
		})
		if err != nil {
			t.Fatalf("withRetry: %v", err)
		}
		if calls != 3 {
			t.Fatalf("calls = %d, want 3", calls)
		}
	})

	t.Run("non-busy returns immediately", func(t *testing.T) {
		calls := 0
		want := store.Conflict("op", errors.New("dup"))
		err := withRetry(context.Background(), func() error {
			calls++
			return want
		})
		if !errors.Is(err, want) {
			t.Fatalf("withRetry = %v, want %v", err, want)
		}
		if calls != 1 {
			t.Fatalf("calls = %d, want 1", calls)
		}
	})

	t.Run("exhaustion returns the busy error", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), func() error {
			calls++
			return store.NewError(store.KindBusy, "op", errors.New("lock"))
		})
		if !store.IsBusy(err) {
			t.Fatalf("withRetry = %v, want busy", err)
		}
		if calls != busyRetries {
			t.Fatalf("calls = %d, want %d", calls, busyRetries)
		}
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := withRetry(ctx, func() error {
			return store.NewError(store.KindBusy, "op", errors.New("lock"))
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("withRetry = %v, want context.Canceled", err)
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	raw, err := jsonColumn(nil)
	if err != nil {
		t.Fatalf("jsonColumn(nil): %v", err)
	}
	if string(raw) != "null" {
		t.Fatalf("jsonColumn(nil) = %s, want null", raw)
	}

	raw, err = jsonColumn([]string{"a", "b"})
	if err != nil {
		t.Fatalf("jsonColumn: %v", err)
	}
	var out []string
	if err := scanJSON(raw, &out); err != nil {
		t.Fatalf("scanJSON: %v", err)
	}
	if len(out) != 2 || out[0] != "a" || out[1] != "b" {
		t.Fatalf("round trip = %v", out)
	}

	var untouched []string
	if err := scanJSON(nil, &untouched); err != nil {
		t.Fatalf("scanJSON(nil): %v", err)
	}
	if untouched != nil {
		t.Fatalf("scanJSON(nil) wrote %v", untouched)
	}
}
