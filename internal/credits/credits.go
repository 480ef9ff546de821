// Package credits wraps the ledger store with the economy's policy:
// transaction validation, task outcome recording, reputation decay, and
// reputation-weighted bid awards.
package credits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

// Ledger is the credit/reputation service.
type Ledger struct {
	stores *store.Stores
	log    *slog.Logger
}

func New(stores *store.Stores, log *slog.Logger) *Ledger {
	return &Ledger{stores: stores, log: log}
}

func (l *Ledger) Account(ctx context.Context, swarmID uuid.UUID, handle string) (*store.CreditAccount, error) {
	return l.stores.Credits.GetAccount(ctx, swarmID, handle)
}

// Record applies one transaction and returns the new account snapshot.
func (l *Ledger) Record(ctx context.Context, tx *store.CreditTx) (*store.CreditAccount, error) {
	if !store.ValidTxType(tx.Type) {
		return nil, fmt.Errorf("invalid transaction type %q", tx.Type)
	}
	if tx.Amount < 0 && tx.Type != store.TxTransfer && tx.Type != store.TxAdjustment {
		return nil, fmt.Errorf("%s amount must be non-negative", tx.Type)
	}
	return l.stores.Credits.RecordCreditTx(ctx, tx)
}

// Transfer moves amount between two agents atomically.
func (l *Ledger) Transfer(ctx context.Context, swarmID uuid.UUID, from, to string, amount float64, reason string) error {
	return l.stores.Credits.Transfer(ctx, swarmID, from, to, amount, reason)
}

// RecordOutcome folds a task outcome into the reputation EMA.
func (l *Ledger) RecordOutcome(ctx context.Context, swarmID uuid.UUID, handle string, success bool) (*store.CreditAccount, error) {
	return l.stores.Credits.RecordTaskOutcome(ctx, swarmID, handle, success)
}

// Decay pulls stale reputations toward neutral. Returns count changed.
func (l *Ledger) Decay(ctx context.Context, rate float64, inactivity time.Duration) (int, error) {
	if rate <= 0 || rate >= 1 {
		return 0, fmt.Errorf("decay rate must be in (0,1)")
	}
	return l.stores.Credits.DecayReputation(ctx, rate, inactivity.Milliseconds())
}

func (l *Ledger) Leaderboard(ctx context.Context, swarmID uuid.UUID, orderBy string, limit int) ([]store.CreditAccount, error) {
	switch orderBy {
	case "", store.LeaderboardByBalance, store.LeaderboardByReputation,
		store.LeaderboardByTotalEarned, store.LeaderboardByTaskCount:
	default:
		return nil, fmt.Errorf("invalid leaderboard ordering %q", orderBy)
	}
	return l.stores.Credits.Leaderboard(ctx, swarmID, orderBy, limit)
}

func (l *Ledger) Transactions(ctx context.Context, swarmID uuid.UUID, handle string, limit int) ([]store.CreditTx, error) {
	return l.stores.Credits.ListTransactions(ctx, swarmID, handle, limit)
}
