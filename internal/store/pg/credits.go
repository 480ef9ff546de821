package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

type creditStore struct {
	db *sql.DB
}

// reputationWeight is the EMA smoothing factor applied on each recorded
// task outcome: rep' = (1-w)*rep + w*outcome.
const reputationWeight = 0.1

const accountCols = `swarm_id, agent_handle, balance, reputation_score, total_earned, total_spent, task_count, success_count, updated_at`

// ensureAccount materializes the account row on first touch with the
// initial balance and neutral reputation, inside the caller's transaction.
func ensureAccount(ctx context.Context, tx *sql.Tx, swarmID uuid.UUID, handle string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO agent_credits (swarm_id, agent_handle, balance, reputation_score, updated_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
		swarmID, handle, store.InitialBalance, store.InitialReputation, store.NowMillis())
	return err
}

func scanAccount(row interface{ Scan(...any) error }) (*store.CreditAccount, error) {
	var a store.CreditAccount
	err := row.Scan(&a.SwarmID, &a.AgentHandle, &a.Balance, &a.ReputationScore,
		&a.TotalEarned, &a.TotalSpent, &a.TaskCount, &a.SuccessCount, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func lockAccount(ctx context.Context, tx *sql.Tx, swarmID uuid.UUID, handle string) (*store.CreditAccount, error) {
	if err := ensureAccount(ctx, tx, swarmID, handle); err != nil {
		return nil, err
	}
	return scanAccount(tx.QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM agent_credits
		 WHERE swarm_id = $1 AND agent_handle = $2 FOR UPDATE`, swarmID, handle))
}

func writeAccount(ctx context.Context, tx *sql.Tx, a *store.CreditAccount) error {
	a.UpdatedAt = store.NowMillis()
	_, err := tx.ExecContext(ctx,
		`UPDATE agent_credits SET balance = $1, reputation_score = $2,
		 total_earned = $3, total_spent = $4, task_count = $5, success_count = $6, updated_at = $7
		 WHERE swarm_id = $8 AND agent_handle = $9`,
		a.Balance, a.ReputationScore, a.TotalEarned, a.TotalSpent,
		a.TaskCount, a.SuccessCount, a.UpdatedAt, a.SwarmID, a.AgentHandle)
	return err
}

func insertTxRow(ctx context.Context, tx *sql.Tx, t *store.CreditTx) error {
	if t.ID == uuid.Nil {
		t.ID = store.NewID()
	}
	t.CreatedAt = store.NowMillis()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credit_transactions
		 (id, swarm_id, agent_handle, tx_type, amount, balance_after, reference_type, reference_id, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.SwarmID, t.AgentHandle, t.Type, t.Amount, t.BalanceAfter,
		t.ReferenceType, t.ReferenceID, t.Reason, t.CreatedAt)
	return err
}

// applyTx folds one transaction into the account. Balances clamp at zero;
// earn/bonus feed totalEarned, spend/penalty feed totalSpent, and
// adjustment touches neither running total.
func applyTx(a *store.CreditAccount, t *store.CreditTx) error {
	switch t.Type {
	case store.TxEarn, store.TxBonus:
		a.Balance += t.Amount
		a.TotalEarned += t.Amount
	case store.TxSpend, store.TxPenalty:
		a.Balance -= t.Amount
		a.TotalSpent += t.Amount
	case store.TxTransfer, store.TxAdjustment:
		a.Balance += t.Amount // signed
	default:
		return fmt.Errorf("unknown transaction type %q", t.Type)
	}
	if a.Balance < 0 {
		a.Balance = 0
	}
	return nil
}

func (s *creditStore) GetAccount(ctx context.Context, swarmID uuid.UUID, handle string) (*store.CreditAccount, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM agent_credits
		 WHERE swarm_id = $1 AND agent_handle = $2`, swarmID, handle))
	if err == nil {
		return a, nil
	}
	if !store.IsNotFound(wrapErr("credits.get", err)) {
		return nil, wrapErr("credits.get", err)
	}
	// Accounts materialize lazily; an untouched account reads as initial.
	return &store.CreditAccount{
		SwarmID:         swarmID,
		AgentHandle:     handle,
		Balance:         store.InitialBalance,
		ReputationScore: store.InitialReputation,
	}, nil
}

func (s *creditStore) RecordCreditTx(ctx context.Context, t *store.CreditTx) (*store.CreditAccount, error) {
	if !store.ValidTxType(t.Type) {
		return nil, store.Integrity("credits.record", fmt.Errorf("invalid transaction type %q", t.Type))
	}
	var out *store.CreditAccount
	err := withRetry(ctx, func() error {
		return inTx(ctx, s.db, func(tx *sql.Tx) error {
			a, err := lockAccount(ctx, tx, t.SwarmID, t.AgentHandle)
			if err != nil {
				return wrapErr("credits.record", err)
			}
			if err := applyTx(a, t); err != nil {
				return store.Integrity("credits.record", err)
			}
			t.BalanceAfter = a.Balance
			if err := insertTxRow(ctx, tx, t); err != nil {
				return wrapErr("credits.record", err)
			}
			if err := writeAccount(ctx, tx, a); err != nil {
				return wrapErr("credits.record", err)
			}
			out = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transfer moves amount from one agent to another under a single
// transaction. The debit clamps like any spend; the credit receives the
// full requested amount.
func (s *creditStore) Transfer(ctx context.Context, swarmID uuid.UUID, from, to string, amount float64, reason string) error {
	if amount <= 0 {
		return store.Integrity("credits.transfer", fmt.Errorf("non-positive amount %v", amount))
	}
	if from == to {
		return store.Integrity("credits.transfer", fmt.Errorf("self transfer"))
	}
	return withRetry(ctx, func() error {
		return inTx(ctx, s.db, func(tx *sql.Tx) error {
			// Lock in a stable order to avoid deadlock between opposed transfers.
			first, second := from, to
			if second < first {
				first, second = second, first
			}
			accs := map[string]*store.CreditAccount{}
			for _, h := range []string{first, second} {
				a, err := lockAccount(ctx, tx, swarmID, h)
				if err != nil {
					return wrapErr("credits.transfer", err)
				}
				accs[h] = a
			}
			src, dst := accs[from], accs[to]
			if src.Balance < amount {
				return store.Conflict("credits.transfer",
					fmt.Errorf("insufficient balance %v < %v", src.Balance, amount))
			}
			for _, leg := range []struct {
				acct   *store.CreditAccount
				amount float64
			}{{src, -amount}, {dst, amount}} {
				t := &store.CreditTx{
					SwarmID:     swarmID,
					AgentHandle: leg.acct.AgentHandle,
					Type:        store.TxTransfer,
					Amount:      leg.amount,
					Reason:      reason,
				}
				if err := applyTx(leg.acct, t); err != nil {
					return store.Integrity("credits.transfer", err)
				}
				t.BalanceAfter = leg.acct.Balance
				if err := insertTxRow(ctx, tx, t); err != nil {
					return wrapErr("credits.transfer", err)
				}
				if err := writeAccount(ctx, tx, leg.acct); err != nil {
					return wrapErr("credits.transfer", err)
				}
			}
			return nil
		})
	})
}

func (s *creditStore) RecordTaskOutcome(ctx context.Context, swarmID uuid.UUID, handle string, success bool) (*store.CreditAccount, error) {
	var out *store.CreditAccount
	err := withRetry(ctx, func() error {
		return inTx(ctx, s.db, func(tx *sql.Tx) error {
			a, err := lockAccount(ctx, tx, swarmID, handle)
			if err != nil {
				return wrapErr("credits.outcome", err)
			}
			outcome := 0.0
			a.TaskCount++
			if success {
				a.SuccessCount++
				outcome = 1.0
			}
			a.ReputationScore = (1-reputationWeight)*a.ReputationScore + reputationWeight*outcome
			if err := writeAccount(ctx, tx, a); err != nil {
				return wrapErr("credits.outcome", err)
			}
			out = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecayReputation pulls every stale account's reputation toward neutral:
// rep' = rep + rate*(0.5 - rep) for accounts untouched for inactivityMs.
func (s *creditStore) DecayReputation(ctx context.Context, rate float64, inactivityMs int64) (int, error) {
	now := store.NowMillis()
	cutoff := now - inactivityMs
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_credits
		 SET reputation_score = reputation_score + $1 * (0.5 - reputation_score),
		     updated_at = $3
		 WHERE updated_at < $2`, rate, cutoff, now)
	if err != nil {
		return 0, wrapErr("credits.decay", err)
	}
	n, err := res.RowsAffected()
	return int(n), wrapErr("credits.decay", err)
}

func (s *creditStore) Leaderboard(ctx context.Context, swarmID uuid.UUID, orderBy string, limit int) ([]store.CreditAccount, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	order := "balance DESC"
	switch orderBy {
	case store.LeaderboardByReputation:
		order = "reputation_score DESC"
	case store.LeaderboardByTotalEarned:
		order = "total_earned DESC"
	case store.LeaderboardByTaskCount:
		order = "task_count DESC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountCols+` FROM agent_credits WHERE swarm_id = $1
		 ORDER BY `+order+`, agent_handle LIMIT $2`, swarmID, limit)
	if err != nil {
		return nil, wrapErr("credits.leaderboard", err)
	}
	defer rows.Close()

	var out []store.CreditAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, wrapErr("credits.leaderboard", err)
		}
		out = append(out, *a)
	}
	return out, wrapErr("credits.leaderboard", rows.Err())
}

func (s *creditStore) ListTransactions(ctx context.Context, swarmID uuid.UUID, handle string, limit int) ([]store.CreditTx, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, swarm_id, agent_handle, tx_type, amount, balance_after, reference_type, reference_id, reason, created_at
		 FROM credit_transactions WHERE swarm_id = $1 AND agent_handle = $2
		 ORDER BY created_at DESC LIMIT $3`, swarmID, handle, limit)
	if err != nil {
		return nil, wrapErr("credits.transactions", err)
	}
	defer rows.Close()

	var out []store.CreditTx
	for rows.Next() {
		var t store.CreditTx
		if err := rows.Scan(&t.ID, &t.SwarmID, &t.AgentHandle, &t.Type,
			&t.Amount, &t.BalanceAfter, &t.ReferenceType, &t.ReferenceID,
			&t.Reason, &t.CreatedAt); err != nil {
			return nil, wrapErr("credits.transactions", err)
		}
		out = append(out, t)
	}
	return out, wrapErr("credits.transactions", rows.Err())
}
