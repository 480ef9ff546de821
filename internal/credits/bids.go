package credits

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

// Reputation-weighted bid evaluation. Each bid's composite score blends
// normalized reputation, stated confidence, and the bid amount; lower
// bids score higher when preferLower is set.

// BidWeights are the blend coefficients. They need not sum to one; the
// composite normalizes by their total.
type BidWeights struct {
	Reputation  float64
	Confidence  float64
	Amount      float64
	PreferLower bool
}

// DefaultBidWeights favors reputation over confidence and price.
var DefaultBidWeights = BidWeights{Reputation: 0.4, Confidence: 0.3, Amount: 0.3, PreferLower: true}

// ScoredBid is one evaluated bid.
type ScoredBid struct {
	Bid             store.Bid `json:"bid"`
	Composite       float64   `json:"composite"`
	ReputationScore float64   `json:"reputationScore"`
}

// EvaluateBids ranks the bids on a work item and returns them best first.
func (l *Ledger) EvaluateBids(ctx context.Context, swarmID uuid.UUID, workItemID uuid.UUID, w BidWeights) ([]ScoredBid, error) {
	bids, err := l.stores.WorkItems.ListBids(ctx, workItemID)
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 {
		return nil, nil
	}
	total := w.Reputation + w.Confidence + w.Amount
	if total <= 0 {
		return nil, fmt.Errorf("bid weights must be positive")
	}

	reps := make([]float64, len(bids))
	var maxRep, maxAmount float64
	for i, b := range bids {
		acct, err := l.stores.Credits.GetAccount(ctx, swarmID, b.BidderHandle)
		if err != nil {
			return nil, err
		}
		reps[i] = acct.ReputationScore
		if reps[i] > maxRep {
			maxRep = reps[i]
		}
		if b.Amount > maxAmount {
			maxAmount = b.Amount
		}
	}

	scored := make([]ScoredBid, len(bids))
	for i, b := range bids {
		repNorm := 0.0
		if maxRep > 0 {
			repNorm = reps[i] / maxRep
		}
		amountNorm := 0.0
		if maxAmount > 0 {
			amountNorm = b.Amount / maxAmount
			if w.PreferLower {
				amountNorm = 1 - amountNorm
			}
		}
		scored[i] = ScoredBid{
			Bid:             b,
			ReputationScore: reps[i],
			Composite: (repNorm*w.Reputation +
				b.Confidence*w.Confidence +
				amountNorm*w.Amount) / total,
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Composite > scored[j].Composite
	})
	return scored, nil
}

// AwardWorkItem evaluates bids and assigns the item to the winner via
// the store's compare-and-swap. Returns the winning bid, or nil when no
// bids exist or the item was already claimed.
func (l *Ledger) AwardWorkItem(ctx context.Context, swarmID uuid.UUID, workItemID uuid.UUID, w BidWeights) (*ScoredBid, error) {
	scored, err := l.EvaluateBids(ctx, swarmID, workItemID, w)
	if err != nil || len(scored) == 0 {
		return nil, err
	}
	winner := scored[0]
	won, err := l.stores.WorkItems.AssignWorkItem(ctx, workItemID, winner.Bid.BidderHandle)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, nil
	}
	l.log.Info("credits: awarded work item",
		"workItem", workItemID, "winner", winner.Bid.BidderHandle, "score", winner.Composite)
	return &winner, nil
}
