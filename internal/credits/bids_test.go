package credits

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

type fakeCredits struct {
	reputations map[string]float64
}

func (f *fakeCredits) GetAccount(ctx context.Context, swarmID uuid.UUID, handle string) (*store.CreditAccount, error) {
	return &store.CreditAccount{
		SwarmID:         swarmID,
		AgentHandle:     handle,
		Balance:         store.InitialBalance,
		ReputationScore: f.reputations[handle],
	}, nil
}
func (f *fakeCredits) RecordCreditTx(ctx context.Context, tx *store.CreditTx) (*store.CreditAccount, error) {
	return nil, nil
}
func (f *fakeCredits) Transfer(ctx context.Context, swarmID uuid.UUID, from, to string, amount float64, reason string) error {
	return nil
}
func (f *fakeCredits) RecordTaskOutcome(ctx context.Context, swarmID uuid.UUID, handle string, success bool) (*store.CreditAccount, error) {
	return nil, nil
}
func (f *fakeCredits) DecayReputation(ctx context.Context, rate float64, inactivityMs int64) (int, error) {
	return 0, nil
}
func (f *fakeCredits) Leaderboard(ctx context.Context, swarmID uuid.UUID, orderBy string, limit int) ([]store.CreditAccount, error) {
	return nil, nil
}
func (f *fakeCredits) ListTransactions(ctx context.Context, swarmID uuid.UUID, handle string, limit int) ([]store.CreditTx, error) {
	return nil, nil
}

type fakeWorkItems struct {
	bids      []store.Bid
	assigned  map[uuid.UUID]string
	assignErr error
}

func (f *fakeWorkItems) CreateWorkItem(ctx context.Context, w *store.WorkItem) error { return nil }
func (f *fakeWorkItems) GetWorkItem(ctx context.Context, id uuid.UUID) (*store.WorkItem, error) {
	return nil, store.NotFound("work_items.get")
}
func (f *fakeWorkItems) ListWorkItems(ctx context.Context, status string, limit int) ([]store.WorkItem, error) {
	return nil, nil
}
func (f *fakeWorkItems) AssignWorkItem(ctx context.Context, id uuid.UUID, handle string) (bool, error) {
	if f.assignErr != nil {
		return false, f.assignErr
	}
	if f.assigned == nil {
		f.assigned = make(map[uuid.UUID]string)
	}
	if _, taken := f.assigned[id]; taken {
		return false, nil
	}
	f.assigned[id] = handle
	return true, nil
}
func (f *fakeWorkItems) UpdateWorkItemStatus(ctx context.Context, id uuid.UUID, status string) error {
	return nil
}
func (f *fakeWorkItems) DispatchBatch(ctx context.Context, batchID uuid.UUID, handle string) (int, error) {
	return 0, nil
}
func (f *fakeWorkItems) CreateBatch(ctx context.Context, b *store.Batch) error { return nil }
func (f *fakeWorkItems) ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]store.WorkItem, error) {
	return nil, nil
}
func (f *fakeWorkItems) PlaceBid(ctx context.Context, b *store.Bid) error { return nil }
func (f *fakeWorkItems) ListBids(ctx context.Context, workItemID uuid.UUID) ([]store.Bid, error) {
	return f.bids, nil
}

func testLedger(credits *fakeCredits, items *fakeWorkItems) *Ledger {
	return New(&store.Stores{Credits: credits, WorkItems: items}, slog.New(slog.DiscardHandler))
}

func TestEvaluateBids_ReputationWins(t *testing.T) {
	itemID := uuid.New()
	l := testLedger(
		&fakeCredits{reputations: map[string]float64{"veteran": 0.9, "rookie": 0.3}},
		&fakeWorkItems{bids: []store.Bid{
			{WorkItemID: itemID, BidderHandle: "rookie", Amount: 10, Confidence: 0.8},
			{WorkItemID: itemID, BidderHandle: "veteran", Amount: 10, Confidence: 0.8},
		}},
	)
	scored, err := l.EvaluateBids(context.Background(), uuid.New(), itemID, DefaultBidWeights)
	if err != nil {
		t.Fatalf("EvaluateBids: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("got %d scored bids", len(scored))
	}
	if scored[0].Bid.BidderHandle != "veteran" {
		t.Errorf("winner = %q, want veteran (higher reputation)", scored[0].Bid.BidderHandle)
	}
	if scored[0].Composite <= scored[1].Composite {
		t.Errorf("scores not descending: %v", scored)
	}
}

func TestEvaluateBids_PreferLowerAmount(t *testing.T) {
	itemID := uuid.New()
	l := testLedger(
		&fakeCredits{reputations: map[string]float64{"cheap": 0.5, "dear": 0.5}},
		&fakeWorkItems{bids: []store.Bid{
			{WorkItemID: itemID, BidderHandle: "dear", Amount: 100, Confidence: 0.5},
			{WorkItemID: itemID, BidderHandle: "cheap", Amount: 10, Confidence: 0.5},
		}},
	)
	w := BidWeights{Reputation: 0.0, Confidence: 0.0, Amount: 1.0, PreferLower: true}
	scored, err := l.EvaluateBids(context.Background(), uuid.New(), itemID, w)
	if err != nil {
		t.Fatalf("EvaluateBids: %v", err)
	}
	if scored[0].Bid.BidderHandle != "cheap" {
		t.Errorf("winner = %q, want cheap", scored[0].Bid.BidderHandle)
	}

	w.PreferLower = false
	scored, _ = l.EvaluateBids(context.Background(), uuid.New(), itemID, w)
	if scored[0].Bid.BidderHandle != "dear" {
		t.Errorf("winner = %q, want dear with PreferLower off", scored[0].Bid.BidderHandle)
	}
}

func TestEvaluateBids_Degenerate(t *testing.T) {
	l := testLedger(&fakeCredits{}, &fakeWorkItems{})
	scored, err := l.EvaluateBids(context.Background(), uuid.New(), uuid.New(), DefaultBidWeights)
	if err != nil || scored != nil {
		t.Errorf("no bids should yield (nil, nil), got (%v, %v)", scored, err)
	}

	l = testLedger(&fakeCredits{}, &fakeWorkItems{bids: []store.Bid{{BidderHandle: "a"}}})
	if _, err := l.EvaluateBids(context.Background(), uuid.New(), uuid.New(), BidWeights{}); err == nil {
		t.Error("zero weights should be rejected")
	}
}

func TestAwardWorkItem(t *testing.T) {
	itemID := uuid.New()
	items := &fakeWorkItems{bids: []store.Bid{
		{WorkItemID: itemID, BidderHandle: "solo", Amount: 5, Confidence: 0.9},
	}}
	l := testLedger(&fakeCredits{reputations: map[string]float64{"solo": 0.7}}, items)

	won, err := l.AwardWorkItem(context.Background(), uuid.New(), itemID, DefaultBidWeights)
	if err != nil {
		t.Fatalf("AwardWorkItem: %v", err)
	}
	if won == nil || won.Bid.BidderHandle != "solo" {
		t.Fatalf("winner = %+v", won)
	}
	if items.assigned[itemID] != "solo" {
		t.Error("assignment not recorded")
	}

	// Second award loses the CAS and reports no winner.
	won, err = l.AwardWorkItem(context.Background(), uuid.New(), itemID, DefaultBidWeights)
	if err != nil || won != nil {
		t.Errorf("re-award = (%v, %v), want (nil, nil)", won, err)
	}
}
