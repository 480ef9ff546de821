package credits

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

func TestRecord_Validation(t *testing.T) {
	l := testLedger(&fakeCredits{}, &fakeWorkItems{})
	ctx := context.Background()
	swarm := uuid.New()

	if _, err := l.Record(ctx, &store.CreditTx{SwarmID: swarm, Type: "refund", Amount: 1}); err == nil {
		t.Error("unknown tx type accepted")
	}
	if _, err := l.Record(ctx, &store.CreditTx{SwarmID: swarm, Type: store.TxEarn, Amount: -5}); err == nil {
		t.Error("negative earn accepted")
	}
	// Transfers and adjustments are signed.
	if _, err := l.Record(ctx, &store.CreditTx{SwarmID: swarm, Type: store.TxAdjustment, Amount: -5}); err != nil {
		t.Errorf("negative adjustment rejected: %v", err)
	}
	if _, err := l.Record(ctx, &store.CreditTx{SwarmID: swarm, Type: store.TxEarn, Amount: 10}); err != nil {
		t.Errorf("valid earn rejected: %v", err)
	}
}

func TestDecay_RateBounds(t *testing.T) {
	l := testLedger(&fakeCredits{}, &fakeWorkItems{})
	ctx := context.Background()
	for _, rate := range []float64{0, 1, -0.2, 1.5} {
		if _, err := l.Decay(ctx, rate, time.Hour); err == nil {
			t.Errorf("rate %v accepted", rate)
		}
	}
	if _, err := l.Decay(ctx, 0.1, time.Hour); err != nil {
		t.Errorf("valid rate rejected: %v", err)
	}
}

func TestLeaderboard_OrderingValidation(t *testing.T) {
	l := testLedger(&fakeCredits{}, &fakeWorkItems{})
	ctx := context.Background()
	for _, ord := range []string{"", store.LeaderboardByBalance, store.LeaderboardByReputation,
		store.LeaderboardByTotalEarned, store.LeaderboardByTaskCount} {
		if _, err := l.Leaderboard(ctx, uuid.New(), ord, 10); err != nil {
			t.Errorf("ordering %q rejected: %v", ord, err)
		}
	}
	if _, err := l.Leaderboard(ctx, uuid.New(), "height", 10); err == nil {
		t.Error("invalid ordering accepted")
	}
}
