package pg

import (
	"context"
	"math"
	"testing"

	"github.com/fleetworks/fleetd/internal/store"
)

func TestDecayReputationTouchesUpdatedAt(t *testing.T) {
	db := testDB(t)
	stores := NewStores(db)
	ctx := context.Background()
	swarmID := store.NewID()

	_, err := db.Exec(
		`INSERT INTO agent_credits (swarm_id, agent_handle, balance, reputation_score, updated_at)
		 VALUES ($1, 'w1', 100, 0.9, 100)`, swarmID)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	n, err := stores.Credits.DecayReputation(ctx, 0.1, 1000)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if n != 1 {
		t.Fatalf("decayed %d accounts, want 1", n)
	}

	var rep float64
	err = db.QueryRow(
		`SELECT reputation_score FROM agent_credits WHERE swarm_id = $1 AND agent_handle = 'w1'`,
		swarmID).Scan(&rep)
	if err != nil {
		t.Fatalf("read reputation: %v", err)
	}
	if math.Abs(rep-0.86) > 1e-9 {
		t.Errorf("reputation = %v, want 0.86 (0.9 + 0.1*(0.5-0.9))", rep)
	}

	// The decay stamps updated_at, so an immediate second sweep with the
	// same inactivity window must not re-decay the row.
	n, err = stores.Credits.DecayReputation(ctx, 0.1, 1000)
	if err != nil {
		t.Fatalf("second decay: %v", err)
	}
	if n != 0 {
		t.Errorf("second decay touched %d accounts, want 0", n)
	}
}
