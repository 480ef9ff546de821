package store

import (
	"strings"
	"testing"
)

func TestValidators(t *testing.T) {
	tests := []struct {
		name  string
		fn    func(string) bool
		valid []string
		bad   []string
	}{
		{"agentType", ValidAgentType,
			[]string{"team-lead", "worker", "monitor", "notifier", "merger", "coordinator"},
			[]string{"", "lead", "admin", "Worker"}},
		{"taskStatus", ValidTaskStatus,
			[]string{"open", "in_progress", "resolved", "blocked", "cancelled"},
			[]string{"", "done", "OPEN"}},
		{"workItemStatus", ValidWorkItemStatus,
			[]string{"pending", "in_progress", "completed", "blocked", "cancelled"},
			[]string{"", "open", "resolved"}},
		{"priority", ValidPriority,
			[]string{"low", "normal", "high", "critical"},
			[]string{"", "urgent", "3"}},
		{"txType", ValidTxType,
			[]string{"earn", "spend", "bonus", "penalty", "transfer", "adjustment"},
			[]string{"", "refund"}},
		{"blackboardType", ValidBlackboardType,
			[]string{"request", "response", "status", "directive", "checkpoint"},
			[]string{"", "broadcast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range tt.valid {
				if !tt.fn(v) {
					t.Errorf("%q should be valid", v)
				}
			}
			for _, v := range tt.bad {
				if tt.fn(v) {
					t.Errorf("%q should be invalid", v)
				}
			}
		})
	}
}

func TestPriorityRank_Ordering(t *testing.T) {
	if !(PriorityRank[PriorityLow] < PriorityRank[PriorityNormal] &&
		PriorityRank[PriorityNormal] < PriorityRank[PriorityHigh] &&
		PriorityRank[PriorityHigh] < PriorityRank[PriorityCritical]) {
		t.Errorf("priority ranks out of order: %v", PriorityRank)
	}
}

func TestWorkerLive(t *testing.T) {
	tests := []struct {
		name string
		w    Worker
		want bool
	}{
		{"ready", Worker{State: WorkerStateReady}, true},
		{"working", Worker{State: WorkerStateWorking}, true},
		{"pending", Worker{State: WorkerStatePending}, true},
		{"stopped", Worker{State: WorkerStateStopped}, false},
		{"error", Worker{State: WorkerStateError}, false},
		{"dismissed but not yet stopped", Worker{State: WorkerStateStopping, DismissedAt: 123}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.Live(); got != tt.want {
				t.Errorf("Live() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSuccessRate(t *testing.T) {
	a := CreditAccount{TaskCount: 4, SuccessCount: 3}
	if got := a.SuccessRate(); got != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", got)
	}
	fresh := CreditAccount{}
	if got := fresh.SuccessRate(); got != 0 {
		t.Errorf("fresh account SuccessRate = %v, want 0", got)
	}
}

func TestCheckpointFormatForResume(t *testing.T) {
	c := Checkpoint{
		Goal: "ship the migration",
		Now:  "tests green, docs pending",
		Test: "go test ./...",
		DoneThisSession: []CheckpointTask{
			{Task: "wrote schema", Files: []string{"001_init.sql"}},
		},
		Blockers: []string{"waiting on review"},
		Next:     []string{"update changelog"},
	}
	out := c.FormatForResume()
	for _, want := range []string{
		"## Goal\nship the migration",
		"## Where you were\ntests green, docs pending",
		"## Verification\ngo test ./...",
		"- wrote schema (001_init.sql)",
		"- waiting on review",
		"- update changelog",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("resume prompt missing %q:\n%s", want, out)
		}
	}

	minimal := Checkpoint{Goal: "g", Now: "n"}
	out = minimal.FormatForResume()
	if strings.Contains(out, "## Verification") || strings.Contains(out, "## Blockers") {
		t.Errorf("minimal checkpoint rendered empty sections:\n%s", out)
	}
}
