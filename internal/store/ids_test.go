package store

import (
	"regexp"
	"testing"
)

func TestUserUID_Deterministic(t *testing.T) {
	a := UserUID("alpha", "scout-1")
	b := UserUID("alpha", "scout-1")
	if a != b {
		t.Fatalf("same pair produced different uids: %q vs %q", a, b)
	}
	if len(a) != 24 {
		t.Errorf("uid length = %d, want 24", len(a))
	}
	if !regexp.MustCompile(`^[0-9a-f]{24}$`).MatchString(a) {
		t.Errorf("uid %q is not lowercase hex", a)
	}
}

func TestUserUID_DistinguishesTeamAndHandle(t *testing.T) {
	tests := []struct {
		name         string
		teamA, handA string
		teamB, handB string
	}{
		{"different handle", "alpha", "a", "alpha", "b"},
		{"different team", "alpha", "a", "beta", "a"},
		{"swapped", "alpha", "beta", "beta", "alpha"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if UserUID(tt.teamA, tt.handA) == UserUID(tt.teamB, tt.handB) {
				t.Errorf("(%s,%s) and (%s,%s) collided",
					tt.teamA, tt.handA, tt.teamB, tt.handB)
			}
		})
	}
}

func TestNewShortID_Format(t *testing.T) {
	re := regexp.MustCompile(`^task-[a-z0-9]{5}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewShortID("task")
		if !re.MatchString(id) {
			t.Fatalf("bad short id %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 95 {
		t.Errorf("only %d distinct ids out of 100", len(seen))
	}
}

func TestNowMillis_Overridable(t *testing.T) {
	orig := NowMillis
	defer func() { NowMillis = orig }()
	NowMillis = func() int64 { return 42 }
	if NowMillis() != 42 {
		t.Fatal("clock override ignored")
	}
}
