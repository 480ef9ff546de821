package gateway

import (
	"strings"
	"testing"
)

func TestCheckHandle(t *testing.T) {
	valid := []string{"a", "scout-1", "Team_Lead", strings.Repeat("x", 50)}
	for _, v := range valid {
		if err := checkHandle("handle", v); err != nil {
			t.Errorf("checkHandle(%q) = %v", v, err)
		}
	}
	invalid := []string{"", "has space", "uni·code", strings.Repeat("x", 51), "semi;colon"}
	for _, v := range invalid {
		if err := checkHandle("handle", v); err == nil {
			t.Errorf("checkHandle(%q) accepted", v)
		}
	}
}

func TestCheckUID(t *testing.T) {
	if err := checkUID("uid", "0123456789abcdef01234567"); err != nil {
		t.Errorf("valid uid rejected: %v", err)
	}
	invalid := []string{"", "0123456789ABCDEF01234567", "0123456789abcdef0123456", "xyz"}
	for _, v := range invalid {
		if err := checkUID("uid", v); err == nil {
			t.Errorf("checkUID(%q) accepted", v)
		}
	}
}

func TestCheckShortID(t *testing.T) {
	valid := []string{"chat-a1b2c", "task-00000", "scout-ab1cd"}
	for _, v := range valid {
		if err := checkShortID("id", v); err != nil {
			t.Errorf("checkShortID(%q) = %v", v, err)
		}
	}
	invalid := []string{"", "chat-ABCDE", "chat-a1b2", "chat-a1b2c3", "-a1b2c", "chat_a1b2c"}
	for _, v := range invalid {
		if err := checkShortID("id", v); err == nil {
			t.Errorf("checkShortID(%q) accepted", v)
		}
	}
}

func TestCheckUUID(t *testing.T) {
	id, err := checkUUID("swarmId", "7c9e6679-7425-40de-944b-e07fc1f90ae7")
	if err != nil || id.String() != "7c9e6679-7425-40de-944b-e07fc1f90ae7" {
		t.Errorf("got (%v, %v)", id, err)
	}
	if _, err := checkUUID("swarmId", "not-a-uuid"); err == nil {
		t.Error("bad uuid accepted")
	}
}

func TestCheckLenAndRange(t *testing.T) {
	if err := checkLen("subject", "ok!", minSubjectLen, maxSubjectLen); err != nil {
		t.Errorf("checkLen: %v", err)
	}
	if err := checkLen("subject", "ab", minSubjectLen, maxSubjectLen); err == nil {
		t.Error("too-short subject accepted")
	}
	if err := checkLen("subject", strings.Repeat("s", maxSubjectLen+1), minSubjectLen, maxSubjectLen); err == nil {
		t.Error("too-long subject accepted")
	}

	if err := checkRange("priority", 3, 1, 5); err != nil {
		t.Errorf("checkRange: %v", err)
	}
	for _, v := range []int{0, 6} {
		if err := checkRange("priority", v, 1, 5); err == nil {
			t.Errorf("checkRange accepted %d", v)
		}
	}
}
