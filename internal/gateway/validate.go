package gateway

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/store"
)

// Declarative field validators. Every route validates its inputs through
// these before touching the store; failures surface as a single-line 400.

var (
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)
	uidRe     = regexp.MustCompile(`^[0-9a-f]{24}$`)
	shortIDRe = regexp.MustCompile(`^[a-z]+-[a-z0-9]{5}$`)
)

func checkHandle(field, v string) error {
	if !nameRe.MatchString(v) {
		return fmt.Errorf("%s must be 1-50 chars of [A-Za-z0-9_-]", field)
	}
	return nil
}

func checkUID(field, v string) error {
	if !uidRe.MatchString(v) {
		return fmt.Errorf("%s must be 24 lowercase hex chars", field)
	}
	return nil
}

func checkShortID(field, v string) error {
	if !shortIDRe.MatchString(v) {
		return fmt.Errorf("%s is not a valid id", field)
	}
	return nil
}

func checkUUID(field, v string) (uuid.UUID, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s is not a valid uuid", field)
	}
	return id, nil
}

func checkLen(field, v string, min, max int) error {
	if len(v) < min || len(v) > max {
		return fmt.Errorf("%s must be %d-%d chars", field, min, max)
	}
	return nil
}

func checkRange(field string, v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%s must be in %d..%d", field, min, max)
	}
	return nil
}

func checkAgentType(v string) error {
	if !store.ValidAgentType(v) {
		return fmt.Errorf("unknown agentType %q", v)
	}
	return nil
}

const (
	maxSubjectLen     = 200
	minSubjectLen     = 3
	maxDescriptionLen = 10_000
	maxBodyLen        = 50_000
)
