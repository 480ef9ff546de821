package store

import (
	"errors"
	"fmt"
)

// ErrorKind classifies store failures so callers can decide between
// surfacing, retrying, and shutting down.
type ErrorKind int

const (
	// KindNotFound means the referenced row does not exist.
	KindNotFound ErrorKind = iota
	// KindConflict means a concurrent mutation won (CAS miss, duplicate key).
	KindConflict
	// KindIntegrity means a constraint would be violated (FK, check, cycle).
	KindIntegrity
	// KindBusy means the backend is momentarily unavailable; retried internally.
	KindBusy
	// KindFatal is unrecoverable; the process should shut down gracefully.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindIntegrity:
		return "integrity"
	case KindBusy:
		return "busy"
	default:
		return "fatal"
	}
}

// Error is the typed failure returned by every store mutation.
type Error struct {
	Kind ErrorKind
	Op   string // e.g. "work_items.assign"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound builds a KindNotFound error for op.
func NotFound(op string) *Error { return &Error{Kind: KindNotFound, Op: op} }

// Conflict builds a KindConflict error for op.
func Conflict(op string, err error) *Error { return &Error{Kind: KindConflict, Op: op, Err: err} }

// Integrity builds a KindIntegrity error for op.
func Integrity(op string, err error) *Error { return &Error{Kind: KindIntegrity, Op: op, Err: err} }

func kindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// IsNotFound reports whether err is a store error of kind NotFound.
func IsNotFound(err error) bool { k, ok := kindOf(err); return ok && k == KindNotFound }

// IsConflict reports whether err is a store error of kind Conflict.
func IsConflict(err error) bool { k, ok := kindOf(err); return ok && k == KindConflict }

// IsIntegrity reports whether err is a store error of kind Integrity.
func IsIntegrity(err error) bool { k, ok := kindOf(err); return ok && k == KindIntegrity }

// IsBusy reports whether err is a store error of kind Busy.
func IsBusy(err error) bool { k, ok := kindOf(err); return ok && k == KindBusy }

// IsFatal reports whether err is a store error of kind Fatal.
func IsFatal(err error) bool { k, ok := kindOf(err); return ok && k == KindFatal }
