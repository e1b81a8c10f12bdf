package referral

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the error category surfaced to API callers.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindGuardFailure      ErrorKind = "guard_failure"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindNotFound          ErrorKind = "not_found"
	KindPersistence       ErrorKind = "persistence_error"
)

// ErrNotFound is returned when a referenced referral does not exist.
var ErrNotFound = errors.New("referral not found")

// InvalidTransitionError means the target status is not reachable from the
// referral's current status.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// GuardError means the target is reachable but its precondition failed.
type GuardError struct {
	Guard  string
	Reason string
}

func (e *GuardError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("guard %s failed", e.Guard)
	}
	return fmt.Sprintf("guard %s failed: %s", e.Guard, e.Reason)
}

// ValidationError carries the full validation result for a blocked mutation.
type ValidationError struct {
	Result *ValidationResult
}

func (e *ValidationError) Error() string {
	if e.Result != nil && len(e.Result.Errors) > 0 {
		return fmt.Sprintf("validation failed: %s", e.Result.Errors[0])
	}
	return "validation failed"
}

// PersistenceError wraps a storage failure. The wrapped error is kept for
// logs; API responses expose only the operation name.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// KindOf maps a workflow error to its API error kind. The second return is
// false for errors outside the workflow taxonomy.
func KindOf(err error) (ErrorKind, bool) {
	var (
		ve  *ValidationError
		ge  *GuardError
		ite *InvalidTransitionError
		pe  *PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation, true
	case errors.As(err, &ge):
		return KindGuardFailure, true
	case errors.As(err, &ite):
		return KindInvalidTransition, true
	case errors.Is(err, ErrNotFound):
		return KindNotFound, true
	case errors.As(err, &pe):
		return KindPersistence, true
	}
	return "", false
}
