package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrLedgerSubmission    = errors.New("ledger submission failed")
	ErrConfirmationTimeout = errors.New("ledger confirmation timed out")
	ErrSyncTransient       = errors.New("cache sync failed")
	ErrDuplicateSubmission = errors.New("duplicate submission pending")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
)

// ValidationError describes a rejected input field. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is shorthand for constructing a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// SubmissionError wraps a rejected or reverted ledger write. It is terminal:
// the caller must re-initiate the operation explicitly.
type SubmissionError struct {
	Kind OperationKind
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s: %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() []error {
	return []error{ErrLedgerSubmission, e.Err}
}
