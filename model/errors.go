package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy of the consolidation engine. Callers match with
// errors.Is; BatchError additionally carries per-operation failures.
var (
	// Schema layer.
	ErrDuplicateType     = errors.New("duplicate type")
	ErrDuplicateProperty = errors.New("duplicate property")
	ErrUnknownType       = errors.New("unknown type")
	ErrSchemaBusy        = errors.New("schema busy")

	// Resolution layer, recoverable via confirmation.
	ErrInsufficientIdentity = errors.New("insufficient identity")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrAmbiguousResolution  = errors.New("ambiguous resolution")

	// Recoverable via re-read and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// Informational, not a failure.
	ErrNoPath = errors.New("no path")

	// External dependency failure, retried then surfaced.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	ErrNotFound = errors.New("not found")
)

// OpFailure is one failed operation inside a rejected batch.
type OpFailure struct {
	Index int
	Kind  OpKind
	Err   error
}

func (f OpFailure) Error() string {
	return fmt.Sprintf("op %d (%s): %v", f.Index, f.Kind, f.Err)
}

func (f OpFailure) Unwrap() error {
	return f.Err
}

// BatchError aggregates every validation or resolution failure of a batch.
// The whole batch is discarded; nothing is persisted.
type BatchError struct {
	Failures []OpFailure
}

func (e *BatchError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("batch rejected: %v", e.Failures[0])
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("batch rejected (%d failures): %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the underlying failures to errors.Is.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i := range e.Failures {
		errs[i] = e.Failures[i]
	}
	return errs
}
