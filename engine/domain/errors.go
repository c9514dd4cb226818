package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine error taxonomy.
var (
	ErrMissingEndpoint      = errors.New("relationship endpoint does not exist")
	ErrConflictingAttribute = errors.New("conflicting attribute")
	ErrInvalidFilter        = errors.New("invalid filter")
	ErrQueryTimeout         = errors.New("query timed out")

	ErrMissingField       = errors.New("missing required field")
	ErrAgeOutOfRange      = errors.New("age out of range")
	ErrUnknownQuestionType = errors.New("unknown question type")
	ErrMissingTimestamp   = errors.New("missing timestamp")
)

// MissingEndpointError reports a relationship write that referenced a node
// which does not exist. This indicates an ordering bug and is fatal to that
// write.
type MissingEndpointError struct {
	RelType string
	FromKey string
	ToKey   string
}

func (e *MissingEndpointError) Error() string {
	return fmt.Sprintf("missing endpoint for (%s)-[%s]->(%s)", e.FromKey, e.RelType, e.ToKey)
}

func (e *MissingEndpointError) Unwrap() error { return ErrMissingEndpoint }

// ConflictingAttributeError reports a re-ingested row that disagrees with an
// attribute already stored for the same entity. The row is rejected unless
// the pipeline is configured for last-write-wins.
type ConflictingAttributeError struct {
	Label     string
	Key       string
	Attribute string
	Stored    any
	Incoming  any
}

func (e *ConflictingAttributeError) Error() string {
	return fmt.Sprintf("conflicting %s.%s for %q: stored %v, incoming %v",
		e.Label, e.Attribute, e.Key, e.Stored, e.Incoming)
}

func (e *ConflictingAttributeError) Unwrap() error { return ErrConflictingAttribute }

// InvalidFilterError reports an analytic query referencing an unknown
// demographic attribute or question category. Surfaced before the query runs.
type InvalidFilterError struct {
	Field string
	Value string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter %s=%q", e.Field, e.Value)
}

func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }

// QueryTimeoutError reports a store query that exceeded the caller's
// deadline. The engine does not retry; callers may, with backoff.
type QueryTimeoutError struct {
	Op string
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("query timeout during %s", e.Op)
}

func (e *QueryTimeoutError) Unwrap() error { return ErrQueryTimeout }

// RowError attaches the input position to a row-scoped ingestion failure so
// report consumers can act without re-deriving state.
type RowError struct {
	Line    int
	Wrapped error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Wrapped)
}

func (e *RowError) Unwrap() error { return e.Wrapped }

// IsRowScoped reports whether an ingestion failure is confined to a single
// row. Row-scoped failures reject the row and the batch continues; anything
// else (store connectivity, timeouts on writes) is fatal to the batch.
func IsRowScoped(err error) bool {
	for _, sentinel := range []error{
		ErrConflictingAttribute, ErrMissingEndpoint,
		ErrMissingField, ErrAgeOutOfRange, ErrUnknownQuestionType, ErrMissingTimestamp,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
