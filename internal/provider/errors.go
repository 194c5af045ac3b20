package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyEnumerated is yielded when a Sequence is enumerated twice.
	ErrAlreadyEnumerated = errors.New("sequence already enumerated")

	// ErrNoElements is returned by First and Single on an empty result.
	ErrNoElements = errors.New("sequence contains no elements")

	// ErrMoreThanOne is returned by Single and SingleOrDefault when more
	// than one row matches.
	ErrMoreThanOne = errors.New("sequence contains more than one element")

	// ErrNotAggregate is returned by Execute for queries that produce a
	// sequence.
	ErrNotAggregate = errors.New("query returns a sequence")
)

// ConflictKind says why a write matched no rows.
type ConflictKind string

const (
	// ConflictChanged means the stored row has a different version.
	ConflictChanged ConflictKind = "changed"
	// ConflictDeleted means no stored row has the entity's key.
	ConflictDeleted ConflictKind = "deleted"
)

// ConflictError reports an optimistic concurrency conflict that was not
// resolved.
type ConflictError struct {
	Entity string
	Op     string
	Kind   ConflictKind
	Key    []any
	// Stored is a pointer to the current stored entity, nil when deleted.
	Stored any
	// Err is the strategy's error, if a strategy declined to resolve.
	Err error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%s %s conflict: row %v %s", e.Op, e.Entity, e.Key, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is, or wraps, a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
