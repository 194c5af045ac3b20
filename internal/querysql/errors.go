package querysql

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes formatting failures.
type ErrorCode string

const (
	// ErrCodeUnmappedType indicates a Go type with no storage type in the
	// dialect.
	ErrCodeUnmappedType ErrorCode = "UNMAPPED_TYPE"

	// ErrCodeUnsupportedFeature indicates a tree the dialect cannot express.
	ErrCodeUnsupportedFeature ErrorCode = "UNSUPPORTED_DIALECT_FEATURE"
)

// Error is returned when a tree or value cannot be rendered for a dialect.
type Error struct {
	Code    ErrorCode
	Dialect string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Dialect, e.Message)
}

// IsCode reports whether err (or anything it wraps) is a querysql Error
// with code.
func IsCode(err error, code ErrorCode) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}
