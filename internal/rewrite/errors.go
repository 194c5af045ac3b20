package rewrite

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes rewrite failures.
type ErrorCode string

const (
	// ErrCodeUnsupported indicates a tree a pass cannot rewrite without
	// changing its meaning.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED_EXPRESSION"
)

// Error is returned when a pass rejects a tree.
type Error struct {
	Code    ErrorCode
	Pass    string
	Message string
}

func (e *Error) Error() string {
	if e.Pass != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Pass, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err (or anything it wraps) is a rewrite Error
// with code.
func IsCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
