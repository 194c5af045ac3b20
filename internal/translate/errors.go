package translate

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes translation failures.
type ErrorCode string

const (
	// ErrCodeUnsupported indicates an expression shape that cannot be
	// represented in SQL. The translator never emits best-effort SQL.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED_EXPRESSION"

	// ErrCodeUnknownMember indicates a member access the mapping does not know.
	ErrCodeUnknownMember ErrorCode = "UNKNOWN_MEMBER"

	// ErrCodeFoldFailed indicates a locally evaluable expression failed
	// while being folded to a constant.
	ErrCodeFoldFailed ErrorCode = "FOLD_FAILED"

	// ErrCodeInvalidQuery indicates a malformed query description.
	ErrCodeInvalidQuery ErrorCode = "INVALID_QUERY"
)

// Error is returned for translation failures.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err (or anything it wraps) is a translation Error
// with code.
func IsCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

func unsupported(format string, args ...any) error {
	return &Error{Code: ErrCodeUnsupported, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) error {
	return &Error{Code: ErrCodeInvalidQuery, Message: fmt.Sprintf(format, args...)}
}
