package mapping

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes mapping failures.
type ErrorCode string

const (
	// ErrCodeNotStruct indicates the entity type is not a struct.
	ErrCodeNotStruct ErrorCode = "NOT_STRUCT"

	// ErrCodeBadTag indicates a malformed db tag.
	ErrCodeBadTag ErrorCode = "BAD_TAG"

	// ErrCodeNoPrimaryKey indicates an operation required a key the entity lacks.
	ErrCodeNoPrimaryKey ErrorCode = "NO_PRIMARY_KEY"

	// ErrCodeUnknownMember indicates a member name that is not mapped.
	ErrCodeUnknownMember ErrorCode = "UNKNOWN_MEMBER"

	// ErrCodeBadRelation indicates a relation whose key members cannot be resolved.
	ErrCodeBadRelation ErrorCode = "BAD_RELATION"
)

// Error is returned for every mapping failure. Mapping errors are never
// retried: they describe a static property of the entity type.
type Error struct {
	Code    ErrorCode
	Entity  string
	Member  string
	Message string
}

func (e *Error) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("%s: %s.%s: %s", e.Code, e.Entity, e.Member, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Entity, e.Message)
}

// IsCode reports whether err (or anything it wraps) is a mapping Error with code.
func IsCode(err error, code ErrorCode) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}
