package schema

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error codes for catalog loading.
const (
	ErrCodeCUE           = "CUE_ERROR"
	ErrCodeNoFiles       = "NO_FILES"
	ErrCodeBadEntity     = "BAD_ENTITY"
	ErrCodeBadMember     = "BAD_MEMBER"
	ErrCodeUnknownEntity = "UNKNOWN_ENTITY"
	ErrCodeRelationCycle = "RELATION_CYCLE"
)

// Error is a catalog error with its source position when known.
type Error struct {
	Code    string
	Entity  string
	Member  string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	where := e.Entity
	if e.Member != "" {
		where += "." + e.Member
	}
	msg := e.Code + ": " + e.Message
	if where != "" {
		msg = fmt.Sprintf("%s: %s: %s", e.Code, where, e.Message)
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), msg)
	}
	return msg
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code string) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

// cueError converts a CUE error to an *Error carrying the first position.
func cueError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Code: ErrCodeCUE, Message: err.Error()}
	}
	first := errs[0]
	out := &Error{Code: ErrCodeCUE, Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		out.Pos = pos[0]
	}
	return out
}
