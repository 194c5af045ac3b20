package ir

import (
	"strconv"
	"sync/atomic"
)

var aliasSeq atomic.Uint64

// Alias identifies one table or select instance within a compiled tree.
// The zero Alias is invalid.
type Alias struct {
	id uint64
}

// NewAlias mints a new, globally unique alias.
func NewAlias() Alias {
	return Alias{id: aliasSeq.Add(1)}
}

// IsZero reports whether a is the zero (invalid) alias.
func (a Alias) IsZero() bool {
	return a.id == 0
}

// String returns a debugging name. SQL output uses display names assigned
// by the formatter instead.
func (a Alias) String() string {
	return "A" + strconv.FormatUint(a.id, 10)
}
