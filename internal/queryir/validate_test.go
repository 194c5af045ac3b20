package queryir

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_PortableQuery(t *testing.T) {
	q := &Query{
		From:  reflect.TypeFor[user](),
		Where: Eq(F("", "Email"), V("a@b.com")),
	}

	result := Validate(q)

	assert.True(t, result.IsPortable, "simple select should be portable")
	assert.Empty(t, result.Warnings)
}

func TestValidate_NilQuery(t *testing.T) {
	result := Validate(nil)
	assert.False(t, result.IsPortable)
	require.Len(t, result.Warnings, 1)
}

func TestValidate_ApplyJoin(t *testing.T) {
	q := &Query{
		From: reflect.TypeFor[user](),
		As:   "u",
		Joins: []Join{{
			Kind: JoinApply,
			As:   "o",
			Sub: &Query{
				From:  reflect.TypeFor[order](),
				Where: Eq(F("", "UserID"), F("u", "ID")),
			},
		}},
	}

	result := Validate(q)

	assert.False(t, result.IsPortable)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "LATERAL or APPLY")
}

func TestValidate_Skip(t *testing.T) {
	q := &Query{
		From:    reflect.TypeFor[user](),
		OrderBy: []Order{{Expr: F("", "ID")}},
		Skip:    V(10),
	}

	result := Validate(q)

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "ROW_NUMBER")
}

func TestValidate_UnorderedFirst(t *testing.T) {
	q := &Query{From: reflect.TypeFor[user](), Result: ResultFirst}

	result := Validate(q)

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "storage dependent")
}

func TestValidate_LocalCall(t *testing.T) {
	upper := func(args []any) (any, error) { return args[0], nil }

	constant := &Query{
		From:  reflect.TypeFor[user](),
		Where: Eq(F("", "Email"), &Local{Name: "upper", Fn: upper, Args: []Expr{V("x")}}),
	}
	assert.True(t, Validate(constant).IsPortable, "constant local calls fold at compile time")

	dependent := &Query{
		From:   reflect.TypeFor[user](),
		Select: []Selection{{Expr: &Local{Name: "upper", Fn: upper, Args: []Expr{F("", "Email")}}}},
	}
	result := Validate(dependent)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "evaluated in process")
}

func TestAnd_SkipsNil(t *testing.T) {
	a := Eq(F("", "ID"), V(1))
	assert.Nil(t, And())
	assert.Same(t, a, And(nil, a, nil))
}
