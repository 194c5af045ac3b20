package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executedResult() *Result {
	r := NewResult()
	r.Commands = []Command{
		{Dialect: "sqlite", SQL: `SELECT t0."id" FROM "users" AS t0 WHERE t0."age" > @p0`, Params: []any{float64(30)}},
		{Dialect: "postgres", SQL: `SELECT t0."id" FROM "users" AS t0 WHERE t0."age" > $1`, Params: []any{float64(30)}},
	}
	r.Executed = true
	r.Rows = []any{
		map[string]any{"ID": float64(1), "Email": "a@x.io", "Nick": nil},
		map[string]any{"ID": float64(2), "Email": "b@x.io", "Nick": "bee"},
	}
	return r
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	errs := EvaluateAssertions(executedResult(), []Assertion{
		{Type: AssertSQLContains, Text: "@p0"},
		{Type: AssertSQLContains, Dialect: "postgres", Text: "$1"},
		{Type: AssertSQLNotContains, Text: "LIMIT"},
		{Type: AssertParams, Params: []any{30}},
		{Type: AssertRowCount, Count: 2},
		{Type: AssertRows, Rows: []any{
			map[string]any{"ID": 1, "Nick": nil},
			map[string]any{"Email": "b@x.io"},
		}},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{
			name:      "sql missing fragment",
			assertion: Assertion{Type: AssertSQLContains, Text: "ORDER BY"},
			want:      `SQL containing "ORDER BY"`,
		},
		{
			name:      "sql has fragment",
			assertion: Assertion{Type: AssertSQLNotContains, Text: "WHERE"},
			want:      `SQL without "WHERE"`,
		},
		{
			name:      "no command for dialect",
			assertion: Assertion{Type: AssertSQLContains, Dialect: "tsql", Text: "x"},
			want:      "a command compiled for tsql",
		},
		{
			name:      "params differ",
			assertion: Assertion{Type: AssertParams, Params: []any{31}},
			want:      "params [31]",
		},
		{
			name:      "row count",
			assertion: Assertion{Type: AssertRowCount, Count: 5},
			want:      "Expected: 5 rows",
		},
		{
			name:      "row field differs",
			assertion: Assertion{Type: AssertRows, Rows: []any{map[string]any{"ID": 1}, map[string]any{"Nick": "bea"}}},
			want:      "(field Nick)",
		},
		{
			name:      "row field missing",
			assertion: Assertion{Type: AssertRows, Rows: []any{map[string]any{"Age": 1}, map[string]any{}}},
			want:      "(field Age)",
		},
		{
			name:      "scalar against record",
			assertion: Assertion{Type: AssertRows, Rows: []any{1, 2}},
			want:      "row 0 = 1",
		},
		{
			name:      "value on sequence",
			assertion: Assertion{Type: AssertValue, Value: 2},
			want:      "a single-value result",
		},
		{
			name:      "error expected",
			assertion: Assertion{Type: AssertError, Text: "UNKNOWN_MEMBER"},
			want:      "Actual: no error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(executedResult(), []Assertion{tt.assertion})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestEvaluateAssertions_Value(t *testing.T) {
	r := NewResult()
	r.Executed = true
	r.Value = true

	assert.Empty(t, EvaluateAssertions(r, []Assertion{{Type: AssertValue, Value: true}}))
	assert.Len(t, EvaluateAssertions(r, []Assertion{{Type: AssertValue, Value: false}}), 1)

	r.Value = map[string]any{"ID": float64(7), "Email": "g@x.io"}
	assert.Empty(t, EvaluateAssertions(r, []Assertion{{Type: AssertValue, Value: map[string]any{"ID": 7}}}))
}

func TestEvaluateAssertions_NotExecuted(t *testing.T) {
	r := NewResult()
	r.Error = "translate: UNKNOWN_MEMBER: User has no member Shoe"

	errs := EvaluateAssertions(r, []Assertion{{Type: AssertRowCount, Count: 0}})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "Actual: translate: UNKNOWN_MEMBER")
	assert.Contains(t, errs[1], "unexpected error")

	errs = EvaluateAssertions(r, []Assertion{{Type: AssertError, Text: "UNKNOWN_MEMBER"}})
	assert.Empty(t, errs)
}

func TestPlain(t *testing.T) {
	type row struct {
		ID   int64
		Nick *string
		At   time.Time
	}
	got, err := Plain(row{ID: 3, At: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ID": float64(3), "Nick": nil, "At": "2024-01-01T09:00:00Z"}, got)

	got, err = Plain([]any{int64(1), "a", true})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), "a", true}, got)

	_, err = Plain(func() {})
	assert.Error(t, err)
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual([]any{int64(30)}, []any{30}))
	assert.True(t, valuesEqual(nil, nil))
	assert.False(t, valuesEqual([]any{"30"}, []any{30}))
}
