package harness

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFile(t *testing.T, name string) *Result {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	return result
}

func TestRun_Scenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_CompilesEveryDialect(t *testing.T) {
	result := runFile(t, "adults_paged")

	require.Len(t, result.Commands, 3)
	assert.Equal(t, "sqlite", result.Commands[0].Dialect)
	assert.Equal(t, "postgres", result.Commands[1].Dialect)
	assert.Equal(t, "tsql", result.Commands[2].Dialect)
	assert.Contains(t, result.Commands[1].SQL, "$1")
	assert.True(t, result.Executed)
	assert.Len(t, result.Rows, 3)
}

func TestRun_SingleValue(t *testing.T) {
	result := runFile(t, "older_count")
	assert.True(t, result.Executed)
	assert.Nil(t, result.Rows)
	assert.Equal(t, float64(18), result.Value)
}

func TestRun_CompileErrorIsPartOfResult(t *testing.T) {
	result := runFile(t, "unknown_member")
	assert.True(t, result.Pass)
	assert.False(t, result.Executed)
	assert.Empty(t, result.Commands)
	assert.Contains(t, result.Error, "UNKNOWN_MEMBER")
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: broken
description: "fails to compile"
query:
  from: User
  where: {eq: [$Shoe, 44]}
assertions:
  - type: sql_contains
    text: SELECT
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[1], "unexpected error")
}

func TestRun_FailedAssertion(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_count
description: "expects too many rows"
seed: 3
query: {from: User}
assertions:
  - type: row_count
    count: 4
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Expected: 4 rows")
	assert.Contains(t, result.Errors[0], "Actual: 3 rows")
}

func TestRun_CompileOnlyDoesNotExecute(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: compile_only
description: "only SQL assertions"
query: {from: Order, where: {eq: [$Status, paid]}}
assertions:
  - type: params
    params: [paid]
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.False(t, result.Executed)
}

func TestRun_RowNumberPaging(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: emulated
description: "row_number paging returns the same page"
seed: 20
paging: row_number
query: {from: User, order_by: [{expr: $ID}], skip: 10, take: 2}
assertions:
  - type: sql_contains
    text: ROW_NUMBER() OVER
  - type: rows
    rows: [{ID: 11}, {ID: 12}]
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_BadSetupIsEnvironmentError(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_setup
description: "setup references a missing table"
setup: ["INSERT INTO nowhere VALUES (1)"]
query: {from: User}
assertions:
  - type: row_count
    count: 0
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario)
	assert.ErrorContains(t, err, "setup[0]")
}

func TestHarness_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "older_count.yaml"))
	require.NoError(t, err)
	_, err = h.Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "scenario=older_count")
}
