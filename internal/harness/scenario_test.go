package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/testutil"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "adults_paged.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "adults_paged", scenario.Name)
	assert.Equal(t, 20, scenario.Seed)
	assert.Equal(t, []string{"sqlite", "postgres", "tsql"}, scenario.Dialects)
	assert.Equal(t, 30, scenario.Vars["min"])
	assert.Equal(t, filepath.Join("testdata", "queries", "adults.yaml"), scenario.QueryFile)
	assert.Len(t, scenario.Assertions, 5)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "adults_paged.yaml"), scenario.Path())
}

func TestLoadScenario_ResolvesSchemaPaths(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "products.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("testdata", "schema", "catalog.cue")}, scenario.Schema)
	assert.Len(t, scenario.Setup, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenario_MissingReferencedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")

	content := `
name: s
description: d
query_file: missing.yaml
assertions: [{type: row_count, count: 0}]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "query file not found")

	content = `
name: s
description: d
schema: [nowhere.cue]
query: {from: User}
assertions: [{type: row_count, count: 0}]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err = LoadScenario(path)
	assert.ErrorContains(t, err, "schema not found")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: s\ndescription: d\nquery: {from: User}\nasserts: []",
			wantErr: "field asserts not found",
		},
		{
			name:    "missing name",
			yaml:    "description: d\nquery: {from: User}\nassertions: [{type: row_count}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: s\nquery: {from: User}\nassertions: [{type: row_count}]",
			wantErr: "description is required",
		},
		{
			name:    "no query",
			yaml:    "name: s\ndescription: d\nassertions: [{type: row_count}]",
			wantErr: "query or query_file is required",
		},
		{
			name:    "both queries",
			yaml:    "name: s\ndescription: d\nquery: {from: User}\nquery_file: q.yaml\nassertions: [{type: row_count}]",
			wantErr: "mutually exclusive",
		},
		{
			name:    "seed with schema",
			yaml:    "name: s\ndescription: d\nschema: [a.cue]\nseed: 3\nquery: {from: User}\nassertions: [{type: row_count}]",
			wantErr: "seed applies to the built-in fixtures only",
		},
		{
			name:    "unknown dialect",
			yaml:    "name: s\ndescription: d\ndialects: [oracle]\nquery: {from: User}\nassertions: [{type: row_count}]",
			wantErr: `unknown dialect "oracle"`,
		},
		{
			name:    "bad paging",
			yaml:    "name: s\ndescription: d\npaging: cursor\nquery: {from: User}\nassertions: [{type: row_count}]",
			wantErr: `invalid paging "cursor"`,
		},
		{
			name:    "no assertions",
			yaml:    "name: s\ndescription: d\nquery: {from: User}",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: s\ndescription: d\nquery: {from: User}\nassertions: [{type: trace_order}]",
			wantErr: `unknown assertion type "trace_order"`,
		},
		{
			name:    "sql_contains without text",
			yaml:    "name: s\ndescription: d\nquery: {from: User}\nassertions: [{type: sql_contains}]",
			wantErr: "text is required for sql_contains",
		},
		{
			name:    "params missing",
			yaml:    "name: s\ndescription: d\nquery: {from: User}\nassertions: [{type: params}]",
			wantErr: "params is required",
		},
		{
			name:    "rows missing",
			yaml:    "name: s\ndescription: d\nquery: {from: User}\nassertions: [{type: rows}]",
			wantErr: "rows is required",
		},
		{
			name:    "dialect not compiled",
			yaml:    "name: s\ndescription: d\nquery: {from: User}\nassertions: [{type: sql_contains, dialect: mysql, text: x}]",
			wantErr: `dialect "mysql" is not compiled`,
		},
		{
			name: "valid",
			yaml: "name: s\ndescription: d\ndialects: [mysql]\nquery: {from: User}\nassertions: [{type: sql_contains, dialect: mysql, text: x}, {type: params, params: []}]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestScenario_LoadQueryIsFresh(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: s
description: d
vars: {min: 3}
query: {from: User, where: {gt: [$ID, {var: min}]}}
assertions: [{type: row_count}]
`))
	require.NoError(t, err)

	a, err := scenario.LoadQuery(testutil.Types)
	require.NoError(t, err)
	b, err := scenario.LoadQuery(testutil.Types)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, a.From, b.From)
}

func TestWiden(t *testing.T) {
	out := widen(map[string]any{"n": 3, "s": "x", "f": 1.5})
	assert.Equal(t, int64(3), out["n"])
	assert.Equal(t, "x", out["s"])
	assert.Equal(t, 1.5, out["f"])
}
