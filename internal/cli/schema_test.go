package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Print(t *testing.T) {
	ws := newTestWorkspace(t)

	out, _, err := execute(t, "schema", "-s", ws.schema)
	require.NoError(t, err)
	assert.Contains(t, out, "-- Product")
	assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "products"`)
}

func TestSchema_JSONPerDialect(t *testing.T) {
	ws := newTestWorkspace(t)

	out, _, err := execute(t, "--format", "json", "-d", "postgres", "schema", "-s", ws.schema)
	require.NoError(t, err)

	var resp struct {
		Data []SchemaTable `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Product", resp.Data[0].Entity)
	assert.Equal(t, "products", resp.Data[0].Table)
	assert.Contains(t, resp.Data[0].DDL, "CREATE TABLE")
}

func TestSchema_Apply(t *testing.T) {
	ws := newTestWorkspace(t)
	db := filepath.Join(ws.dir, "shop.db")

	out, _, err := execute(t, "schema", "--apply", "--dsn", db, "-s", ws.schema)
	require.NoError(t, err)
	assert.Contains(t, out, "created 1 tables")

	// The table now exists, so a query runs and finds nothing.
	out, _, err = execute(t, "run", "--dsn", db, "-s", ws.schema, "--var", "min=0", ws.priced)
	require.NoError(t, err)
	assert.Contains(t, out, "(0 rows)")
}

func TestSchema_ApplyNeedsDSN(t *testing.T) {
	ws := newTestWorkspace(t)

	_, _, err := execute(t, "-d", "postgres", "schema", "--apply", "-s", ws.schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")
}
