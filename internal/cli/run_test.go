package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/store"
)

// seededDB creates the products table in a SQLite file and fills it.
func seededDB(t *testing.T, ws *testWorkspace) string {
	t.Helper()
	db := filepath.Join(ws.dir, "shop.db")
	_, _, err := execute(t, "schema", "--apply", "--dsn", db, "-s", ws.schema)
	require.NoError(t, err)

	st, err := store.Open(store.DriverSQLite, db)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Apply(context.Background(), &querysql.Command{
		Text: "INSERT INTO products (title, price) VALUES ('pen', 3), ('book', 12), ('lamp', 40)",
	}))
	return db
}

func TestRun_Rows(t *testing.T) {
	ws := newTestWorkspace(t)
	db := seededDB(t, ws)

	out, _, err := execute(t, "run", "--dsn", db, "-s", ws.schema, "--var", "min=10", ws.priced)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"Title":"lamp"`)
	assert.Contains(t, lines[1], `"Title":"book"`)
	assert.Equal(t, "(2 rows)", lines[2])
}

func TestRun_ValueJSON(t *testing.T) {
	ws := newTestWorkspace(t)
	db := seededDB(t, ws)

	out, _, err := execute(t, "--format", "json", "run", "--dsn", db, "-s", ws.schema, "--var", "min=5", ws.count)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, float64(2), resp.Data.Value)
	assert.Nil(t, resp.Data.Rows)
}

func TestRun_RowsJSON(t *testing.T) {
	ws := newTestWorkspace(t)
	db := seededDB(t, ws)

	out, _, err := execute(t, "--format", "json", "run", "--dsn", db, "-s", ws.schema, "--var", "min=100", ws.priced)
	require.NoError(t, err)

	var resp struct {
		Data struct {
			Rows []any `json:"rows"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data.Rows)
}

func TestRun_ExecutionFailure(t *testing.T) {
	ws := newTestWorkspace(t)

	// An in-memory database has no products table.
	_, _, err := execute(t, "run", "-s", ws.schema, "--var", "min=1", ws.priced)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query failed")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestRun_NeedsDSNForServerDialects(t *testing.T) {
	ws := newTestWorkspace(t)

	_, _, err := execute(t, "-d", "mysql", "run", "-s", ws.schema, "--var", "min=1", ws.priced)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
