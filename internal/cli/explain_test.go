package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplain_Text(t *testing.T) {
	ws := newTestWorkspace(t)

	out, _, err := execute(t, "explain", "-s", ws.schema, "--var", "min=10", ws.priced)
	require.NoError(t, err)
	assert.Contains(t, out, "== Parameterize (changed)")
	assert.Contains(t, out, "(unchanged)")
	assert.Contains(t, out, "-- priced.yaml (sqlite)")
}

func TestExplain_ChangedOnlyJSON(t *testing.T) {
	ws := newTestWorkspace(t)

	out, _, err := execute(t, "--format", "json", "explain", "--changed", "-s", ws.schema, "--var", "min=10", ws.priced)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   ExplainResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.Data.Steps)
	for _, s := range resp.Data.Steps {
		assert.True(t, s.Changed, s.Pass)
		assert.NotEmpty(t, s.Tree)
	}
	assert.Equal(t, "Parameterize", resp.Data.Steps[len(resp.Data.Steps)-1].Pass)
	assert.Contains(t, resp.Data.SQL, `"products"`)
}

func TestExplain_RequiresOneFile(t *testing.T) {
	_, _, err := execute(t, "explain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
