package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	s := &Scenario{Name: "demo"}
	r := executedResult()

	data, err := Snapshot(s, r)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "-- scenario: demo --\n")
	assert.Contains(t, text, "-- sqlite --\nSELECT t0.\"id\"")
	assert.Contains(t, text, "-- postgres --\n")
	assert.Contains(t, text, "-- params --\n[30]\n")
	assert.Contains(t, text, "-- rows --\n[\n  {\n")
	assert.NotContains(t, text, "-- error --")
}

func TestSnapshot_ValueAndError(t *testing.T) {
	r := NewResult()
	r.Executed = true
	r.Value = float64(18)
	data, err := Snapshot(&Scenario{Name: "count"}, r)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- value --\n18\n")

	r = NewResult()
	r.Error = "boom"
	data, err = Snapshot(&Scenario{Name: "err"}, r)
	require.NoError(t, err)
	assert.Equal(t, "-- scenario: err --\n-- error --\nboom\n", string(data))
}

func TestGoldenPath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "adults.golden"),
		GoldenPath(filepath.Join("scenarios", "adults.yaml")))
}

func TestUpdateAndCompareGolden(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden", "demo.golden")
	s := &Scenario{Name: "demo"}
	r := executedResult()

	_, err := CompareGolden(path, s, r)
	assert.ErrorContains(t, err, "failed to read golden file")

	require.NoError(t, UpdateGolden(path, s, r))
	match, err := CompareGolden(path, s, r)
	require.NoError(t, err)
	assert.True(t, match)

	r.Commands[0].SQL += " LIMIT 1"
	match, err = CompareGolden(path, s, r)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestRunWithGolden(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "order_counts.yaml"))
	require.NoError(t, err)

	// Pin the snapshot of a first run, then check that a second run
	// reproduces it byte for byte.
	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, UpdateGolden(filepath.Join(dir, scenario.Name+".golden"), scenario, first))

	result, err := RunWithGolden(t, scenario, dir)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	data, err := os.ReadFile(filepath.Join(dir, scenario.Name+".golden"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"email": "user001@example.com"`)
}
