package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders the parts of a result that golden files pin: the
// command per dialect, its parameters, and the rows or value when the
// query ran.
//
//	-- scenario: adults --
//	-- sqlite --
//	SELECT ...
//	-- params --
//	[30]
//	-- rows --
//	[...]
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "-- scenario: %s --\n", scenario.Name)
	for _, cmd := range result.Commands {
		fmt.Fprintf(&buf, "-- %s --\n%s\n", cmd.Dialect, cmd.SQL)
		params, err := json.Marshal(cmd.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		fmt.Fprintf(&buf, "-- params --\n%s\n", params)
	}
	if result.Error != "" {
		fmt.Fprintf(&buf, "-- error --\n%s\n", result.Error)
	}
	if result.Executed {
		section, data := "value", any(result.Value)
		if result.Rows != nil {
			section, data = "rows", result.Rows
		}
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", section, err)
		}
		fmt.Fprintf(&buf, "-- %s --\n%s\n", section, out)
	}
	return buf.Bytes(), nil
}

// GoldenPath returns the golden file of a scenario file: golden/<name>.golden
// next to it.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// UpdateGolden writes the snapshot of result as the golden file.
func UpdateGolden(path string, scenario *Scenario, result *Result) error {
	data, err := Snapshot(scenario, result)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether the snapshot of result matches the
// golden file at path.
func CompareGolden(path string, scenario *Scenario, result *Result) (bool, error) {
	golden, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	current, err := Snapshot(scenario, result)
	if err != nil {
		return false, err
	}
	return bytes.Equal(golden, current), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// dir/<scenario.Name>.golden.
//
// To regenerate golden files, run the test with -update.
//
// Returns the result so callers can check assertions too. Test failure
// (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, dir string) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	data, err := Snapshot(scenario, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}
