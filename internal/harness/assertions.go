package harness

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	SQL      string // Command under test, empty when none compiled
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.SQL != "" {
		fmt.Fprintf(&buf, "  SQL: %s\n", e.SQL)
	}
	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	expectsError := false
	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertSQLContains:
			err = assertSQL(result, assertion, true)
		case AssertSQLNotContains:
			err = assertSQL(result, assertion, false)
		case AssertParams:
			err = assertParams(result, assertion)
		case AssertRowCount:
			err = assertRowCount(result, assertion)
		case AssertRows:
			err = assertRows(result, assertion)
		case AssertValue:
			err = assertValue(result, assertion)
		case AssertError:
			expectsError = true
			err = assertError(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	if result.Error != "" && !expectsError {
		errors = append(errors, "unexpected error: "+result.Error)
	}
	return errors
}

func commandFor(result *Result, a Assertion) (Command, error) {
	cmd, ok := result.Command(a.Dialect)
	if !ok {
		return Command{}, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("a command compiled for %s", cmp.Or(a.Dialect, "the first dialect")),
			Actual:   "no command",
		}
	}
	return cmd, nil
}

// assertSQL checks whether the command text contains a fragment.
func assertSQL(result *Result, a Assertion, want bool) error {
	cmd, err := commandFor(result, a)
	if err != nil {
		return err
	}
	if strings.Contains(cmd.SQL, a.Text) == want {
		return nil
	}
	expected := fmt.Sprintf("SQL containing %q", a.Text)
	if !want {
		expected = fmt.Sprintf("SQL without %q", a.Text)
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: expected,
		Actual:   cmd.SQL,
		SQL:      cmd.SQL,
	}
}

// assertParams compares parameter values in order.
func assertParams(result *Result, a Assertion) error {
	cmd, err := commandFor(result, a)
	if err != nil {
		return err
	}
	if valuesEqual(cmd.Params, a.Params) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("params %v", a.Params),
		Actual:   fmt.Sprintf("params %v", cmd.Params),
		SQL:      cmd.SQL,
	}
}

func assertRowCount(result *Result, a Assertion) error {
	if err := requireExecuted(result, a); err != nil {
		return err
	}
	if len(result.Rows) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d rows", a.Count),
			Actual:   fmt.Sprintf("%d rows", len(result.Rows)),
		}
	}
	return nil
}

// assertRows compares rows in order. A mapping row only checks the keys
// it names.
func assertRows(result *Result, a Assertion) error {
	if err := requireExecuted(result, a); err != nil {
		return err
	}
	if len(result.Rows) != len(a.Rows) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d rows", len(a.Rows)),
			Actual:   fmt.Sprintf("%d rows", len(result.Rows)),
		}
	}
	for i, expected := range a.Rows {
		if key, ok := rowMatches(result.Rows[i], expected); !ok {
			detail := ""
			if key != "" {
				detail = fmt.Sprintf(" (field %s)", key)
			}
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("row %d = %v", i, expected),
				Actual:   fmt.Sprintf("row %d = %v%s", i, result.Rows[i], detail),
			}
		}
	}
	return nil
}

func assertValue(result *Result, a Assertion) error {
	if err := requireExecuted(result, a); err != nil {
		return err
	}
	if result.Rows != nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: "a single-value result",
			Actual:   fmt.Sprintf("%d rows", len(result.Rows)),
		}
	}
	if _, ok := rowMatches(result.Value, a.Value); !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%v", a.Value),
			Actual:   fmt.Sprintf("%v", result.Value),
		}
	}
	return nil
}

func assertError(result *Result, a Assertion) error {
	if strings.Contains(result.Error, a.Text) && result.Error != "" {
		return nil
	}
	actual := "no error"
	if result.Error != "" {
		actual = result.Error
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("error containing %q", a.Text),
		Actual:   actual,
	}
}

func requireExecuted(result *Result, a Assertion) error {
	if result.Executed {
		return nil
	}
	actual := "query did not run"
	if result.Error != "" {
		actual = result.Error
	}
	return &AssertionError{Type: a.Type, Expected: "query results", Actual: actual}
}

// rowMatches compares an actual row with an expected one. A mapping
// expectation matches a mapping that holds equal values for its keys;
// the first differing key is returned.
func rowMatches(actual, expected any) (string, bool) {
	want, err := Plain(expected)
	if err != nil {
		return "", false
	}
	wantMap, ok := want.(map[string]any)
	if !ok {
		return "", reflect.DeepEqual(actual, want)
	}
	gotMap, ok := actual.(map[string]any)
	if !ok {
		return "", false
	}

	keys := make([]string, 0, len(wantMap))
	for k := range wantMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, exists := gotMap[k]
		if !exists || !reflect.DeepEqual(got, wantMap[k]) {
			return k, false
		}
	}
	return "", true
}

// valuesEqual compares two values after reducing both to plain data.
func valuesEqual(actual, expected any) bool {
	a, err := Plain(actual)
	if err != nil {
		return false
	}
	e, err := Plain(expected)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(a, e)
}

// Plain reduces v to JSON data: maps, slices, strings, float64 numbers,
// booleans and nil. Structs become maps keyed by field name and times
// become RFC 3339 strings, so results and YAML expectations compare
// equal regardless of their Go types.
func Plain(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}
