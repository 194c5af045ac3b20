package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/config"
	"github.com/roach88/relq/internal/querysql"
)

// Scenario defines a conformance scenario: one query, the data it runs
// against, and what it must produce.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema lists CUE catalog files or directories declaring the
	// entities. Paths are relative to the scenario file. Without a
	// schema the built-in User/Order fixtures are used.
	Schema []string `yaml:"schema,omitempty"`

	// Seed is the number of fixture users to insert. Only valid without
	// Schema.
	Seed int `yaml:"seed,omitempty"`

	// Setup holds SQL statements run after the tables are created.
	Setup []string `yaml:"setup,omitempty"`

	// Dialects lists the dialects the query is compiled for. The query
	// executes on SQLite only. Defaults to sqlite.
	Dialects []string `yaml:"dialects,omitempty"`

	// Paging is native or row_number.
	Paging string `yaml:"paging,omitempty"`

	// Vars are the captured values the query refers to with {var: name}.
	Vars map[string]any `yaml:"vars,omitempty"`

	// Query is the query description inline. Exactly one of Query and
	// QueryFile is set.
	Query yaml.Node `yaml:"query,omitempty"`

	// QueryFile is a query description file, relative to the scenario.
	QueryFile string `yaml:"query_file,omitempty"`

	// Assertions validate the compiled commands and the results.
	Assertions []Assertion `yaml:"assertions"`

	// path is the scenario file, empty for scenarios built in code.
	path string
}

// Assertion validates compiled SQL or execution results.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Dialect selects the command for sql_contains and params. Defaults
	// to the first dialect.
	Dialect string `yaml:"dialect,omitempty"`

	// Text is the fragment for sql_contains, sql_not_contains and error.
	Text string `yaml:"text,omitempty"`

	// Params are the expected parameter values in order.
	Params []any `yaml:"params,omitempty"`

	// Count is the expected row count for row_count.
	Count int `yaml:"count,omitempty"`

	// Rows are the expected rows in order. A mapping row is a subset
	// match against a record or entity; any other row compares equal.
	Rows []any `yaml:"rows,omitempty"`

	// Value is the expected single value.
	Value any `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertSQLContains    = "sql_contains"
	AssertSQLNotContains = "sql_not_contains"
	AssertParams         = "params"
	AssertRowCount       = "row_count"
	AssertRows           = "rows"
	AssertValue          = "value"
	AssertError          = "error"
)

// LoadScenario reads and parses a scenario YAML file. Relative schema
// and query paths resolve against the file's directory. Unknown fields
// are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	scenario.path = path

	base := filepath.Dir(path)
	for i, p := range scenario.Schema {
		if !filepath.IsAbs(p) {
			scenario.Schema[i] = filepath.Join(base, p)
		}
	}
	if scenario.QueryFile != "" && !filepath.IsAbs(scenario.QueryFile) {
		scenario.QueryFile = filepath.Join(base, scenario.QueryFile)
	}

	if err := validatePaths(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes and validates a scenario document. Paths are
// left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Path returns the file the scenario was loaded from.
func (s *Scenario) Path() string {
	return s.path
}

// dialects returns the target dialects, sqlite when none are listed.
func (s *Scenario) dialects() []string {
	if len(s.Dialects) == 0 {
		return []string{querysql.SQLite.Name}
	}
	return s.Dialects
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	hasQuery := !s.Query.IsZero()
	switch {
	case hasQuery && s.QueryFile != "":
		return fmt.Errorf("query and query_file are mutually exclusive")
	case !hasQuery && s.QueryFile == "":
		return fmt.Errorf("query or query_file is required")
	}

	if len(s.Schema) > 0 && s.Seed > 0 {
		return fmt.Errorf("seed applies to the built-in fixtures only; use setup with a schema")
	}
	if s.Seed < 0 {
		return fmt.Errorf("seed must be non-negative")
	}

	for _, d := range s.Dialects {
		if _, err := querysql.LookupDialect(d); err != nil {
			return err
		}
	}
	switch s.Paging {
	case "", config.PagingNative, config.PagingRowNumber:
	default:
		return fmt.Errorf("invalid paging %q", s.Paging)
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s); err != nil {
			return err
		}
	}
	return nil
}

// validatePaths checks that referenced files exist.
func validatePaths(s *Scenario) error {
	for _, p := range s.Schema {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("schema not found: %s", p)
		}
	}
	if s.QueryFile != "" {
		if _, err := os.Stat(s.QueryFile); os.IsNotExist(err) {
			return fmt.Errorf("query file not found: %s", s.QueryFile)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, s *Scenario) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Dialect != "" && !contains(s.dialects(), a.Dialect) {
		return fmt.Errorf("assertions[%d]: dialect %q is not compiled by this scenario", index, a.Dialect)
	}

	switch a.Type {
	case AssertSQLContains, AssertSQLNotContains, AssertError:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	case AssertParams:
		if a.Params == nil {
			return fmt.Errorf("assertions[%d]: params is required (use [] for none)", index)
		}
	case AssertRowCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertRows:
		if a.Rows == nil {
			return fmt.Errorf("assertions[%d]: rows is required (use [] for none)", index)
		}
	case AssertValue:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
