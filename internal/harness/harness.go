package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/config"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/provider"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
	"github.com/roach88/relq/internal/testutil"
)

// Harness runs scenarios. Each run uses a fresh in-memory SQLite
// database, so scenarios are isolated and deterministic.
type Harness struct {
	logger *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger passed to the store and providers.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// New creates a Harness. Logs are discarded unless WithLogger is given.
func New(opts ...Option) *Harness {
	h := &Harness{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with a default Harness.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return New().Run(ctx, scenario)
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Create a fresh in-memory database
//  2. Build the mapping registry from the schema or the fixtures
//  3. Create tables, seed fixtures and run setup statements
//  4. Compile the query for every dialect
//  5. Execute on SQLite when an assertion needs results
//  6. Evaluate assertions
//
// The returned error reports a broken environment (bad schema, failing
// setup). Compile and execution failures of the query itself are part
// of the Result.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(store.DriverSQLite, "", store.WithLogger(h.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	reg, types, err := h.prepare(ctx, scenario, st)
	if err != nil {
		return nil, err
	}

	providerOpts := []provider.Option{provider.WithLogger(h.logger)}
	if scenario.Paging == config.PagingRowNumber {
		providerOpts = append(providerOpts, provider.WithEmulatedPaging())
	}
	exec := provider.New(reg, querysql.SQLite, st, providerOpts...)

	if len(scenario.Schema) == 0 && scenario.Seed > 0 {
		if err := testutil.Seed(ctx, exec, scenario.Seed); err != nil {
			return nil, fmt.Errorf("failed to seed fixtures: %w", err)
		}
	}
	for i, stmt := range scenario.Setup {
		if err := st.Apply(ctx, &querysql.Command{Text: stmt}); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	result := NewResult()
	h.compile(scenario, reg, types, providerOpts, result)
	if result.Error == "" && needsExecution(scenario.Assertions) {
		h.execute(ctx, scenario, exec, types, result)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"executed", result.Executed)
	return result, nil
}

// prepare builds the registry and creates the tables.
func (h *Harness) prepare(ctx context.Context, scenario *Scenario, st *store.Store) (*mapping.Registry, queryir.Types, error) {
	if len(scenario.Schema) == 0 {
		reg := mapping.NewRegistry(mapping.WithLogger(h.logger))
		if err := testutil.CreateSchema(ctx, reg, querysql.SQLite, st); err != nil {
			return nil, nil, fmt.Errorf("failed to create fixture tables: %w", err)
		}
		return reg, testutil.Types, nil
	}

	catalog, err := schema.Load(scenario.Schema...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load schema: %w", err)
	}
	reg := catalog.NewRegistry(mapping.WithLogger(h.logger))
	ems, err := catalog.Resolve(reg)
	if err != nil {
		return nil, nil, err
	}
	for _, em := range ems {
		ddl, err := querysql.FormatCreateTable(querysql.SQLite, em)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Apply(ctx, ddl); err != nil {
			return nil, nil, fmt.Errorf("create %s: %w", em.Table, err)
		}
	}
	return reg, catalog.Types(), nil
}

// compile records the command of every target dialect. The first
// failure is recorded as the result's error.
func (h *Harness) compile(scenario *Scenario, reg *mapping.Registry, types queryir.Types, opts []provider.Option, result *Result) {
	for _, name := range scenario.dialects() {
		d, err := querysql.LookupDialect(name)
		if err != nil {
			result.Error = err.Error()
			return
		}
		q, err := scenario.LoadQuery(types)
		if err != nil {
			result.Error = err.Error()
			return
		}
		c, err := provider.New(reg, d, nil, opts...).Compile(q)
		if err != nil {
			result.Error = err.Error()
			return
		}

		params := make([]any, len(c.Command.Parameters))
		for i, p := range c.Command.Parameters {
			params[i] = p.Value
		}
		plainParams, err := Plain(params)
		if err != nil {
			result.Error = err.Error()
			return
		}
		cmd := Command{Dialect: d.Name, SQL: c.Command.Text}
		cmd.Params, _ = plainParams.([]any)
		result.Commands = append(result.Commands, cmd)

		h.logger.Debug("scenario compiled", "scenario", scenario.Name, "dialect", d.Name)
	}
}

// execute runs the query on SQLite and records rows or the value.
func (h *Harness) execute(ctx context.Context, scenario *Scenario, p *provider.Provider, types queryir.Types, result *Result) {
	q, err := scenario.LoadQuery(types)
	if err != nil {
		result.Error = err.Error()
		return
	}
	c, err := p.Compile(q)
	if err != nil {
		result.Error = err.Error()
		return
	}

	var data any
	if c.Projection.Aggregator != nil {
		v, err := provider.Execute[any](ctx, p, q)
		if err != nil {
			result.Error = err.Error()
			return
		}
		data = v
	} else {
		seq, err := provider.CreateQuery[any](p, q)
		if err != nil {
			result.Error = err.Error()
			return
		}
		rows, err := seq.Collect(ctx)
		if err != nil {
			result.Error = err.Error()
			return
		}
		if rows == nil {
			rows = []any{}
		}
		data = rows
	}

	v, err := Plain(data)
	if err != nil {
		result.Error = err.Error()
		return
	}
	result.Executed = true
	if c.Projection.Aggregator != nil {
		result.Value = v
	} else {
		result.Rows, _ = v.([]any)
	}
}

// LoadQuery decodes the scenario's query against types. Every call
// returns a fresh Query.
func (s *Scenario) LoadQuery(types queryir.Types) (*queryir.Query, error) {
	vars := widen(s.Vars)
	if s.QueryFile != "" {
		return queryir.LoadFile(s.QueryFile, types, vars)
	}
	data, err := yaml.Marshal(&s.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	return queryir.Decode(data, types, vars)
}

// widen turns YAML integers into int64 so vars match entity members.
func widen(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		if n, ok := v.(int); ok {
			v = int64(n)
		}
		out[k] = v
	}
	return out
}

func needsExecution(assertions []Assertion) bool {
	for _, a := range assertions {
		switch a.Type {
		case AssertRowCount, AssertRows, AssertValue:
			return true
		}
	}
	return false
}
