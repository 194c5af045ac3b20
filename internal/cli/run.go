package cli

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/provider"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SchemaOptions
	Vars []string
	DSN  string
}

// RunResult is the output of the run command. Rows is set for sequence
// queries, Value for single-value queries.
type RunResult struct {
	CompiledQuery
	Rows  []any `json:"rows,omitempty"`
	Value any   `json:"value,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <query.yaml>",
		Short: "Execute a query file against the database",
		Long: `Compile a query file and execute it on the configured database.
Rows print one JSON object per line; single-value queries (count, any,
first...) print the value.

Examples:
  relq run queries/adults.yaml --var min=30
  relq run --dsn ./shop.db queries/count.yaml
  relq run -d postgres --dsn postgres://localhost/shop queries/adults.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "query var as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "database DSN, overrides the config")

	return cmd
}

func runQuery(opts *RunOptions, file string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vars, err := parseVars(opts.Vars)
	if err != nil {
		return out.fail(ExitCommandError, CodeQuery, "invalid vars", err)
	}
	ws, err := loadWorkspace(opts.RootOptions, &opts.SchemaOptions)
	if err != nil {
		return out.fail(ExitCommandError, CodeSchema, "failed to load schema", err)
	}
	q, err := ws.loadQuery(file, vars)
	if err != nil {
		return out.fail(ExitCommandError, CodeQuery, fmt.Sprintf("failed to load %s", file), err)
	}

	st, err := ws.openStore(opts.DSN)
	if err != nil {
		return out.fail(ExitCommandError, CodeConfig, "failed to open database", err)
	}
	defer st.Close()
	p := ws.provider(st)

	c, err := p.Compile(q)
	if err != nil {
		return out.fail(ExitCommandError, CodeCompile, fmt.Sprintf("failed to compile %s", file), err)
	}
	result := RunResult{CompiledQuery: compiledQuery(file, ws.dialect.Name, q, c)}
	out.VerboseLog("%s", c.Command.Text)

	if c.Projection.Aggregator != nil {
		v, err := provider.Execute[any](ctx, p, q)
		if err != nil {
			return out.fail(ExitFailure, CodeExecute, "query failed", err)
		}
		result.Value = v
		if out.json() {
			return out.Success(result)
		}
		return printValue(out, v)
	}

	seq, err := provider.CreateQuery[any](p, q)
	if err != nil {
		return out.fail(ExitCommandError, CodeCompile, fmt.Sprintf("failed to compile %s", file), err)
	}
	n := 0
	for row, err := range seq.All(ctx) {
		if err != nil {
			return out.fail(ExitFailure, CodeExecute, "query failed", err)
		}
		n++
		if out.json() {
			result.Rows = append(result.Rows, row)
			continue
		}
		if err := printValue(out, row); err != nil {
			return err
		}
	}
	opts.Logger.Debug("query ran", "file", file, "rows", n)

	if out.json() {
		return out.Success(result)
	}
	out.Note("(%d rows)", n)
	return nil
}

// printValue writes v as one line of JSON.
func printValue(out *OutputFormatter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}
	_, err = fmt.Fprintln(out.Writer, string(data))
	return err
}
