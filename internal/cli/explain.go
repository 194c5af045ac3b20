package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	SchemaOptions
	Vars    []string
	Changed bool // only show passes that changed the tree
}

// ExplainStep is one rewrite pass in explain output.
type ExplainStep struct {
	Pass    string `json:"pass"`
	Changed bool   `json:"changed"`
	Tree    string `json:"tree"`
}

// ExplainResult is the explain output for a query file.
type ExplainResult struct {
	CompiledQuery
	Steps []ExplainStep `json:"steps"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <query.yaml>",
		Short: "Show the rewrite passes a query goes through",
		Long: `Compile a query file and print the relational tree after every
rewrite pass, followed by the final SQL.

Examples:
  relq explain queries/adults.yaml
  relq explain --changed -d tsql queries/paged.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "query var as name=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Changed, "changed", false, "only show passes that changed the tree")

	return cmd
}

func runExplain(opts *ExplainOptions, file string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

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

	c, steps, err := ws.provider(nil).Explain(q)
	if err != nil {
		return out.fail(ExitCommandError, CodeCompile, fmt.Sprintf("failed to compile %s", file), err)
	}

	result := ExplainResult{CompiledQuery: compiledQuery(file, ws.dialect.Name, q, c)}
	for _, s := range steps {
		if opts.Changed && !s.Changed {
			continue
		}
		result.Steps = append(result.Steps, ExplainStep{Pass: s.Pass, Changed: s.Changed, Tree: s.Tree})
	}

	if out.json() {
		return out.Success(result)
	}
	for _, s := range result.Steps {
		mark := "unchanged"
		if s.Changed {
			mark = "changed"
		}
		out.Heading("== %s (%s)", s.Pass, mark)
		fmt.Fprintln(out.Writer, strings.TrimRight(s.Tree, "\n"))
	}
	printCompiled(out, result.CompiledQuery)
	return nil
}
