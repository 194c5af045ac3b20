package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/querysql"
)

// SchemaCmdOptions holds flags for the schema command.
type SchemaCmdOptions struct {
	*RootOptions
	SchemaOptions
	Apply bool
	DSN   string
}

// SchemaTable is the DDL of one entity.
type SchemaTable struct {
	Entity string `json:"entity"`
	Table  string `json:"table"`
	DDL    string `json:"ddl"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaCmdOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print or apply CREATE TABLE statements for the catalog",
		Long: `Print the CREATE TABLE statement of every catalog entity in the
configured dialect. With --apply, run the statements on the database.

Examples:
  relq schema --schema ./schema
  relq schema -d mysql
  relq schema --apply --dsn ./shop.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(opts, cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "create the tables on the database")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "database DSN, overrides the config")

	return cmd
}

func runSchema(opts *SchemaCmdOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	ws, err := loadWorkspace(opts.RootOptions, &opts.SchemaOptions)
	if err != nil {
		return out.fail(ExitCommandError, CodeSchema, "failed to load schema", err)
	}
	ems, err := ws.catalog.Resolve(ws.registry)
	if err != nil {
		return out.fail(ExitCommandError, CodeSchema, "failed to map entities", err)
	}

	tables := make([]SchemaTable, 0, len(ems))
	cmds := make([]*querysql.Command, 0, len(ems))
	for _, em := range ems {
		ddl, err := querysql.FormatCreateTable(ws.dialect, em)
		if err != nil {
			return out.fail(ExitCommandError, CodeCompile, fmt.Sprintf("failed to format %s", em.Table), err)
		}
		cmds = append(cmds, ddl)
		tables = append(tables, SchemaTable{Entity: em.Name, Table: em.Table, DDL: ddl.Text})
	}

	if opts.Apply {
		st, err := ws.openStore(opts.DSN)
		if err != nil {
			return out.fail(ExitCommandError, CodeConfig, "failed to open database", err)
		}
		defer st.Close()
		if err := st.Apply(cmd.Context(), cmds...); err != nil {
			return out.fail(ExitFailure, CodeExecute, "failed to create tables", err)
		}
		opts.Logger.Info("tables created", "count", len(cmds), "dialect", ws.dialect.Name)
	}

	if out.json() {
		return out.Success(tables)
	}
	for _, t := range tables {
		out.Heading("-- %s", t.Entity)
		fmt.Fprintf(out.Writer, "%s;\n", t.DDL)
	}
	if opts.Apply {
		out.Pass("created %d tables", len(tables))
	}
	return nil
}
