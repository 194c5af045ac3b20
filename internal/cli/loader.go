package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/config"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/provider"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
)

// SchemaOptions holds the flags of commands that need entities.
type SchemaOptions struct {
	Schema []string // catalog files or directories, overriding the config
}

func (s *SchemaOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&s.Schema, "schema", "s", nil, "CUE catalog file or directory (repeatable)")
}

// workspace is everything a command needs to compile queries: the
// dialect, the entity catalog and a registry over it.
type workspace struct {
	cfg      *config.Config
	dialect  *querysql.Dialect
	catalog  *schema.Catalog
	registry *mapping.Registry
	logger   *slog.Logger
}

// loadWorkspace resolves the dialect and loads the schema catalogs named
// by flags or, failing that, by the config.
func loadWorkspace(root *RootOptions, flags *SchemaOptions) (*workspace, error) {
	cfg := root.Config
	dialect, err := querysql.LookupDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	paths := cfg.Schema
	if len(flags.Schema) > 0 {
		paths = flags.Schema
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no schema: pass --schema or list schema paths in %s", config.DefaultFile)
	}

	catalog, err := schema.Load(paths...)
	if err != nil {
		return nil, err
	}
	root.Logger.Debug("schema loaded", "paths", paths, "entities", catalog.Names())

	return &workspace{
		cfg:      cfg,
		dialect:  dialect,
		catalog:  catalog,
		registry: catalog.NewRegistry(mapping.WithLogger(root.Logger)),
		logger:   root.Logger,
	}, nil
}

// provider returns a provider for the workspace dialect over conn, which
// may be nil for compile-only use.
func (w *workspace) provider(conn provider.Connection) *provider.Provider {
	opts := []provider.Option{provider.WithLogger(w.logger)}
	if w.cfg.Paging == config.PagingRowNumber {
		opts = append(opts, provider.WithEmulatedPaging())
	}
	return provider.New(w.registry, w.dialect, conn, opts...)
}

// loadQuery decodes a query file against the catalog's entities.
func (w *workspace) loadQuery(path string, vars map[string]any) (*queryir.Query, error) {
	return queryir.LoadFile(path, w.catalog, vars)
}

// openStore connects to the configured database. dsn overrides the
// config when set.
func (w *workspace) openStore(dsn string) (*store.Store, error) {
	if dsn == "" {
		dsn = w.cfg.Database.DSN
	}
	driver := w.cfg.Database.Driver
	if driver == "" {
		d, err := store.DriverFor(w.dialect.Name)
		if err != nil {
			return nil, err
		}
		driver = d
	}
	if dsn == "" && driver != store.DriverSQLite {
		return nil, fmt.Errorf("no database: pass --dsn or set database.dsn in %s", config.DefaultFile)
	}
	return store.Open(driver, dsn, store.WithLogger(w.logger))
}

// parseVars turns name=value pairs into query vars. Values are read as
// YAML scalars, so 30 is an integer and true a boolean; quote a value to
// keep it a string.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q: want name=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid --var %q: %w", pair, err)
		}
		switch x := v.(type) {
		case int:
			v = int64(x)
		case map[string]any, []any:
			return nil, fmt.Errorf("invalid --var %q: value must be a scalar", pair)
		}
		vars[name] = v
	}
	return vars, nil
}
