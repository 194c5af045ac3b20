package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/provider"
	"github.com/roach88/relq/internal/queryir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	SchemaOptions
	Vars  []string
	Watch bool
}

// CompiledParam is one bound parameter in command output.
type CompiledParam struct {
	Name        string `json:"name"`
	Value       any    `json:"value"`
	StorageType string `json:"storage_type,omitempty"`
}

// CompiledQuery is the compile output for one query file.
type CompiledQuery struct {
	File     string          `json:"file"`
	Dialect  string          `json:"dialect"`
	SQL      string          `json:"sql"`
	Params   []CompiledParam `json:"params"`
	Warnings []string        `json:"warnings,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <query.yaml>...",
		Short: "Compile query files to SQL",
		Long: `Compile YAML query descriptions to parameterized SQL for the
configured dialect. Nothing is executed.

With --watch, the files are recompiled whenever they change, until
interrupted.

Examples:
  relq compile --schema ./schema queries/adults.yaml
  relq compile -d postgres --var min=30 queries/adults.yaml
  relq compile --watch queries/*.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return watchCompile(ctx, opts, args, cmd)
			}
			return runCompile(opts, args, cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "query var as name=value (repeatable)")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "recompile when files change")

	return cmd
}

func runCompile(opts *CompileOptions, files []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	vars, err := parseVars(opts.Vars)
	if err != nil {
		return out.fail(ExitCommandError, CodeQuery, "invalid vars", err)
	}
	ws, err := loadWorkspace(opts.RootOptions, &opts.SchemaOptions)
	if err != nil {
		return out.fail(ExitCommandError, CodeSchema, "failed to load schema", err)
	}
	p := ws.provider(nil)

	results := make([]CompiledQuery, 0, len(files))
	for _, file := range files {
		out.VerboseLog("compiling %s", file)
		q, err := ws.loadQuery(file, vars)
		if err != nil {
			return out.fail(ExitCommandError, CodeQuery, fmt.Sprintf("failed to load %s", file), err)
		}
		c, err := p.Compile(q)
		if err != nil {
			return out.fail(ExitCommandError, CodeCompile, fmt.Sprintf("failed to compile %s", file), err)
		}
		results = append(results, compiledQuery(file, ws.dialect.Name, q, c))
	}

	if out.json() {
		return out.Success(results)
	}
	for _, r := range results {
		printCompiled(out, r)
	}
	return nil
}

func compiledQuery(file, dialect string, q *queryir.Query, c *provider.Compiled) CompiledQuery {
	r := CompiledQuery{
		File:     file,
		Dialect:  dialect,
		SQL:      c.Command.Text,
		Params:   make([]CompiledParam, len(c.Command.Parameters)),
		Warnings: queryir.Validate(q).Warnings,
	}
	for i, p := range c.Command.Parameters {
		r.Params[i] = CompiledParam{Name: p.Name, Value: p.Value, StorageType: p.StorageType}
	}
	return r
}

func printCompiled(out *OutputFormatter, r CompiledQuery) {
	out.Heading("-- %s (%s)", filepath.Base(r.File), r.Dialect)
	fmt.Fprintln(out.Writer, r.SQL)
	for _, p := range r.Params {
		if p.StorageType != "" {
			out.Note("  %s = %v (%s)", p.Name, p.Value, p.StorageType)
		} else {
			out.Note("  %s = %v", p.Name, p.Value)
		}
	}
	for _, w := range r.Warnings {
		out.Note("  warning: %s", w)
	}
}

// watchDebounce collapses bursts of events from one save.
const watchDebounce = 100 * time.Millisecond

// watchCompile compiles once, then again on every change to the query
// files, until ctx is done. Compile failures are reported and watching
// continues.
func watchCompile(ctx context.Context, opts *CompileOptions, files []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return out.fail(ExitCommandError, CodeQuery, "failed to start watcher", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directories and filter
	// by name.
	watched := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return out.fail(ExitCommandError, CodeQuery, "invalid path", err)
		}
		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return out.fail(ExitCommandError, CodeQuery, "failed to watch "+dir, err)
		}
	}

	recompile := func() {
		if err := runCompile(opts, files, cmd); err != nil && !out.json() {
			out.Fail("%v", err)
		}
	}
	recompile()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			abs, _ := filepath.Abs(event.Name)
			if !watched[abs] || time.Since(last) < watchDebounce {
				continue
			}
			last = time.Now()
			opts.Logger.Debug("query file changed", "file", event.Name)
			recompile()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			opts.Logger.Error("watcher error", "error", err)
		}
	}
}
