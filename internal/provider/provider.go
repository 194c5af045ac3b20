package provider

import (
	"fmt"
	"log/slog"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/rewrite"
	"github.com/roach88/relq/internal/translate"
)

// Provider compiles queries for one dialect and executes them on one
// connection. A Provider holds no per-query state and is safe for
// concurrent use when its Connection is.
type Provider struct {
	registry   *mapping.Registry
	dialect    *querysql.Dialect
	conn       Connection
	translator *translate.Translator
	pipeline   rewrite.Pipeline
	logger     *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger for compilation and execution diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithEmulatedPaging pages with ROW_NUMBER even when the dialect has a
// native OFFSET.
func WithEmulatedPaging() Option {
	return func(p *Provider) {
		p.pipeline.Capabilities.NativeOffset = false
	}
}

// New creates a Provider. conn may be nil for a provider that only
// compiles.
func New(registry *mapping.Registry, dialect *querysql.Dialect, conn Connection, opts ...Option) *Provider {
	p := &Provider{
		registry: registry,
		dialect:  dialect,
		conn:     conn,
		logger:   slog.Default(),
		pipeline: rewrite.Pipeline{Capabilities: dialect.Capabilities(), Types: dialect},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.translator = translate.New(registry, translate.WithLogger(p.logger))
	p.pipeline.Logger = p.logger
	return p
}

// Dialect returns the provider's target dialect.
func (p *Provider) Dialect() *querysql.Dialect {
	return p.dialect
}

// Registry returns the mapping registry queries resolve entities from.
func (p *Provider) Registry() *mapping.Registry {
	return p.registry
}

// Compiled is a query ready to execute.
type Compiled struct {
	Command    *querysql.Command
	Projection *ir.Projection
}

// Compile translates, rewrites and formats q.
func (p *Provider) Compile(q *queryir.Query) (*Compiled, error) {
	c, _, err := p.compile(q, false)
	return c, err
}

// Explain compiles q and also returns the tree after every rewrite pass.
func (p *Provider) Explain(q *queryir.Query) (*Compiled, []rewrite.Step, error) {
	return p.compile(q, true)
}

func (p *Provider) compile(q *queryir.Query, trace bool) (*Compiled, []rewrite.Step, error) {
	proj, err := p.translator.Translate(q)
	if err != nil {
		return nil, nil, fmt.Errorf("translate: %w", err)
	}

	var steps []rewrite.Step
	if trace {
		steps, proj, err = p.pipeline.Trace(proj)
	} else {
		proj, err = p.pipeline.Run(proj)
	}
	if err != nil {
		return nil, steps, err
	}

	cmd, err := querysql.Format(proj, p.dialect)
	if err != nil {
		return nil, steps, fmt.Errorf("format: %w", err)
	}
	p.logger.Debug("query compiled",
		"command", cmd.ID.String(),
		"dialect", p.dialect.Name,
		"parameters", len(cmd.Parameters))
	return &Compiled{Command: cmd, Projection: proj}, steps, nil
}
