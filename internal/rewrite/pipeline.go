package rewrite

import (
	"fmt"
	"log/slog"

	"github.com/roach88/relq/internal/ir"
)

// Pass is one tree rewrite. A pass returns its input pointer when it
// changes nothing.
type Pass func(*ir.Projection) (*ir.Projection, error)

// Capabilities describes what the target dialect can express natively.
type Capabilities struct {
	// NativeOffset reports whether the dialect pages with OFFSET. When
	// false, SkipToRowNumber runs.
	NativeOffset bool
}

// Pipeline runs the rewrite passes in their fixed order.
type Pipeline struct {
	Capabilities Capabilities
	Types        TypeSystem
	Logger       *slog.Logger
}

// Step records the tree after one pass ran.
type Step struct {
	Pass    string
	Changed bool
	Tree    string
}

// cleanupRounds bounds the passes 1-3 loop. Each round either changes
// nothing (and stops) or removes a column or a select layer.
const cleanupRounds = 16

type namedPass struct {
	name string
	pass Pass
}

var cleanupPasses = []namedPass{
	{"UnusedColumns", UnusedColumns},
	{"RedundantColumns", RedundantColumns},
	{"RedundantSubqueries", RedundantSubqueries},
}

// Run rewrites p to its simplified form.
func (pl Pipeline) Run(p *ir.Projection) (*ir.Projection, error) {
	r := &runner{pl: pl, logger: pl.logger()}
	return r.run(p)
}

// Trace runs the pipeline and returns every step with the tree it
// produced.
func (pl Pipeline) Trace(p *ir.Projection) ([]Step, *ir.Projection, error) {
	r := &runner{pl: pl, logger: pl.logger(), trace: true}
	out, err := r.run(p)
	return r.steps, out, err
}

func (pl Pipeline) logger() *slog.Logger {
	if pl.Logger != nil {
		return pl.Logger
	}
	return slog.Default()
}

type runner struct {
	pl     Pipeline
	logger *slog.Logger
	trace  bool
	steps  []Step
}

func (r *runner) run(p *ir.Projection) (*ir.Projection, error) {
	if p == nil || p.Select == nil {
		return nil, &Error{Code: ErrCodeUnsupported, Message: "nil projection"}
	}

	p, _, err := r.cleanup(p)
	if err != nil {
		return nil, err
	}

	var applied, joined bool
	if p, applied, err = r.apply("CrossApply", CrossApply, p); err != nil {
		return nil, err
	}
	if p, joined, err = r.apply("CrossJoin", CrossJoin, p); err != nil {
		return nil, err
	}
	if applied || joined {
		if p, _, err = r.cleanup(p); err != nil {
			return nil, err
		}
	}

	var grouped bool
	if p, grouped, err = r.apply("AggregateSubqueries", AggregateSubqueries, p); err != nil {
		return nil, err
	}
	if grouped {
		if p, _, err = r.cleanup(p); err != nil {
			return nil, err
		}
	}

	if !r.pl.Capabilities.NativeOffset {
		if p, _, err = r.apply("SkipToRowNumber", SkipToRowNumber, p); err != nil {
			return nil, err
		}
	}

	if p, _, err = r.apply("Parameterize", Parameterize(r.pl.Types), p); err != nil {
		return nil, err
	}
	return p, nil
}

// cleanup repeats passes 1-3 until a round changes nothing.
func (r *runner) cleanup(p *ir.Projection) (*ir.Projection, bool, error) {
	changed := false
	for range cleanupRounds {
		round := false
		for _, np := range cleanupPasses {
			var c bool
			var err error
			if p, c, err = r.apply(np.name, np.pass, p); err != nil {
				return nil, false, err
			}
			round = round || c
		}
		if !round {
			return p, changed, nil
		}
		changed = true
	}
	r.logger.Warn("rewrite cleanup did not converge", "rounds", cleanupRounds)
	return p, changed, nil
}

func (r *runner) apply(name string, pass Pass, p *ir.Projection) (*ir.Projection, bool, error) {
	out, err := pass(p)
	if err != nil {
		return nil, false, fmt.Errorf("rewrite %s: %w", name, err)
	}
	changed := out != p
	r.logger.Debug("rewrite pass", "pass", name, "changed", changed)
	if r.trace {
		r.steps = append(r.steps, Step{Pass: name, Changed: changed, Tree: ir.Describe(out)})
	}
	return out, changed, nil
}
