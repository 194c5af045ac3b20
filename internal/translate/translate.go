// Package translate turns caller query descriptions into relational IR.
//
// Translation runs in three steps per query level:
//
//  1. Partial evaluation folds everything that does not depend on a row
//     (captured variables, arithmetic on literals, Local calls with
//     constant arguments) into literals.
//  2. Sources are bound: each entity becomes a table wrapped in a
//     column-projecting select (EntityProjection), joins combine them, and
//     every source name maps to a projector expression.
//  3. Field references are resolved against those projectors with Bind,
//     and the clauses are assembled into one select layer whose columns are
//     produced by the column projector.
//
// The output is deliberately naive (one layer per query level, passthrough
// selects over tables, correlated constructs left as applies); the rewrite
// pipeline simplifies it.
package translate

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/projector"
	"github.com/roach88/relq/internal/queryir"
)

// Translator compiles query descriptions into IR projections.
//
// A Translator holds no per-query state and is safe for concurrent use.
type Translator struct {
	registry *mapping.Registry
	logger   *slog.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithLogger sets the logger used for translation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Translator) {
		t.logger = logger
	}
}

// New creates a Translator resolving entity mappings from registry.
func New(registry *mapping.Registry, opts ...Option) *Translator {
	t := &Translator{registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate compiles q into a projection.
func (t *Translator) Translate(q *queryir.Query) (*ir.Projection, error) {
	if q == nil {
		return nil, invalid("nil query")
	}
	proj, err := t.query(q, nil, false)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("query translated",
		"root", proj.Select.Alias.String(),
		"columns", len(proj.Select.Columns),
		"aggregator", proj.Aggregator != nil)
	return proj, nil
}

// scope maps source names to projectors. Nested scopes see their parents,
// which is how correlated sub-queries reach outer rows.
type scope struct {
	parent  *scope
	sources map[string]ir.Expr
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, sources: make(map[string]ir.Expr)}
}

func (s *scope) lookup(name string) (ir.Expr, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if p, ok := cur.sources[name]; ok {
			return p, true
		}
	}
	return nil, false
}

// frame is the translation state of one query level.
type frame struct {
	t       *Translator
	scope   *scope
	grouped *groupedRelation
	groupBy []ir.Expr
}

// query translates one query level. nested is true for sub-queries used
// as sources or operands, whose orderings only matter under paging.
func (t *Translator) query(q *queryir.Query, outer *scope, nested bool) (*ir.Projection, error) {
	f := &frame{t: t, scope: newScope(outer)}

	// Root source.
	var from ir.Expr
	var rootProjector ir.Expr
	switch {
	case q.From != nil && q.Sub != nil:
		return nil, invalid("query sets both From and Sub")
	case q.From != nil:
		em, err := t.registry.Resolve(q.From)
		if err != nil {
			return nil, err
		}
		if rel := groupedCandidate(q, em); rel != nil && len(q.GroupBy) == 0 {
			g, err := f.groupedSource(q.As, em, rel)
			if err != nil {
				return nil, err
			}
			f.grouped = g
			from, rootProjector = g.sel, g.parent
		} else {
			p := EntityProjection(em)
			from, rootProjector = p.Select, p.Projector
		}
	case q.Sub != nil:
		p, err := t.query(q.Sub, nil, true)
		if err != nil {
			return nil, fmt.Errorf("sub-query: %w", err)
		}
		if p.Aggregator != nil {
			return nil, unsupported("sub-query source with result %q", q.Sub.Result)
		}
		from, rootProjector = p.Select, p.Projector
	default:
		return nil, invalid("query needs From or Sub")
	}
	f.scope.sources[q.As] = rootProjector

	// Joins.
	for i, j := range q.Joins {
		joined, err := f.join(from, j)
		if err != nil {
			return nil, fmt.Errorf("join %d (%s): %w", i, j.As, err)
		}
		from = joined
	}

	sel := &ir.Select{Alias: ir.NewAlias(), From: from}

	// Where.
	if q.Where != nil {
		where, err := f.predicate(q.Where)
		if err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
		sel.Where = where
	}

	// Group by.
	for i, g := range q.GroupBy {
		e, err := f.scalar(g, exprServer)
		if err != nil {
			return nil, fmt.Errorf("group by %d: %w", i, err)
		}
		sel.GroupBy = append(sel.GroupBy, e)
	}
	f.groupBy = sel.GroupBy

	// Projection.
	selector, err := f.selector(q, rootProjector)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	// Ordering.
	for i, o := range q.OrderBy {
		mode := exprServer
		if len(q.GroupBy) > 0 {
			mode |= exprGroupAggregates
		}
		e, err := f.scalar(o.Expr, mode)
		if err != nil {
			return nil, fmt.Errorf("order by %d: %w", i, err)
		}
		sel.OrderBy = append(sel.OrderBy, ir.Ordering{Expr: e, Desc: o.Desc})
	}
	sel.Distinct = q.Distinct
	sel.Reverse = q.Reverse

	// Paging.
	skip, err := f.bound(q.Skip, "skip")
	if err != nil {
		return nil, err
	}
	take, err := f.bound(q.Take, "take")
	if err != nil {
		return nil, err
	}
	if skip != nil && *skip == 0 {
		skip = nil
	}
	take = resultTake(q.Result, take)
	if skip != nil && len(sel.OrderBy) == 0 {
		order, err := keyOrdering(rootProjector)
		if err != nil {
			return nil, err
		}
		sel.OrderBy = order
	}
	if nested || q.Result == queryir.ResultCount || q.Result == queryir.ResultAny {
		if skip == nil && take == nil {
			sel.OrderBy = nil
			sel.Reverse = false
		}
	}
	if skip != nil {
		sel.Skip = ir.Int64(*skip)
	}
	if take != nil {
		sel.Take = ir.Int64(*take)
	}

	// Columns.
	pc := projector.ProjectColumns(selector, sel.Alias, ir.DeclaredAliases(from)...)
	sel.Columns = pc.Columns
	if sel.Distinct && len(sel.OrderBy) > 0 {
		if err := orderingsSelected(sel); err != nil {
			return nil, err
		}
	}

	return resultProjection(q.Result, sel, pc.Projector)
}

// join adds one joined source to from.
func (f *frame) join(from ir.Expr, j queryir.Join) (ir.Expr, error) {
	if j.As == "" {
		return nil, invalid("joined source needs a name")
	}
	if _, dup := f.scope.sources[j.As]; dup {
		return nil, invalid("source name %q used twice", j.As)
	}

	var kind ir.JoinKind
	switch j.Kind {
	case queryir.JoinInner:
		kind = ir.JoinInner
	case queryir.JoinLeft:
		kind = ir.JoinLeft
	case queryir.JoinCross:
		kind = ir.JoinCross
	case queryir.JoinApply:
		kind = ir.JoinCrossApply
	case queryir.JoinOuterApply:
		kind = ir.JoinOuterApply
	default:
		return nil, invalid("unknown join kind %q", j.Kind)
	}

	var right *ir.Projection
	switch {
	case j.From != nil && j.Sub != nil:
		return nil, invalid("join sets both From and Sub")
	case j.From != nil:
		if kind == ir.JoinCrossApply || kind == ir.JoinOuterApply {
			return nil, invalid("%s needs a correlated sub-query", j.Kind)
		}
		em, err := f.t.registry.Resolve(j.From)
		if err != nil {
			return nil, err
		}
		right = EntityProjection(em)
	case j.Sub != nil:
		var outer *scope
		if kind == ir.JoinCrossApply || kind == ir.JoinOuterApply {
			outer = f.scope
		}
		p, err := f.t.query(j.Sub, outer, true)
		if err != nil {
			return nil, err
		}
		if p.Aggregator != nil {
			return nil, unsupported("joined sub-query with result %q", j.Sub.Result)
		}
		right = p
	default:
		return nil, invalid("join needs From or Sub")
	}
	f.scope.sources[j.As] = right.Projector

	var cond ir.Expr
	switch kind {
	case ir.JoinInner, ir.JoinLeft:
		if j.On == nil {
			return nil, invalid("%s join needs a condition", j.Kind)
		}
		c, err := f.predicate(j.On)
		if err != nil {
			return nil, fmt.Errorf("on: %w", err)
		}
		cond = c
	default:
		if j.On != nil {
			return nil, invalid("%s join takes no condition", j.Kind)
		}
	}
	return &ir.Join{Kind: kind, Left: from, Right: right.Select, Condition: cond}, nil
}

// selector builds the projector expression of a query level.
func (f *frame) selector(q *queryir.Query, root ir.Expr) (ir.Expr, error) {
	mode := exprClient
	if len(q.GroupBy) > 0 {
		mode |= exprGroupAggregates
	}
	switch {
	case len(q.Select) == 0:
		if len(q.GroupBy) > 0 {
			return nil, invalid("grouped query needs an explicit selection")
		}
		return root, nil
	case len(q.Select) == 1 && q.Select[0].Name == "":
		e, err := f.scalar(q.Select[0].Expr, mode)
		if err != nil {
			return nil, err
		}
		return e, f.checkGrouped(e)
	}

	seen := make(map[string]bool, len(q.Select))
	bindings := make([]ir.MemberBinding, 0, len(q.Select))
	for i, s := range q.Select {
		if s.Name == "" {
			return nil, invalid("selection %d needs a name", i)
		}
		if seen[s.Name] {
			return nil, invalid("selection name %q used twice", s.Name)
		}
		seen[s.Name] = true
		e, err := f.scalar(s.Expr, mode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		if err := f.checkGrouped(e); err != nil {
			return nil, err
		}
		bindings = append(bindings, ir.MemberBinding{Member: s.Name, Expr: e})
	}
	return &ir.New{Bindings: bindings}, nil
}

// checkGrouped rejects selections of a grouped query that read columns
// outside the grouping keys and aggregates.
func (f *frame) checkGrouped(e ir.Expr) error {
	if len(f.groupBy) == 0 {
		return nil
	}
	keys := make(map[string]bool)
	for _, g := range f.groupBy {
		keys[ir.Key(g)] = true
	}
	var bad error
	var check func(ir.Expr) bool
	check = func(n ir.Expr) bool {
		if bad != nil {
			return false
		}
		if keys[ir.Key(n)] {
			return false
		}
		switch c := n.(type) {
		case *ir.Aggregate, *ir.Scalar, *ir.Exists:
			return false
		case *ir.Column:
			bad = invalid("column %s is neither grouped nor aggregated", c.Name)
			return false
		}
		return true
	}
	ir.Walk(e, check)
	return bad
}

// bound folds a paging bound to a non-negative integer.
func (f *frame) bound(e queryir.Expr, what string) (*int64, error) {
	if e == nil {
		return nil, nil
	}
	folded, err := PartialEval(e)
	if err != nil {
		return nil, err
	}
	v, ok := folded.(*queryir.Value)
	if !ok {
		return nil, unsupported("%s must not depend on a row", what)
	}
	n, ok := asInt64(v.V)
	if !ok || n < 0 {
		return nil, invalid("%s must be a non-negative integer, got %v", what, v.V)
	}
	return &n, nil
}

// resultTake narrows take for single-row result operators. Single and
// SingleOrDefault read two rows so a second match can be detected.
func resultTake(kind queryir.ResultKind, take *int64) *int64 {
	limit := int64(0)
	switch kind {
	case queryir.ResultFirst, queryir.ResultFirstOrDefault:
		limit = 1
	case queryir.ResultSingle, queryir.ResultSingleOrDefault:
		limit = 2
	default:
		return take
	}
	if take != nil && *take < limit {
		return take
	}
	return &limit
}

// keyOrdering orders by the primary key of the root entity. Paging needs a
// deterministic order.
func keyOrdering(root ir.Expr) ([]ir.Ordering, error) {
	n, ok := root.(*ir.New)
	if !ok || n.Entity == nil {
		return nil, unsupported("skip without an ordering needs an entity source")
	}
	keys, err := entityKeys(n)
	if err != nil {
		return nil, err
	}
	out := make([]ir.Ordering, len(keys))
	for i, k := range keys {
		out[i] = ir.Ordering{Expr: k}
	}
	return out, nil
}

// orderingsSelected requires every ordering of a DISTINCT select to be
// one of its columns, which is what SQL allows.
func orderingsSelected(sel *ir.Select) error {
	declared := make(map[string]bool, len(sel.Columns))
	for _, c := range sel.Columns {
		declared[ir.Key(c.Expr)] = true
	}
	for _, o := range sel.OrderBy {
		if !declared[ir.Key(o.Expr)] {
			return unsupported("ordering of a distinct query must be a selected value")
		}
	}
	return nil
}

var (
	int64Type = reflect.TypeFor[int64]()
	boolType  = reflect.TypeFor[bool]()
)

// resultProjection applies the result operator.
func resultProjection(kind queryir.ResultKind, sel *ir.Select, proj ir.Expr) (*ir.Projection, error) {
	switch kind {
	case "", queryir.ResultMany:
		return &ir.Projection{Select: sel, Projector: proj}, nil
	case queryir.ResultFirst:
		return &ir.Projection{Select: sel, Projector: proj, Aggregator: &ir.Aggregator{Kind: ir.AggregatorFirst}}, nil
	case queryir.ResultFirstOrDefault:
		return &ir.Projection{Select: sel, Projector: proj, Aggregator: &ir.Aggregator{Kind: ir.AggregatorFirstOrDefault}}, nil
	case queryir.ResultSingle:
		return &ir.Projection{Select: sel, Projector: proj, Aggregator: &ir.Aggregator{Kind: ir.AggregatorSingle}}, nil
	case queryir.ResultSingleOrDefault:
		return &ir.Projection{Select: sel, Projector: proj, Aggregator: &ir.Aggregator{Kind: ir.AggregatorSingleOrDefault}}, nil
	case queryir.ResultCount:
		outer := &ir.Select{
			Alias:   ir.NewAlias(),
			Columns: []ir.ColumnDecl{{Name: "c0", Expr: &ir.Aggregate{Type: int64Type, Kind: ir.AggCount}}},
			From:    sel,
		}
		return &ir.Projection{
			Select:     outer,
			Projector:  &ir.Column{Type: int64Type, Alias: outer.Alias, Name: "c0"},
			Aggregator: &ir.Aggregator{Kind: ir.AggregatorSingle},
		}, nil
	case queryir.ResultAny:
		outer := &ir.Select{
			Alias:   ir.NewAlias(),
			Columns: []ir.ColumnDecl{{Name: "c0", Expr: &ir.Exists{Select: sel}}},
		}
		return &ir.Projection{
			Select:     outer,
			Projector:  &ir.Column{Type: boolType, Alias: outer.Alias, Name: "c0"},
			Aggregator: &ir.Aggregator{Kind: ir.AggregatorSingle},
		}, nil
	default:
		return nil, invalid("unknown result %q", kind)
	}
}
