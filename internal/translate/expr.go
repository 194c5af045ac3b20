package translate

import (
	"fmt"
	"reflect"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/queryir"
)

// exprMode restricts what an expression position accepts.
type exprMode int

const (
	// exprClient allows Local calls, which are evaluated after
	// materialization. Only projections accept them.
	exprClient exprMode = 1 << iota
	// exprGroupAggregates allows aggregates over the current group.
	exprGroupAggregates
)

// exprServer is the mode of positions rendered as SQL.
const exprServer exprMode = 0

var (
	stringType  = reflect.TypeFor[string]()
	float64Type = reflect.TypeFor[float64]()
)

// predicate translates a filter. Folded constant filters collapse: true
// disappears and false becomes a predicate no row satisfies.
func (f *frame) predicate(e queryir.Expr) (ir.Expr, error) {
	out, err := f.scalar(e, exprServer)
	if err != nil {
		return nil, err
	}
	if c, ok := out.(*ir.Constant); ok {
		b, isBool := c.Value.(bool)
		switch {
		case !isBool:
			return nil, invalid("filter folds to non-boolean %v", c.Value)
		case b:
			return nil, nil
		default:
			return ir.Compare(ir.OpEq, ir.Int64(1), ir.Int64(0)), nil
		}
	}
	return out, nil
}

// scalar partially evaluates e and translates the result.
func (f *frame) scalar(e queryir.Expr, mode exprMode) (ir.Expr, error) {
	folded, err := PartialEval(e)
	if err != nil {
		return nil, err
	}
	return f.expr(folded, mode)
}

func (f *frame) expr(e queryir.Expr, mode exprMode) (ir.Expr, error) {
	switch x := e.(type) {
	case *queryir.Field:
		proj, ok := f.scope.lookup(x.Source)
		if !ok {
			return nil, invalid("unknown source %q", x.Source)
		}
		return Bind(proj, x.Path)
	case *queryir.Value:
		return ir.Const(x.V), nil
	case *queryir.Var:
		if x.Get == nil {
			return nil, invalid("var %q has no getter", x.Name)
		}
		return ir.Const(x.Get()), nil
	case *queryir.Binary:
		return f.binary(x, mode)
	case *queryir.Not:
		operand, err := f.expr(x.Operand, mode)
		if err != nil {
			return nil, err
		}
		return &ir.Unary{Type: boolType, Op: ir.OpNot, Operand: operand}, nil
	case *queryir.Call:
		return f.call(x, mode)
	case *queryir.Local:
		if mode&exprClient == 0 {
			return nil, unsupported("local call %q cannot be evaluated by storage", x.Name)
		}
		args, err := f.list(x.Args, mode)
		if err != nil {
			return nil, err
		}
		return &ir.ClientCall{Name: x.Name, Fn: x.Fn, Args: args}, nil
	case *queryir.IsNull:
		operand, err := f.expr(x.Operand, mode)
		if err != nil {
			return nil, err
		}
		return &ir.IsNull{Expr: operand}, nil
	case *queryir.In:
		return f.in(x, mode)
	case *queryir.Aggregate:
		if x.Relation != "" {
			return f.relationAggregate(x)
		}
		return f.groupAggregate(x, mode)
	case *queryir.AnyOf:
		return f.anyOf(x)
	case *queryir.Cond:
		return f.cond(x, mode)
	default:
		return nil, unsupported("expression %T", e)
	}
}

func (f *frame) list(list []queryir.Expr, mode exprMode) ([]ir.Expr, error) {
	out := make([]ir.Expr, len(list))
	for i, e := range list {
		v, err := f.expr(e, mode)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *frame) binary(x *queryir.Binary, mode exprMode) (ir.Expr, error) {
	op, err := binaryOp(x.Op)
	if err != nil {
		return nil, err
	}
	left, err := f.expr(x.Left, mode)
	if err != nil {
		return nil, err
	}
	right, err := f.expr(x.Right, mode)
	if err != nil {
		return nil, err
	}

	if op == ir.OpEq || op == ir.OpNe {
		if other, ok := nullComparison(left, right); ok {
			var out ir.Expr = &ir.IsNull{Expr: other}
			if op == ir.OpNe {
				out = &ir.Unary{Type: boolType, Op: ir.OpNot, Operand: out}
			}
			return out, nil
		}
	}

	ln, lok := left.(*ir.New)
	rn, rok := right.(*ir.New)
	if lok || rok {
		if !lok || !rok || ln.Entity == nil || rn.Entity != ln.Entity || (op != ir.OpEq && op != ir.OpNe) {
			return nil, unsupported("operator %s on composite values", op)
		}
		return entityEquality(op, ln, rn)
	}

	var t reflect.Type
	switch {
	case op.IsComparison(), op.IsLogical():
		t = boolType
	case op == ir.OpConcat:
		t = stringType
	default:
		t = ir.TypeOf(left)
		if _, isConst := left.(*ir.Constant); isConst || t == nil {
			if rt := ir.TypeOf(right); rt != nil {
				t = rt
			}
		}
	}
	return &ir.Binary{Type: t, Op: op, Left: left, Right: right}, nil
}

// nullComparison reports whether one side of a comparison is the null
// literal and returns the other side.
func nullComparison(left, right ir.Expr) (ir.Expr, bool) {
	if c, ok := right.(*ir.Constant); ok && IsNil(c.Value) {
		return left, true
	}
	if c, ok := left.(*ir.Constant); ok && IsNil(c.Value) {
		return right, true
	}
	return nil, false
}

// entityEquality compares two entities of the same type by primary key.
func entityEquality(op ir.BinaryOp, left, right *ir.New) (ir.Expr, error) {
	lk, err := entityKeys(left)
	if err != nil {
		return nil, err
	}
	rk, err := entityKeys(right)
	if err != nil {
		return nil, err
	}
	var out ir.Expr
	for i := range lk {
		out = ir.And(out, ir.Compare(ir.OpEq, lk[i], rk[i]))
	}
	if op == ir.OpNe {
		out = &ir.Unary{Type: boolType, Op: ir.OpNot, Operand: out}
	}
	return out, nil
}

func (f *frame) call(x *queryir.Call, mode exprMode) (ir.Expr, error) {
	arity, ok := ir.FunctionArity(x.Func)
	if !ok {
		return nil, unsupported("function %q has no SQL translation", x.Func)
	}
	if (arity >= 0 && len(x.Args) != arity) || (arity < 0 && len(x.Args) == 0) {
		return nil, invalid("function %s called with %d arguments", x.Func, len(x.Args))
	}
	args, err := f.list(x.Args, mode)
	if err != nil {
		return nil, err
	}
	return &ir.Function{Type: functionType(x.Func, args), Name: x.Func, Args: args}, nil
}

func functionType(name string, args []ir.Expr) reflect.Type {
	switch name {
	case ir.FuncLength:
		return int64Type
	case ir.FuncAbs:
		return ir.TypeOf(args[0])
	case ir.FuncCoalesce:
		for _, a := range args {
			if t := ir.TypeOf(a); t != nil {
				return t
			}
		}
		return nil
	default:
		return stringType
	}
}

func (f *frame) in(x *queryir.In, mode exprMode) (ir.Expr, error) {
	operand, err := f.expr(x.Operand, mode)
	if err != nil {
		return nil, err
	}
	if x.Sub == nil {
		values, err := f.list(x.Values, mode)
		if err != nil {
			return nil, err
		}
		return &ir.In{Expr: operand, Values: values}, nil
	}
	sub, err := f.t.query(x.Sub, f.scope, true)
	if err != nil {
		return nil, fmt.Errorf("in: %w", err)
	}
	if sub.Aggregator != nil || len(sub.Select.Columns) != 1 {
		return nil, unsupported("in sub-query must select exactly one value")
	}
	return &ir.In{Expr: operand, Select: sub.Select}, nil
}

func (f *frame) cond(x *queryir.Cond, mode exprMode) (ir.Expr, error) {
	test, err := f.expr(x.Test, mode)
	if err != nil {
		return nil, err
	}
	then, err := f.expr(x.Then, mode)
	if err != nil {
		return nil, err
	}
	var els ir.Expr = ir.Const(nil)
	if x.Else != nil {
		if els, err = f.expr(x.Else, mode); err != nil {
			return nil, err
		}
	}
	t := ir.TypeOf(then)
	if t == nil {
		t = ir.TypeOf(els)
	}
	return &ir.Conditional{Type: t, Test: test, IfTrue: then, IfFalse: els}, nil
}

// groupAggregate translates an aggregate over the rows of the current group.
func (f *frame) groupAggregate(x *queryir.Aggregate, mode exprMode) (ir.Expr, error) {
	if mode&exprGroupAggregates == 0 {
		return nil, unsupported("%s outside a grouped query", x.Kind)
	}
	var arg ir.Expr
	if x.Arg != nil {
		a, err := f.expr(x.Arg, exprServer)
		if err != nil {
			return nil, err
		}
		arg = a
	}
	if x.Filter != nil {
		test, err := f.expr(x.Filter, exprServer)
		if err != nil {
			return nil, err
		}
		if arg == nil {
			arg = ir.Int64(1)
		}
		arg = &ir.Conditional{Type: ir.TypeOf(arg), Test: test, IfTrue: arg, IfFalse: ir.Const(nil)}
	}
	return aggregate(x.Kind, arg, x.Distinct, false)
}

// aggregate builds an aggregate call. Relation sums are wrapped in
// COALESCE so a parent without children sums to zero.
func aggregate(kind queryir.AggKind, arg ir.Expr, distinct, coalesce bool) (ir.Expr, error) {
	if arg == nil && kind != queryir.AggCount {
		return nil, invalid("%s needs an argument", kind)
	}
	switch kind {
	case queryir.AggCount:
		return &ir.Aggregate{Type: int64Type, Kind: ir.AggCount, Arg: arg, Distinct: distinct}, nil
	case queryir.AggSum:
		t := ir.TypeOf(arg)
		sum := &ir.Aggregate{Type: t, Kind: ir.AggSum, Arg: arg, Distinct: distinct}
		if !coalesce {
			return sum, nil
		}
		return &ir.Function{Type: t, Name: ir.FuncCoalesce, Args: []ir.Expr{sum, zeroOf(t)}}, nil
	case queryir.AggMin:
		return &ir.Aggregate{Type: ir.TypeOf(arg), Kind: ir.AggMin, Arg: arg, Distinct: distinct}, nil
	case queryir.AggMax:
		return &ir.Aggregate{Type: ir.TypeOf(arg), Kind: ir.AggMax, Arg: arg, Distinct: distinct}, nil
	case queryir.AggAvg:
		return &ir.Aggregate{Type: float64Type, Kind: ir.AggAvg, Arg: arg, Distinct: distinct}, nil
	default:
		return nil, invalid("unknown aggregate %q", kind)
	}
}

func zeroOf(t reflect.Type) ir.Expr {
	if t != nil {
		switch t.Kind() {
		case reflect.Float32, reflect.Float64:
			return &ir.Constant{Type: t, Value: reflect.Zero(t).Interface()}
		}
	}
	return ir.Int64(0)
}

// relation resolves a relation member of a named entity source.
func (f *frame) relation(source, name string) (*ir.New, *mapping.MemberMapping, *mapping.EntityMapping, error) {
	p, ok := f.scope.lookup(source)
	if !ok {
		return nil, nil, nil, invalid("unknown source %q", source)
	}
	parent, ok := p.(*ir.New)
	if !ok || parent.Entity == nil {
		return nil, nil, nil, unsupported("relation %q on non-entity source %q", name, source)
	}
	m, ok := parent.Entity.Member(name)
	if !ok || m.Relation == nil {
		return nil, nil, nil, &Error{
			Code:    ErrCodeUnknownMember,
			Message: fmt.Sprintf("%s has no relation %q", parent.Entity.Name, name),
		}
	}
	child, err := f.t.registry.Resolve(m.Relation.Entity)
	if err != nil {
		return nil, nil, nil, err
	}
	return parent, m, child, nil
}

// childFrame scopes the child rows of a relation under the relation name.
func (f *frame) childFrame(relation string, child *ir.New) *frame {
	sc := newScope(f.scope)
	sc.sources[relation] = child
	return &frame{t: f.t, scope: sc}
}

// correlated builds the select over a fresh child table restricted to the
// children of parent.
func (f *frame) correlated(parent *ir.New, m *mapping.MemberMapping, child *mapping.EntityMapping, filter queryir.Expr) (*ir.Select, *frame, error) {
	parentKey, err := Bind(parent, m.Relation.Key)
	if err != nil {
		return nil, nil, err
	}
	table := &ir.Table{Alias: ir.NewAlias(), Entity: child, Schema: child.Schema, Name: child.Table}
	rows := EntityNew(table.Alias, child)
	fk, err := Bind(rows, m.Relation.Foreign)
	if err != nil {
		return nil, nil, err
	}
	cf := f.childFrame(m.Name, rows)

	where := ir.Expr(ir.Compare(ir.OpEq, fk, parentKey))
	if filter != nil {
		p, err := cf.predicate(filter)
		if err != nil {
			return nil, nil, err
		}
		where = ir.And(where, p)
	}
	return &ir.Select{Alias: ir.NewAlias(), From: table, Where: where}, cf, nil
}

// relationAggregate translates an aggregate over child rows. When the
// relation has a grouped join at this level the result carries both the
// in-group form and the correlated fallback.
func (f *frame) relationAggregate(x *queryir.Aggregate) (ir.Expr, error) {
	parent, m, child, err := f.relation(x.Source, x.Relation)
	if err != nil {
		return nil, err
	}

	sel, cf, err := f.correlated(parent, m, child, x.Filter)
	if err != nil {
		return nil, err
	}
	var arg ir.Expr
	if x.Arg != nil {
		if arg, err = cf.scalar(x.Arg, exprServer); err != nil {
			return nil, err
		}
	}
	agg, err := aggregate(x.Kind, arg, x.Distinct, true)
	if err != nil {
		return nil, err
	}
	sel.Columns = []ir.ColumnDecl{{Name: "c0", Expr: agg}}
	sub := &ir.Scalar{Type: ir.TypeOf(agg), Select: sel}

	g := f.grouped
	if g == nil || g.source != x.Source || g.relation != x.Relation {
		return sub, nil
	}
	inGroup, err := f.inGroup(x, g, m)
	if err != nil {
		return nil, err
	}
	return &ir.AggregateSubquery{GroupByAlias: g.sel.Alias, AggregateInGroup: inGroup, Subquery: sub}, nil
}

// inGroup builds the aggregate evaluated inside the grouped join. Counting
// the foreign key skips the null row a parent without children produces.
func (f *frame) inGroup(x *queryir.Aggregate, g *groupedRelation, m *mapping.MemberMapping) (ir.Expr, error) {
	cf := f.childFrame(x.Relation, g.child)
	var arg ir.Expr
	var err error
	if x.Arg != nil {
		if arg, err = cf.scalar(x.Arg, exprServer); err != nil {
			return nil, err
		}
	} else {
		if arg, err = Bind(g.child, m.Relation.Foreign); err != nil {
			return nil, err
		}
	}
	if x.Filter != nil {
		test, err := cf.predicate(x.Filter)
		if err != nil {
			return nil, err
		}
		if test != nil {
			arg = &ir.Conditional{Type: ir.TypeOf(arg), Test: test, IfTrue: arg, IfFalse: ir.Const(nil)}
		}
	}
	return aggregate(x.Kind, arg, x.Distinct, true)
}

func (f *frame) anyOf(x *queryir.AnyOf) (ir.Expr, error) {
	parent, m, child, err := f.relation(x.Source, x.Relation)
	if err != nil {
		return nil, err
	}
	sel, _, err := f.correlated(parent, m, child, x.Filter)
	if err != nil {
		return nil, err
	}
	sel.Columns = []ir.ColumnDecl{{Name: "c0", Expr: ir.Int64(1)}}
	return &ir.Exists{Select: sel}, nil
}

// groupedRelation is the grouped LEFT JOIN of a root entity with one of its
// relations. Aggregates over that relation become columns of sel.
type groupedRelation struct {
	source   string
	relation string
	sel      *ir.Select
	parent   *ir.New // root entity over sel
	child    *ir.New // child rows inside sel's join
}

// groupedCandidate returns the first relation of the root source that is
// aggregated in q's selection, filter or ordering.
func groupedCandidate(q *queryir.Query, em *mapping.EntityMapping) *mapping.MemberMapping {
	var found *mapping.MemberMapping
	visit := func(n queryir.Expr) bool {
		if found != nil {
			return false
		}
		if a, ok := n.(*queryir.Aggregate); ok && a.Relation != "" && a.Source == q.As {
			if m, ok := em.Member(a.Relation); ok && m.Relation != nil {
				found = m
				return false
			}
		}
		return true
	}
	for _, s := range q.Select {
		queryir.Inspect(s.Expr, visit)
	}
	queryir.Inspect(q.Where, visit)
	for _, o := range q.OrderBy {
		queryir.Inspect(o.Expr, visit)
	}
	return found
}

// groupedSource builds
//
//	SELECT p.<columns> FROM parent AS p LEFT JOIN child AS c ON c.fk = p.key
//	GROUP BY p.<columns>
//
// for the root source.
func (f *frame) groupedSource(source string, em *mapping.EntityMapping, rel *mapping.MemberMapping) (*groupedRelation, error) {
	child, err := f.t.registry.Resolve(rel.Relation.Entity)
	if err != nil {
		return nil, err
	}
	key, ok := em.Member(rel.Relation.Key)
	if !ok || !key.IsColumn() {
		return nil, invalid("relation %s key %s is not a column", rel.Name, rel.Relation.Key)
	}
	fk, ok := child.Member(rel.Relation.Foreign)
	if !ok || !fk.IsColumn() {
		return nil, invalid("relation %s foreign key %s is not a column of %s", rel.Name, rel.Relation.Foreign, child.Name)
	}

	pt := &ir.Table{Alias: ir.NewAlias(), Entity: em, Schema: em.Schema, Name: em.Table}
	ct := &ir.Table{Alias: ir.NewAlias(), Entity: child, Schema: child.Schema, Name: child.Table}

	var cols []ir.ColumnDecl
	var groupBy []ir.Expr
	for _, m := range em.Columns() {
		c := memberColumn(pt.Alias, m)
		cols = append(cols, ir.ColumnDecl{Name: m.Column, Expr: c, StorageType: m.StorageType})
		groupBy = append(groupBy, c)
	}
	sel := &ir.Select{
		Alias:   ir.NewAlias(),
		Columns: cols,
		From: &ir.Join{
			Kind:      ir.JoinLeft,
			Left:      pt,
			Right:     ct,
			Condition: ir.Compare(ir.OpEq, memberColumn(ct.Alias, fk), memberColumn(pt.Alias, key)),
		},
		GroupBy: groupBy,
	}
	return &groupedRelation{
		source:   source,
		relation: rel.Name,
		sel:      sel,
		parent:   EntityNew(sel.Alias, em),
		child:    EntityNew(ct.Alias, child),
	}, nil
}
