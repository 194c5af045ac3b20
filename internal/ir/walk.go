package ir

import "fmt"

// MapChildren rebuilds e with each direct child replaced by f(child).
//
// The original node is returned when f leaves every child unchanged
// (pointer equality), so callers can cheaply detect no-op rewrites.
func MapChildren(e Expr, f func(Expr) Expr) Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *Table, *Column, *Constant, *Parameter, *RowsAffected:
		return e
	case *Select:
		return mapSelect(n, f)
	case *Join:
		left, right, cond := f(n.Left), f(n.Right), mapOpt(n.Condition, f)
		if left == n.Left && right == n.Right && cond == n.Condition {
			return n
		}
		return &Join{Kind: n.Kind, Left: left, Right: right, Condition: cond}
	case *Scalar:
		sel := mustSelect(f(n.Select))
		if sel == n.Select {
			return n
		}
		return &Scalar{Type: n.Type, Select: sel}
	case *Exists:
		sel := mustSelect(f(n.Select))
		if sel == n.Select {
			return n
		}
		return &Exists{Select: sel}
	case *In:
		expr := f(n.Expr)
		var sel *Select
		if n.Select != nil {
			sel = mustSelect(f(n.Select))
		}
		values, changed := mapList(n.Values, f)
		if expr == n.Expr && sel == n.Select && !changed {
			return n
		}
		return &In{Expr: expr, Select: sel, Values: values}
	case *AggregateSubquery:
		agg := f(n.AggregateInGroup)
		sub, ok := f(n.Subquery).(*Scalar)
		if !ok {
			panic("ir: aggregate subquery rewritten to non-scalar")
		}
		if agg == n.AggregateInGroup && sub == n.Subquery {
			return n
		}
		return &AggregateSubquery{GroupByAlias: n.GroupByAlias, AggregateInGroup: agg, Subquery: sub}
	case *Aggregate:
		arg := mapOpt(n.Arg, f)
		if arg == n.Arg {
			return n
		}
		return &Aggregate{Type: n.Type, Kind: n.Kind, Arg: arg, Distinct: n.Distinct}
	case *Binary:
		left, right := f(n.Left), f(n.Right)
		if left == n.Left && right == n.Right {
			return n
		}
		return &Binary{Type: n.Type, Op: n.Op, Left: left, Right: right}
	case *Unary:
		operand := f(n.Operand)
		if operand == n.Operand {
			return n
		}
		return &Unary{Type: n.Type, Op: n.Op, Operand: operand}
	case *Function:
		args, changed := mapList(n.Args, f)
		if !changed {
			return n
		}
		return &Function{Type: n.Type, Name: n.Name, Args: args}
	case *IsNull:
		expr := f(n.Expr)
		if expr == n.Expr {
			return n
		}
		return &IsNull{Expr: expr}
	case *Between:
		expr, lower, upper := f(n.Expr), f(n.Lower), f(n.Upper)
		if expr == n.Expr && lower == n.Lower && upper == n.Upper {
			return n
		}
		return &Between{Expr: expr, Lower: lower, Upper: upper}
	case *Conditional:
		test, t, el := f(n.Test), f(n.IfTrue), f(n.IfFalse)
		if test == n.Test && t == n.IfTrue && el == n.IfFalse {
			return n
		}
		return &Conditional{Type: n.Type, Test: test, IfTrue: t, IfFalse: el}
	case *RowNumber:
		orderBy, changed := mapOrderings(n.OrderBy, f)
		if !changed {
			return n
		}
		return &RowNumber{OrderBy: orderBy}
	case *Projection:
		sel := mustSelect(f(n.Select))
		projector := f(n.Projector)
		if sel == n.Select && projector == n.Projector {
			return n
		}
		return &Projection{Select: sel, Projector: projector, Aggregator: n.Aggregator}
	case *New:
		changed := false
		bindings := make([]MemberBinding, len(n.Bindings))
		for i, b := range n.Bindings {
			expr := f(b.Expr)
			if expr != b.Expr {
				changed = true
			}
			bindings[i] = MemberBinding{Member: b.Member, Expr: expr}
		}
		if !changed {
			return n
		}
		return &New{Type: n.Type, Entity: n.Entity, Bindings: bindings}
	case *ClientCall:
		args, changed := mapList(n.Args, f)
		if !changed {
			return n
		}
		return &ClientCall{Type: n.Type, Name: n.Name, Fn: n.Fn, Args: args}
	default:
		panic(fmt.Sprintf("ir: unhandled node %T", e))
	}
}

func mapSelect(n *Select, f func(Expr) Expr) *Select {
	changed := false
	columns := make([]ColumnDecl, len(n.Columns))
	for i, c := range n.Columns {
		expr := f(c.Expr)
		if expr != c.Expr {
			changed = true
		}
		columns[i] = ColumnDecl{Name: c.Name, Expr: expr, StorageType: c.StorageType}
	}
	from := mapOpt(n.From, f)
	where := mapOpt(n.Where, f)
	groupBy, groupChanged := mapList(n.GroupBy, f)
	orderBy, orderChanged := mapOrderings(n.OrderBy, f)
	skip := mapOpt(n.Skip, f)
	take := mapOpt(n.Take, f)

	if !changed && !groupChanged && !orderChanged &&
		from == n.From && where == n.Where && skip == n.Skip && take == n.Take {
		return n
	}
	out := *n
	if changed {
		out.Columns = columns
	}
	out.From = from
	out.Where = where
	out.GroupBy = groupBy
	out.OrderBy = orderBy
	out.Skip = skip
	out.Take = take
	return &out
}

func mapOpt(e Expr, f func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	return f(e)
}

func mapList(list []Expr, f func(Expr) Expr) ([]Expr, bool) {
	if len(list) == 0 {
		return list, false
	}
	out := make([]Expr, len(list))
	changed := false
	for i, e := range list {
		out[i] = f(e)
		if out[i] != e {
			changed = true
		}
	}
	if !changed {
		return list, false
	}
	return out, true
}

func mapOrderings(list []Ordering, f func(Expr) Expr) ([]Ordering, bool) {
	if len(list) == 0 {
		return list, false
	}
	out := make([]Ordering, len(list))
	changed := false
	for i, o := range list {
		expr := f(o.Expr)
		if expr != o.Expr {
			changed = true
		}
		out[i] = Ordering{Expr: expr, Desc: o.Desc}
	}
	if !changed {
		return list, false
	}
	return out, true
}

func mustSelect(e Expr) *Select {
	sel, ok := e.(*Select)
	if !ok {
		panic(fmt.Sprintf("ir: select position rewritten to %T", e))
	}
	return sel
}

// Transform rewrites e bottom-up: children first, then f on the rebuilt node.
func Transform(e Expr, f func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	rebuilt := MapChildren(e, func(child Expr) Expr {
		return Transform(child, f)
	})
	return f(rebuilt)
}

// Walk visits e pre-order. Children are skipped when visit returns false.
func Walk(e Expr, visit func(Expr) bool) {
	if e == nil || !visit(e) {
		return
	}
	MapChildren(e, func(child Expr) Expr {
		Walk(child, visit)
		return child
	})
}

// Any reports whether pred holds for any node in e.
func Any(e Expr, pred func(Expr) bool) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if found {
			return false
		}
		if pred(n) {
			found = true
			return false
		}
		return true
	})
	return found
}

// ReferencedAliases collects the aliases of every Column in e.
func ReferencedAliases(e Expr) map[Alias]bool {
	refs := make(map[Alias]bool)
	Walk(e, func(n Expr) bool {
		if c, ok := n.(*Column); ok {
			refs[c.Alias] = true
		}
		return true
	})
	return refs
}

// DeclaredAliases returns the aliases a FROM source brings into scope:
// the table or select alias itself, or both sides of a join.
func DeclaredAliases(source Expr) []Alias {
	switch n := source.(type) {
	case *Table:
		return []Alias{n.Alias}
	case *Select:
		return []Alias{n.Alias}
	case *Join:
		return append(DeclaredAliases(n.Left), DeclaredAliases(n.Right)...)
	default:
		return nil
	}
}

// Sources returns every *Table and *Select alias in e, including nested
// subqueries. Used to verify alias uniqueness.
func Sources(e Expr) []Alias {
	var aliases []Alias
	Walk(e, func(n Expr) bool {
		switch s := n.(type) {
		case *Table:
			aliases = append(aliases, s.Alias)
		case *Select:
			aliases = append(aliases, s.Alias)
		}
		return true
	})
	return aliases
}

// HasAggregates reports whether sel computes aggregates in its own
// columns, where clause or ordering. Nested subqueries are not inspected.
func HasAggregates(sel *Select) bool {
	for _, c := range sel.Columns {
		if containsOwnAggregate(c.Expr) {
			return true
		}
	}
	if sel.Where != nil && containsOwnAggregate(sel.Where) {
		return true
	}
	for _, o := range sel.OrderBy {
		if containsOwnAggregate(o.Expr) {
			return true
		}
	}
	return false
}

func containsOwnAggregate(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if found {
			return false
		}
		switch n.(type) {
		case *Select, *Scalar, *Exists, *AggregateSubquery:
			return false
		case *Aggregate:
			found = true
			return false
		}
		return true
	})
	return found
}
