package rewrite

import "github.com/roach88/relq/internal/ir"

// CrossApply turns apply joins whose right side only correlates through
// its WHERE clause into ordinary joins: the correlation predicate becomes
// the join condition.
func CrossApply(p *ir.Projection) (*ir.Projection, error) {
	sel := ir.Transform(p.Select, func(n ir.Expr) ir.Expr {
		j, ok := n.(*ir.Join)
		if !ok || (j.Kind != ir.JoinCrossApply && j.Kind != ir.JoinOuterApply) {
			return n
		}
		return rewriteApply(j)
	}).(*ir.Select)
	if sel == p.Select {
		return p, nil
	}
	return &ir.Projection{Select: sel, Projector: p.Projector, Aggregator: p.Aggregator}, nil
}

func rewriteApply(j *ir.Join) ir.Expr {
	outer := j.Kind == ir.JoinOuterApply
	switch right := j.Right.(type) {
	case *ir.Table:
		if outer {
			return &ir.Join{Kind: ir.JoinLeft, Left: j.Left, Right: right, Condition: always()}
		}
		return &ir.Join{Kind: ir.JoinCross, Left: j.Left, Right: right}
	case *ir.Select:
		// Filtering after the join instead of before would change what
		// paging, grouping, aggregation and DISTINCT see.
		if right.Take != nil || right.Skip != nil || right.Distinct ||
			right.HasGroupBy() || ir.HasAggregates(right) {
			return j
		}
		unfiltered := right.WithWhere(nil)
		left := aliasSet(ir.DeclaredAliases(j.Left))
		for a := range ir.ReferencedAliases(unfiltered) {
			if left[a] {
				return j
			}
		}
		sel, cond := exposeColumns(unfiltered, right.Where)
		switch {
		case cond != nil && outer:
			return &ir.Join{Kind: ir.JoinLeft, Left: j.Left, Right: sel, Condition: cond}
		case cond != nil:
			return &ir.Join{Kind: ir.JoinInner, Left: j.Left, Right: sel, Condition: cond}
		case outer:
			return &ir.Join{Kind: ir.JoinLeft, Left: j.Left, Right: sel, Condition: always()}
		default:
			return &ir.Join{Kind: ir.JoinCross, Left: j.Left, Right: sel}
		}
	}
	return j
}

func always() ir.Expr {
	return ir.Compare(ir.OpEq, ir.Int64(1), ir.Int64(1))
}

// exposeColumns rewrites e, evaluated inside sel, so it can be evaluated
// outside: every reference to sel's sources goes through a column of sel,
// declaring one when needed.
func exposeColumns(sel *ir.Select, e ir.Expr) (*ir.Select, ir.Expr) {
	if e == nil {
		return sel, nil
	}
	inner := aliasSet(ir.DeclaredAliases(sel.From))
	cols := sel.Columns
	added := false
	out := ir.Transform(e, func(n ir.Expr) ir.Expr {
		c, ok := n.(*ir.Column)
		if !ok || !inner[c.Alias] {
			return n
		}
		for _, d := range cols {
			if ref, ok := d.Expr.(*ir.Column); ok && ref.Alias == c.Alias && ref.Name == c.Name {
				return &ir.Column{Type: c.Type, StorageType: c.StorageType, Alias: sel.Alias, Name: d.Name}
			}
		}
		name := ir.UniqueName(c.Name, func(name string) bool {
			for _, d := range cols {
				if d.Name == name {
					return true
				}
			}
			return false
		})
		if !added {
			cols = append([]ir.ColumnDecl(nil), cols...)
			added = true
		}
		cols = append(cols, ir.ColumnDecl{Name: name, Expr: c, StorageType: c.StorageType})
		return &ir.Column{Type: c.Type, StorageType: c.StorageType, Alias: sel.Alias, Name: name}
	})
	if added {
		sel = sel.WithColumns(cols)
	}
	return sel, out
}

// CrossJoin promotes cross joins to inner joins when the enclosing WHERE
// clause holds an equality between the two sides. Every conjunct that
// relates only the two sides moves into the join condition.
func CrossJoin(p *ir.Projection) (*ir.Projection, error) {
	sel := ir.Transform(p.Select, func(n ir.Expr) ir.Expr {
		s, ok := n.(*ir.Select)
		if !ok || s.Where == nil {
			return n
		}
		terms := ir.SplitAnd(s.Where)
		used := make([]bool, len(terms))
		from := promoteCrossJoins(s.From, terms, used)
		if from == s.From {
			return s
		}
		var rest []ir.Expr
		for i, t := range terms {
			if !used[i] {
				rest = append(rest, t)
			}
		}
		return s.WithFrom(from).WithWhere(ir.JoinAnd(rest))
	}).(*ir.Select)
	if sel == p.Select {
		return p, nil
	}
	return &ir.Projection{Select: sel, Projector: p.Projector, Aggregator: p.Aggregator}, nil
}

func promoteCrossJoins(source ir.Expr, terms []ir.Expr, used []bool) ir.Expr {
	j, ok := source.(*ir.Join)
	if !ok {
		return source
	}
	left := promoteCrossJoins(j.Left, terms, used)
	right := promoteCrossJoins(j.Right, terms, used)
	if j.Kind == ir.JoinCross {
		l := aliasSet(ir.DeclaredAliases(left))
		r := aliasSet(ir.DeclaredAliases(right))
		var picked []int
		equality := false
		for i, t := range terms {
			if used[i] || !relates(t, l, r) {
				continue
			}
			picked = append(picked, i)
			if b, ok := t.(*ir.Binary); ok && b.Op == ir.OpEq {
				equality = true
			}
		}
		if equality {
			cond := make([]ir.Expr, len(picked))
			for k, i := range picked {
				used[i] = true
				cond[k] = terms[i]
			}
			return &ir.Join{Kind: ir.JoinInner, Left: left, Right: right, Condition: ir.JoinAnd(cond)}
		}
	}
	if left == j.Left && right == j.Right {
		return j
	}
	return &ir.Join{Kind: j.Kind, Left: left, Right: right, Condition: j.Condition}
}

// relates reports whether e references both sides and nothing else.
func relates(e ir.Expr, left, right map[ir.Alias]bool) bool {
	var l, r bool
	for a := range ir.ReferencedAliases(e) {
		switch {
		case left[a]:
			l = true
		case right[a]:
			r = true
		default:
			return false
		}
	}
	return l && r
}
