package rewrite

import "github.com/roach88/relq/internal/ir"

type columnKey struct {
	alias ir.Alias
	name  string
}

// columnSet records which columns of which aliases are read.
type columnSet map[columnKey]bool

// mark records every column reference in e, sub-queries included.
func (s columnSet) mark(e ir.Expr) {
	if e == nil {
		return
	}
	ir.Walk(e, func(n ir.Expr) bool {
		if c, ok := n.(*ir.Column); ok {
			s[columnKey{c.Alias, c.Name}] = true
		}
		return true
	})
}

// markOnly records the references in e to the given aliases.
func (s columnSet) markOnly(e ir.Expr, aliases []ir.Alias) {
	scope := aliasSet(aliases)
	ir.Walk(e, func(n ir.Expr) bool {
		if c, ok := n.(*ir.Column); ok && scope[c.Alias] {
			s[columnKey{c.Alias, c.Name}] = true
		}
		return true
	})
}

func aliasSet(aliases []ir.Alias) map[ir.Alias]bool {
	out := make(map[ir.Alias]bool, len(aliases))
	for _, a := range aliases {
		out[a] = true
	}
	return out
}

// UnusedColumns removes column declarations no enclosing select, join
// condition or projector reads.
//
// Selects are visited top-down so a select's readers are all known before
// its columns are pruned. DISTINCT selects keep every column (dropping one
// would change the row set), as do the single-column selects of scalar and
// IN sub-queries. A select whose columns are all unused keeps its first
// column so it stays valid SQL.
func UnusedColumns(p *ir.Projection) (*ir.Projection, error) {
	u := &pruner{used: make(columnSet)}
	u.used.mark(p.Projector)
	sel := u.selectNode(p.Select, false)
	if sel == p.Select {
		return p, nil
	}
	return &ir.Projection{Select: sel, Projector: p.Projector, Aggregator: p.Aggregator}, nil
}

type pruner struct {
	used columnSet
}

func (u *pruner) selectNode(s *ir.Select, keepAll bool) *ir.Select {
	cols := s.Columns
	if !keepAll && !s.Distinct {
		kept := make([]ir.ColumnDecl, 0, len(cols))
		for _, c := range cols {
			if u.used[columnKey{s.Alias, c.Name}] {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 && len(cols) > 0 {
			kept = append(kept, cols[0])
		}
		if len(kept) != len(cols) {
			cols = kept
		}
	}

	for _, c := range cols {
		u.used.mark(c.Expr)
	}
	u.used.mark(s.Where)
	for _, g := range s.GroupBy {
		u.used.mark(g)
	}
	for _, o := range s.OrderBy {
		u.used.mark(o.Expr)
	}
	u.used.mark(s.Skip)
	u.used.mark(s.Take)

	from := u.source(s.From)

	changed := len(cols) != len(s.Columns) || from != s.From
	newCols := make([]ir.ColumnDecl, len(cols))
	for i, c := range cols {
		e := u.expr(c.Expr)
		if e != c.Expr {
			changed = true
		}
		newCols[i] = ir.ColumnDecl{Name: c.Name, Expr: e, StorageType: c.StorageType}
	}
	where := u.expr(s.Where)
	if where != s.Where {
		changed = true
	}
	groupBy := make([]ir.Expr, len(s.GroupBy))
	for i, g := range s.GroupBy {
		groupBy[i] = u.expr(g)
		if groupBy[i] != g {
			changed = true
		}
	}
	orderBy := make([]ir.Ordering, len(s.OrderBy))
	for i, o := range s.OrderBy {
		orderBy[i] = ir.Ordering{Expr: u.expr(o.Expr), Desc: o.Desc}
		if orderBy[i].Expr != o.Expr {
			changed = true
		}
	}
	if !changed {
		return s
	}

	out := *s
	out.Columns = newCols
	out.From = from
	out.Where = where
	if len(s.GroupBy) > 0 {
		out.GroupBy = groupBy
	}
	if len(s.OrderBy) > 0 {
		out.OrderBy = orderBy
	}
	return &out
}

// source prunes the selects of a FROM source. Join conditions and the
// correlated references of apply joins are marked before either side is
// visited.
func (u *pruner) source(e ir.Expr) ir.Expr {
	switch n := e.(type) {
	case *ir.Select:
		return u.selectNode(n, false)
	case *ir.Join:
		u.used.mark(n.Condition)
		if n.Kind == ir.JoinCrossApply || n.Kind == ir.JoinOuterApply {
			u.used.markOnly(n.Right, ir.DeclaredAliases(n.Left))
		}
		right := u.source(n.Right)
		left := u.source(n.Left)
		if left == n.Left && right == n.Right {
			return n
		}
		return &ir.Join{Kind: n.Kind, Left: left, Right: right, Condition: n.Condition}
	default:
		return e
	}
}

// expr prunes the sub-queries nested in a clause expression.
func (u *pruner) expr(e ir.Expr) ir.Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *ir.Scalar, *ir.In:
		return ir.MapChildren(n, func(c ir.Expr) ir.Expr {
			if s, ok := c.(*ir.Select); ok {
				return u.selectNode(s, true)
			}
			return u.expr(c)
		})
	case *ir.Exists:
		sel := u.selectNode(n.Select, false)
		if sel == n.Select {
			return n
		}
		return &ir.Exists{Select: sel}
	case *ir.Select:
		return u.selectNode(n, false)
	default:
		return ir.MapChildren(e, u.expr)
	}
}
