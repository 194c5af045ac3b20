package rewrite

import "github.com/roach88/relq/internal/ir"

// RedundantColumns collapses declarations that re-expose the same source
// column more than once in one select. References to the dropped names
// are redirected to the surviving declaration.
func RedundantColumns(p *ir.Projection) (*ir.Projection, error) {
	renames := make(map[columnKey]string)
	sel := ir.Transform(p.Select, func(n ir.Expr) ir.Expr {
		s, ok := n.(*ir.Select)
		if !ok {
			return n
		}
		first := make(map[columnKey]string)
		kept := make([]ir.ColumnDecl, 0, len(s.Columns))
		for _, c := range s.Columns {
			if ref, ok := c.Expr.(*ir.Column); ok {
				k := columnKey{ref.Alias, ref.Name}
				if name, dup := first[k]; dup {
					renames[columnKey{s.Alias, c.Name}] = name
					continue
				}
				first[k] = c.Name
			}
			kept = append(kept, c)
		}
		if len(kept) == len(s.Columns) {
			return s
		}
		return s.WithColumns(kept)
	}).(*ir.Select)
	if len(renames) == 0 {
		return p, nil
	}

	rename := func(n ir.Expr) ir.Expr {
		c, ok := n.(*ir.Column)
		if !ok {
			return n
		}
		name, ok := renames[columnKey{c.Alias, c.Name}]
		if !ok {
			return n
		}
		return &ir.Column{Type: c.Type, StorageType: c.StorageType, Alias: c.Alias, Name: name}
	}
	return &ir.Projection{
		Select:     ir.Transform(sel, rename).(*ir.Select),
		Projector:  ir.Transform(p.Projector, rename),
		Aggregator: p.Aggregator,
	}, nil
}

// columnMap maps the columns of removed selects to the expressions they
// declared.
type columnMap map[columnKey]ir.Expr

func (m columnMap) add(s *ir.Select) {
	for _, c := range s.Columns {
		m[columnKey{s.Alias, c.Name}] = c.Expr
	}
}

func (m columnMap) apply(e ir.Expr) ir.Expr {
	return ir.Transform(e, func(n ir.Expr) ir.Expr {
		if c, ok := n.(*ir.Column); ok {
			if e, ok := m[columnKey{c.Alias, c.Name}]; ok {
				return e
			}
		}
		return n
	})
}

// RedundantSubqueries removes selects that only pass their source's
// columns through, then merges selects into their FROM select where the
// combination keeps the query's meaning.
func RedundantSubqueries(p *ir.Projection) (*ir.Projection, error) {
	sel := ir.Transform(p.Select, func(n ir.Expr) ir.Expr {
		if s, ok := n.(*ir.Select); ok {
			return removeRedundantFrom(s)
		}
		return n
	}).(*ir.Select)

	projector := p.Projector
	if from, ok := sel.From.(*ir.Select); ok && isRedundant(sel) {
		m := make(columnMap)
		m.add(sel)
		projector = m.apply(projector)
		sel = from
	}

	sel = mergeSubqueries(sel)
	if sel == p.Select && projector == p.Projector {
		return p, nil
	}
	return &ir.Projection{Select: sel, Projector: projector, Aggregator: p.Aggregator}, nil
}

func removeRedundantFrom(s *ir.Select) *ir.Select {
	m := make(columnMap)
	removed := false
	from := stripRedundant(s.From, m, &removed)
	if !removed {
		return s
	}
	return m.apply(s.WithFrom(from)).(*ir.Select)
}

// stripRedundant replaces redundant selects in a FROM source by their own
// source. It does not look inside surviving selects; Transform has already
// visited them.
func stripRedundant(e ir.Expr, m columnMap, removed *bool) ir.Expr {
	switch n := e.(type) {
	case *ir.Select:
		if !isRedundant(n) {
			return n
		}
		m.add(n)
		*removed = true
		return n.From
	case *ir.Join:
		left := stripRedundant(n.Left, m, removed)
		right := stripRedundant(n.Right, m, removed)
		if left == n.Left && right == n.Right {
			return n
		}
		return &ir.Join{Kind: n.Kind, Left: left, Right: right, Condition: n.Condition}
	default:
		return e
	}
}

// isRedundant reports whether s can be replaced by its source: it only
// renames or passes through columns and applies no clause of its own.
func isRedundant(s *ir.Select) bool {
	if s.From == nil {
		return false
	}
	if !isSimpleProjection(s) && !isNameMapProjection(s) {
		return false
	}
	return !s.Distinct && !s.Reverse && s.Take == nil && s.Skip == nil &&
		s.Where == nil && !s.HasOrderBy() && !s.HasGroupBy()
}

// isSimpleProjection: every column is a source column under its own name.
func isSimpleProjection(s *ir.Select) bool {
	for _, c := range s.Columns {
		col, ok := c.Expr.(*ir.Column)
		if !ok || col.Name != c.Name {
			return false
		}
	}
	return true
}

// isNameMapProjection: s re-exposes its FROM select's columns in order,
// possibly under new names.
func isNameMapProjection(s *ir.Select) bool {
	from, ok := s.From.(*ir.Select)
	if !ok || len(s.Columns) != len(from.Columns) {
		return false
	}
	for i, c := range s.Columns {
		col, ok := c.Expr.(*ir.Column)
		if !ok || col.Alias != from.Alias || col.Name != from.Columns[i].Name {
			return false
		}
	}
	return true
}
