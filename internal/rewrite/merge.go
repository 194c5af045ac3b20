package rewrite

import "github.com/roach88/relq/internal/ir"

// mergeSubqueries folds selects into their left-most FROM select while
// canMerge allows it.
func mergeSubqueries(root *ir.Select) *ir.Select {
	top := root.Alias
	return ir.Transform(root, func(n ir.Expr) ir.Expr {
		s, ok := n.(*ir.Select)
		if !ok {
			return n
		}
		for canMerge(s, s.Alias == top) {
			s = mergeWithFrom(s)
		}
		return s
	}).(*ir.Select)
}

func leftMostSelect(source ir.Expr) *ir.Select {
	switch n := source.(type) {
	case *ir.Select:
		return n
	case *ir.Join:
		return leftMostSelect(n.Left)
	default:
		return nil
	}
}

// replaceLeftMost swaps the left-most select of a source for with.
func replaceLeftMost(source ir.Expr, with ir.Expr) ir.Expr {
	switch n := source.(type) {
	case *ir.Select:
		return with
	case *ir.Join:
		return &ir.Join{Kind: n.Kind, Left: replaceLeftMost(n.Left, with), Right: n.Right, Condition: n.Condition}
	default:
		return source
	}
}

func isColumnProjection(s *ir.Select) bool {
	for _, c := range s.Columns {
		switch c.Expr.(type) {
		case *ir.Column, *ir.Constant:
		default:
			return false
		}
	}
	return true
}

// canMerge decides whether s and its left-most FROM select can be
// evaluated as one select. Each rule names a clause pair whose order of
// evaluation would change if both ended up in one SELECT.
func canMerge(s *ir.Select, top bool) bool {
	from := leftMostSelect(s.From)
	if from == nil || from.From == nil || !isColumnProjection(from) {
		return false
	}

	selNameMap := isNameMapProjection(s)
	selOrder := s.HasOrderBy()
	selGroup := s.HasGroupBy()
	selAgg := ir.HasAggregates(s)
	_, selJoin := s.From.(*ir.Join)
	fromOrder := from.HasOrderBy()
	fromGroup := from.HasGroupBy()
	fromAgg := ir.HasAggregates(from)
	fromPaged := from.Take != nil || from.Skip != nil

	switch {
	case selOrder && fromOrder:
		return false
	case selGroup && fromGroup:
		return false
	case s.Reverse || from.Reverse:
		return false
	case fromOrder && (selGroup || selAgg || s.Distinct):
		return false
	case fromGroup:
		return false
	// a filter or ordering applied after paging must stay outside it
	case fromPaged && (s.Where != nil || selOrder):
		return false
	case from.Take != nil && (s.Take != nil || s.Skip != nil || s.Distinct || selAgg || selGroup || selJoin):
		return false
	case from.Skip != nil && (s.Skip != nil || s.Distinct || selAgg || selGroup || selJoin):
		return false
	case from.Distinct && (s.Take != nil || s.Skip != nil || !selNameMap || selGroup || selAgg || (selOrder && !top) || selJoin):
		return false
	case fromAgg && (s.Take != nil || s.Skip != nil || s.Distinct || selAgg || selGroup || selJoin):
		return false
	}
	return true
}

func mergeWithFrom(s *ir.Select) *ir.Select {
	from := leftMostSelect(s.From)
	m := make(columnMap)
	m.add(from)
	merged := m.apply(s.WithFrom(replaceLeftMost(s.From, from.From))).(*ir.Select)

	out := *merged
	out.Where = ir.And(merged.Where, from.Where)
	if !merged.HasOrderBy() {
		out.OrderBy = from.OrderBy
	}
	if !merged.HasGroupBy() {
		out.GroupBy = from.GroupBy
	}
	if out.Skip == nil {
		out.Skip = from.Skip
	}
	if out.Take == nil {
		out.Take = from.Take
	}
	out.Distinct = merged.Distinct || from.Distinct
	return &out
}
