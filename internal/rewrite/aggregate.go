package rewrite

import (
	"strconv"

	"github.com/roach88/relq/internal/ir"
)

type groupColumn struct {
	alias ir.Alias
	decl  ir.ColumnDecl
}

// AggregateSubqueries resolves every AggregateSubquery node.
//
// When the grouped select it names is a source of the select that holds
// it, the aggregate is computed once per group as an extra column of that
// select and the node becomes a reference to the column. Identical
// aggregates share one column. Otherwise the node falls back to its
// correlated scalar sub-query.
func AggregateSubqueries(p *ir.Projection) (*ir.Projection, error) {
	if !ir.Any(p.Select, isAggregateSubquery) && !ir.Any(p.Projector, isAggregateSubquery) {
		return p, nil
	}

	selects := make(map[ir.Alias]*ir.Select)
	ir.Walk(p.Select, func(n ir.Expr) bool {
		if s, ok := n.(*ir.Select); ok {
			selects[s.Alias] = s
		}
		return true
	})

	resolved := make(map[string]groupColumn)
	added := make(map[ir.Alias][]ir.ColumnDecl)
	ir.Walk(p.Select, func(n ir.Expr) bool {
		s, ok := n.(*ir.Select)
		if !ok {
			return true
		}
		scope := aliasSet(ir.DeclaredAliases(s.From))
		for _, agg := range ownAggregateSubqueries(s) {
			group, ok := selects[agg.GroupByAlias]
			if !ok || !scope[agg.GroupByAlias] {
				continue
			}
			key := ir.Key(agg)
			if _, done := resolved[key]; done {
				continue
			}
			name := aggregateName(group, added[group.Alias])
			decl := ir.ColumnDecl{Name: name, Expr: agg.AggregateInGroup}
			added[group.Alias] = append(added[group.Alias], decl)
			resolved[key] = groupColumn{alias: group.Alias, decl: decl}
		}
		return true
	})

	replace := func(n ir.Expr) ir.Expr {
		switch x := n.(type) {
		case *ir.Select:
			for _, decl := range added[x.Alias] {
				x = x.AddColumn(decl)
			}
			return x
		case *ir.AggregateSubquery:
			if gc, ok := resolved[ir.Key(x)]; ok {
				return &ir.Column{Type: ir.TypeOf(x), Alias: gc.alias, Name: gc.decl.Name}
			}
			return x.Subquery
		}
		return n
	}
	return &ir.Projection{
		Select:     ir.Transform(p.Select, replace).(*ir.Select),
		Projector:  ir.Transform(p.Projector, replace),
		Aggregator: p.Aggregator,
	}, nil
}

func isAggregateSubquery(e ir.Expr) bool {
	_, ok := e.(*ir.AggregateSubquery)
	return ok
}

// ownAggregateSubqueries returns the AggregateSubquery nodes in s's own
// clauses, not in nested selects.
func ownAggregateSubqueries(s *ir.Select) []*ir.AggregateSubquery {
	var out []*ir.AggregateSubquery
	visit := func(n ir.Expr) bool {
		switch x := n.(type) {
		case *ir.Select:
			return false
		case *ir.AggregateSubquery:
			out = append(out, x)
			return false
		}
		return true
	}
	for _, c := range s.Columns {
		ir.Walk(c.Expr, visit)
	}
	ir.Walk(s.Where, visit)
	for _, o := range s.OrderBy {
		ir.Walk(o.Expr, visit)
	}
	return out
}

func aggregateName(group *ir.Select, pending []ir.ColumnDecl) string {
	taken := func(name string) bool {
		if _, ok := group.Column(name); ok {
			return true
		}
		for _, d := range pending {
			if d.Name == name {
				return true
			}
		}
		return false
	}
	for i := len(pending); ; i++ {
		name := "agg" + strconv.Itoa(i)
		if !taken(name) {
			return name
		}
	}
}
