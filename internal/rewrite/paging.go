package rewrite

import (
	"reflect"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/projector"
)

var int64Type = reflect.TypeFor[int64]()

// SkipToRowNumber rewrites every select with a skip into ROW_NUMBER
// paging:
//
//	SELECT cols FROM (
//	    SELECT cols, ROW_NUMBER() OVER (ORDER BY ...) AS _rownum FROM ...
//	) WHERE _rownum BETWEEN skip+1 AND skip+take ORDER BY _rownum
//
// Without a take the filter is _rownum > skip. DISTINCT and grouped
// selects are pushed down one more level first so the row number counts
// output rows.
func SkipToRowNumber(p *ir.Projection) (*ir.Projection, error) {
	var failed error
	sel := ir.Transform(p.Select, func(n ir.Expr) ir.Expr {
		s, ok := n.(*ir.Select)
		if !ok || s.Skip == nil || failed != nil {
			return n
		}
		out, err := rowNumberPaging(s)
		if err != nil {
			failed = err
			return n
		}
		return out
	})
	if failed != nil {
		return nil, failed
	}
	if sel == p.Select {
		return p, nil
	}
	return &ir.Projection{Select: sel.(*ir.Select), Projector: p.Projector, Aggregator: p.Aggregator}, nil
}

func rowNumberPaging(s *ir.Select) (*ir.Select, error) {
	order := s.EffectiveOrderBy()
	base := s.WithPaging(nil, nil).WithReverse(false).WithOrderBy(nil)

	if s.Distinct || s.HasGroupBy() {
		wrapped := base.AddRedundantSelect(ir.NewAlias())
		inner := wrapped.From.(*ir.Select)
		remapped := make([]ir.Ordering, len(order))
		for i, o := range order {
			name, ok := findColumn(inner, o.Expr)
			if !ok {
				if inner.Distinct {
					return nil, &Error{
						Code:    ErrCodeUnsupported,
						Pass:    "SkipToRowNumber",
						Message: "ordering of a paged DISTINCT query must be one of its selected values",
					}
				}
				name = ir.UniqueName("ord", func(n string) bool {
					_, ok := inner.Column(n)
					return ok
				})
				inner = inner.AddColumn(ir.ColumnDecl{Name: name, Expr: o.Expr})
			}
			remapped[i] = ir.Ordering{
				Expr: &ir.Column{Type: ir.TypeOf(o.Expr), Alias: inner.Alias, Name: name},
				Desc: o.Desc,
			}
		}
		base = wrapped.WithFrom(inner)
		order = remapped
	}

	layered := base.
		AddColumn(ir.ColumnDecl{Name: projector.RowNumberColumn, Expr: &ir.RowNumber{OrderBy: order}}).
		AddRedundantSelect(ir.NewAlias())
	rows := layered.From.(*ir.Select)
	rn := &ir.Column{Type: int64Type, Alias: rows.Alias, Name: projector.RowNumberColumn}

	var bound ir.Expr
	if s.Take != nil {
		bound = &ir.Between{Expr: rn, Lower: add(s.Skip, ir.Int64(1)), Upper: add(s.Skip, s.Take)}
	} else {
		bound = ir.Compare(ir.OpGt, rn, s.Skip)
	}
	out := layered.RemoveColumn(projector.RowNumberColumn)
	return out.WithWhere(ir.And(out.Where, bound)).WithOrderBy([]ir.Ordering{{Expr: rn}}), nil
}

func findColumn(s *ir.Select, e ir.Expr) (string, bool) {
	key := ir.Key(e)
	for _, c := range s.Columns {
		if ir.Key(c.Expr) == key {
			return c.Name, true
		}
	}
	return "", false
}

// add folds integer constants and builds a SQL addition otherwise.
func add(a, b ir.Expr) ir.Expr {
	x, xok := intValue(a)
	y, yok := intValue(b)
	if xok && yok {
		return ir.Int64(x + y)
	}
	return &ir.Binary{Type: int64Type, Op: ir.OpAdd, Left: a, Right: b}
}

func intValue(e ir.Expr) (int64, bool) {
	c, ok := e.(*ir.Constant)
	if !ok {
		return 0, false
	}
	switch v := c.Value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	}
	return 0, false
}
