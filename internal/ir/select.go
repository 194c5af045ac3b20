package ir

import (
	"reflect"
	"strconv"
)

// copySelect returns a shallow copy. Slices are shared; they are never
// written in place, so sharing is safe.
func (s *Select) copySelect() *Select {
	c := *s
	return &c
}

// WithColumns returns a copy of s with cols.
func (s *Select) WithColumns(cols []ColumnDecl) *Select {
	c := s.copySelect()
	c.Columns = cols
	return c
}

// WithFrom returns a copy of s reading from from.
func (s *Select) WithFrom(from Expr) *Select {
	if from == s.From {
		return s
	}
	c := s.copySelect()
	c.From = from
	return c
}

// WithWhere returns a copy of s filtered by where.
func (s *Select) WithWhere(where Expr) *Select {
	if where == s.Where {
		return s
	}
	c := s.copySelect()
	c.Where = where
	return c
}

// WithOrderBy returns a copy of s ordered by orderBy.
func (s *Select) WithOrderBy(orderBy []Ordering) *Select {
	c := s.copySelect()
	c.OrderBy = orderBy
	return c
}

// WithGroupBy returns a copy of s grouped by groupBy.
func (s *Select) WithGroupBy(groupBy []Expr) *Select {
	c := s.copySelect()
	c.GroupBy = groupBy
	return c
}

// WithPaging returns a copy of s with skip and take bounds.
func (s *Select) WithPaging(skip, take Expr) *Select {
	if skip == s.Skip && take == s.Take {
		return s
	}
	c := s.copySelect()
	c.Skip = skip
	c.Take = take
	return c
}

// WithDistinct returns a copy of s with the distinct flag set to distinct.
func (s *Select) WithDistinct(distinct bool) *Select {
	if distinct == s.Distinct {
		return s
	}
	c := s.copySelect()
	c.Distinct = distinct
	return c
}

// WithReverse returns a copy of s with the reverse flag set to reverse.
func (s *Select) WithReverse(reverse bool) *Select {
	if reverse == s.Reverse {
		return s
	}
	c := s.copySelect()
	c.Reverse = reverse
	return c
}

// AddColumn returns a copy of s declaring one more column.
func (s *Select) AddColumn(decl ColumnDecl) *Select {
	cols := make([]ColumnDecl, 0, len(s.Columns)+1)
	cols = append(cols, s.Columns...)
	cols = append(cols, decl)
	return s.WithColumns(cols)
}

// RemoveColumn returns a copy of s without the named column.
func (s *Select) RemoveColumn(name string) *Select {
	cols := make([]ColumnDecl, 0, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name != name {
			cols = append(cols, c)
		}
	}
	if len(cols) == len(s.Columns) {
		return s
	}
	return s.WithColumns(cols)
}

// Column returns the declaration named name.
func (s *Select) Column(name string) (ColumnDecl, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDecl{}, false
}

// HasOrderBy reports whether s orders its rows.
func (s *Select) HasOrderBy() bool { return len(s.OrderBy) > 0 }

// HasGroupBy reports whether s groups its rows.
func (s *Select) HasGroupBy() bool { return len(s.GroupBy) > 0 }

// EffectiveOrderBy returns the orderings with the reverse flag applied.
func (s *Select) EffectiveOrderBy() []Ordering {
	if !s.Reverse {
		return s.OrderBy
	}
	out := make([]Ordering, len(s.OrderBy))
	for i, o := range s.OrderBy {
		out[i] = Ordering{Expr: o.Expr, Desc: !o.Desc}
	}
	return out
}

// AddRedundantSelect pushes s down one level.
//
// The returned select keeps s's alias (so outside references stay valid)
// and re-exposes every column of a new inner select with alias inner. The
// inner select carries all of s's clauses.
func (s *Select) AddRedundantSelect(inner Alias) *Select {
	innerSel := s.copySelect()
	innerSel.Alias = inner

	cols := make([]ColumnDecl, len(s.Columns))
	for i, c := range s.Columns {
		storage := c.StorageType
		if col, ok := c.Expr.(*Column); ok && storage == "" {
			storage = col.StorageType
		}
		cols[i] = ColumnDecl{
			Name:        c.Name,
			Expr:        &Column{Type: TypeOf(c.Expr), StorageType: storage, Alias: inner, Name: c.Name},
			StorageType: storage,
		}
	}
	return &Select{Alias: s.Alias, Columns: cols, From: innerSel}
}

// And conjoins two predicates; a nil side is ignored.
func And(left, right Expr) Expr {
	switch {
	case left == nil:
		return right
	case right == nil:
		return left
	}
	return &Binary{Type: boolType, Op: OpAnd, Left: left, Right: right}
}

// SplitAnd flattens a conjunction into its terms.
func SplitAnd(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if b, ok := e.(*Binary); ok && b.Op == OpAnd {
		return append(SplitAnd(b.Left), SplitAnd(b.Right)...)
	}
	return []Expr{e}
}

// JoinAnd rebuilds a conjunction from terms (nil for none).
func JoinAnd(terms []Expr) Expr {
	var out Expr
	for _, t := range terms {
		out = And(out, t)
	}
	return out
}

// Compare builds a comparison node.
func Compare(op BinaryOp, left, right Expr) *Binary {
	return &Binary{Type: boolType, Op: op, Left: left, Right: right}
}

// Int64 builds an int64 constant.
func Int64(v int64) *Constant {
	return &Constant{Type: int64Type, Value: v}
}

// Const builds a constant of v's dynamic type.
func Const(v any) *Constant {
	if v == nil {
		return &Constant{}
	}
	return &Constant{Type: reflect.TypeOf(v), Value: v}
}

// UniqueName returns base, or base followed by the smallest numeric suffix
// that is not taken.
func UniqueName(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for i := 1; ; i++ {
		name := base + strconv.Itoa(i)
		if !taken(name) {
			return name
		}
	}
}
