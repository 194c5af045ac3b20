package rewrite

import (
	"reflect"
	"strconv"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/projector"
)

// TypeSystem maps Go types to the storage type names of a dialect.
type TypeSystem interface {
	StorageType(t reflect.Type) (string, error)
}

// Parameterize replaces the literals of every comparison that reads a row
// value with named parameters p0, p1, ..., including literals nested in an
// operand such as COALESCE(nick, 'x') = 'y', so command text does not
// depend on caller data. Both sides of a literal-only comparison and
// paging limits stay literal, as do the bounds of a row-number filter.
//
// Every bound value must have a storage type in ts, otherwise the pass
// fails with the TypeSystem's error. A compared column's declared storage
// type overrides the name; ts may be nil.
func Parameterize(ts TypeSystem) Pass {
	return func(p *ir.Projection) (*ir.Projection, error) {
		z := &parameterizer{ts: ts, taken: make(map[string]bool)}
		ir.Walk(p.Select, func(n ir.Expr) bool {
			if prm, ok := n.(*ir.Parameter); ok {
				z.taken[prm.Name] = true
			}
			return true
		})
		sel := ir.Transform(p.Select, z.visit)
		if z.err != nil {
			return nil, z.err
		}
		if sel == p.Select {
			return p, nil
		}
		return &ir.Projection{Select: sel.(*ir.Select), Projector: p.Projector, Aggregator: p.Aggregator}, nil
	}
}

type parameterizer struct {
	ts    TypeSystem
	taken map[string]bool
	next  int
	err   error
}

func (z *parameterizer) visit(n ir.Expr) ir.Expr {
	if z.err != nil {
		return n
	}
	switch x := n.(type) {
	case *ir.Binary:
		if !x.Op.IsComparison() || !readsRow(x) || isRowNumber(x.Left) || isRowNumber(x.Right) {
			return n
		}
		l, r := z.operand(x.Left, x.Right), z.operand(x.Right, x.Left)
		if l == x.Left && r == x.Right {
			return n
		}
		return &ir.Binary{Type: x.Type, Op: x.Op, Left: l, Right: r}
	case *ir.In:
		if x.Select != nil || !readsRow(x) {
			return n
		}
		expr := z.nested(x.Expr)
		values := make([]ir.Expr, len(x.Values))
		changed := expr != x.Expr
		for i, v := range x.Values {
			values[i] = z.operand(v, x.Expr)
			changed = changed || values[i] != v
		}
		if changed {
			return &ir.In{Expr: expr, Values: values}
		}
	}
	return n
}

// operand binds e when it is a literal compared against other, and the
// literals nested in it otherwise.
func (z *parameterizer) operand(e, other ir.Expr) ir.Expr {
	if c := literal(e); c != nil {
		return z.param(c, other)
	}
	return z.nested(e)
}

// nested binds the literals inside an operand expression. Subqueries are
// parameterized on their own.
func (z *parameterizer) nested(e ir.Expr) ir.Expr {
	switch x := e.(type) {
	case *ir.Constant:
		if x.Value == nil {
			return e
		}
		return z.param(x, nil)
	case *ir.Parameter, *ir.Select, *ir.Scalar, *ir.Exists, *ir.In, *ir.AggregateSubquery, *ir.RowNumber:
		return e
	}
	return ir.MapChildren(e, z.nested)
}

// param binds c. The storage type comes from the value's own type, so an
// unmapped value fails here; a compared column's declared storage type
// takes precedence for the name.
func (z *parameterizer) param(c *ir.Constant, against ir.Expr) ir.Expr {
	t := c.Type
	if t == nil {
		t = ir.TypeOf(against)
	}
	storage := ""
	if z.ts != nil {
		s, err := z.ts.StorageType(t)
		if err != nil {
			z.err = err
			return c
		}
		storage = s
	}
	if col, ok := against.(*ir.Column); ok && col.StorageType != "" {
		storage = col.StorageType
	}
	return &ir.Parameter{Name: z.name(), Type: c.Type, StorageType: storage, Value: c.Value}
}

func (z *parameterizer) name() string {
	for {
		name := "p" + strconv.Itoa(z.next)
		z.next++
		if !z.taken[name] {
			z.taken[name] = true
			return name
		}
	}
}

func literal(e ir.Expr) *ir.Constant {
	if c, ok := e.(*ir.Constant); ok && c.Value != nil {
		return c
	}
	return nil
}

// readsRow reports whether e refers to row data, so that a comparison in
// it is not between literals only.
func readsRow(e ir.Expr) bool {
	return ir.Any(e, func(n ir.Expr) bool {
		switch n.(type) {
		case *ir.Column, *ir.Scalar, *ir.Exists, *ir.AggregateSubquery, *ir.Aggregate, *ir.RowNumber:
			return true
		}
		return false
	})
}

func isRowNumber(e ir.Expr) bool {
	c, ok := e.(*ir.Column)
	return ok && c.Name == projector.RowNumberColumn
}
