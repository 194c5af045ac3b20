// Package projector re-exposes expressions through a new select layer.
//
// When the compiler wraps a select in a new outer select, every expression
// the outer layer still needs must be declared as a column of the new
// layer and referenced through the new alias. ProjectColumns does that
// for a whole projector expression: server-side parts become column
// declarations, client-side parts stay in the projector and are evaluated
// after materialization.
package projector

import (
	"strconv"

	"github.com/roach88/relq/internal/ir"
)

// RowNumberColumn is the reserved name of the synthetic row-number column.
// No projected column is ever given this name.
const RowNumberColumn = "_rownum"

// Affinity says where an expression is evaluated.
type Affinity int

const (
	// Client expressions are evaluated in process after rows are read.
	Client Affinity = iota
	// Server expressions are rendered as SQL.
	Server
)

func (a Affinity) String() string {
	if a == Server {
		return "server"
	}
	return "client"
}

// AffinityOf classifies e.
//
// Column references, aggregates, sub-queries, row numbers and known SQL
// functions are server side, as are operators, null tests, ranges and
// conditionals whose operands are all server side. Everything else is
// client side, including any node kind not listed here: an expression
// that is not clearly renderable is never pushed into SQL.
func AffinityOf(e ir.Expr) Affinity {
	p := &projection{candidates: make(map[ir.Expr]bool)}
	if p.nominate(e) {
		return Server
	}
	return Client
}

// Result is the outcome of projecting an expression.
type Result struct {
	// Projector is the input expression rewritten to reference the new
	// alias. Client-side parts are kept as they were.
	Projector ir.Expr

	// Columns are the declarations of the new select layer.
	Columns []ir.ColumnDecl
}

// ProjectColumns projects expr through a new select layer with alias
// newAlias. Column references to existingAliases (the aliases declared by
// the layer's FROM source) are re-declared; references to other aliases
// are outer references and are left untouched.
func ProjectColumns(expr ir.Expr, newAlias ir.Alias, existingAliases ...ir.Alias) Result {
	return Project(expr, newAlias, nil, existingAliases...)
}

// Project is ProjectColumns starting from already declared columns, which
// are reused when an expression refers to the same column.
func Project(expr ir.Expr, newAlias ir.Alias, existing []ir.ColumnDecl, existingAliases ...ir.Alias) Result {
	p := &projection{
		newAlias: newAlias,
		existing: make(map[ir.Alias]bool, len(existingAliases)),
		columns:  append([]ir.ColumnDecl(nil), existing...),
		names:    map[string]bool{RowNumberColumn: true},
		mapped:   make(map[columnKey]*ir.Column),
	}
	for _, a := range existingAliases {
		p.existing[a] = true
	}
	for _, c := range existing {
		p.names[c.Name] = true
	}
	p.candidates = make(map[ir.Expr]bool)
	p.nominate(expr)

	out := p.visit(expr, "")
	return Result{Projector: out, Columns: p.columns}
}

type columnKey struct {
	alias ir.Alias
	name  string
}

type projection struct {
	newAlias   ir.Alias
	existing   map[ir.Alias]bool
	columns    []ir.ColumnDecl
	names      map[string]bool
	mapped     map[columnKey]*ir.Column
	candidates map[ir.Expr]bool
	next       int
}

// nominate marks server-side sub-expressions bottom-up and reports whether
// e is one. A single client-side child makes every ancestor client side.
func (p *projection) nominate(e ir.Expr) bool {
	if e == nil {
		return true
	}
	ok := serverKind(e, p.existing)
	switch n := e.(type) {
	case *ir.Scalar, *ir.Exists, *ir.AggregateSubquery:
		// Sub-queries are whole columns; their insides are not projected.
	case *ir.In:
		if !p.nominate(n.Expr) {
			ok = false
		}
		for _, v := range n.Values {
			if !p.nominate(v) {
				ok = false
			}
		}
	default:
		ir.MapChildren(e, func(c ir.Expr) ir.Expr {
			if !p.nominate(c) {
				ok = false
			}
			return c
		})
	}
	if ok {
		p.candidates[e] = true
	}
	return ok
}

// serverKind reports whether e's own node kind can be rendered as SQL.
// A nil existing set accepts every column.
func serverKind(e ir.Expr, existing map[ir.Alias]bool) bool {
	switch n := e.(type) {
	case *ir.Column:
		return existing == nil || existing[n.Alias]
	case *ir.Function:
		return ir.IsKnownFunction(n.Name)
	case *ir.Aggregate, *ir.Scalar, *ir.Exists, *ir.In, *ir.AggregateSubquery, *ir.RowNumber,
		*ir.Binary, *ir.Unary, *ir.IsNull, *ir.Between, *ir.Conditional, *ir.Constant, *ir.Parameter:
		return true
	default:
		return false
	}
}

func (p *projection) visit(e ir.Expr, hint string) ir.Expr {
	if e == nil {
		return nil
	}
	if p.candidates[e] {
		return p.declare(e, hint)
	}
	if _, ok := e.(*ir.Select); ok {
		return e
	}
	if n, ok := e.(*ir.New); ok && n.Entity == nil {
		changed := false
		bindings := make([]ir.MemberBinding, len(n.Bindings))
		for i, b := range n.Bindings {
			expr := p.visit(b.Expr, b.Member)
			if expr != b.Expr {
				changed = true
			}
			bindings[i] = ir.MemberBinding{Member: b.Member, Expr: expr}
		}
		if !changed {
			return n
		}
		return &ir.New{Type: n.Type, Bindings: bindings}
	}
	return ir.MapChildren(e, func(c ir.Expr) ir.Expr {
		return p.visit(c, "")
	})
}

// declare turns a maximal server-side expression into a column reference.
func (p *projection) declare(e ir.Expr, hint string) ir.Expr {
	switch n := e.(type) {
	case *ir.Constant, *ir.Parameter:
		// A bare value needs no column.
		return e
	case *ir.Column:
		key := columnKey{alias: n.Alias, name: n.Name}
		if m, ok := p.mapped[key]; ok {
			return m
		}
		for _, c := range p.columns {
			if ref, ok := c.Expr.(*ir.Column); ok && ref.Alias == n.Alias && ref.Name == n.Name {
				m := &ir.Column{Type: n.Type, StorageType: n.StorageType, Alias: p.newAlias, Name: c.Name}
				p.mapped[key] = m
				return m
			}
		}
		name := p.unique(n.Name)
		p.columns = append(p.columns, ir.ColumnDecl{Name: name, Expr: n, StorageType: n.StorageType})
		m := &ir.Column{Type: n.Type, StorageType: n.StorageType, Alias: p.newAlias, Name: name}
		p.mapped[key] = m
		return m
	}

	for _, c := range p.columns {
		if c.Expr == e {
			return &ir.Column{Type: ir.TypeOf(e), Alias: p.newAlias, Name: c.Name}
		}
	}
	var name string
	if hint != "" {
		name = p.unique(hint)
	} else {
		name = p.generated()
	}
	p.columns = append(p.columns, ir.ColumnDecl{Name: name, Expr: e})
	return &ir.Column{Type: ir.TypeOf(e), Alias: p.newAlias, Name: name}
}

// unique returns name or name with the smallest free numeric suffix.
func (p *projection) unique(name string) string {
	out := ir.UniqueName(name, func(s string) bool { return p.names[s] })
	p.names[out] = true
	return out
}

// generated returns the next free c0, c1, ... name.
func (p *projection) generated() string {
	for {
		name := "c" + strconv.Itoa(p.next)
		p.next++
		if !p.names[name] {
			p.names[name] = true
			return name
		}
	}
}
