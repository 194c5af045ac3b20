package translate

import (
	"fmt"
	"strings"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/mapping"
)

// Bind resolves a dotted member path against a projector expression.
//
// A *ir.New root (an entity or record) resolves the first path segment
// among its member bindings and recurses into the bound expression, so
// nested value objects resolve through their own *ir.New. Any other root
// (a column, a computed value) only binds the empty path, which returns
// the root itself. Anything else is an UNKNOWN_MEMBER error; there is no
// silent fallback.
func Bind(root ir.Expr, path string) (ir.Expr, error) {
	if path == "" {
		return root, nil
	}
	head, rest, _ := strings.Cut(path, ".")

	n, ok := root.(*ir.New)
	if !ok {
		return nil, &Error{
			Code:    ErrCodeUnknownMember,
			Message: fmt.Sprintf("cannot access member %q of a scalar value", head),
		}
	}
	for _, b := range n.Bindings {
		if b.Member == head {
			return Bind(b.Expr, rest)
		}
	}

	owner := "record"
	if n.Entity != nil {
		owner = n.Entity.Name
		if m, ok := n.Entity.Member(head); ok && m.Relation != nil {
			return nil, &Error{
				Code:    ErrCodeUnsupported,
				Message: fmt.Sprintf("relation %s.%s can only be used inside an aggregate or any", owner, head),
			}
		}
	}
	return nil, &Error{
		Code:    ErrCodeUnknownMember,
		Message: fmt.Sprintf("%s has no mapped member %q", owner, head),
	}
}

// EntityProjection builds the initial IR fragment for an entity: a single
// aliased table wrapped in a select declaring one column per mapped
// column member, and a projector that rebuilds the entity from those
// columns.
//
//	SELECT t.id, t.email, t.addr_city FROM users AS t
//	projector: new User{ID: s.id, Email: s.email, Address: new Address{City: s.addr_city}}
func EntityProjection(em *mapping.EntityMapping) *ir.Projection {
	tableAlias := ir.NewAlias()
	table := &ir.Table{Alias: tableAlias, Entity: em, Schema: em.Schema, Name: em.Table}

	var cols []ir.ColumnDecl
	for _, m := range em.Columns() {
		cols = append(cols, ir.ColumnDecl{
			Name:        m.Column,
			Expr:        memberColumn(tableAlias, m),
			StorageType: m.StorageType,
		})
	}
	sel := &ir.Select{Alias: ir.NewAlias(), Columns: cols, From: table}
	return &ir.Projection{Select: sel, Projector: EntityNew(sel.Alias, em)}
}

// EntityNew builds the projector that reconstructs em from the columns of
// the table or select with alias a. Columns are named after the mapped
// storage columns.
func EntityNew(a ir.Alias, em *mapping.EntityMapping) *ir.New {
	bindings := make([]ir.MemberBinding, 0, len(em.Members))
	for _, m := range em.Members {
		switch {
		case m.Relation != nil:
			continue
		case m.Inline != nil:
			bindings = append(bindings, ir.MemberBinding{Member: m.Name, Expr: EntityNew(a, m.Inline)})
		default:
			bindings = append(bindings, ir.MemberBinding{Member: m.Name, Expr: memberColumn(a, m)})
		}
	}
	return &ir.New{Type: em.Type, Entity: em, Bindings: bindings}
}

func memberColumn(a ir.Alias, m *mapping.MemberMapping) *ir.Column {
	return &ir.Column{Type: m.Type, StorageType: m.StorageType, Alias: a, Name: m.Column}
}

// entityKeys returns the primary key expressions of an entity projector.
func entityKeys(n *ir.New) ([]ir.Expr, error) {
	keys, err := n.Entity.RequireKey()
	if err != nil {
		return nil, err
	}
	out := make([]ir.Expr, len(keys))
	for i, k := range keys {
		e, err := Bind(n, k.Name)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}
