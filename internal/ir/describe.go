package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// DomainTree is the hash domain for tree fingerprints.
// Version suffix enables future algorithm migration.
const DomainTree = "relq/tree/v1"

// Describe renders e as a deterministic, indented outline.
//
// Aliases are renamed a0, a1, ... in order of first appearance, so two
// structurally equal trees describe identically even though their aliases
// were minted independently. Used by explain output and tests.
func Describe(e Expr) string {
	d := &describer{names: make(map[Alias]string)}
	d.node(e, 0)
	return d.b.String()
}

// Key renders e like Describe but keeps alias identities. Two expressions
// have equal keys only when they compute the same value from the same
// sources.
func Key(e Expr) string {
	d := &describer{names: make(map[Alias]string), raw: true}
	d.node(e, 0)
	return d.b.String()
}

// Fingerprint returns a content hash of the described tree.
//
// Format: hex(SHA256(domain + 0x00 + Describe(e))).
func Fingerprint(e Expr) string {
	h := sha256.New()
	h.Write([]byte(DomainTree))
	h.Write([]byte{0x00})
	h.Write([]byte(Describe(e)))
	return hex.EncodeToString(h.Sum(nil))
}

type describer struct {
	b     strings.Builder
	names map[Alias]string
	raw   bool
}

func (d *describer) alias(a Alias) string {
	if a.IsZero() {
		return "<none>"
	}
	if d.raw {
		return a.String()
	}
	if n, ok := d.names[a]; ok {
		return n
	}
	n := "a" + strconv.Itoa(len(d.names))
	d.names[a] = n
	return n
}

func (d *describer) line(depth int, format string, args ...any) {
	d.b.WriteString(strings.Repeat("  ", depth))
	fmt.Fprintf(&d.b, format, args...)
	d.b.WriteByte('\n')
}

func (d *describer) node(e Expr, depth int) {
	switch n := e.(type) {
	case nil:
		d.line(depth, "nil")
	case *Table:
		d.line(depth, "table %s %s", d.alias(n.Alias), qualified(n.Schema, n.Name))
	case *Select:
		d.selectNode(n, depth)
	case *Column:
		d.line(depth, "column %s.%s", d.alias(n.Alias), n.Name)
	case *Join:
		d.line(depth, "join %s", n.Kind)
		d.node(n.Left, depth+1)
		d.node(n.Right, depth+1)
		if n.Condition != nil {
			d.line(depth+1, "on")
			d.node(n.Condition, depth+2)
		}
	case *Scalar:
		d.line(depth, "scalar")
		d.node(n.Select, depth+1)
	case *Exists:
		d.line(depth, "exists")
		d.node(n.Select, depth+1)
	case *In:
		d.line(depth, "in")
		d.node(n.Expr, depth+1)
		if n.Select != nil {
			d.node(n.Select, depth+1)
		}
		for _, v := range n.Values {
			d.node(v, depth+1)
		}
	case *AggregateSubquery:
		d.line(depth, "aggregate-subquery group=%s", d.alias(n.GroupByAlias))
		d.node(n.AggregateInGroup, depth+1)
		d.node(n.Subquery, depth+1)
	case *Aggregate:
		if n.Distinct {
			d.line(depth, "aggregate %s distinct", n.Kind)
		} else {
			d.line(depth, "aggregate %s", n.Kind)
		}
		if n.Arg != nil {
			d.node(n.Arg, depth+1)
		}
	case *Binary:
		d.line(depth, "binary %s", n.Op)
		d.node(n.Left, depth+1)
		d.node(n.Right, depth+1)
	case *Unary:
		op := "not"
		if n.Op == OpNeg {
			op = "neg"
		}
		d.line(depth, "unary %s", op)
		d.node(n.Operand, depth+1)
	case *Constant:
		d.line(depth, "constant %#v", n.Value)
	case *Parameter:
		d.line(depth, "parameter %s %#v", n.Name, n.Value)
	case *Function:
		d.line(depth, "function %s", n.Name)
		for _, a := range n.Args {
			d.node(a, depth+1)
		}
	case *IsNull:
		d.line(depth, "is-null")
		d.node(n.Expr, depth+1)
	case *Between:
		d.line(depth, "between")
		d.node(n.Expr, depth+1)
		d.node(n.Lower, depth+1)
		d.node(n.Upper, depth+1)
	case *Conditional:
		d.line(depth, "case")
		d.node(n.Test, depth+1)
		d.node(n.IfTrue, depth+1)
		d.node(n.IfFalse, depth+1)
	case *RowNumber:
		d.line(depth, "row-number")
		d.orderings(n.OrderBy, depth+1)
	case *RowsAffected:
		d.line(depth, "rows-affected")
	case *Projection:
		if n.Aggregator != nil {
			d.line(depth, "projection aggregator=%d", n.Aggregator.Kind)
		} else {
			d.line(depth, "projection")
		}
		d.node(n.Select, depth+1)
		d.line(depth+1, "projector")
		d.node(n.Projector, depth+2)
	case *New:
		name := "record"
		if n.Entity != nil {
			name = n.Entity.Name
		} else if n.Type != nil {
			name = n.Type.String()
		}
		d.line(depth, "new %s", name)
		for _, b := range n.Bindings {
			d.line(depth+1, "%s:", b.Member)
			d.node(b.Expr, depth+2)
		}
	case *ClientCall:
		d.line(depth, "client-call %s", n.Name)
		for _, a := range n.Args {
			d.node(a, depth+1)
		}
	default:
		panic(fmt.Sprintf("ir: unhandled node %T", e))
	}
}

func (d *describer) selectNode(n *Select, depth int) {
	var flags []string
	if n.Distinct {
		flags = append(flags, "distinct")
	}
	if n.Reverse {
		flags = append(flags, "reverse")
	}
	header := "select " + d.alias(n.Alias)
	if len(flags) > 0 {
		header += " [" + strings.Join(flags, ",") + "]"
	}
	d.line(depth, "%s", header)
	for _, c := range n.Columns {
		d.line(depth+1, "col %s =", c.Name)
		d.node(c.Expr, depth+2)
	}
	if n.From != nil {
		d.line(depth+1, "from")
		d.node(n.From, depth+2)
	}
	if n.Where != nil {
		d.line(depth+1, "where")
		d.node(n.Where, depth+2)
	}
	if len(n.GroupBy) > 0 {
		d.line(depth+1, "group-by")
		for _, g := range n.GroupBy {
			d.node(g, depth+2)
		}
	}
	if len(n.OrderBy) > 0 {
		d.line(depth+1, "order-by")
		d.orderings(n.OrderBy, depth+2)
	}
	if n.Skip != nil {
		d.line(depth+1, "skip")
		d.node(n.Skip, depth+2)
	}
	if n.Take != nil {
		d.line(depth+1, "take")
		d.node(n.Take, depth+2)
	}
}

func (d *describer) orderings(list []Ordering, depth int) {
	for _, o := range list {
		if o.Desc {
			d.line(depth, "desc")
		} else {
			d.line(depth, "asc")
		}
		d.node(o.Expr, depth+1)
	}
}

func qualified(schema, name string) string {
	if schema == "" {
		return name
	}
	return schema + "." + name
}
