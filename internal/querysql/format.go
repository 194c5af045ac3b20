package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/relq/internal/ir"
)

// Format renders a rewritten projection's select as one command.
//
// Aliases are displayed as t0, t1, ... in order of first appearance. Every
// Parameter node becomes a placeholder and an entry in Parameters;
// constants render as literals.
func Format(p *ir.Projection, d *Dialect) (*Command, error) {
	if p == nil || p.Select == nil {
		return nil, d.unsupported("nil projection")
	}
	f := newFormatter(d)
	f.selectNode(p.Select, true)
	if f.err != nil {
		return nil, f.err
	}
	return f.command(), nil
}

type formatter struct {
	d      *Dialect
	b      *strings.Builder
	names  map[ir.Alias]string
	params []Parameter
	index  map[string]int // parameter name -> position in params
	err    error
}

func newFormatter(d *Dialect) *formatter {
	return &formatter{d: d, b: new(strings.Builder), names: make(map[ir.Alias]string), index: make(map[string]int)}
}

func (f *formatter) command() *Command {
	return &Command{ID: newCommandID(), Text: f.b.String(), Parameters: f.params, Named: f.d.named}
}

func (f *formatter) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

func (f *formatter) write(parts ...string) {
	for _, s := range parts {
		f.b.WriteString(s)
	}
}

func (f *formatter) alias(a ir.Alias) string {
	if n, ok := f.names[a]; ok {
		return n
	}
	n := "t" + strconv.Itoa(len(f.names))
	f.names[a] = n
	return n
}

func (f *formatter) quote(name string) string {
	return f.d.QuoteIdentifier(name)
}

func (f *formatter) table(schema, name string) string {
	if schema == "" {
		return f.quote(name)
	}
	return f.quote(schema) + "." + f.quote(name)
}

func (f *formatter) selectNode(s *ir.Select, top bool) {
	f.write("SELECT ")
	if s.Distinct {
		f.write("DISTINCT ")
	}
	if f.d.top && s.Take != nil {
		f.write("TOP (")
		f.value(s.Take)
		f.write(") ")
	}

	if len(s.Columns) == 0 {
		f.write("1")
	}
	for i, c := range s.Columns {
		if i > 0 {
			f.write(", ")
		}
		f.value(c.Expr)
		if col, ok := c.Expr.(*ir.Column); !ok || col.Name != c.Name {
			f.write(" AS ", f.quote(c.Name))
		}
	}

	if s.From != nil {
		f.write(" FROM ")
		f.source(s.From)
	}
	if s.Where != nil {
		f.write(" WHERE ")
		f.predicate(s.Where)
	}
	if s.HasGroupBy() {
		f.write(" GROUP BY ")
		for i, g := range s.GroupBy {
			if i > 0 {
				f.write(", ")
			}
			f.value(g)
		}
	}

	// T-SQL rejects ORDER BY in a derived table unless TOP bounds it.
	order := s.EffectiveOrderBy()
	if len(order) > 0 && (top || !f.d.top || s.Take != nil) {
		f.write(" ORDER BY ")
		f.orderings(order)
	}

	f.paging(s)
}

func (f *formatter) orderings(order []ir.Ordering) {
	for i, o := range order {
		if i > 0 {
			f.write(", ")
		}
		f.value(o.Expr)
		if o.Desc {
			f.write(" DESC")
		}
	}
}

func (f *formatter) paging(s *ir.Select) {
	if f.d.top {
		if s.Skip != nil {
			f.fail(f.d.unsupported("OFFSET without row-number paging"))
		}
		return
	}
	if s.Take != nil {
		f.write(" LIMIT ")
		f.value(s.Take)
	} else if s.Skip != nil && f.d.offsetOnlyLimit != "" {
		f.write(" LIMIT ", f.d.offsetOnlyLimit)
	}
	if s.Skip != nil {
		f.write(" OFFSET ")
		f.value(s.Skip)
	}
}

func (f *formatter) source(e ir.Expr) {
	switch n := e.(type) {
	case *ir.Table:
		f.write(f.table(n.Schema, n.Name), " AS ", f.alias(n.Alias))
	case *ir.Select:
		f.write("(")
		f.selectNode(n, false)
		f.write(") AS ", f.alias(n.Alias))
	case *ir.Join:
		f.join(n)
	default:
		f.fail(f.d.unsupported(fmt.Sprintf("%T as a source", e)))
	}
}

func (f *formatter) join(j *ir.Join) {
	f.source(j.Left)
	switch j.Kind {
	case ir.JoinInner:
		f.write(" INNER JOIN ")
	case ir.JoinLeft:
		f.write(" LEFT OUTER JOIN ")
	case ir.JoinCross:
		f.write(" CROSS JOIN ")
	case ir.JoinCrossApply, ir.JoinOuterApply:
		f.apply(j)
		return
	}
	f.joinRight(j.Right)
	switch {
	case j.Condition != nil:
		f.write(" ON ")
		f.predicate(j.Condition)
	case j.Kind != ir.JoinCross:
		f.write(" ON ", f.boolPredicate(true))
	}
}

func (f *formatter) joinRight(e ir.Expr) {
	if _, nested := e.(*ir.Join); nested {
		f.write("(")
		f.source(e)
		f.write(")")
		return
	}
	f.source(e)
}

func (f *formatter) apply(j *ir.Join) {
	outer := j.Kind == ir.JoinOuterApply
	switch f.d.apply {
	case applyCrossApply:
		if outer {
			f.write(" OUTER APPLY ")
		} else {
			f.write(" CROSS APPLY ")
		}
		f.joinRight(j.Right)
	case applyLateral:
		if outer {
			f.write(" LEFT JOIN LATERAL ")
			f.joinRight(j.Right)
			f.write(" ON ", f.boolLiteral(true))
			return
		}
		f.write(" CROSS JOIN LATERAL ")
		f.joinRight(j.Right)
	default:
		f.fail(f.d.unsupported("correlated apply join"))
	}
}

// isPredicate reports whether e is a truth-valued SQL predicate rather
// than a value.
func isPredicate(e ir.Expr) bool {
	switch n := e.(type) {
	case *ir.Binary:
		return n.Op.IsComparison() || n.Op.IsLogical()
	case *ir.Unary:
		return n.Op == ir.OpNot
	case *ir.Exists, *ir.In, *ir.IsNull, *ir.Between:
		return true
	}
	return false
}

// predicate renders e where SQL expects a condition.
func (f *formatter) predicate(e ir.Expr) {
	if isPredicate(e) {
		f.expr(e)
		return
	}
	if c, ok := e.(*ir.Constant); ok {
		if b, ok := c.Value.(bool); ok && !f.d.boolValues {
			if b {
				f.write("1 = 1")
			} else {
				f.write("1 = 0")
			}
			return
		}
	}
	if !f.d.boolValues {
		f.operand(e, precComparison)
		f.write(" = 1")
		return
	}
	f.expr(e)
}

// value renders e where SQL expects a value.
func (f *formatter) value(e ir.Expr) {
	if isPredicate(e) && !f.d.boolValues {
		f.write("CASE WHEN ")
		f.expr(e)
		f.write(" THEN 1 ELSE 0 END")
		return
	}
	f.expr(e)
}

const (
	precOr = iota + 1
	precAnd
	precNot
	precComparison
	precAdditive
	precMultiplicative
	precAtom
)

func precedence(e ir.Expr) int {
	switch n := e.(type) {
	case *ir.Binary:
		switch n.Op {
		case ir.OpOr:
			return precOr
		case ir.OpAnd:
			return precAnd
		case ir.OpAdd, ir.OpSub, ir.OpConcat:
			return precAdditive
		case ir.OpMul, ir.OpDiv, ir.OpMod:
			return precMultiplicative
		default:
			return precComparison
		}
	case *ir.Unary:
		if n.Op == ir.OpNot {
			return precNot
		}
		return precAtom
	case *ir.IsNull, *ir.Between, *ir.In:
		return precComparison
	}
	return precAtom
}

// operand renders e parenthesized when it binds looser than min.
func (f *formatter) operand(e ir.Expr, min int) {
	if precedence(e) < min {
		f.write("(")
		f.expr(e)
		f.write(")")
		return
	}
	f.expr(e)
}

func (f *formatter) expr(e ir.Expr) {
	if f.err != nil {
		return
	}
	switch n := e.(type) {
	case *ir.Column:
		f.write(f.alias(n.Alias), ".", f.quote(n.Name))
	case *ir.Constant:
		f.constant(n.Value)
	case *ir.Parameter:
		f.parameter(n)
	case *ir.Binary:
		f.binary(n)
	case *ir.Unary:
		if n.Op == ir.OpNot {
			f.write("NOT ")
			f.operandPredicate(n.Operand, precNot)
			return
		}
		f.write("-")
		f.operand(n.Operand, precAtom)
	case *ir.Function:
		name, ok := f.d.functions[n.Name]
		if !ok {
			f.fail(f.d.unsupported("function " + n.Name))
			return
		}
		f.write(name, "(")
		for i, a := range n.Args {
			if i > 0 {
				f.write(", ")
			}
			f.value(a)
		}
		f.write(")")
	case *ir.Aggregate:
		f.write(n.Kind.String(), "(")
		if n.Distinct {
			f.write("DISTINCT ")
		}
		if n.Arg == nil {
			f.write("*")
		} else {
			f.value(n.Arg)
		}
		f.write(")")
	case *ir.IsNull:
		f.operand(n.Expr, precAtom)
		f.write(" IS NULL")
	case *ir.Between:
		f.operand(n.Expr, precAdditive)
		f.write(" BETWEEN ")
		f.operand(n.Lower, precAdditive)
		f.write(" AND ")
		f.operand(n.Upper, precAdditive)
	case *ir.Conditional:
		f.write("CASE WHEN ")
		f.predicate(n.Test)
		f.write(" THEN ")
		f.value(n.IfTrue)
		f.write(" ELSE ")
		f.value(n.IfFalse)
		f.write(" END")
	case *ir.RowNumber:
		f.write("ROW_NUMBER() OVER (")
		switch {
		case len(n.OrderBy) > 0:
			f.write("ORDER BY ")
			f.orderings(n.OrderBy)
		case f.d.top:
			f.write("ORDER BY (SELECT NULL)")
		}
		f.write(")")
	case *ir.RowsAffected:
		s, err := f.d.RowsAffected()
		if err != nil {
			f.fail(err)
			return
		}
		f.write(s)
	case *ir.Scalar:
		f.write("(")
		f.selectNode(n.Select, false)
		f.write(")")
	case *ir.Exists:
		f.write("EXISTS (")
		f.selectNode(n.Select, false)
		f.write(")")
	case *ir.In:
		f.in(n)
	case *ir.AggregateSubquery:
		f.expr(n.Subquery)
	default:
		f.fail(f.d.unsupported(fmt.Sprintf("%T cannot be rendered as SQL", e)))
	}
}

func (f *formatter) operandPredicate(e ir.Expr, min int) {
	if precedence(e) < min || !isPredicate(e) && !f.d.boolValues {
		f.write("(")
		f.predicate(e)
		f.write(")")
		return
	}
	f.predicate(e)
}

func (f *formatter) binary(n *ir.Binary) {
	prec := precedence(n)
	if n.Op.IsLogical() {
		f.operandPredicate(n.Left, prec)
		f.write(" ", n.Op.String(), " ")
		f.operandPredicate(n.Right, prec)
		return
	}
	if n.Op == ir.OpConcat {
		l := f.capture(func() { f.operand(n.Left, prec) })
		r := f.capture(func() { f.operand(n.Right, prec+1) })
		f.write(f.d.concat(l, r))
		return
	}
	// Comparisons do not chain; arithmetic is left-associative.
	left, right := prec, prec+1
	if n.Op.IsComparison() {
		left = prec + 1
	}
	f.operand(n.Left, left)
	f.write(" ", n.Op.String(), " ")
	f.operand(n.Right, right)
}

// capture renders into a scratch buffer and returns the text.
func (f *formatter) capture(render func()) string {
	saved := f.b
	f.b = new(strings.Builder)
	render()
	out := f.b.String()
	f.b = saved
	return out
}

func (f *formatter) in(n *ir.In) {
	if n.Select == nil && len(n.Values) == 0 {
		f.write(f.boolPredicate(false))
		return
	}
	f.operand(n.Expr, precAtom)
	f.write(" IN (")
	if n.Select != nil {
		f.selectNode(n.Select, false)
	} else {
		for i, v := range n.Values {
			if i > 0 {
				f.write(", ")
			}
			f.value(v)
		}
	}
	f.write(")")
}

func (f *formatter) boolPredicate(b bool) string {
	if b {
		return "1 = 1"
	}
	return "1 = 0"
}

func (f *formatter) boolLiteral(b bool) string {
	switch {
	case !f.d.boolValues && b:
		return "1"
	case !f.d.boolValues:
		return "0"
	case b:
		return "TRUE"
	default:
		return "FALSE"
	}
}

func (f *formatter) constant(v any) {
	switch x := v.(type) {
	case nil:
		f.write("NULL")
	case bool:
		f.write(f.boolLiteral(x))
	case string:
		f.write("'", strings.ReplaceAll(x, "'", "''"), "'")
	case int:
		f.write(strconv.Itoa(x))
	case int8, int16, int32, int64:
		f.write(fmt.Sprintf("%d", x))
	case uint, uint8, uint16, uint32, uint64:
		f.write(fmt.Sprintf("%d", x))
	case float32:
		f.write(strconv.FormatFloat(float64(x), 'g', -1, 32))
	case float64:
		f.write(strconv.FormatFloat(x, 'g', -1, 64))
	default:
		f.fail(f.d.unsupported(fmt.Sprintf("literal of type %T", v)))
	}
}

// parameter writes a placeholder. Named and numbered dialects reuse the
// entry of a repeated parameter; positional dialects bind it again under
// a derived name.
func (f *formatter) parameter(p *ir.Parameter) {
	name := p.Name
	if pos, ok := f.index[name]; ok {
		if f.d.named || f.d.numbered {
			f.write(f.d.placeholder(name, pos+1))
			return
		}
		name = ir.UniqueName(name+"_", func(n string) bool {
			_, taken := f.index[n]
			return taken
		})
	}
	f.index[name] = len(f.params)
	f.params = append(f.params, Parameter{
		Name:        name,
		Value:       p.Value,
		Direction:   Input,
		StorageType: p.StorageType,
	})
	f.write(f.d.placeholder(name, len(f.params)))
}
