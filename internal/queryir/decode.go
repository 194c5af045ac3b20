package queryir

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Types resolves entity names used in query files to Go types.
type Types interface {
	Lookup(name string) (reflect.Type, bool)
}

// TypeMap is a Types backed by a map.
type TypeMap map[string]reflect.Type

// Lookup implements Types.
func (m TypeMap) Lookup(name string) (reflect.Type, bool) {
	t, ok := m[name]
	return t, ok
}

// queryDoc is the YAML shape of a Query.
type queryDoc struct {
	From     string         `yaml:"from,omitempty"`
	Sub      *queryDoc      `yaml:"sub,omitempty"`
	As       string         `yaml:"as,omitempty"`
	Joins    []joinDoc      `yaml:"joins,omitempty"`
	Where    yaml.Node      `yaml:"where,omitempty"`
	GroupBy  []yaml.Node    `yaml:"group_by,omitempty"`
	Select   []selectionDoc `yaml:"select,omitempty"`
	Distinct bool           `yaml:"distinct,omitempty"`
	OrderBy  []orderDoc     `yaml:"order_by,omitempty"`
	Reverse  bool           `yaml:"reverse,omitempty"`
	Skip     yaml.Node      `yaml:"skip,omitempty"`
	Take     yaml.Node      `yaml:"take,omitempty"`
	Result   string         `yaml:"result,omitempty"`
}

type joinDoc struct {
	Kind string    `yaml:"kind"`
	From string    `yaml:"from,omitempty"`
	Sub  *queryDoc `yaml:"sub,omitempty"`
	As   string    `yaml:"as"`
	On   yaml.Node `yaml:"on,omitempty"`
}

type selectionDoc struct {
	Name string    `yaml:"name,omitempty"`
	Expr yaml.Node `yaml:"expr"`
}

type orderDoc struct {
	Expr yaml.Node `yaml:"expr"`
	Desc bool      `yaml:"desc,omitempty"`
}

// LoadFile reads and decodes a query file.
func LoadFile(path string, types Types, vars map[string]any) (*Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query file: %w", err)
	}
	return Decode(data, types, vars)
}

// Decode parses a YAML query description.
//
// Entity names in from clauses are resolved with types. Expressions use
// a compact form:
//
//	$u.Email                      field (source u, member Email)
//	$Email                        field of the root source
//	"a@b.com", 42, true, null     literals
//	{var: name}                   captured value from vars
//	{eq: [a, b]}                  comparison (eq ne lt le gt ge)
//	{and: [a, b, ...]}            logical (and or)
//	{add: [a, b]}                 arithmetic (add sub mul div mod concat)
//	{not: a}, {is_null: a}
//	{in: {expr: a, values: [...]}} or {in: {expr: a, query: {...}}}
//	{call: {func: lower, args: [a]}}
//	{count: {relation: u.Orders, filter: ..., arg: ...}}
//	{any: {relation: u.Orders, filter: ...}}
//	{if: {test: a, then: b, else: c}}
//
// A literal string starting with "$" is written {value: "$..."}.
// Unknown fields are rejected.
func Decode(data []byte, types Types, vars map[string]any) (*Query, error) {
	var doc queryDoc
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	d := &docReader{types: types, vars: vars}
	return d.query(&doc, nil)
}

// docReader carries decode context.
type docReader struct {
	types Types
	vars  map[string]any
}

// scope is the set of source names visible to an expression.
type scope struct {
	root  string
	names map[string]bool
}

func (s *scope) with(names ...string) *scope {
	out := &scope{root: s.root, names: make(map[string]bool, len(s.names)+len(names))}
	for n := range s.names {
		out.names[n] = true
	}
	for _, n := range names {
		out.names[n] = true
	}
	return out
}

func (d *docReader) query(doc *queryDoc, outer *scope) (*Query, error) {
	q := &Query{As: doc.As, Distinct: doc.Distinct, Reverse: doc.Reverse}

	switch {
	case doc.From != "" && doc.Sub != nil:
		return nil, fmt.Errorf("query sets both from and sub")
	case doc.From != "":
		t, err := d.entity(doc.From)
		if err != nil {
			return nil, err
		}
		q.From = t
	case doc.Sub != nil:
		sub, err := d.query(doc.Sub, nil)
		if err != nil {
			return nil, fmt.Errorf("sub: %w", err)
		}
		q.Sub = sub
	default:
		return nil, fmt.Errorf("query needs from or sub")
	}

	sc := &scope{root: doc.As, names: map[string]bool{}}
	if outer != nil {
		sc = outer.with()
		sc.root = doc.As
	}
	if doc.As != "" {
		sc.names[doc.As] = true
	}

	for i, jd := range doc.Joins {
		j := Join{Kind: JoinKind(jd.Kind), As: jd.As}
		switch j.Kind {
		case JoinInner, JoinLeft, JoinCross, JoinApply, JoinOuterApply:
		default:
			return nil, fmt.Errorf("joins[%d]: unknown kind %q", i, jd.Kind)
		}
		if jd.As == "" {
			return nil, fmt.Errorf("joins[%d]: as is required", i)
		}
		if jd.From != "" {
			t, err := d.entity(jd.From)
			if err != nil {
				return nil, fmt.Errorf("joins[%d]: %w", i, err)
			}
			j.From = t
		}
		if jd.Sub != nil {
			var correlated *scope
			if j.Kind == JoinApply || j.Kind == JoinOuterApply {
				correlated = sc
			}
			sub, err := d.query(jd.Sub, correlated)
			if err != nil {
				return nil, fmt.Errorf("joins[%d].sub: %w", i, err)
			}
			j.Sub = sub
		}
		sc = sc.with(jd.As)
		on, err := d.optExpr(&jd.On, sc)
		if err != nil {
			return nil, fmt.Errorf("joins[%d].on: %w", i, err)
		}
		j.On = on
		q.Joins = append(q.Joins, j)
	}

	var err error
	if q.Where, err = d.optExpr(&doc.Where, sc); err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	for i := range doc.GroupBy {
		g, err := d.expr(&doc.GroupBy[i], sc)
		if err != nil {
			return nil, fmt.Errorf("group_by[%d]: %w", i, err)
		}
		q.GroupBy = append(q.GroupBy, g)
	}
	for i := range doc.Select {
		e, err := d.expr(&doc.Select[i].Expr, sc)
		if err != nil {
			return nil, fmt.Errorf("select[%d]: %w", i, err)
		}
		q.Select = append(q.Select, Selection{Name: doc.Select[i].Name, Expr: e})
	}
	for i := range doc.OrderBy {
		e, err := d.expr(&doc.OrderBy[i].Expr, sc)
		if err != nil {
			return nil, fmt.Errorf("order_by[%d]: %w", i, err)
		}
		q.OrderBy = append(q.OrderBy, Order{Expr: e, Desc: doc.OrderBy[i].Desc})
	}
	if q.Skip, err = d.optExpr(&doc.Skip, sc); err != nil {
		return nil, fmt.Errorf("skip: %w", err)
	}
	if q.Take, err = d.optExpr(&doc.Take, sc); err != nil {
		return nil, fmt.Errorf("take: %w", err)
	}

	switch r := ResultKind(doc.Result); r {
	case "":
		q.Result = ResultMany
	case ResultMany, ResultFirst, ResultFirstOrDefault, ResultSingle, ResultSingleOrDefault, ResultCount, ResultAny:
		q.Result = r
	default:
		return nil, fmt.Errorf("unknown result %q", doc.Result)
	}
	return q, nil
}

func (d *docReader) entity(name string) (reflect.Type, error) {
	if d.types == nil {
		return nil, fmt.Errorf("unknown entity %q: no entity types registered", name)
	}
	t, ok := d.types.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", name)
	}
	return t, nil
}

func (d *docReader) optExpr(n *yaml.Node, sc *scope) (Expr, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	return d.expr(n, sc)
}

func (d *docReader) expr(n *yaml.Node, sc *scope) (Expr, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return d.expr(n.Alias, sc)
	case yaml.ScalarNode:
		if n.ShortTag() == "!!str" && strings.HasPrefix(n.Value, "$") {
			return d.field(n.Value[1:], sc), nil
		}
		v, err := scalar(n)
		if err != nil {
			return nil, err
		}
		return &Value{V: v}, nil
	case yaml.MappingNode:
		if len(n.Content) != 2 {
			return nil, fmt.Errorf("line %d: expression must have exactly one key", n.Line)
		}
		return d.operator(n.Content[0].Value, n.Content[1], sc)
	default:
		return nil, fmt.Errorf("line %d: unexpected expression node", n.Line)
	}
}

// field splits "u.Address.City" into a source and a member path. The
// first segment names a source only when that source is in scope.
func (d *docReader) field(ref string, sc *scope) *Field {
	head, rest, _ := strings.Cut(ref, ".")
	if sc.names[head] {
		return &Field{Source: head, Path: rest}
	}
	return &Field{Source: sc.root, Path: ref}
}

func (d *docReader) operator(key string, arg *yaml.Node, sc *scope) (Expr, error) {
	switch key {
	case "field":
		return d.field(arg.Value, sc), nil
	case "value":
		var v any
		if err := arg.Decode(&v); err != nil {
			return nil, err
		}
		return &Value{V: normalize(v)}, nil
	case "var":
		name := arg.Value
		v, ok := d.vars[name]
		if !ok {
			return nil, fmt.Errorf("line %d: undefined var %q", arg.Line, name)
		}
		return &Var{Name: name, Get: func() any { return v }}, nil
	case "eq", "ne", "lt", "le", "gt", "ge", "add", "sub", "mul", "div", "mod", "concat":
		args, err := d.list(arg, sc)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: %s takes two operands", arg.Line, key)
		}
		return &Binary{Op: Op(key), Left: args[0], Right: args[1]}, nil
	case "and", "or":
		args, err := d.list(arg, sc)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("line %d: %s needs operands", arg.Line, key)
		}
		out := args[0]
		for _, a := range args[1:] {
			out = &Binary{Op: Op(key), Left: out, Right: a}
		}
		return out, nil
	case "not":
		e, err := d.expr(arg, sc)
		if err != nil {
			return nil, err
		}
		return &Not{Operand: e}, nil
	case "is_null":
		e, err := d.expr(arg, sc)
		if err != nil {
			return nil, err
		}
		return &IsNull{Operand: e}, nil
	case "in":
		return d.in(arg, sc)
	case "call":
		return d.call(arg, sc)
	case "count", "sum", "min", "max", "avg":
		return d.aggregate(AggKind(key), arg, sc)
	case "any":
		return d.anyOf(arg, sc)
	case "if":
		return d.cond(arg, sc)
	default:
		return nil, fmt.Errorf("line %d: unknown operator %q", arg.Line, key)
	}
}

func (d *docReader) list(n *yaml.Node, sc *scope) ([]Expr, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list", n.Line)
	}
	out := make([]Expr, 0, len(n.Content))
	for _, c := range n.Content {
		e, err := d.expr(c, sc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// fields decodes a mapping argument into named sub-nodes, rejecting
// unknown keys.
func fields(n *yaml.Node, allowed ...string) (map[string]*yaml.Node, error) {
	out := make(map[string]*yaml.Node)
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null" {
		return out, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		known := false
		for _, a := range allowed {
			if a == key {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("line %d: field %s not found", n.Content[i].Line, key)
		}
		out[key] = n.Content[i+1]
	}
	return out, nil
}

func (d *docReader) in(n *yaml.Node, sc *scope) (Expr, error) {
	f, err := fields(n, "expr", "values", "query")
	if err != nil {
		return nil, err
	}
	if f["expr"] == nil {
		return nil, fmt.Errorf("line %d: in needs expr", n.Line)
	}
	operand, err := d.expr(f["expr"], sc)
	if err != nil {
		return nil, err
	}
	in := &In{Operand: operand}
	switch {
	case f["values"] != nil && f["query"] != nil:
		return nil, fmt.Errorf("line %d: in takes values or query, not both", n.Line)
	case f["values"] != nil:
		if in.Values, err = d.list(f["values"], sc); err != nil {
			return nil, err
		}
	case f["query"] != nil:
		var doc queryDoc
		if err := decodeStrict(f["query"], &doc); err != nil {
			return nil, err
		}
		if in.Sub, err = d.query(&doc, sc); err != nil {
			return nil, fmt.Errorf("in.query: %w", err)
		}
	default:
		return nil, fmt.Errorf("line %d: in needs values or query", n.Line)
	}
	return in, nil
}

func (d *docReader) call(n *yaml.Node, sc *scope) (Expr, error) {
	f, err := fields(n, "func", "args")
	if err != nil {
		return nil, err
	}
	if f["func"] == nil {
		return nil, fmt.Errorf("line %d: call needs func", n.Line)
	}
	c := &Call{Func: f["func"].Value}
	if f["args"] != nil {
		if c.Args, err = d.list(f["args"], sc); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// relation splits "u.Orders" into source u and relation Orders.
func (d *docReader) relation(ref string, sc *scope) (string, string) {
	f := d.field(ref, sc)
	return f.Source, f.Path
}

func (d *docReader) aggregate(kind AggKind, n *yaml.Node, sc *scope) (Expr, error) {
	f, err := fields(n, "relation", "arg", "filter", "distinct")
	if err != nil {
		return nil, err
	}
	agg := &Aggregate{Kind: kind}
	inner := sc
	if f["relation"] != nil {
		agg.Source, agg.Relation = d.relation(f["relation"].Value, sc)
		inner = sc.with(agg.Relation)
	}
	if f["arg"] != nil {
		if agg.Arg, err = d.expr(f["arg"], inner); err != nil {
			return nil, err
		}
	}
	if f["filter"] != nil {
		if agg.Filter, err = d.expr(f["filter"], inner); err != nil {
			return nil, err
		}
	}
	if f["distinct"] != nil {
		if err := f["distinct"].Decode(&agg.Distinct); err != nil {
			return nil, err
		}
	}
	return agg, nil
}

func (d *docReader) anyOf(n *yaml.Node, sc *scope) (Expr, error) {
	f, err := fields(n, "relation", "filter")
	if err != nil {
		return nil, err
	}
	if f["relation"] == nil {
		return nil, fmt.Errorf("line %d: any needs relation", n.Line)
	}
	a := &AnyOf{}
	a.Source, a.Relation = d.relation(f["relation"].Value, sc)
	if f["filter"] != nil {
		if a.Filter, err = d.expr(f["filter"], sc.with(a.Relation)); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (d *docReader) cond(n *yaml.Node, sc *scope) (Expr, error) {
	f, err := fields(n, "test", "then", "else")
	if err != nil {
		return nil, err
	}
	if f["test"] == nil || f["then"] == nil || f["else"] == nil {
		return nil, fmt.Errorf("line %d: if needs test, then and else", n.Line)
	}
	c := &Cond{}
	if c.Test, err = d.expr(f["test"], sc); err != nil {
		return nil, err
	}
	if c.Then, err = d.expr(f["then"], sc); err != nil {
		return nil, err
	}
	if c.Else, err = d.expr(f["else"], sc); err != nil {
		return nil, err
	}
	return c, nil
}

// decodeStrict decodes a nested node with unknown-field rejection, which
// yaml.Node.Decode does not offer.
func decodeStrict(n *yaml.Node, out any) error {
	data, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(out)
}

func scalar(n *yaml.Node) (any, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, fmt.Errorf("line %d: %w", n.Line, err)
	}
	return normalize(v), nil
}

// normalize widens YAML integers to int64 so literals match entity field
// types.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case uint64:
		return int64(x)
	default:
		return v
	}
}
