package provider

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/translate"
)

// materializer shapes the rows of one compiled projection.
type materializer struct {
	root   ir.Alias
	index  map[string]int
	width  int
	shaper ir.Expr
}

func newMaterializer(p *ir.Projection) *materializer {
	m := &materializer{
		root:   p.Select.Alias,
		index:  make(map[string]int, len(p.Select.Columns)),
		width:  len(p.Select.Columns),
		shaper: p.Projector,
	}
	for i, c := range p.Select.Columns {
		m.index[c.Name] = i
	}
	return m
}

// scan reads the current row.
func (m *materializer) scan(rows Rows) ([]any, error) {
	row := make([]any, m.width)
	dest := make([]any, m.width)
	for i := range row {
		dest[i] = &row[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return row, nil
}

// shape evaluates the projector for row and converts the result to want.
func (m *materializer) shape(row []any, want reflect.Type) (reflect.Value, error) {
	v, err := m.eval(m.shaper, row, want)
	if err != nil {
		return reflect.Value{}, err
	}
	return convert(v, want)
}

// eval evaluates a client-side expression. want is a hint for record
// construction and may be nil.
func (m *materializer) eval(e ir.Expr, row []any, want reflect.Type) (any, error) {
	switch n := e.(type) {
	case *ir.Column:
		if n.Alias != m.root {
			return nil, fmt.Errorf("projector references column %s outside the result", n.Name)
		}
		i, ok := m.index[n.Name]
		if !ok {
			return nil, fmt.Errorf("result has no column %q", n.Name)
		}
		if n.Type == nil {
			return row[i], nil
		}
		v, err := convert(row[i], n.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", n.Name, err)
		}
		return v.Interface(), nil
	case *ir.Constant:
		return n.Value, nil
	case *ir.Parameter:
		return n.Value, nil
	case *ir.New:
		return m.build(n, row, want)
	case *ir.ClientCall:
		args, err := m.evalList(n.Args, row)
		if err != nil {
			return nil, err
		}
		v, err := n.Fn(args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Name, err)
		}
		return v, nil
	case *ir.Binary:
		l, err := m.eval(n.Left, row, nil)
		if err != nil {
			return nil, err
		}
		r, err := m.eval(n.Right, row, nil)
		if err != nil {
			return nil, err
		}
		return translate.EvalBinary(n.Op, l, r)
	case *ir.Unary:
		v, err := m.eval(n.Operand, row, nil)
		if err != nil {
			return nil, err
		}
		if n.Op == ir.OpNot {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("not needs a boolean, got %T", v)
			}
			return !b, nil
		}
		return translate.EvalBinary(ir.OpSub, int64(0), v)
	case *ir.Function:
		args, err := m.evalList(n.Args, row)
		if err != nil {
			return nil, err
		}
		return translate.EvalFunction(n.Name, args)
	case *ir.IsNull:
		v, err := m.eval(n.Expr, row, nil)
		if err != nil {
			return nil, err
		}
		return translate.IsNil(v), nil
	case *ir.Conditional:
		t, err := m.eval(n.Test, row, nil)
		if err != nil {
			return nil, err
		}
		if b, _ := t.(bool); b {
			return m.eval(n.IfTrue, row, want)
		}
		return m.eval(n.IfFalse, row, want)
	default:
		return nil, fmt.Errorf("%T cannot be evaluated on the client", e)
	}
}

func (m *materializer) evalList(list []ir.Expr, row []any) ([]any, error) {
	out := make([]any, len(list))
	for i, e := range list {
		v, err := m.eval(e, row, nil)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

var mapType = reflect.TypeFor[map[string]any]()

// build constructs an entity, a struct record or a map record.
func (m *materializer) build(n *ir.New, row []any, want reflect.Type) (any, error) {
	t := n.Type
	if t == nil {
		t = want
		for t != nil && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t == nil || t.Kind() != reflect.Struct {
			t = mapType
		}
	}

	if t.Kind() == reflect.Map {
		rec := make(map[string]any, len(n.Bindings))
		for _, b := range n.Bindings {
			v, err := m.eval(b.Expr, row, nil)
			if err != nil {
				return nil, err
			}
			rec[b.Member] = v
		}
		return rec, nil
	}

	out := reflect.New(t).Elem()
	for _, b := range n.Bindings {
		field, err := m.field(out, n, b.Member)
		if err != nil {
			return nil, err
		}
		v, err := m.eval(b.Expr, row, field.Type())
		if err != nil {
			return nil, err
		}
		cv, err := convert(v, field.Type())
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name(), b.Member, err)
		}
		field.Set(cv)
	}
	return out.Interface(), nil
}

func (m *materializer) field(out reflect.Value, n *ir.New, member string) (reflect.Value, error) {
	if n.Entity != nil {
		mm, ok := n.Entity.Member(member)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%s has no member %q", n.Entity.Name, member)
		}
		return fieldByIndex(out, mm.Index)
	}
	f := out.FieldByName(member)
	if !f.IsValid() || !f.CanSet() {
		return reflect.Value{}, fmt.Errorf("%s has no settable field %q", out.Type(), member)
	}
	return f, nil
}

// fieldByIndex walks an index path, allocating nil embedded pointers.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, error) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field index %v crosses %s", index, v.Type())
		}
		v = v.Field(x)
	}
	return v, nil
}

var (
	scannerType = reflect.TypeFor[sql.Scanner]()
	timeType    = reflect.TypeFor[time.Time]()
)

// convert turns a driver or client value into a value of type t.
//
// Drivers differ in what they return for one storage type: SQLite reports
// booleans as integers, MySQL text-protocol results arrive as []byte.
// Types implementing sql.Scanner convert themselves.
func convert(v any, t reflect.Type) (reflect.Value, error) {
	if t == nil {
		if v == nil {
			return reflect.Value{}, fmt.Errorf("untyped null")
		}
		return reflect.ValueOf(v), nil
	}
	if translate.IsNil(v) {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return rv, nil
	}

	switch {
	case t.Kind() == reflect.Interface:
		if rv.Type().Implements(t) {
			out := reflect.New(t).Elem()
			out.Set(rv)
			return out, nil
		}
		return reflect.Value{}, fmt.Errorf("%s does not implement %s", rv.Type(), t)
	case t.Kind() == reflect.Pointer:
		if rv.Kind() == reflect.Pointer {
			rv = rv.Elem()
		}
		e, err := convert(rv.Interface(), t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(e)
		return p, nil
	case reflect.PointerTo(t).Implements(scannerType):
		p := reflect.New(t)
		if err := p.Interface().(sql.Scanner).Scan(v); err != nil {
			return reflect.Value{}, err
		}
		return p.Elem(), nil
	}

	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Type() == t {
		return rv, nil
	}
	if b, ok := rv.Interface().([]byte); ok && t.Kind() != reflect.Slice {
		rv = reflect.ValueOf(string(b))
	}

	switch t.Kind() {
	case reflect.Bool:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return reflect.ValueOf(rv.Int() != 0).Convert(t), nil
		case reflect.String:
			b, err := strconv.ParseBool(rv.String())
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(b).Convert(t), nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Kind() == reflect.String {
			n, err := strconv.ParseInt(rv.String(), 10, 64)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(n).Convert(t), nil
		}
		if rv.Kind() == reflect.Bool {
			n := int64(0)
			if rv.Bool() {
				n = 1
			}
			return reflect.ValueOf(n).Convert(t), nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Kind() == reflect.String {
			n, err := strconv.ParseUint(rv.String(), 10, 64)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(n).Convert(t), nil
		}
	case reflect.Float32, reflect.Float64:
		if rv.Kind() == reflect.String {
			f, err := strconv.ParseFloat(rv.String(), 64)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(f).Convert(t), nil
		}
	case reflect.String:
		// Integer to string would convert through runes.
		if rv.Kind() != reflect.String {
			return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", rv.Type(), t)
		}
	case reflect.Struct:
		if t == timeType && rv.Kind() == reflect.String {
			ts, err := parseTime(rv.String())
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(ts), nil
		}
	}

	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", rv.Type(), t)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
