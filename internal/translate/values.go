package translate

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/roach88/relq/internal/ir"
)

// EvalBinary applies op to two Go values the way SQL would.
//
// Integers of any width compare and combine as int64, mixed integer and
// float operands as float64. A nil operand propagates: arithmetic and
// comparisons with NULL yield nil.
func EvalBinary(op ir.BinaryOp, left, right any) (any, error) {
	switch op {
	case ir.OpAnd, ir.OpOr:
		l, lok := left.(bool)
		r, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("%s needs boolean operands, got %T and %T", op, left, right)
		}
		if op == ir.OpAnd {
			return l && r, nil
		}
		return l || r, nil
	}

	if IsNil(left) || IsNil(right) {
		return nil, nil
	}

	if op.IsComparison() {
		c, err := Compare(left, right)
		if err != nil {
			return nil, err
		}
		switch op {
		case ir.OpEq:
			return c == 0, nil
		case ir.OpNe:
			return c != 0, nil
		case ir.OpLt:
			return c < 0, nil
		case ir.OpLe:
			return c <= 0, nil
		case ir.OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}

	if op == ir.OpConcat {
		return fmt.Sprint(left) + fmt.Sprint(right), nil
	}

	li, lInt := asInt64(left)
	ri, rInt := asInt64(right)
	if lInt && rInt {
		switch op {
		case ir.OpAdd:
			return li + ri, nil
		case ir.OpSub:
			return li - ri, nil
		case ir.OpMul:
			return li * ri, nil
		case ir.OpDiv:
			if ri == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return li / ri, nil
		case ir.OpMod:
			if ri == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return li % ri, nil
		}
	}

	lf, lNum := asFloat64(left)
	rf, rNum := asFloat64(right)
	if !lNum || !rNum {
		if ls, ok := left.(string); ok && op == ir.OpAdd {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
		return nil, fmt.Errorf("%s needs numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case ir.OpAdd:
		return lf + rf, nil
	case ir.OpSub:
		return lf - rf, nil
	case ir.OpMul:
		return lf * rf, nil
	case ir.OpDiv:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case ir.OpMod:
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unknown operator %s", op)
}

// Compare orders two non-nil values: -1, 0 or +1.
func Compare(left, right any) (int, error) {
	if li, ok := asInt64(left); ok {
		if ri, ok := asInt64(right); ok {
			return cmp(li < ri, li > ri), nil
		}
	}
	if lf, ok := asFloat64(left); ok {
		if rf, ok := asFloat64(right); ok {
			return cmp(lf < rf, lf > rf), nil
		}
	}
	switch l := left.(type) {
	case string:
		if r, ok := right.(string); ok {
			return strings.Compare(l, r), nil
		}
	case bool:
		if r, ok := right.(bool); ok {
			return cmp(!l && r, l && !r), nil
		}
	case time.Time:
		if r, ok := right.(time.Time); ok {
			return l.Compare(r), nil
		}
	}
	lv, rv := reflect.ValueOf(left), reflect.ValueOf(right)
	if lv.Kind() == reflect.String && rv.Kind() == reflect.String {
		return strings.Compare(lv.String(), rv.String()), nil
	}
	return 0, fmt.Errorf("cannot compare %T with %T", left, right)
}

func cmp(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// EvalFunction evaluates a known SQL function in process.
func EvalFunction(name string, args []any) (any, error) {
	arity, ok := ir.FunctionArity(name)
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	if arity >= 0 && len(args) != arity {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", name, arity, len(args))
	}
	if name == ir.FuncCoalesce {
		for _, a := range args {
			if !IsNil(a) {
				return a, nil
			}
		}
		return nil, nil
	}
	if IsNil(args[0]) {
		return nil, nil
	}

	switch name {
	case ir.FuncAbs:
		if i, ok := asInt64(args[0]); ok {
			if i < 0 {
				return -i, nil
			}
			return i, nil
		}
		if f, ok := asFloat64(args[0]); ok {
			return math.Abs(f), nil
		}
		return nil, fmt.Errorf("abs needs a number, got %T", args[0])
	}

	s, ok := asString(args[0])
	if !ok {
		return nil, fmt.Errorf("%s needs a string, got %T", name, args[0])
	}
	switch name {
	case ir.FuncLower:
		return strings.ToLower(s), nil
	case ir.FuncUpper:
		return strings.ToUpper(s), nil
	case ir.FuncLength:
		return int64(len([]rune(s))), nil
	case ir.FuncTrim:
		return strings.TrimSpace(s), nil
	case ir.FuncReplace:
		from, ok1 := asString(args[1])
		to, ok2 := asString(args[2])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("replace needs string arguments")
		}
		return strings.ReplaceAll(s, from, to), nil
	case ir.FuncSubstr:
		start, ok1 := asInt64(args[1])
		n, ok2 := asInt64(args[2])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("substr needs integer bounds")
		}
		runes := []rune(s)
		// SQL positions are 1-based.
		from := max(int(start)-1, 0)
		to := min(from+int(n), len(runes))
		if from >= len(runes) || to <= from {
			return "", nil
		}
		return string(runes[from:to]), nil
	}
	return nil, fmt.Errorf("unknown function %q", name)
}

// IsNil reports whether v is nil or a nil pointer, map, slice or interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func asInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func asString(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}
