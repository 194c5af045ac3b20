package translate

import (
	"fmt"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
)

// ----------------------------------------------------------------------------
//
// Partial evaluation folds every part of a query description that does not
// depend on a source row into a literal, before the description is bound to
// columns.
//
// Nomination walks the tree in post order and gives each node one of two
// states:
//
//  1. local: the node can be computed in process right now (literals,
//     captured variables, and operators over local children)
//
//  2. remote: the node depends on a row (field references, relation
//     aggregates, sub-queries) and must become SQL
//
// Remote is monotonic upward: a node with any remote child is remote even
// if its own kind could be folded. This is what stops folding across a
// column boundary, e.g. lower(u.Email) stays a SQL call although lower on
// its own is computable.
//
// The maximal local nodes (local nodes whose parent is remote, or the root)
// are the candidates. PartialEval replaces each candidate with a Value.
//
// ----------------------------------------------------------------------------

// Nominate returns the maximal locally evaluable sub-expressions of e.
// Sub-queries are not entered.
func Nominate(e queryir.Expr) map[queryir.Expr]bool {
	local := make(map[queryir.Expr]bool)
	markLocal(e, local)

	candidates := make(map[queryir.Expr]bool)
	var collect func(queryir.Expr)
	collect = func(n queryir.Expr) {
		if n == nil {
			return
		}
		if local[n] {
			candidates[n] = true
			return
		}
		for _, c := range queryir.Children(n) {
			collect(c)
		}
	}
	collect(e)
	return candidates
}

// markLocal records the local nodes of e and reports whether e is local.
func markLocal(e queryir.Expr, local map[queryir.Expr]bool) bool {
	if e == nil {
		return true
	}
	allLocal := true
	for _, c := range queryir.Children(e) {
		if !markLocal(c, local) {
			allLocal = false
		}
	}

	var kindLocal bool
	switch x := e.(type) {
	case *queryir.Field, *queryir.Aggregate, *queryir.AnyOf:
		kindLocal = false
	case *queryir.In:
		kindLocal = x.Sub == nil
	default:
		kindLocal = true
	}

	if kindLocal && allLocal {
		local[e] = true
		return true
	}
	return false
}

// PartialEval replaces every maximal local sub-expression of e with a
// folded Value. Evaluation failures are FOLD_FAILED errors.
func PartialEval(e queryir.Expr) (queryir.Expr, error) {
	if e == nil {
		return nil, nil
	}
	candidates := Nominate(e)
	return fold(e, candidates)
}

func fold(e queryir.Expr, candidates map[queryir.Expr]bool) (queryir.Expr, error) {
	if candidates[e] {
		if v, ok := e.(*queryir.Value); ok {
			return v, nil
		}
		val, err := evalLocal(e)
		if err != nil {
			return nil, &Error{Code: ErrCodeFoldFailed, Message: fmt.Sprintf("evaluate %T", e), Err: err}
		}
		return &queryir.Value{V: val}, nil
	}

	rec := func(c queryir.Expr) (queryir.Expr, error) {
		if c == nil {
			return nil, nil
		}
		return fold(c, candidates)
	}

	switch x := e.(type) {
	case *queryir.Field, *queryir.Value, *queryir.Var:
		return e, nil
	case *queryir.Binary:
		l, err := rec(x.Left)
		if err != nil {
			return nil, err
		}
		r, err := rec(x.Right)
		if err != nil {
			return nil, err
		}
		if l == x.Left && r == x.Right {
			return x, nil
		}
		return &queryir.Binary{Op: x.Op, Left: l, Right: r}, nil
	case *queryir.Not:
		o, err := rec(x.Operand)
		if err != nil || o == x.Operand {
			return x, err
		}
		return &queryir.Not{Operand: o}, nil
	case *queryir.IsNull:
		o, err := rec(x.Operand)
		if err != nil || o == x.Operand {
			return x, err
		}
		return &queryir.IsNull{Operand: o}, nil
	case *queryir.Call:
		args, changed, err := foldList(x.Args, candidates)
		if err != nil || !changed {
			return x, err
		}
		return &queryir.Call{Func: x.Func, Args: args}, nil
	case *queryir.Local:
		args, changed, err := foldList(x.Args, candidates)
		if err != nil || !changed {
			return x, err
		}
		return &queryir.Local{Name: x.Name, Fn: x.Fn, Args: args}, nil
	case *queryir.In:
		o, err := rec(x.Operand)
		if err != nil {
			return nil, err
		}
		values, changed, err := foldList(x.Values, candidates)
		if err != nil {
			return nil, err
		}
		if o == x.Operand && !changed {
			return x, nil
		}
		return &queryir.In{Operand: o, Values: values, Sub: x.Sub}, nil
	case *queryir.Aggregate:
		arg, err := rec(x.Arg)
		if err != nil {
			return nil, err
		}
		filter, err := rec(x.Filter)
		if err != nil {
			return nil, err
		}
		if arg == x.Arg && filter == x.Filter {
			return x, nil
		}
		out := *x
		out.Arg, out.Filter = arg, filter
		return &out, nil
	case *queryir.AnyOf:
		filter, err := rec(x.Filter)
		if err != nil || filter == x.Filter {
			return x, err
		}
		return &queryir.AnyOf{Source: x.Source, Relation: x.Relation, Filter: filter}, nil
	case *queryir.Cond:
		test, err := rec(x.Test)
		if err != nil {
			return nil, err
		}
		then, err := rec(x.Then)
		if err != nil {
			return nil, err
		}
		els, err := rec(x.Else)
		if err != nil {
			return nil, err
		}
		if test == x.Test && then == x.Then && els == x.Else {
			return x, nil
		}
		return &queryir.Cond{Test: test, Then: then, Else: els}, nil
	default:
		return nil, unsupported("expression %T", e)
	}
}

func foldList(list []queryir.Expr, candidates map[queryir.Expr]bool) ([]queryir.Expr, bool, error) {
	out := make([]queryir.Expr, len(list))
	changed := false
	for i, e := range list {
		f, err := fold(e, candidates)
		if err != nil {
			return nil, false, err
		}
		out[i] = f
		if f != e {
			changed = true
		}
	}
	return out, changed, nil
}

// evalLocal computes a local expression in process.
func evalLocal(e queryir.Expr) (any, error) {
	switch x := e.(type) {
	case *queryir.Value:
		return x.V, nil
	case *queryir.Var:
		if x.Get == nil {
			return nil, fmt.Errorf("var %q has no getter", x.Name)
		}
		return x.Get(), nil
	case *queryir.Binary:
		op, err := binaryOp(x.Op)
		if err != nil {
			return nil, err
		}
		l, err := evalLocal(x.Left)
		if err != nil {
			return nil, err
		}
		r, err := evalLocal(x.Right)
		if err != nil {
			return nil, err
		}
		return EvalBinary(op, l, r)
	case *queryir.Not:
		v, err := evalLocal(x.Operand)
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("not needs a boolean, got %T", v)
		}
		return !b, nil
	case *queryir.IsNull:
		v, err := evalLocal(x.Operand)
		if err != nil {
			return nil, err
		}
		return IsNil(v), nil
	case *queryir.Call:
		args, err := evalList(x.Args)
		if err != nil {
			return nil, err
		}
		return EvalFunction(x.Func, args)
	case *queryir.Local:
		args, err := evalList(x.Args)
		if err != nil {
			return nil, err
		}
		if x.Fn == nil {
			return nil, fmt.Errorf("local %q has no function", x.Name)
		}
		return x.Fn(args)
	case *queryir.In:
		v, err := evalLocal(x.Operand)
		if err != nil {
			return nil, err
		}
		values, err := evalList(x.Values)
		if err != nil {
			return nil, err
		}
		for _, candidate := range values {
			if IsNil(v) || IsNil(candidate) {
				continue
			}
			if c, err := Compare(v, candidate); err == nil && c == 0 {
				return true, nil
			}
		}
		return false, nil
	case *queryir.Cond:
		test, err := evalLocal(x.Test)
		if err != nil {
			return nil, err
		}
		if b, _ := test.(bool); b {
			return evalLocal(x.Then)
		}
		return evalLocal(x.Else)
	default:
		return nil, fmt.Errorf("%T is not locally evaluable", e)
	}
}

func evalList(list []queryir.Expr) ([]any, error) {
	out := make([]any, len(list))
	for i, e := range list {
		v, err := evalLocal(e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// binaryOp maps a description operator to its IR operator.
func binaryOp(op queryir.Op) (ir.BinaryOp, error) {
	switch op {
	case queryir.OpEq:
		return ir.OpEq, nil
	case queryir.OpNe:
		return ir.OpNe, nil
	case queryir.OpLt:
		return ir.OpLt, nil
	case queryir.OpLe:
		return ir.OpLe, nil
	case queryir.OpGt:
		return ir.OpGt, nil
	case queryir.OpGe:
		return ir.OpGe, nil
	case queryir.OpAnd:
		return ir.OpAnd, nil
	case queryir.OpOr:
		return ir.OpOr, nil
	case queryir.OpAdd:
		return ir.OpAdd, nil
	case queryir.OpSub:
		return ir.OpSub, nil
	case queryir.OpMul:
		return ir.OpMul, nil
	case queryir.OpDiv:
		return ir.OpDiv, nil
	case queryir.OpMod:
		return ir.OpMod, nil
	case queryir.OpConcat:
		return ir.OpConcat, nil
	}
	return 0, unsupported("operator %q", op)
}
