package queryir

import "fmt"

// ValidationResult contains portability analysis of a query.
//
// A portable query renders natively on every supported dialect. Queries
// outside the portable subset still compile; depending on the dialect
// they are emulated (offset paging on tsql), evaluated partly in process
// (Local calls), or rejected (apply joins on sqlite).
type ValidationResult struct {
	// IsPortable indicates the query uses only natively portable features.
	IsPortable bool

	// Warnings lists non-portable features used in the query.
	// Empty when IsPortable is true.
	Warnings []string
}

// Validate checks a query against the portable subset.
//
// Portable subset rules:
//  1. No apply joins - sqlite has no LATERAL/APPLY; the rewrite pipeline
//     turns most of them into ordinary joins, but not all
//  2. No skip - tsql pages with ROW_NUMBER emulation
//  3. No Local calls outside constant arguments - they run in process
//  4. First/Single results and paging should be ordered - otherwise the
//     chosen rows depend on the storage engine
//
// Validate is a pure function with no side effects.
func Validate(q *Query) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	v.validateQuery(q)

	return ValidationResult{
		IsPortable: len(v.warnings) == 0,
		Warnings:   v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
}

// addWarning appends a warning message.
func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q *Query) {
	if q == nil {
		v.addWarning("nil query")
		return
	}
	if q.Sub != nil {
		v.validateQuery(q.Sub)
	}

	for _, j := range q.Joins {
		if j.Kind == JoinApply || j.Kind == JoinOuterApply {
			v.addWarning("Join %q uses %s - requires LATERAL or APPLY unless it reduces to a plain join", j.As, j.Kind)
		}
		if j.Sub != nil {
			v.validateQuery(j.Sub)
		}
		v.validateExpr(j.On)
	}

	v.validateExpr(q.Where)
	for _, g := range q.GroupBy {
		v.validateExpr(g)
	}
	for _, s := range q.Select {
		v.validateExpr(s.Expr)
	}
	for _, o := range q.OrderBy {
		v.validateExpr(o.Expr)
	}

	if q.Skip != nil {
		v.addWarning("Skip - emulated with ROW_NUMBER on dialects without OFFSET")
	}
	if len(q.OrderBy) == 0 {
		switch q.Result {
		case ResultFirst, ResultFirstOrDefault:
			v.addWarning("Result %s without ordering - row choice is storage dependent", q.Result)
		}
		if q.Take != nil && q.Skip == nil {
			v.addWarning("Take without ordering - row choice is storage dependent")
		}
	}
}

func (v *validator) validateExpr(e Expr) {
	switch x := e.(type) {
	case nil, *Field, *Value, *Var:
	case *Binary:
		v.validateExpr(x.Left)
		v.validateExpr(x.Right)
	case *Not:
		v.validateExpr(x.Operand)
	case *Call:
		for _, a := range x.Args {
			v.validateExpr(a)
		}
	case *Local:
		if referencesField(x) {
			v.addWarning("Local call %q depends on columns - evaluated in process after materialization", x.Name)
		}
	case *IsNull:
		v.validateExpr(x.Operand)
	case *In:
		v.validateExpr(x.Operand)
		for _, val := range x.Values {
			v.validateExpr(val)
		}
		if x.Sub != nil {
			v.validateQuery(x.Sub)
		}
	case *Aggregate:
		v.validateExpr(x.Arg)
		v.validateExpr(x.Filter)
	case *AnyOf:
		v.validateExpr(x.Filter)
	case *Cond:
		v.validateExpr(x.Test)
		v.validateExpr(x.Then)
		v.validateExpr(x.Else)
	default:
		v.addWarning("Unknown expression type: %T - portability cannot be verified", e)
	}
}

// referencesField reports whether e depends on any source row.
func referencesField(e Expr) bool {
	found := false
	Inspect(e, func(n Expr) bool {
		switch n.(type) {
		case *Field, *Aggregate, *AnyOf:
			found = true
		}
		return !found
	})
	return found
}

// Inspect visits e pre-order, descending while visit returns true.
// Sub-queries are not entered.
func Inspect(e Expr, visit func(Expr) bool) {
	if e == nil || !visit(e) {
		return
	}
	for _, c := range Children(e) {
		Inspect(c, visit)
	}
}

// Children returns the direct sub-expressions of e, excluding
// sub-queries.
func Children(e Expr) []Expr {
	switch x := e.(type) {
	case *Binary:
		return []Expr{x.Left, x.Right}
	case *Not:
		return []Expr{x.Operand}
	case *Call:
		return x.Args
	case *Local:
		return x.Args
	case *IsNull:
		return []Expr{x.Operand}
	case *In:
		return append([]Expr{x.Operand}, x.Values...)
	case *Aggregate:
		return nonNil(x.Arg, x.Filter)
	case *AnyOf:
		return nonNil(x.Filter)
	case *Cond:
		return nonNil(x.Test, x.Then, x.Else)
	default:
		return nil
	}
}

func nonNil(list ...Expr) []Expr {
	out := list[:0:0]
	for _, e := range list {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
