package queryir

import "reflect"

// ResultKind selects the shape of a query's result.
type ResultKind string

const (
	// ResultMany returns every row (the default).
	ResultMany ResultKind = "many"
	// ResultFirst returns the first row; an empty result is an error.
	ResultFirst ResultKind = "first"
	// ResultFirstOrDefault returns the first row or the zero value.
	ResultFirstOrDefault ResultKind = "first_or_default"
	// ResultSingle requires exactly one row.
	ResultSingle ResultKind = "single"
	// ResultSingleOrDefault requires at most one row.
	ResultSingleOrDefault ResultKind = "single_or_default"
	// ResultCount returns the number of rows.
	ResultCount ResultKind = "count"
	// ResultAny reports whether any row exists.
	ResultAny ResultKind = "any"
)

// JoinKind enumerates the ways a source is combined with the sources
// before it.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinCross JoinKind = "cross"
	// JoinApply evaluates a correlated sub-query once per row on the left.
	JoinApply JoinKind = "apply"
	// JoinOuterApply is JoinApply that keeps left rows without matches.
	JoinOuterApply JoinKind = "outer_apply"
)

// Query describes one read.
//
// Semantics (clauses apply in this order):
//
//	FROM <from | sub> [AS <as>] <joins>
//	WHERE <where>
//	GROUP BY <group by>
//	SELECT [DISTINCT] <select>
//	ORDER BY <order by> (flipped when Reverse)
//	OFFSET <skip> LIMIT <take>
//	then <result>
//
// Exactly one of From and Sub is set. An empty Select projects the root
// source (the entity for an entity source).
//
// Example:
//
//	Query{
//	  From:    reflect.TypeFor[User](),
//	  Where:   Eq(F("", "Email"), V("a@b.com")),
//	  OrderBy: []Order{{Expr: F("", "ID")}},
//	  Skip:    V(10),
//	  Take:    V(5),
//	}
//
// Translates to SQL (sqlite):
//
//	SELECT t0."id", t0."email" FROM "users" AS t0
//	WHERE t0."email" = @p0 ORDER BY t0."id" LIMIT 5 OFFSET 10
type Query struct {
	From reflect.Type // entity type of the root source
	Sub  *Query       // sub-query root source
	As   string       // name of the root source

	Joins    []Join
	Where    Expr
	GroupBy  []Expr
	Select   []Selection
	Distinct bool
	OrderBy  []Order
	Reverse  bool
	Skip     Expr // must fold to an integer
	Take     Expr // must fold to an integer
	Result   ResultKind
}

// Join adds a source to a query.
//
// For JoinApply and JoinOuterApply, Sub is required and may reference the
// sources declared before it (a correlated sub-query); On must be nil.
// JoinCross takes no On. JoinInner and JoinLeft require On.
type Join struct {
	Kind JoinKind
	From reflect.Type
	Sub  *Query
	As   string
	On   Expr
}

// Selection is one projected value. A Name is required when a query
// selects more than one value.
type Selection struct {
	Name string
	Expr Expr
}

// Order is one ordering term.
type Order struct {
	Expr Expr
	Desc bool
}

// Expr is an expression in a query description.
//
// This is a sealed interface - only types in this package implement it.
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Op enumerates binary operators.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpLt     Op = "lt"
	OpLe     Op = "le"
	OpGt     Op = "gt"
	OpGe     Op = "ge"
	OpAnd    Op = "and"
	OpOr     Op = "or"
	OpAdd    Op = "add"
	OpSub    Op = "sub"
	OpMul    Op = "mul"
	OpDiv    Op = "div"
	OpMod    Op = "mod"
	OpConcat Op = "concat"
)

// IsComparison reports whether op compares two values.
func (op Op) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// AggKind enumerates aggregate functions.
type AggKind string

const (
	AggCount AggKind = "count"
	AggSum   AggKind = "sum"
	AggMin   AggKind = "min"
	AggMax   AggKind = "max"
	AggAvg   AggKind = "avg"
)

// Field references a member of a named source. An empty Path references
// the whole row.
type Field struct {
	Source string
	Path   string
}

// Value is a literal.
type Value struct {
	V any
}

// Var is a captured value read at compile time.
type Var struct {
	Name string
	Get  func() any
}

// Binary applies a binary operator.
type Binary struct {
	Op    Op
	Left  Expr
	Right Expr
}

// Not negates a boolean expression.
type Not struct {
	Operand Expr
}

// Call invokes a SQL scalar function by dialect-neutral name: lower,
// upper, length, trim, abs, coalesce, substr or replace.
type Call struct {
	Func string
	Args []Expr
}

// Local invokes a Go function. It is folded at compile time when its
// arguments are constant and evaluated after materialization otherwise;
// it never appears in SQL.
type Local struct {
	Name string
	Fn   func(args []any) (any, error)
	Args []Expr
}

// IsNull tests for SQL NULL.
type IsNull struct {
	Operand Expr
}

// In tests membership in a value list or a single-column sub-query.
// Exactly one of Values and Sub is set.
type In struct {
	Operand Expr
	Values  []Expr
	Sub     *Query
}

// Aggregate is an aggregate function.
//
// With Relation set it aggregates the child rows of a relation member of
// Source (a relation aggregate, e.g. the number of orders per user); Arg
// and Filter reference the child rows through a source named Relation.
// Without Relation it aggregates the rows of the current group in a
// grouped query. A nil Arg counts rows.
type Aggregate struct {
	Kind     AggKind
	Source   string
	Relation string
	Arg      Expr
	Filter   Expr
	Distinct bool
}

// AnyOf tests whether a relation member of Source has any child rows
// matching Filter (nil matches all).
type AnyOf struct {
	Source   string
	Relation string
	Filter   Expr
}

// Cond is a conditional expression.
type Cond struct {
	Test Expr
	Then Expr
	Else Expr
}

func (*Field) exprNode()     {}
func (*Value) exprNode()     {}
func (*Var) exprNode()       {}
func (*Binary) exprNode()    {}
func (*Not) exprNode()       {}
func (*Call) exprNode()      {}
func (*Local) exprNode()     {}
func (*IsNull) exprNode()    {}
func (*In) exprNode()        {}
func (*Aggregate) exprNode() {}
func (*AnyOf) exprNode()     {}
func (*Cond) exprNode()      {}

// F builds a Field reference.
func F(source, path string) *Field { return &Field{Source: source, Path: path} }

// V builds a literal.
func V(v any) *Value { return &Value{V: v} }

// Eq builds left = right.
func Eq(left, right Expr) *Binary { return &Binary{Op: OpEq, Left: left, Right: right} }

// Gt builds left > right.
func Gt(left, right Expr) *Binary { return &Binary{Op: OpGt, Left: left, Right: right} }

// Lt builds left < right.
func Lt(left, right Expr) *Binary { return &Binary{Op: OpLt, Left: left, Right: right} }

// And conjoins terms left to right. Nil terms are skipped.
func And(terms ...Expr) Expr {
	var out Expr
	for _, t := range terms {
		switch {
		case t == nil:
		case out == nil:
			out = t
		default:
			out = &Binary{Op: OpAnd, Left: out, Right: t}
		}
	}
	return out
}

// Count builds a relation count aggregate.
func Count(source, relation string) *Aggregate {
	return &Aggregate{Kind: AggCount, Source: source, Relation: relation}
}
