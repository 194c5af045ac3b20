package ir

import (
	"reflect"

	"github.com/roach88/relq/internal/mapping"
)

// Expr is a node in the relational expression tree.
//
// This is a sealed interface - only types in this package implement it.
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Table is a reference to a stored table.
type Table struct {
	Alias  Alias
	Entity *mapping.EntityMapping
	Schema string
	Name   string
}

// ColumnDecl declares one output column of a select.
type ColumnDecl struct {
	Name        string
	Expr        Expr
	StorageType string
}

// Ordering is one ORDER BY term.
type Ordering struct {
	Expr Expr
	Desc bool
}

// Select is an aliased SELECT layer.
//
// Semantics:
//
//	SELECT [DISTINCT] <columns> FROM <from> WHERE <where>
//	GROUP BY <group by> ORDER BY <order by> OFFSET <skip> LIMIT <take>
//
// Reverse flips every ordering direction when the select is rendered or
// paged. From may be nil for a select that evaluates scalar expressions only.
type Select struct {
	Alias    Alias
	Columns  []ColumnDecl
	From     Expr // *Table, *Select, *Join or nil
	Where    Expr
	OrderBy  []Ordering
	GroupBy  []Expr
	Distinct bool
	Skip     Expr
	Take     Expr
	Reverse  bool
}

// Column references a column declared by the table or select with Alias.
type Column struct {
	Type        reflect.Type
	StorageType string
	Alias       Alias
	Name        string
}

// JoinKind enumerates join flavours.
type JoinKind int

const (
	JoinInner JoinKind = iota + 1
	JoinLeft
	JoinCross
	// JoinCrossApply evaluates Right once per Left row; Right may reference Left.
	JoinCrossApply
	// JoinOuterApply is JoinCrossApply that keeps Left rows without matches.
	JoinOuterApply
)

func (k JoinKind) String() string {
	switch k {
	case JoinInner:
		return "INNER JOIN"
	case JoinLeft:
		return "LEFT JOIN"
	case JoinCross:
		return "CROSS JOIN"
	case JoinCrossApply:
		return "CROSS APPLY"
	case JoinOuterApply:
		return "OUTER APPLY"
	default:
		return "JOIN?"
	}
}

// Join combines two sources.
type Join struct {
	Kind      JoinKind
	Left      Expr
	Right     Expr
	Condition Expr // nil for cross joins and applies
}

// Scalar is a subquery producing a single value.
type Scalar struct {
	Type   reflect.Type
	Select *Select
}

// Exists is an EXISTS (subquery) test.
type Exists struct {
	Select *Select
}

// In tests membership in a subquery or a literal list.
// Exactly one of Select and Values is set.
type In struct {
	Expr   Expr
	Select *Select
	Values []Expr
}

// AggregateSubquery is an aggregate over a group that can either be
// computed as an extra column of the grouped select named by GroupByAlias,
// or, when that select is not in scope, as the correlated Subquery.
type AggregateSubquery struct {
	GroupByAlias     Alias
	AggregateInGroup Expr
	Subquery         *Scalar
}

// AggregateKind enumerates SQL aggregate functions.
type AggregateKind int

const (
	AggCount AggregateKind = iota + 1
	AggSum
	AggMin
	AggMax
	AggAvg
)

func (k AggregateKind) String() string {
	switch k {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	case AggAvg:
		return "AVG"
	default:
		return "AGG?"
	}
}

// Aggregate is an aggregate function call. Arg nil means COUNT(*).
type Aggregate struct {
	Type     reflect.Type
	Kind     AggregateKind
	Arg      Expr
	Distinct bool
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpEq BinaryOp = iota + 1
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpConcat
)

// IsComparison reports whether op compares two values.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// IsLogical reports whether op is AND or OR.
func (op BinaryOp) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

func (op BinaryOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpConcat:
		return "||"
	default:
		return "?"
	}
}

// Binary applies a binary operator.
type Binary struct {
	Type  reflect.Type
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota + 1
	OpNeg
)

// Unary applies a unary operator.
type Unary struct {
	Type    reflect.Type
	Op      UnaryOp
	Operand Expr
}

// Constant is a literal value. Parameterization replaces constants
// compared against columns with *Parameter nodes.
type Constant struct {
	Type  reflect.Type
	Value any
}

// Parameter is a named command parameter.
type Parameter struct {
	Name        string
	Type        reflect.Type
	StorageType string
	Value       any
}

// Function is a SQL scalar function call (LOWER, LENGTH, COALESCE, ...).
// Name is dialect neutral; the formatter maps it to dialect syntax.
type Function struct {
	Type reflect.Type
	Name string
	Args []Expr
}

// IsNull tests Expr IS NULL.
type IsNull struct {
	Expr Expr
}

// Between tests Lower <= Expr <= Upper.
type Between struct {
	Expr  Expr
	Lower Expr
	Upper Expr
}

// Conditional is CASE WHEN Test THEN IfTrue ELSE IfFalse END.
type Conditional struct {
	Type    reflect.Type
	Test    Expr
	IfTrue  Expr
	IfFalse Expr
}

// RowNumber is ROW_NUMBER() OVER (ORDER BY ...).
type RowNumber struct {
	OrderBy []Ordering
}

// RowsAffected is the dialect's "rows affected by the last statement"
// pseudo-expression.
type RowsAffected struct{}

// AggregatorKind selects how a projection's rows become the final result.
type AggregatorKind int

const (
	// AggregatorFirst takes the first row and fails on an empty result.
	AggregatorFirst AggregatorKind = iota + 1
	// AggregatorFirstOrDefault takes the first row or the zero value.
	AggregatorFirstOrDefault
	// AggregatorSingle requires exactly one row.
	AggregatorSingle
	// AggregatorSingleOrDefault requires at most one row.
	AggregatorSingleOrDefault
)

// Aggregator reduces the materialized row sequence to a single value.
type Aggregator struct {
	Kind AggregatorKind
}

// Projection is a compiled query: rows come from Select and each row is
// shaped by Projector. Aggregator is nil for sequence results.
type Projection struct {
	Select     *Select
	Projector  Expr
	Aggregator *Aggregator
}

// MemberBinding assigns Expr to a member of a New node.
type MemberBinding struct {
	Member string
	Expr   Expr
}

// New constructs a struct (or map) value on the client.
//
// For entity construction Entity is set and Bindings name mapped members;
// nested inline value objects are themselves *New nodes.
type New struct {
	Type     reflect.Type
	Entity   *mapping.EntityMapping
	Bindings []MemberBinding
}

// ClientFunc is a function evaluated in process after materialization.
type ClientFunc func(args []any) (any, error)

// ClientCall invokes Fn on the client with the evaluated Args.
// Client calls never appear in generated SQL.
type ClientCall struct {
	Type reflect.Type
	Name string
	Fn   ClientFunc
	Args []Expr
}

func (*Table) exprNode()             {}
func (*Select) exprNode()            {}
func (*Column) exprNode()            {}
func (*Join) exprNode()              {}
func (*Scalar) exprNode()            {}
func (*Exists) exprNode()            {}
func (*In) exprNode()                {}
func (*AggregateSubquery) exprNode() {}
func (*Aggregate) exprNode()         {}
func (*Binary) exprNode()            {}
func (*Unary) exprNode()             {}
func (*Constant) exprNode()          {}
func (*Parameter) exprNode()         {}
func (*Function) exprNode()          {}
func (*IsNull) exprNode()            {}
func (*Between) exprNode()           {}
func (*Conditional) exprNode()       {}
func (*RowNumber) exprNode()         {}
func (*RowsAffected) exprNode()      {}
func (*Projection) exprNode()        {}
func (*New) exprNode()               {}
func (*ClientCall) exprNode()        {}

var (
	boolType  = reflect.TypeFor[bool]()
	int64Type = reflect.TypeFor[int64]()
)

// TypeOf returns the Go type of the value an expression produces, or nil
// for source nodes (tables, selects, joins, projections).
func TypeOf(e Expr) reflect.Type {
	switch n := e.(type) {
	case *Column:
		return n.Type
	case *Scalar:
		return n.Type
	case *Exists, *In, *IsNull, *Between:
		return boolType
	case *AggregateSubquery:
		return n.Subquery.Type
	case *Aggregate:
		return n.Type
	case *Binary:
		return n.Type
	case *Unary:
		return n.Type
	case *Constant:
		return n.Type
	case *Parameter:
		return n.Type
	case *Function:
		return n.Type
	case *Conditional:
		return n.Type
	case *RowNumber, *RowsAffected:
		return int64Type
	case *New:
		return n.Type
	case *ClientCall:
		return n.Type
	default:
		return nil
	}
}
