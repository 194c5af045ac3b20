package projector

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
)

var (
	int64Type  = reflect.TypeFor[int64]()
	stringType = reflect.TypeFor[string]()
)

func col(a ir.Alias, name string, t reflect.Type) *ir.Column {
	return &ir.Column{Type: t, Alias: a, Name: name}
}

func TestProjectColumns_ReusesSameColumn(t *testing.T) {
	inner, outer := ir.NewAlias(), ir.NewAlias()
	id := col(inner, "id", int64Type)

	rec := &ir.New{Bindings: []ir.MemberBinding{
		{Member: "A", Expr: id},
		{Member: "B", Expr: col(inner, "id", int64Type)},
	}}
	res := ProjectColumns(rec, outer, inner)

	require.Len(t, res.Columns, 1, "same alias and name is declared once")
	assert.Equal(t, "id", res.Columns[0].Name)

	out := res.Projector.(*ir.New)
	for _, b := range out.Bindings {
		c := b.Expr.(*ir.Column)
		assert.Equal(t, outer, c.Alias)
		assert.Equal(t, "id", c.Name)
	}
}

func TestProjectColumns_GeneratedAndCallerNames(t *testing.T) {
	inner, outer := ir.NewAlias(), ir.NewAlias()
	sum := &ir.Binary{Type: int64Type, Op: ir.OpAdd, Left: col(inner, "a", int64Type), Right: ir.Int64(1)}
	diff := &ir.Binary{Type: int64Type, Op: ir.OpSub, Left: col(inner, "a", int64Type), Right: ir.Int64(1)}

	res := ProjectColumns(&ir.New{Bindings: []ir.MemberBinding{
		{Member: "total", Expr: sum},
		{Member: "total", Expr: diff},
	}}, outer, inner)

	require.Len(t, res.Columns, 2)
	assert.Equal(t, "total", res.Columns[0].Name)
	assert.Equal(t, "total1", res.Columns[1].Name, "caller names get a numeric suffix on collision")

	scalar := ProjectColumns(sum, outer, inner)
	require.Len(t, scalar.Columns, 1)
	assert.Equal(t, "c0", scalar.Columns[0].Name)
}

func TestProjectColumns_ColumnNameCollision(t *testing.T) {
	left, right, outer := ir.NewAlias(), ir.NewAlias(), ir.NewAlias()
	rec := &ir.New{Bindings: []ir.MemberBinding{
		{Member: "L", Expr: col(left, "id", int64Type)},
		{Member: "R", Expr: col(right, "id", int64Type)},
	}}

	res := ProjectColumns(rec, outer, left, right)

	require.Len(t, res.Columns, 2)
	assert.Equal(t, "id", res.Columns[0].Name)
	assert.Equal(t, "id1", res.Columns[1].Name)
}

func TestProjectColumns_RowNumberNameReserved(t *testing.T) {
	inner, outer := ir.NewAlias(), ir.NewAlias()
	res := ProjectColumns(col(inner, RowNumberColumn, int64Type), outer, inner)

	require.Len(t, res.Columns, 1)
	assert.Equal(t, "_rownum1", res.Columns[0].Name)
}

func TestProjectColumns_ClientCallStaysInProjector(t *testing.T) {
	inner, outer := ir.NewAlias(), ir.NewAlias()
	email := col(inner, "email", stringType)
	call := &ir.ClientCall{Type: stringType, Name: "mask", Args: []ir.Expr{email, ir.Const("*")}}

	res := ProjectColumns(call, outer, inner)

	require.Len(t, res.Columns, 1)
	assert.Equal(t, email, res.Columns[0].Expr)

	out, ok := res.Projector.(*ir.ClientCall)
	require.True(t, ok, "client calls are never declared as columns")
	assert.Equal(t, outer, out.Args[0].(*ir.Column).Alias)
	assert.Equal(t, ir.Const("*"), out.Args[1], "bare constants need no column")
}

func TestProjectColumns_OuterReferencesUntouched(t *testing.T) {
	inner, outerScope, outer := ir.NewAlias(), ir.NewAlias(), ir.NewAlias()
	cond := ir.Compare(ir.OpEq, col(inner, "user_id", int64Type), col(outerScope, "id", int64Type))

	res := ProjectColumns(cond, outer, inner)

	require.Len(t, res.Columns, 1)
	assert.Equal(t, "user_id", res.Columns[0].Name)
	b := res.Projector.(*ir.Binary)
	assert.Equal(t, outer, b.Left.(*ir.Column).Alias)
	assert.Equal(t, outerScope, b.Right.(*ir.Column).Alias)
}

func TestProject_ReusesExistingDeclarations(t *testing.T) {
	inner, outer := ir.NewAlias(), ir.NewAlias()
	existing := []ir.ColumnDecl{{Name: "email", Expr: col(inner, "email", stringType)}}

	res := Project(col(inner, "email", stringType), outer, existing, inner)

	require.Len(t, res.Columns, 1)
	assert.Equal(t, "email", res.Projector.(*ir.Column).Name)
}

func TestAffinityOf(t *testing.T) {
	a := ir.NewAlias()
	email := col(a, "email", stringType)

	cases := []struct {
		name string
		expr ir.Expr
		want Affinity
	}{
		{"column", email, Server},
		{"known function", &ir.Function{Type: stringType, Name: ir.FuncLower, Args: []ir.Expr{email}}, Server},
		{"unknown function", &ir.Function{Type: stringType, Name: "soundex", Args: []ir.Expr{email}}, Client},
		{"aggregate", &ir.Aggregate{Type: int64Type, Kind: ir.AggCount}, Server},
		{"row number", &ir.RowNumber{}, Server},
		{"binary over columns", ir.Compare(ir.OpEq, email, ir.Const("x")), Server},
		{"client call", &ir.ClientCall{Name: "f", Args: []ir.Expr{email}}, Client},
		{"binary over client call", ir.Compare(ir.OpEq, &ir.ClientCall{Name: "f"}, ir.Const("x")), Client},
		{"new", &ir.New{}, Client},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AffinityOf(tc.expr))
		})
	}
}
