package rewrite

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/projector"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/translate"
)

type customer struct {
	ID     int64      `db:"id,pk,identity"`
	Email  string     `db:"email"`
	Nick   *string    `db:"nick"`
	Orders []purchase `db:",rel,key=ID,fk=CustomerID"`
}

func (customer) TableName() string { return "customers" }

type purchase struct {
	ID         int64 `db:"id,pk,identity"`
	CustomerID int64 `db:"customer_id"`
	Total      int64 `db:"total"`
}

func (purchase) TableName() string { return "purchases" }

var (
	customerType = reflect.TypeFor[customer]()
	purchaseType = reflect.TypeFor[purchase]()
	stringType   = reflect.TypeFor[string]()
	intType      = reflect.TypeFor[int]()
)

var errUnmapped = errors.New("unmapped")

type storageTypes map[reflect.Type]string

func (s storageTypes) StorageType(t reflect.Type) (string, error) {
	if name, ok := s[t]; ok {
		return name, nil
	}
	return "", errUnmapped
}

var testTypes = storageTypes{
	int64Type:  "INTEGER",
	intType:    "INTEGER",
	stringType: "TEXT",
}

func compile(t *testing.T, pl Pipeline, q *queryir.Query) *ir.Projection {
	t.Helper()
	p, err := translate.New(mapping.NewRegistry()).Translate(q)
	require.NoError(t, err)
	out, err := pl.Run(p)
	require.NoError(t, err)
	return out
}

func native() Pipeline {
	return Pipeline{Capabilities: Capabilities{NativeOffset: true}, Types: testTypes}
}

func emulated() Pipeline {
	return Pipeline{Types: testTypes}
}

func columnNames(s *ir.Select) []string {
	var names []string
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	return names
}

func col(a ir.Alias, name string) *ir.Column {
	return &ir.Column{Type: int64Type, Alias: a, Name: name}
}

func TestPipeline_SimplePredicate(t *testing.T) {
	p := compile(t, native(), &queryir.Query{
		From:  customerType,
		As:    "c",
		Where: queryir.Eq(queryir.F("c", "Email"), queryir.V("a@x.io")),
	})

	table, ok := p.Select.From.(*ir.Table)
	require.True(t, ok, "passthrough select is inlined")
	assert.Equal(t, "customers", table.Name)
	assert.Equal(t, []string{"id", "email", "nick"}, columnNames(p.Select))

	where := p.Select.Where.(*ir.Binary)
	assert.Equal(t, table.Alias, where.Left.(*ir.Column).Alias)
	param := where.Right.(*ir.Parameter)
	assert.Equal(t, "p0", param.Name)
	assert.Equal(t, "a@x.io", param.Value)
	assert.Equal(t, "TEXT", param.StorageType)
}

func testQueries() map[string]*queryir.Query {
	return map[string]*queryir.Query{
		"predicate": {
			From:  customerType,
			As:    "c",
			Where: queryir.Eq(queryir.F("c", "Email"), queryir.V("a@x.io")),
		},
		"paging": {
			From:    customerType,
			As:      "c",
			OrderBy: []queryir.Order{{Expr: queryir.F("c", "ID")}},
			Skip:    queryir.V(10),
			Take:    queryir.V(5),
		},
		"distinct paging": {
			From:     customerType,
			As:       "c",
			Select:   []queryir.Selection{{Expr: queryir.F("c", "Email")}},
			Distinct: true,
			OrderBy:  []queryir.Order{{Expr: queryir.F("c", "Email")}},
			Skip:     queryir.V(2),
		},
		"relation aggregate": {
			From: customerType,
			As:   "c",
			Select: []queryir.Selection{
				{Name: "Email", Expr: queryir.F("c", "Email")},
				{Name: "Orders", Expr: queryir.Count("c", "Orders")},
			},
		},
		"apply": {
			From: customerType,
			As:   "c",
			Joins: []queryir.Join{{
				Kind: queryir.JoinApply,
				As:   "p",
				Sub: &queryir.Query{
					From:  purchaseType,
					As:    "p",
					Where: queryir.Eq(queryir.F("p", "CustomerID"), queryir.F("c", "ID")),
				},
			}},
			Select: []queryir.Selection{
				{Name: "Email", Expr: queryir.F("c", "Email")},
				{Name: "Total", Expr: queryir.F("p", "Total")},
			},
		},
		"count": {
			From:   customerType,
			As:     "c",
			Where:  queryir.Gt(queryir.F("c", "ID"), queryir.V(3)),
			Result: queryir.ResultCount,
		},
		"any of": {
			From: customerType,
			As:   "c",
			Where: &queryir.AnyOf{
				Source:   "c",
				Relation: "Orders",
				Filter:   queryir.Gt(queryir.F("Orders", "Total"), queryir.V(100)),
			},
		},
	}
}

func TestPipeline_IsIdempotent(t *testing.T) {
	for name, q := range testQueries() {
		for _, pl := range []Pipeline{native(), emulated()} {
			t.Run(name, func(t *testing.T) {
				once := compile(t, pl, q)
				twice, err := pl.Run(once)
				require.NoError(t, err)
				assert.Equal(t, ir.Describe(once), ir.Describe(twice))
			})
		}
	}
}

func TestPipeline_AliasesStayUnique(t *testing.T) {
	for name, q := range testQueries() {
		t.Run(name, func(t *testing.T) {
			p := compile(t, emulated(), q)
			seen := make(map[ir.Alias]bool)
			for _, a := range ir.Sources(p.Select) {
				assert.False(t, seen[a], "alias %s declared twice", a)
				seen[a] = true
			}
		})
	}
}

func TestPipeline_NativeOffsetKeepsPaging(t *testing.T) {
	p := compile(t, native(), testQueries()["paging"])
	assert.Equal(t, int64(10), p.Select.Skip.(*ir.Constant).Value)
	assert.Equal(t, int64(5), p.Select.Take.(*ir.Constant).Value)
	assert.IsType(t, &ir.Table{}, p.Select.From)
}

func TestPipeline_RowNumberPaging(t *testing.T) {
	p := compile(t, emulated(), testQueries()["paging"])

	outer := p.Select
	assert.Nil(t, outer.Skip)
	assert.Nil(t, outer.Take)
	assert.Equal(t, []string{"id", "email", "nick"}, columnNames(outer))

	rows := outer.From.(*ir.Select)
	rn, ok := rows.Column(projector.RowNumberColumn)
	require.True(t, ok)
	assert.IsType(t, &ir.RowNumber{}, rn.Expr)
	assert.False(t, rows.HasOrderBy(), "ordering moves into the row number")
	assert.IsType(t, &ir.Table{}, rows.From)

	between := outer.Where.(*ir.Between)
	assert.Equal(t, int64(11), between.Lower.(*ir.Constant).Value)
	assert.Equal(t, int64(15), between.Upper.(*ir.Constant).Value)
	require.Len(t, outer.OrderBy, 1)
	assert.Equal(t, projector.RowNumberColumn, outer.OrderBy[0].Expr.(*ir.Column).Name)
}

func TestPipeline_RowNumberPagingWithoutTake(t *testing.T) {
	q := testQueries()["paging"]
	q.Take = nil
	p := compile(t, emulated(), q)

	gt := p.Select.Where.(*ir.Binary)
	assert.Equal(t, ir.OpGt, gt.Op)
	assert.Equal(t, int64(10), gt.Right.(*ir.Constant).Value, "paging bounds stay literal")
}

func TestPipeline_DistinctPagingNumbersOutputRows(t *testing.T) {
	p := compile(t, emulated(), testQueries()["distinct paging"])

	rows := p.Select.From.(*ir.Select)
	distinct := rows.From.(*ir.Select)
	assert.True(t, distinct.Distinct)
	rn, _ := rows.Column(projector.RowNumberColumn)
	order := rn.Expr.(*ir.RowNumber).OrderBy
	require.Len(t, order, 1)
	assert.Equal(t, distinct.Alias, order[0].Expr.(*ir.Column).Alias)
}

func TestPipeline_RelationAggregateBecomesGroupColumn(t *testing.T) {
	p := compile(t, native(), testQueries()["relation aggregate"])

	assert.True(t, p.Select.HasGroupBy(), "grouped select is the root")
	join := p.Select.From.(*ir.Join)
	assert.Equal(t, ir.JoinLeft, join.Kind)
	assert.False(t, ir.Any(p.Select, func(e ir.Expr) bool {
		_, ok := e.(*ir.Scalar)
		return ok
	}), "no correlated sub-query remains")

	var aggs []string
	for _, c := range p.Select.Columns {
		if _, ok := c.Expr.(*ir.Aggregate); ok {
			aggs = append(aggs, c.Name)
		}
	}
	assert.Equal(t, []string{"agg0"}, aggs)

	n := p.Projector.(*ir.New)
	orders := n.Bindings[1].Expr.(*ir.Column)
	assert.Equal(t, p.Select.Alias, orders.Alias)
	assert.Equal(t, "agg0", orders.Name)
}

func TestPipeline_ApplyBecomesJoin(t *testing.T) {
	p := compile(t, native(), testQueries()["apply"])

	join := p.Select.From.(*ir.Join)
	assert.Equal(t, ir.JoinInner, join.Kind)
	assert.Equal(t, "purchases", join.Right.(*ir.Table).Name)
	cond := join.Condition.(*ir.Binary)
	assert.Equal(t, "customer_id", cond.Left.(*ir.Column).Name)
	assert.Equal(t, join.Left.(*ir.Table).Alias, cond.Right.(*ir.Column).Alias)
}

func TestPipeline_CorrelatedApplyStays(t *testing.T) {
	p := compile(t, native(), &queryir.Query{
		From: customerType,
		As:   "c",
		Joins: []queryir.Join{{
			Kind: queryir.JoinApply,
			As:   "p",
			Sub: &queryir.Query{
				From:    purchaseType,
				As:      "p",
				Where:   queryir.Eq(queryir.F("p", "CustomerID"), queryir.F("c", "ID")),
				OrderBy: []queryir.Order{{Expr: queryir.F("p", "Total"), Desc: true}},
				Take:    queryir.V(1),
			},
		}},
		Select: []queryir.Selection{
			{Name: "Email", Expr: queryir.F("c", "Email")},
			{Name: "Total", Expr: queryir.F("p", "Total")},
		},
	})
	join := p.Select.From.(*ir.Join)
	assert.Equal(t, ir.JoinCrossApply, join.Kind, "a paged right side cannot be decorrelated")
}

func TestPipeline_CrossJoinWithEqualityBecomesInner(t *testing.T) {
	p := compile(t, native(), &queryir.Query{
		From:  customerType,
		As:    "c",
		Joins: []queryir.Join{{Kind: queryir.JoinCross, From: purchaseType, As: "p"}},
		Where: queryir.Eq(queryir.F("p", "CustomerID"), queryir.F("c", "ID")),
		Select: []queryir.Selection{
			{Name: "Email", Expr: queryir.F("c", "Email")},
			{Name: "Total", Expr: queryir.F("p", "Total")},
		},
	})
	join := p.Select.From.(*ir.Join)
	assert.Equal(t, ir.JoinInner, join.Kind)
	assert.Nil(t, p.Select.Where)
}

func TestPipeline_CountOverTable(t *testing.T) {
	p := compile(t, native(), testQueries()["count"])
	require.Len(t, p.Select.Columns, 1)
	assert.IsType(t, &ir.Aggregate{}, p.Select.Columns[0].Expr)
	assert.IsType(t, &ir.Table{}, p.Select.From)
	assert.IsType(t, &ir.Parameter{}, p.Select.Where.(*ir.Binary).Right)
}

func TestMerge_FilterMovesIntoSource(t *testing.T) {
	p := compile(t, native(), &queryir.Query{
		Sub:   &queryir.Query{From: customerType, As: "x", Where: queryir.Gt(queryir.F("x", "ID"), queryir.V(3))},
		As:    "c",
		Where: queryir.Eq(queryir.F("c", "Email"), queryir.V("a@x.io")),
	})
	assert.IsType(t, &ir.Table{}, p.Select.From)
	assert.Len(t, ir.SplitAnd(p.Select.Where), 2)
}

func TestMerge_FilterStaysOutsidePaging(t *testing.T) {
	p := compile(t, native(), &queryir.Query{
		Sub: &queryir.Query{
			From:    customerType,
			As:      "x",
			OrderBy: []queryir.Order{{Expr: queryir.F("x", "ID")}},
			Take:    queryir.V(5),
		},
		As:    "c",
		Where: queryir.Eq(queryir.F("c", "Email"), queryir.V("a@x.io")),
	})
	paged, ok := p.Select.From.(*ir.Select)
	require.True(t, ok, "filter after take is not merged")
	assert.NotNil(t, paged.Take)
	assert.NotNil(t, p.Select.Where)
}

func TestUnusedColumns(t *testing.T) {
	tbl := &ir.Table{Alias: ir.NewAlias(), Name: "customers"}
	inner := &ir.Select{
		Alias: ir.NewAlias(),
		Columns: []ir.ColumnDecl{
			{Name: "id", Expr: col(tbl.Alias, "id")},
			{Name: "email", Expr: col(tbl.Alias, "email")},
		},
		From: tbl,
	}
	outer := &ir.Select{
		Alias:   ir.NewAlias(),
		Columns: []ir.ColumnDecl{{Name: "email", Expr: col(inner.Alias, "email")}},
		From:    inner,
	}
	proj := &ir.Projection{Select: outer, Projector: col(outer.Alias, "email")}

	out, err := UnusedColumns(proj)
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, columnNames(out.Select.From.(*ir.Select)))

	again, err := UnusedColumns(out)
	require.NoError(t, err)
	assert.Same(t, out, again, "no change returns the input")

	distinct := inner.WithDistinct(true)
	proj = &ir.Projection{Select: outer.WithFrom(distinct), Projector: proj.Projector}
	out, err = UnusedColumns(proj)
	require.NoError(t, err)
	assert.Same(t, proj, out, "DISTINCT keeps every column")
}

func TestUnusedColumns_KeepsOneColumn(t *testing.T) {
	tbl := &ir.Table{Alias: ir.NewAlias(), Name: "customers"}
	inner := &ir.Select{
		Alias: ir.NewAlias(),
		Columns: []ir.ColumnDecl{
			{Name: "id", Expr: col(tbl.Alias, "id")},
			{Name: "email", Expr: col(tbl.Alias, "email")},
		},
		From: tbl,
	}
	outer := &ir.Select{
		Alias:   ir.NewAlias(),
		Columns: []ir.ColumnDecl{{Name: "c0", Expr: &ir.Aggregate{Type: int64Type, Kind: ir.AggCount}}},
		From:    inner,
	}
	out, err := UnusedColumns(&ir.Projection{Select: outer, Projector: col(outer.Alias, "c0")})
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, columnNames(out.Select.From.(*ir.Select)))
}

func TestRedundantColumns(t *testing.T) {
	tbl := &ir.Table{Alias: ir.NewAlias(), Name: "customers"}
	sel := &ir.Select{
		Alias: ir.NewAlias(),
		Columns: []ir.ColumnDecl{
			{Name: "a", Expr: col(tbl.Alias, "id")},
			{Name: "b", Expr: col(tbl.Alias, "id")},
		},
		From: tbl,
	}
	out, err := RedundantColumns(&ir.Projection{Select: sel, Projector: col(sel.Alias, "b")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, columnNames(out.Select))
	assert.Equal(t, "a", out.Projector.(*ir.Column).Name)
}

func TestAggregateSubqueries_FallsBackOutOfScope(t *testing.T) {
	tbl := &ir.Table{Alias: ir.NewAlias(), Name: "purchases"}
	fallback := &ir.Scalar{Type: int64Type, Select: &ir.Select{
		Alias:   ir.NewAlias(),
		Columns: []ir.ColumnDecl{{Name: "c0", Expr: &ir.Aggregate{Type: int64Type, Kind: ir.AggCount}}},
		From:    tbl,
	}}
	sel := &ir.Select{
		Alias: ir.NewAlias(),
		Columns: []ir.ColumnDecl{{Name: "n", Expr: &ir.AggregateSubquery{
			GroupByAlias:     ir.NewAlias(),
			AggregateInGroup: &ir.Aggregate{Type: int64Type, Kind: ir.AggCount},
			Subquery:         fallback,
		}}},
	}
	out, err := AggregateSubqueries(&ir.Projection{Select: sel, Projector: col(sel.Alias, "n")})
	require.NoError(t, err)
	assert.Same(t, fallback, out.Select.Columns[0].Expr)
}

func TestSkipToRowNumber_DistinctOrderingMustBeSelected(t *testing.T) {
	tbl := &ir.Table{Alias: ir.NewAlias(), Name: "customers"}
	sel := &ir.Select{
		Alias:    ir.NewAlias(),
		Columns:  []ir.ColumnDecl{{Name: "email", Expr: col(tbl.Alias, "email")}},
		From:     tbl,
		Distinct: true,
		OrderBy:  []ir.Ordering{{Expr: col(tbl.Alias, "id")}},
		Skip:     ir.Int64(1),
	}
	_, err := SkipToRowNumber(&ir.Projection{Select: sel, Projector: col(sel.Alias, "email")})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeUnsupported))
}

func TestSkipToRowNumber_GroupedOrderingIsExposed(t *testing.T) {
	tbl := &ir.Table{Alias: ir.NewAlias(), Name: "purchases"}
	key := col(tbl.Alias, "customer_id")
	total := &ir.Aggregate{Type: int64Type, Kind: ir.AggSum, Arg: col(tbl.Alias, "total")}
	sel := &ir.Select{
		Alias:   ir.NewAlias(),
		Columns: []ir.ColumnDecl{{Name: "customer_id", Expr: key}},
		From:    tbl,
		GroupBy: []ir.Expr{key},
		OrderBy: []ir.Ordering{{Expr: total, Desc: true}},
		Skip:    ir.Int64(5),
	}
	out, err := SkipToRowNumber(&ir.Projection{Select: sel, Projector: col(sel.Alias, "customer_id")})
	require.NoError(t, err)

	rows := out.Select.From.(*ir.Select)
	grouped := rows.From.(*ir.Select)
	assert.Equal(t, []string{"customer_id", "ord"}, columnNames(grouped))
	rn, _ := rows.Column(projector.RowNumberColumn)
	order := rn.Expr.(*ir.RowNumber).OrderBy[0]
	assert.True(t, order.Desc)
	assert.Equal(t, "ord", order.Expr.(*ir.Column).Name)
}

func TestParameterize(t *testing.T) {
	tbl := &ir.Table{Alias: ir.NewAlias(), Name: "customers"}
	id := col(tbl.Alias, "id")
	sel := &ir.Select{
		Alias:   ir.NewAlias(),
		Columns: []ir.ColumnDecl{{Name: "id", Expr: id}},
		From:    tbl,
		Where: ir.And(
			ir.Compare(ir.OpGt, id, ir.Int64(3)),
			&ir.In{Expr: id, Values: []ir.Expr{ir.Int64(7), ir.Int64(9)}},
		),
		Take: ir.Int64(10),
	}
	proj := &ir.Projection{Select: sel, Projector: col(sel.Alias, "id")}

	out, err := Parameterize(testTypes)(proj)
	require.NoError(t, err)
	terms := ir.SplitAnd(out.Select.Where)
	gt := terms[0].(*ir.Binary).Right.(*ir.Parameter)
	assert.Equal(t, "p0", gt.Name)
	assert.Equal(t, "INTEGER", gt.StorageType)
	in := terms[1].(*ir.In)
	assert.Equal(t, "p1", in.Values[0].(*ir.Parameter).Name)
	assert.Equal(t, "p2", in.Values[1].(*ir.Parameter).Name)
	assert.IsType(t, &ir.Constant{}, out.Select.Take, "limits stay literal")

	again, err := Parameterize(testTypes)(out)
	require.NoError(t, err)
	assert.Same(t, out, again)

	_, err = Parameterize(storageTypes{})(proj)
	assert.ErrorIs(t, err, errUnmapped)
}

type point struct{ X, Y int }

func TestParameterize_UnmappedValueFails(t *testing.T) {
	tbl := &ir.Table{Alias: ir.NewAlias(), Name: "customers"}
	email := &ir.Column{Type: stringType, Alias: tbl.Alias, Name: "email", StorageType: "varchar"}
	sel := &ir.Select{
		Alias:   ir.NewAlias(),
		Columns: []ir.ColumnDecl{{Name: "email", Expr: email}},
		From:    tbl,
		Where:   ir.Compare(ir.OpEq, email, ir.Const(point{1, 2})),
	}
	proj := &ir.Projection{Select: sel, Projector: email}

	_, err := Parameterize(testTypes)(proj)
	assert.ErrorIs(t, err, errUnmapped, "the column's storage type does not cover the value")

	mapped := *sel
	mapped.Where = ir.Compare(ir.OpEq, email, ir.Const("a@x.io"))
	out, err := Parameterize(testTypes)(&ir.Projection{Select: &mapped, Projector: email})
	require.NoError(t, err)
	prm := out.Select.Where.(*ir.Binary).Right.(*ir.Parameter)
	assert.Equal(t, "varchar", prm.StorageType)
}

func TestParameterize_NestedLiterals(t *testing.T) {
	tbl := &ir.Table{Alias: ir.NewAlias(), Name: "customers"}
	nick := &ir.Column{Type: stringType, Alias: tbl.Alias, Name: "nick"}
	email := &ir.Column{Type: stringType, Alias: tbl.Alias, Name: "email"}
	coalesce := &ir.Function{Type: stringType, Name: ir.FuncCoalesce, Args: []ir.Expr{nick, ir.Const("none")}}
	concat := &ir.Binary{Type: stringType, Op: ir.OpConcat, Left: email, Right: ir.Const("-x")}
	sel := &ir.Select{
		Alias:   ir.NewAlias(),
		Columns: []ir.ColumnDecl{{Name: "email", Expr: email}},
		From:    tbl,
		Where: ir.And(
			ir.Compare(ir.OpEq, coalesce, ir.Const("ann")),
			ir.And(
				ir.Compare(ir.OpEq, nick, concat),
				ir.Compare(ir.OpEq, ir.Int64(1), ir.Int64(1)),
			),
		),
	}
	proj := &ir.Projection{Select: sel, Projector: email}

	out, err := Parameterize(testTypes)(proj)
	require.NoError(t, err)

	var values []any
	ir.Walk(out.Select.Where, func(n ir.Expr) bool {
		if prm, ok := n.(*ir.Parameter); ok {
			values = append(values, prm.Value)
		}
		return true
	})
	assert.ElementsMatch(t, []any{"none", "ann", "-x"}, values)

	terms := ir.SplitAnd(out.Select.Where)
	require.Len(t, terms, 3)
	literalOnly := terms[2].(*ir.Binary)
	assert.IsType(t, &ir.Constant{}, literalOnly.Left, "literal-only comparisons stay literal")
	assert.IsType(t, &ir.Constant{}, literalOnly.Right)

	again, err := Parameterize(testTypes)(out)
	require.NoError(t, err)
	assert.Same(t, out, again)
}

func TestTrace(t *testing.T) {
	p, err := translate.New(mapping.NewRegistry()).Translate(testQueries()["predicate"])
	require.NoError(t, err)

	steps, out, err := native().Trace(p)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, "UnusedColumns", steps[0].Pass)
	assert.Equal(t, "Parameterize", steps[len(steps)-1].Pass)
	assert.Equal(t, ir.Describe(out), steps[len(steps)-1].Tree)
}

func TestRun_RejectsNil(t *testing.T) {
	_, err := native().Run(nil)
	assert.True(t, IsCode(err, ErrCodeUnsupported))
}
