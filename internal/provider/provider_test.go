package provider

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
)

type item struct {
	ID   int64  `db:"id,pk"`
	Name string `db:"name"`
}

func (item) TableName() string { return "items" }

// fakeConn serves canned rows and counts commands.
type fakeConn struct {
	rows     [][]any
	affected int64
	noCount  bool
	queries  []*querysql.Command
	execs    []*querysql.Command
}

func (c *fakeConn) Query(_ context.Context, cmd *querysql.Command) (Rows, error) {
	c.queries = append(c.queries, cmd)
	return &fakeRows{rows: c.rows}, nil
}

func (c *fakeConn) Exec(_ context.Context, cmd *querysql.Command) (Result, error) {
	c.execs = append(c.execs, cmd)
	return fakeResult{affected: c.affected, noCount: c.noCount}, nil
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Columns() ([]string, error) { return nil, nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *any:
			*p = row[i]
		case *int64:
			*p = row[i].(int64)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

type fakeResult struct {
	affected int64
	noCount  bool
}

func (fakeResult) LastInsertId() (int64, error) { return 0, errors.New("not supported") }

func (r fakeResult) RowsAffected() (int64, error) {
	if r.noCount {
		return 0, errors.New("not supported")
	}
	return r.affected, nil
}

func newTestProvider(conn Connection) *Provider {
	return New(mapping.NewRegistry(), querysql.SQLite, conn)
}

func itemQuery(result queryir.ResultKind) *queryir.Query {
	return &queryir.Query{From: reflect.TypeFor[item](), Result: result}
}

func TestSequence_EnumeratesOnce(t *testing.T) {
	conn := &fakeConn{rows: [][]any{{int64(1), "a"}, {int64(2), "b"}}}
	p := newTestProvider(conn)

	seq, err := CreateQuery[item](p, itemQuery(""))
	require.NoError(t, err)
	assert.Empty(t, conn.queries, "command runs on enumeration")

	items, err := seq.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []item{{1, "a"}, {2, "b"}}, items)

	_, err = seq.Collect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyEnumerated)
	assert.Len(t, conn.queries, 1)
}

func TestSequence_StopsEarly(t *testing.T) {
	conn := &fakeConn{rows: [][]any{{int64(1), "a"}, {int64(2), "b"}}}
	seq, err := CreateQuery[item](newTestProvider(conn), itemQuery(""))
	require.NoError(t, err)

	var got []item
	for v, err := range seq.All(context.Background()) {
		require.NoError(t, err)
		got = append(got, v)
		break
	}
	assert.Equal(t, []item{{1, "a"}}, got)
}

func TestCreateQuery_RejectsSingleValue(t *testing.T) {
	_, err := CreateQuery[item](newTestProvider(nil), itemQuery(queryir.ResultFirst))
	assert.ErrorContains(t, err, "use Execute")
}

func TestExecute_RejectsSequence(t *testing.T) {
	_, err := Execute[item](context.Background(), newTestProvider(&fakeConn{}), itemQuery(queryir.ResultMany))
	assert.ErrorIs(t, err, ErrNotAggregate)
}

func TestExecute_ResultOperators(t *testing.T) {
	one := [][]any{{int64(1), "a"}}
	two := [][]any{{int64(1), "a"}, {int64(2), "b"}}

	tests := []struct {
		result queryir.ResultKind
		rows   [][]any
		want   item
		err    error
	}{
		{queryir.ResultFirst, two, item{1, "a"}, nil},
		{queryir.ResultFirst, nil, item{}, ErrNoElements},
		{queryir.ResultFirstOrDefault, nil, item{}, nil},
		{queryir.ResultSingle, one, item{1, "a"}, nil},
		{queryir.ResultSingle, two, item{}, ErrMoreThanOne},
		{queryir.ResultSingle, nil, item{}, ErrNoElements},
		{queryir.ResultSingleOrDefault, nil, item{}, nil},
		{queryir.ResultSingleOrDefault, two, item{}, ErrMoreThanOne},
	}
	for _, tt := range tests {
		t.Run(string(tt.result), func(t *testing.T) {
			p := newTestProvider(&fakeConn{rows: tt.rows})
			got, err := Execute[item](context.Background(), p, itemQuery(tt.result))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecute_PointerResult(t *testing.T) {
	p := newTestProvider(&fakeConn{})
	got, err := Execute[*item](context.Background(), p, itemQuery(queryir.ResultFirstOrDefault))
	require.NoError(t, err)
	assert.Nil(t, got)

	p = newTestProvider(&fakeConn{rows: [][]any{{int64(3), "c"}}})
	got, err = Execute[*item](context.Background(), p, itemQuery(queryir.ResultFirstOrDefault))
	require.NoError(t, err)
	assert.Equal(t, &item{3, "c"}, got)
}

func TestProvider_NoConnection(t *testing.T) {
	seq, err := CreateQuery[item](newTestProvider(nil), itemQuery(""))
	require.NoError(t, err)
	_, err = seq.Collect(context.Background())
	assert.ErrorContains(t, err, "no connection")
}

func TestExecCount_FallsBackToRowsAffectedQuery(t *testing.T) {
	conn := &fakeConn{noCount: true, rows: [][]any{{int64(4)}}}
	p := newTestProvider(conn)

	n, err := p.execCount(context.Background(), &querysql.Command{Text: "DELETE FROM items"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.Len(t, conn.queries, 1)
	assert.Equal(t, "SELECT changes()", conn.queries[0].Text)
}

func TestWrite_DeletedWithoutStrategy(t *testing.T) {
	// Exec touches nothing and the reload finds nothing.
	conn := &fakeConn{affected: 0}
	p := newTestProvider(conn)

	err := Delete(context.Background(), p, &item{ID: 9}, nil)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConflictDeleted, ce.Kind)
	assert.Equal(t, "delete", ce.Op)
	assert.Equal(t, []any{int64(9)}, ce.Key)
	assert.Nil(t, ce.Stored)
}

func TestWrite_StrategyAbandons(t *testing.T) {
	conn := &fakeConn{affected: 0}
	p := newTestProvider(conn)

	calls := 0
	err := Update(context.Background(), p, &item{ID: 9, Name: "x"}, func(_ context.Context, mine, stored *item) (*item, error) {
		calls++
		assert.Nil(t, stored)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWrite_StrategyErrorIsWrapped(t *testing.T) {
	p := newTestProvider(&fakeConn{affected: 0})
	boom := errors.New("boom")

	err := Update(context.Background(), p, &item{ID: 9}, func(context.Context, *item, *item) (*item, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsConflict(err))
}

func TestWrite_StrategyRoundsAreBounded(t *testing.T) {
	conn := &fakeConn{affected: 0}
	p := newTestProvider(conn)

	calls := 0
	err := Update(context.Background(), p, &item{ID: 9}, func(_ context.Context, mine, _ *item) (*item, error) {
		calls++
		return mine, nil
	})
	assert.True(t, IsConflict(err))
	assert.Equal(t, maxConflictRounds-1, calls)
	assert.Len(t, conn.execs, maxConflictRounds)
}

func TestConvert(t *testing.T) {
	nick := "n"
	ts := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		to   reflect.Type
		want any
	}{
		{"same type", int64(3), reflect.TypeFor[int64](), int64(3)},
		{"nil to zero", nil, reflect.TypeFor[int64](), int64(0)},
		{"nil to pointer", nil, reflect.TypeFor[*string](), (*string)(nil)},
		{"value to pointer", "n", reflect.TypeFor[*string](), &nick},
		{"int to bool", int64(1), reflect.TypeFor[bool](), true},
		{"bytes to string", []byte("x"), reflect.TypeFor[string](), "x"},
		{"bytes to int", []byte("42"), reflect.TypeFor[int64](), int64(42)},
		{"bytes to float", []byte("1.5"), reflect.TypeFor[float64](), 1.5},
		{"widen int", int64(7), reflect.TypeFor[int32](), int32(7)},
		{"string to time", "2024-01-01 09:00:00+00:00", reflect.TypeFor[time.Time](), ts},
		{"to interface", int64(5), reflect.TypeFor[any](), int64(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convert(tt.in, tt.to)
			require.NoError(t, err)
			if want, ok := tt.want.(time.Time); ok {
				assert.True(t, want.Equal(got.Interface().(time.Time)))
				return
			}
			assert.Equal(t, tt.want, got.Interface())
		})
	}
}

func TestConvert_Rejects(t *testing.T) {
	_, err := convert(int64(65), reflect.TypeFor[string]())
	assert.Error(t, err)

	_, err = convert("abc", reflect.TypeFor[int64]())
	assert.Error(t, err)

	_, err = convert(nil, nil)
	assert.Error(t, err)
}

func TestSetMember_Inline(t *testing.T) {
	type addr struct {
		City string `db:"city"`
	}
	type site struct {
		ID   int64 `db:"id,pk"`
		Addr addr  `db:"addr_,inline"`
	}
	em, err := mapping.ResolveOf[site](mapping.NewRegistry())
	require.NoError(t, err)

	var s site
	require.NoError(t, setMember(em, reflect.ValueOf(&s).Elem(), "ID", int64(5)))
	require.NoError(t, setMember(em, reflect.ValueOf(&s).Elem(), "Addr.City", "Oslo"))
	assert.Equal(t, site{ID: 5, Addr: addr{City: "Oslo"}}, s)

	assert.Error(t, setMember(em, reflect.ValueOf(&s).Elem(), "Missing", 1))
}

func TestCompile_UnmappedValueType(t *testing.T) {
	type span struct{ From, To int }
	p := newTestProvider(nil)

	_, err := p.Compile(&queryir.Query{
		From:  reflect.TypeFor[item](),
		Where: queryir.Eq(queryir.F("", "Name"), queryir.V(span{1, 2})),
	})
	require.Error(t, err)
	assert.True(t, querysql.IsCode(err, querysql.ErrCodeUnmappedType), "got %v", err)

	c, err := p.Compile(&queryir.Query{
		From:  reflect.TypeFor[item](),
		Where: queryir.Eq(queryir.F("", "Name"), queryir.V("a")),
	})
	require.NoError(t, err)
	assert.NotContains(t, c.Command.Text, "'a'")
}
