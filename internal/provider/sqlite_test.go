package provider_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/provider"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/testutil"
)

var userType = reflect.TypeFor[testutil.User]()

func ids(users []testutil.User) []int64 {
	out := make([]int64, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

func TestSQLite_SimplePredicate(t *testing.T) {
	p := testutil.NewSQLite(t, 20)

	seq, err := provider.CreateQuery[testutil.User](p, &queryir.Query{
		From:  userType,
		Where: queryir.Eq(queryir.F("", "Email"), queryir.V(testutil.UserEmail(7))),
	})
	require.NoError(t, err)
	assert.Contains(t, seq.Compiled().Command.Text, `WHERE t0."email" = @p0`)

	users, err := seq.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)

	u := users[0]
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "User 007", u.Name)
	assert.Equal(t, int64(27), u.Age)
	require.NotNil(t, u.Nick)
	assert.Equal(t, "u7", *u.Nick)
	assert.True(t, u.CreatedAt.Equal(testutil.Epoch.Add(6*60e9)), "seventh tick of the clock, got %s", u.CreatedAt)
}

func TestSQLite_NullableMember(t *testing.T) {
	p := testutil.NewSQLite(t, 4)

	u, err := provider.Execute[testutil.User](context.Background(), p, &queryir.Query{
		From:   userType,
		Where:  queryir.Eq(queryir.F("", "ID"), queryir.V(2)),
		Result: queryir.ResultSingle,
	})
	require.NoError(t, err)
	assert.Nil(t, u.Nick)

	n, err := provider.Execute[int64](context.Background(), p, &queryir.Query{
		From:   userType,
		Where:  &queryir.IsNull{Operand: queryir.F("", "Nick")},
		Result: queryir.ResultCount,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func pagingQuery() *queryir.Query {
	return &queryir.Query{
		From:    userType,
		OrderBy: []queryir.Order{{Expr: queryir.F("", "ID")}},
		Skip:    queryir.V(10),
		Take:    queryir.V(5),
	}
}

func TestSQLite_Paging(t *testing.T) {
	for name, opts := range map[string][]provider.Option{
		"native":   nil,
		"emulated": {provider.WithEmulatedPaging()},
	} {
		t.Run(name, func(t *testing.T) {
			p := testutil.NewSQLite(t, 100, opts...)

			seq, err := provider.CreateQuery[testutil.User](p, pagingQuery())
			require.NoError(t, err)
			text := seq.Compiled().Command.Text
			if name == "native" {
				assert.Contains(t, text, "LIMIT 5 OFFSET 10")
			} else {
				assert.Contains(t, text, "ROW_NUMBER() OVER")
			}

			users, err := seq.Collect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []int64{11, 12, 13, 14, 15}, ids(users))
		})
	}
}

func TestSQLite_Reverse(t *testing.T) {
	p := testutil.NewSQLite(t, 10)

	q := pagingQuery()
	q.Skip = nil
	q.Take = queryir.V(3)
	q.Reverse = true

	seq, err := provider.CreateQuery[testutil.User](p, q)
	require.NoError(t, err)
	users, err := seq.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 9, 8}, ids(users))
}

type userOrders struct {
	Email  string
	Orders int64
}

func TestSQLite_RelationCount(t *testing.T) {
	p := testutil.NewSQLite(t, 12)

	seq, err := provider.CreateQuery[userOrders](p, &queryir.Query{
		From:  userType,
		As:    "u",
		Where: &queryir.Binary{Op: queryir.OpLe, Left: queryir.F("u", "ID"), Right: queryir.V(8)},
		Select: []queryir.Selection{
			{Name: "Email", Expr: queryir.F("u", "Email")},
			{Name: "Orders", Expr: queryir.Count("u", "Orders")},
		},
		OrderBy: []queryir.Order{{Expr: queryir.F("u", "ID")}},
	})
	require.NoError(t, err)
	assert.Contains(t, seq.Compiled().Command.Text, "GROUP BY")

	rows, err := seq.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 8)

	var counts []int64
	for i, r := range rows {
		assert.Equal(t, testutil.UserEmail(i+1), r.Email)
		counts = append(counts, r.Orders)
	}
	assert.Equal(t, []int64{1, 2, 3, 0, 1, 2, 3, 0}, counts)
}

func TestSQLite_MapRecords(t *testing.T) {
	p := testutil.NewSQLite(t, 3)

	seq, err := provider.CreateQuery[map[string]any](p, &queryir.Query{
		From: userType,
		As:   "u",
		Select: []queryir.Selection{
			{Name: "id", Expr: queryir.F("u", "ID")},
			{Name: "shout", Expr: &queryir.Call{Func: "upper", Args: []queryir.Expr{queryir.F("u", "Name")}}},
		},
		OrderBy: []queryir.Order{{Expr: queryir.F("u", "ID"), Desc: true}},
		Take:    queryir.V(1),
	})
	require.NoError(t, err)

	rows, err := seq.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0]["id"])
	assert.Equal(t, "USER 003", rows[0]["shout"])
}

func TestSQLite_CountAndAny(t *testing.T) {
	p := testutil.NewSQLite(t, 100)
	ctx := context.Background()

	n, err := provider.Execute[int64](ctx, p, &queryir.Query{
		From:   userType,
		Where:  queryir.Gt(queryir.F("", "Age"), queryir.V(50)),
		Result: queryir.ResultCount,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(18), n)

	found, err := provider.Execute[bool](ctx, p, &queryir.Query{
		From:   userType,
		Where:  queryir.Eq(queryir.F("", "Email"), queryir.V("nobody@example.com")),
		Result: queryir.ResultAny,
	})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLite_Explain(t *testing.T) {
	p := testutil.NewSQLite(t, 0)

	c, steps, err := p.Explain(pagingQuery())
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	last := steps[len(steps)-1]
	assert.Equal(t, "Parameterize", last.Pass)
	assert.Equal(t, ir.Describe(c.Projection), last.Tree)
}

func findUser(t *testing.T, p *provider.Provider, id int64) *testutil.User {
	t.Helper()
	u, err := provider.Reload(context.Background(), p, &testutil.User{ID: id})
	require.NoError(t, err)
	return u
}

func TestSQLite_InsertWritesBackIdentity(t *testing.T) {
	p := testutil.NewSQLite(t, 5)

	u := &testutil.User{Email: "new@example.com", Name: "New", CreatedAt: testutil.Epoch}
	require.NoError(t, provider.Insert(context.Background(), p, u))
	assert.Equal(t, int64(6), u.ID)

	stored := findUser(t, p, 6)
	require.NotNil(t, stored)
	assert.Equal(t, "new@example.com", stored.Email)
}

func TestSQLite_UpdateBumpsVersion(t *testing.T) {
	p := testutil.NewSQLite(t, 5)
	ctx := context.Background()

	u := findUser(t, p, 3)
	require.NotNil(t, u)
	u.Name = "Renamed"
	require.NoError(t, provider.Update(ctx, p, u, nil))
	assert.Equal(t, int64(1), u.Version)

	stored := findUser(t, p, 3)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Equal(t, int64(1), stored.Version)
}

func TestSQLite_UpdateConflict(t *testing.T) {
	p := testutil.NewSQLite(t, 5)
	ctx := context.Background()

	mine := findUser(t, p, 3)
	theirs := findUser(t, p, 3)
	theirs.Age = 99
	require.NoError(t, provider.Update(ctx, p, theirs, nil))

	mine.Name = "Mine"
	err := provider.Update(ctx, p, mine, nil)
	var ce *provider.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, provider.ConflictChanged, ce.Kind)
	assert.Equal(t, int64(1), ce.Stored.(*testutil.User).Version)

	// Merge onto the stored row and retry.
	err = provider.Update(ctx, p, mine, func(_ context.Context, mine, stored *testutil.User) (*testutil.User, error) {
		merged := *stored
		merged.Name = mine.Name
		return &merged, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine.Version)

	stored := findUser(t, p, 3)
	assert.Equal(t, "Mine", stored.Name)
	assert.Equal(t, int64(99), stored.Age)
	assert.Equal(t, int64(2), stored.Version)
}

func TestSQLite_Delete(t *testing.T) {
	p := testutil.NewSQLite(t, 5)
	ctx := context.Background()

	u := findUser(t, p, 4)
	require.NoError(t, provider.Delete(ctx, p, u, nil))
	assert.Nil(t, findUser(t, p, 4))

	err := provider.Delete(ctx, p, u, nil)
	var ce *provider.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, provider.ConflictDeleted, ce.Kind)
}
