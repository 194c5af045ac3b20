// Package testutil holds shared fixtures: a User/Order schema, an
// in-memory SQLite provider and deterministic seeding.
package testutil

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/provider"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/store"
)

// User is the parent fixture entity.
type User struct {
	ID        int64     `db:"id,pk,identity"`
	Email     string    `db:"email"`
	Name      string    `db:"name"`
	Age       int64     `db:"age"`
	Nick      *string   `db:"nick"`
	CreatedAt time.Time `db:"created_at"`
	Version   int64     `db:"version,version"`
	Orders    []Order   `db:",rel,key=ID,fk=UserID"`
}

func (User) TableName() string { return "users" }

// Order is the child fixture entity.
type Order struct {
	ID     int64  `db:"id,pk,identity"`
	UserID int64  `db:"user_id"`
	Total  int64  `db:"total"`
	Status string `db:"status"`
}

func (Order) TableName() string { return "orders" }

// Types names the fixture entities for query files and scenarios.
var Types = queryir.TypeMap{
	"User":  reflect.TypeFor[User](),
	"Order": reflect.TypeFor[Order](),
}

// CreateSchema creates the fixture tables.
func CreateSchema(ctx context.Context, reg *mapping.Registry, d *querysql.Dialect, s *store.Store) error {
	for _, t := range []reflect.Type{reflect.TypeFor[User](), reflect.TypeFor[Order]()} {
		em, err := reg.Resolve(t)
		if err != nil {
			return err
		}
		ddl, err := querysql.FormatCreateTable(d, em)
		if err != nil {
			return err
		}
		if err := s.Apply(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", em.Table, err)
		}
	}
	return nil
}

// UserEmail is the email of the i-th seeded user (1-based).
func UserEmail(i int) string {
	return fmt.Sprintf("user%03d@example.com", i)
}

// Seed inserts users users. User i has age 20 + i%40, a nick when i is
// odd, and i%4 orders with totals 10*j + i (j from 1). Statuses cycle
// through open, paid and shipped.
func Seed(ctx context.Context, p *provider.Provider, users int) error {
	clock := NewClock()
	statuses := []string{"open", "paid", "shipped"}
	for i := 1; i <= users; i++ {
		u := &User{
			Email:     UserEmail(i),
			Name:      fmt.Sprintf("User %03d", i),
			Age:       int64(20 + i%40),
			CreatedAt: clock.Next(),
		}
		if i%2 == 1 {
			nick := fmt.Sprintf("u%d", i)
			u.Nick = &nick
		}
		if err := provider.Insert(ctx, p, u); err != nil {
			return fmt.Errorf("seed user %d: %w", i, err)
		}
		for j := 1; j <= i%4; j++ {
			o := &Order{UserID: u.ID, Total: int64(10*j + i), Status: statuses[(i+j)%len(statuses)]}
			if err := provider.Insert(ctx, p, o); err != nil {
				return fmt.Errorf("seed order %d/%d: %w", i, j, err)
			}
		}
	}
	return nil
}

// NewSQLite opens an in-memory SQLite store with the fixture schema and
// returns a provider over it, seeded with users users.
func NewSQLite(t testing.TB, users int, opts ...provider.Option) *provider.Provider {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(store.DriverSQLite, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := mapping.NewRegistry()
	require.NoError(t, CreateSchema(ctx, reg, querysql.SQLite, s))

	p := provider.New(reg, querysql.SQLite, s, opts...)
	require.NoError(t, Seed(ctx, p, users))
	return p
}
