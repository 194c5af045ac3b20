package provider

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"sync/atomic"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
)

// Sequence is the lazy result of a query. Its command runs when All is
// first enumerated; a Sequence can be enumerated once.
type Sequence[T any] struct {
	p        *Provider
	compiled *Compiled
	used     atomic.Bool
}

// CreateQuery compiles q and returns its rows as a sequence of T.
// Queries with a single-value result operator are rejected; use Execute.
func CreateQuery[T any](p *Provider, q *queryir.Query) (*Sequence[T], error) {
	c, err := p.Compile(q)
	if err != nil {
		return nil, err
	}
	if c.Projection.Aggregator != nil {
		return nil, fmt.Errorf("create query: result %q is a single value, use Execute", q.Result)
	}
	return &Sequence[T]{p: p, compiled: c}, nil
}

// Compiled returns the compiled command and projection.
func (s *Sequence[T]) Compiled() *Compiled {
	return s.compiled
}

// All runs the command and yields one T per row. Enumeration stops at the
// first error. A second call yields ErrAlreadyEnumerated.
func (s *Sequence[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if !s.used.CompareAndSwap(false, true) {
			yield(zero, ErrAlreadyEnumerated)
			return
		}
		for v, err := range s.p.rows(ctx, s.compiled, reflect.TypeFor[T]()) {
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(as[T](v), nil) {
				return
			}
		}
	}
}

// Collect enumerates the sequence into a slice.
func (s *Sequence[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for v, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// rows runs c and yields shaped values of type want.
func (p *Provider) rows(ctx context.Context, c *Compiled, want reflect.Type) iter.Seq2[reflect.Value, error] {
	return func(yield func(reflect.Value, error) bool) {
		if p.conn == nil {
			yield(reflect.Value{}, fmt.Errorf("provider has no connection"))
			return
		}
		p.logger.Debug("query executing", "command", c.Command.ID.String())

		rows, err := p.conn.Query(ctx, c.Command)
		if err != nil {
			yield(reflect.Value{}, fmt.Errorf("query: %w", err))
			return
		}
		defer rows.Close()

		m := newMaterializer(c.Projection)
		n := 0
		for rows.Next() {
			row, err := m.scan(rows)
			if err != nil {
				yield(reflect.Value{}, err)
				return
			}
			v, err := m.shape(row, want)
			if err != nil {
				yield(reflect.Value{}, fmt.Errorf("materialize row %d: %w", n, err))
				return
			}
			n++
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(reflect.Value{}, fmt.Errorf("read rows: %w", err))
			return
		}
		p.logger.Debug("query finished", "command", c.Command.ID.String(), "rows", n)
	}
}

// Execute compiles and runs a query with a single-value result operator
// (first, single, count, any and their defaults) and returns its value.
func Execute[T any](ctx context.Context, p *Provider, q *queryir.Query) (T, error) {
	var zero T
	c, err := p.Compile(q)
	if err != nil {
		return zero, err
	}
	agg := c.Projection.Aggregator
	if agg == nil {
		return zero, ErrNotAggregate
	}

	var (
		first reflect.Value
		n     int
	)
	for v, err := range p.rows(ctx, c, reflect.TypeFor[T]()) {
		if err != nil {
			return zero, err
		}
		n++
		if n == 1 {
			first = v
		}
		if n > 1 && (agg.Kind == ir.AggregatorSingle || agg.Kind == ir.AggregatorSingleOrDefault) {
			return zero, ErrMoreThanOne
		}
		if agg.Kind == ir.AggregatorFirst || agg.Kind == ir.AggregatorFirstOrDefault {
			break
		}
	}

	if n == 0 {
		if agg.Kind == ir.AggregatorFirst || agg.Kind == ir.AggregatorSingle {
			return zero, ErrNoElements
		}
		return zero, nil
	}
	return as[T](first), nil
}

// as unwraps v; a nil interface value becomes the zero T.
func as[T any](v reflect.Value) T {
	out, _ := v.Interface().(T)
	return out
}
