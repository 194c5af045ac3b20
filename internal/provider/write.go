package provider

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
)

// ConflictStrategy resolves an optimistic concurrency conflict. mine is
// the entity the caller tried to write, stored the current row (nil when
// it was deleted). It returns the entity to write instead, or an error to
// give up; returning nil, nil abandons the write without error.
type ConflictStrategy[T any] func(ctx context.Context, mine, stored *T) (*T, error)

// maxConflictRounds bounds how often one write re-runs a strategy.
const maxConflictRounds = 3

// Insert writes entity and copies storage-generated values (identities,
// computed columns) back into it.
func Insert[T any](ctx context.Context, p *Provider, entity *T) error {
	em, err := p.entity(reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	cmd, err := querysql.FormatInsert(p.dialect, em, reflect.ValueOf(entity))
	if err != nil {
		return fmt.Errorf("insert %s: %w", em.Name, err)
	}
	if err := p.insert(ctx, em, cmd, reflect.ValueOf(entity).Elem()); err != nil {
		return fmt.Errorf("insert %s: %w", em.Name, err)
	}
	return nil
}

func (p *Provider) insert(ctx context.Context, em *mapping.EntityMapping, cmd *querysql.Command, v reflect.Value) error {
	if p.conn == nil {
		return errors.New("provider has no connection")
	}
	p.logger.Debug("insert", "command", cmd.ID.String(), "entity", em.Name)

	if cmd.Returning {
		rows, err := p.conn.Query(ctx, cmd)
		if err != nil {
			return err
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return err
			}
			return errors.New("insert returned no row")
		}
		vals := make([]any, len(cmd.Variables))
		dest := make([]any, len(vals))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		for i, variable := range cmd.Variables {
			if err := setMember(em, v, variable.Member, vals[i]); err != nil {
				return err
			}
		}
		return rows.Err()
	}

	res, err := p.conn.Exec(ctx, cmd)
	if err != nil {
		return err
	}
	for _, variable := range cmd.Variables {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read %s: %w", variable.Member, err)
		}
		if err := setMember(em, v, variable.Member, id); err != nil {
			return err
		}
	}
	return nil
}

// Update writes entity's columns. When the row's version no longer
// matches (or the row is gone) resolve decides what to write instead; a
// nil resolve reports *ConflictError. On success a numeric version member
// is advanced in entity.
func Update[T any](ctx context.Context, p *Provider, entity *T, resolve ConflictStrategy[T]) error {
	return write(ctx, p, "update", entity, resolve, querysql.FormatUpdate)
}

// Delete removes entity's row, with the same conflict handling as Update.
func Delete[T any](ctx context.Context, p *Provider, entity *T, resolve ConflictStrategy[T]) error {
	return write(ctx, p, "delete", entity, resolve, querysql.FormatDelete)
}

type formatWrite func(*querysql.Dialect, *mapping.EntityMapping, reflect.Value) (*querysql.Command, error)

func write[T any](ctx context.Context, p *Provider, op string, entity *T, resolve ConflictStrategy[T], format formatWrite) error {
	em, err := p.entity(reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	if p.conn == nil {
		return errors.New("provider has no connection")
	}

	current := entity
	for round := 0; ; round++ {
		cmd, err := format(p.dialect, em, reflect.ValueOf(current))
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, em.Name, err)
		}
		p.logger.Debug(op, "command", cmd.ID.String(), "entity", em.Name, "round", round)

		n, err := p.execCount(ctx, cmd)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, em.Name, err)
		}
		if n > 0 {
			if current != entity {
				*entity = *current
			}
			if op == "update" {
				bumpVersion(em, reflect.ValueOf(entity).Elem())
			}
			return nil
		}

		stored, err := Reload(ctx, p, current)
		if err != nil {
			return fmt.Errorf("%s %s: reload: %w", op, em.Name, err)
		}
		conflict := &ConflictError{
			Entity: em.Name,
			Op:     op,
			Kind:   ConflictChanged,
			Key:    keyValues(em, reflect.ValueOf(current).Elem()),
		}
		if stored == nil {
			conflict.Kind = ConflictDeleted
		} else {
			conflict.Stored = stored
		}
		p.logger.Info("write conflict", "entity", em.Name, "op", op, "kind", string(conflict.Kind), "round", round)

		if resolve == nil || round+1 >= maxConflictRounds {
			return conflict
		}
		next, err := resolve(ctx, current, stored)
		if err != nil {
			conflict.Err = err
			return conflict
		}
		if next == nil {
			return nil
		}
		current = next
	}
}

// execCount runs cmd and returns the number of rows it touched, asking
// the dialect's rows-affected expression when the driver cannot say.
func (p *Provider) execCount(ctx context.Context, cmd *querysql.Command) (int64, error) {
	res, err := p.conn.Exec(ctx, cmd)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err == nil {
		return n, nil
	}

	ra, ferr := querysql.FormatRowsAffected(p.dialect)
	if ferr != nil {
		return 0, errors.Join(err, ferr)
	}
	rows, err := p.conn.Query(ctx, ra)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, errors.New("rows affected: no row")
	}
	var count int64
	if err := rows.Scan(&count); err != nil {
		return 0, err
	}
	return count, rows.Err()
}

// Reload reads the stored row with entity's primary key, or nil when
// there is none.
func Reload[T any](ctx context.Context, p *Provider, entity *T) (*T, error) {
	em, err := p.entity(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	keys, err := em.RequireKey()
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(entity).Elem()
	terms := make([]queryir.Expr, len(keys))
	for i, k := range keys {
		terms[i] = queryir.Eq(queryir.F("e", k.Name), queryir.V(v.FieldByIndex(k.Index).Interface()))
	}
	q := &queryir.Query{
		From:   em.Type,
		As:     "e",
		Where:  queryir.And(terms...),
		Result: queryir.ResultSingleOrDefault,
	}
	return Execute[*T](ctx, p, q)
}

func (p *Provider) entity(t reflect.Type) (*mapping.EntityMapping, error) {
	em, err := p.registry.Resolve(t)
	if err != nil {
		return nil, err
	}
	if em.Table == "" {
		return nil, fmt.Errorf("%s is not mapped to a table", em.Name)
	}
	return em, nil
}

func keyValues(em *mapping.EntityMapping, v reflect.Value) []any {
	var out []any
	for _, k := range em.Keys() {
		out = append(out, v.FieldByIndex(k.Index).Interface())
	}
	return out
}

func bumpVersion(em *mapping.EntityMapping, v reflect.Value) {
	m, ok := em.VersionMember()
	if !ok {
		return
	}
	f := v.FieldByIndex(m.Index)
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f.SetInt(f.Int() + 1)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f.SetUint(f.Uint() + 1)
	}
}

// setMember assigns value to the member at a dotted path, descending
// through inline value objects.
func setMember(em *mapping.EntityMapping, v reflect.Value, path string, value any) error {
	head, rest, nested := strings.Cut(path, ".")
	m, ok := em.Member(head)
	if !ok {
		return fmt.Errorf("%s has no member %q", em.Name, head)
	}
	f, err := fieldByIndex(v, m.Index)
	if err != nil {
		return err
	}
	if nested {
		if m.Inline == nil {
			return fmt.Errorf("%s.%s is not an inline value object", em.Name, head)
		}
		return setMember(m.Inline, f, rest, value)
	}
	cv, err := convert(value, f.Type())
	if err != nil {
		return fmt.Errorf("%s.%s: %w", em.Name, path, err)
	}
	f.Set(cv)
	return nil
}
