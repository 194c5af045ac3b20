package querysql

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/mapping"
)

// boundColumn is a column member together with its value on one entity.
type boundColumn struct {
	member *mapping.MemberMapping
	path   string // dotted member path from the entity root
	value  reflect.Value
}

// bindColumns reads every column member of em from v, descending into
// inline value objects.
func bindColumns(em *mapping.EntityMapping, v reflect.Value, prefix string) ([]boundColumn, error) {
	var out []boundColumn
	for _, m := range em.Members {
		if m.Relation != nil {
			continue
		}
		fv, err := v.FieldByIndexErr(m.Index)
		if err != nil {
			return nil, fmt.Errorf("read %s%s: %w", prefix, m.Name, err)
		}
		if m.Inline != nil {
			nested, err := bindColumns(m.Inline, fv, prefix+m.Name+".")
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		out = append(out, boundColumn{member: m, path: prefix + m.Name, value: fv})
	}
	return out, nil
}

func entityValue(em *mapping.EntityMapping, entity reflect.Value) (reflect.Value, error) {
	for entity.Kind() == reflect.Pointer {
		if entity.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil %s entity", em.Name)
		}
		entity = entity.Elem()
	}
	if entity.Type() != em.Type {
		return reflect.Value{}, fmt.Errorf("entity is %s, mapping describes %s", entity.Type(), em.Type)
	}
	return entity, nil
}

// writer builds one write command.
type writer struct {
	*formatter
	em   *mapping.EntityMapping
	cols []boundColumn
	vars []Variable
}

func newWriter(d *Dialect, em *mapping.EntityMapping, entity reflect.Value) (*writer, error) {
	if em.Table == "" {
		return nil, d.unsupported(em.Name + " has no table")
	}
	v, err := entityValue(em, entity)
	if err != nil {
		return nil, err
	}
	cols, err := bindColumns(em, v, "")
	if err != nil {
		return nil, err
	}
	return &writer{formatter: newFormatter(d), em: em, cols: cols}, nil
}

func (w *writer) storageType(m *mapping.MemberMapping) (string, error) {
	if m.StorageType != "" {
		return m.StorageType, nil
	}
	return w.d.StorageType(m.Type)
}

// bind writes a placeholder for c's value.
func (w *writer) bind(c boundColumn) {
	st, err := w.storageType(c.member)
	if err != nil {
		w.fail(fmt.Errorf("%s.%s: %w", w.em.Name, c.path, err))
		return
	}
	w.parameter(&ir.Parameter{
		Name:        "p" + strconv.Itoa(len(w.params)),
		Type:        c.member.Type,
		StorageType: st,
		Value:       c.value.Interface(),
	})
}

func (w *writer) keyPredicate() error {
	keys, err := w.em.RequireKey()
	if err != nil {
		return err
	}
	isKey := make(map[*mapping.MemberMapping]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	w.write(" WHERE ")
	first := true
	for _, c := range w.cols {
		if !isKey[c.member] && !c.member.Version {
			continue
		}
		if !first {
			w.write(" AND ")
		}
		first = false
		w.write(w.quote(c.member.Column), " = ")
		w.bind(c)
	}
	return nil
}

// generated lists the members storage fills in on insert.
func (w *writer) generated() []boundColumn {
	var out []boundColumn
	for _, c := range w.cols {
		m := c.member
		if !m.Identity && !m.Computed {
			continue
		}
		// Only the identity survives a LAST_INSERT_ID round trip.
		if w.d.identity == identityLastInsertID && !m.Identity {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (w *writer) variables(gen []boundColumn) error {
	for _, c := range gen {
		st, err := w.storageType(c.member)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", w.em.Name, c.path, err)
		}
		w.vars = append(w.vars, Variable{Name: c.member.Column, Member: c.path, Direction: Output, StorageType: st})
	}
	return nil
}

func (w *writer) returning(gen []boundColumn, prefix string) {
	for i, c := range gen {
		if i > 0 {
			w.write(", ")
		}
		w.write(prefix, w.quote(c.member.Column))
	}
}

func (w *writer) finish(returning bool) (*Command, error) {
	if w.err != nil {
		return nil, w.err
	}
	cmd := w.command()
	cmd.Variables = w.vars
	cmd.Returning = returning
	return cmd, nil
}

// FormatInsert renders an INSERT of entity's writable columns. Identity
// and computed members become Variables; dialects with RETURNING or
// OUTPUT read them back in the same statement, MySQL reports the identity
// through LastInsertId.
func FormatInsert(d *Dialect, em *mapping.EntityMapping, entity reflect.Value) (*Command, error) {
	w, err := newWriter(d, em, entity)
	if err != nil {
		return nil, err
	}
	gen := w.generated()
	if err := w.variables(gen); err != nil {
		return nil, err
	}

	var writable []boundColumn
	for _, c := range w.cols {
		if c.member.Writable() {
			writable = append(writable, c)
		}
	}

	w.write("INSERT INTO ", w.table(em.Schema, em.Table))
	if len(writable) > 0 {
		w.write(" (")
		for i, c := range writable {
			if i > 0 {
				w.write(", ")
			}
			w.write(w.quote(c.member.Column))
		}
		w.write(")")
	}

	returning := len(gen) > 0 && d.identity != identityLastInsertID
	if returning && d.identity == identityOutput {
		w.write(" OUTPUT ")
		w.returning(gen, "INSERTED.")
	}

	switch {
	case len(writable) > 0:
		w.write(" VALUES (")
		for i, c := range writable {
			if i > 0 {
				w.write(", ")
			}
			w.bind(c)
		}
		w.write(")")
	case d.identity == identityLastInsertID:
		w.write(" () VALUES ()")
	default:
		w.write(" DEFAULT VALUES")
	}

	if returning && d.identity == identityReturning {
		w.write(" RETURNING ")
		w.returning(gen, "")
	}
	return w.finish(returning)
}

// FormatUpdate renders an UPDATE of entity's writable non-key columns,
// matched by primary key. A version member is compared against the
// entity's value and incremented, so a stale entity updates zero rows.
func FormatUpdate(d *Dialect, em *mapping.EntityMapping, entity reflect.Value) (*Command, error) {
	w, err := newWriter(d, em, entity)
	if err != nil {
		return nil, err
	}
	if _, err := em.RequireKey(); err != nil {
		return nil, err
	}

	w.write("UPDATE ", w.table(em.Schema, em.Table), " SET ")
	n := 0
	for _, c := range w.cols {
		m := c.member
		if m.PrimaryKey || !m.Writable() && !m.Version {
			continue
		}
		if n > 0 {
			w.write(", ")
		}
		n++
		col := w.quote(m.Column)
		if m.Version {
			w.write(col, " = ", col, " + 1")
			continue
		}
		w.write(col, " = ")
		w.bind(c)
	}
	if n == 0 {
		return nil, d.unsupported(em.Name + " has no updatable columns")
	}
	if err := w.keyPredicate(); err != nil {
		return nil, err
	}
	return w.finish(false)
}

// FormatDelete renders a DELETE matched by primary key and, when the
// entity has one, its version.
func FormatDelete(d *Dialect, em *mapping.EntityMapping, entity reflect.Value) (*Command, error) {
	w, err := newWriter(d, em, entity)
	if err != nil {
		return nil, err
	}
	w.write("DELETE FROM ", w.table(em.Schema, em.Table))
	if err := w.keyPredicate(); err != nil {
		return nil, err
	}
	return w.finish(false)
}

// FormatRowsAffected renders a command reading the row count of the
// previous statement on the same connection.
func FormatRowsAffected(d *Dialect) (*Command, error) {
	f := newFormatter(d)
	f.write("SELECT ")
	f.expr(&ir.RowsAffected{})
	if f.err != nil {
		return nil, f.err
	}
	return f.command(), nil
}
