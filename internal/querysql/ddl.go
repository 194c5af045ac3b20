package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/relq/internal/mapping"
)

// FormatCreateTable renders CREATE TABLE for em. Identity keys use the
// dialect's auto-increment form; every other non-nullable column is
// NOT NULL.
func FormatCreateTable(d *Dialect, em *mapping.EntityMapping) (*Command, error) {
	if em.Table == "" {
		return nil, d.unsupported(em.Name + " has no table")
	}
	keys, err := em.RequireKey()
	if err != nil {
		return nil, err
	}

	f := newFormatter(d)
	table := f.table(em.Schema, em.Table)
	if d.top {
		f.write("IF OBJECT_ID(N'", strings.ReplaceAll(table, "'", "''"), "') IS NULL CREATE TABLE ", table, " (")
	} else {
		f.write("CREATE TABLE IF NOT EXISTS ", table, " (")
	}

	// SQLite only auto-increments a lone INTEGER PRIMARY KEY column.
	inlineKey := d == SQLite && len(keys) == 1 && keys[0].Identity

	for i, m := range em.Columns() {
		if i > 0 {
			f.write(", ")
		}
		st := m.StorageType
		if st == "" {
			if st, err = d.StorageType(m.Type); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", em.Name, m.Name, err)
			}
		}
		f.write(f.quote(m.Column), " ", st)
		switch {
		case inlineKey && m.PrimaryKey:
			f.write(" PRIMARY KEY AUTOINCREMENT")
			continue
		case m.Identity:
			f.write(identityClause(d))
		}
		if !m.Nullable {
			f.write(" NOT NULL")
		}
		if m.Version {
			f.write(" DEFAULT 0")
		}
	}

	if !inlineKey {
		f.write(", PRIMARY KEY (")
		for i, k := range keys {
			if i > 0 {
				f.write(", ")
			}
			f.write(f.quote(k.Column))
		}
		f.write(")")
	}
	f.write(")")
	return f.command(), nil
}

func identityClause(d *Dialect) string {
	switch d {
	case Postgres:
		return " GENERATED BY DEFAULT AS IDENTITY"
	case MySQL:
		return " AUTO_INCREMENT"
	case TSQL:
		return " IDENTITY(1,1)"
	default:
		return ""
	}
}
