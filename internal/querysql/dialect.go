package querysql

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/rewrite"
)

type applyStyle int

const (
	applyUnsupported applyStyle = iota
	applyLateral
	applyCrossApply
)

type identityStyle int

const (
	identityLastInsertID identityStyle = iota
	identityReturning
	identityOutput
)

// storageTypes names a dialect's column types by Go type family.
type storageTypes struct {
	boolean   string
	smallint  string
	integer   string
	bigint    string
	real      string
	double    string
	text      string
	blob      string
	timestamp string
	uuid      string
}

// Dialect describes how one SQL dialect spells the constructs the
// formatter emits. Dialects are values; the package-level SQLite,
// Postgres, MySQL and TSQL cover the supported targets.
type Dialect struct {
	Name string

	quote        func(string) string
	placeholder  func(name string, position int) string
	named        bool
	numbered     bool
	nativeOffset bool
	// boolValues: predicates may appear as values and TRUE/FALSE exist.
	boolValues bool
	top        bool
	// offsetOnlyLimit is the LIMIT required before a bare OFFSET, empty
	// when OFFSET may stand alone.
	offsetOnlyLimit string
	apply           applyStyle
	identity        identityStyle
	rowsAffected    string
	concat          func(left, right string) string
	functions       map[string]string
	types           storageTypes
}

var (
	// SQLite targets mattn/go-sqlite3.
	SQLite = &Dialect{
		Name:            "sqlite",
		quote:           doubleQuote,
		placeholder:     atName,
		named:           true,
		nativeOffset:    true,
		boolValues:      true,
		offsetOnlyLimit: "-1",
		apply:           applyUnsupported,
		identity:        identityReturning,
		rowsAffected:    "changes()",
		concat:          pipes,
		functions: map[string]string{
			ir.FuncLower: "LOWER", ir.FuncUpper: "UPPER", ir.FuncLength: "LENGTH",
			ir.FuncTrim: "TRIM", ir.FuncAbs: "ABS", ir.FuncCoalesce: "COALESCE",
			ir.FuncSubstr: "SUBSTR", ir.FuncReplace: "REPLACE",
		},
		types: storageTypes{
			boolean: "INTEGER", smallint: "INTEGER", integer: "INTEGER", bigint: "INTEGER",
			real: "REAL", double: "REAL", text: "TEXT", blob: "BLOB",
			timestamp: "TIMESTAMP", uuid: "TEXT",
		},
	}

	// Postgres targets lib/pq.
	Postgres = &Dialect{
		Name:         "postgres",
		quote:        pq.QuoteIdentifier,
		placeholder:  func(_ string, position int) string { return "$" + strconv.Itoa(position) },
		numbered:     true,
		nativeOffset: true,
		boolValues:   true,
		apply:        applyLateral,
		identity:     identityReturning,
		concat:       pipes,
		functions: map[string]string{
			ir.FuncLower: "LOWER", ir.FuncUpper: "UPPER", ir.FuncLength: "LENGTH",
			ir.FuncTrim: "TRIM", ir.FuncAbs: "ABS", ir.FuncCoalesce: "COALESCE",
			ir.FuncSubstr: "SUBSTR", ir.FuncReplace: "REPLACE",
		},
		types: storageTypes{
			boolean: "boolean", smallint: "smallint", integer: "integer", bigint: "bigint",
			real: "real", double: "double precision", text: "text", blob: "bytea",
			timestamp: "timestamptz", uuid: "uuid",
		},
	}

	// MySQL targets go-sql-driver/mysql.
	MySQL = &Dialect{
		Name:            "mysql",
		quote:           backtick,
		placeholder:     func(string, int) string { return "?" },
		nativeOffset:    true,
		boolValues:      true,
		offsetOnlyLimit: "18446744073709551615",
		apply:           applyLateral,
		identity:        identityLastInsertID,
		rowsAffected:    "ROW_COUNT()",
		concat:          func(l, r string) string { return "CONCAT(" + l + ", " + r + ")" },
		functions: map[string]string{
			ir.FuncLower: "LOWER", ir.FuncUpper: "UPPER", ir.FuncLength: "CHAR_LENGTH",
			ir.FuncTrim: "TRIM", ir.FuncAbs: "ABS", ir.FuncCoalesce: "COALESCE",
			ir.FuncSubstr: "SUBSTRING", ir.FuncReplace: "REPLACE",
		},
		types: storageTypes{
			boolean: "TINYINT(1)", smallint: "SMALLINT", integer: "INT", bigint: "BIGINT",
			real: "FLOAT", double: "DOUBLE", text: "VARCHAR(255)", blob: "LONGBLOB",
			timestamp: "DATETIME(6)", uuid: "CHAR(36)",
		},
	}

	// TSQL targets SQL Server. It has no native offset in the form the
	// formatter emits, so paging goes through ROW_NUMBER.
	TSQL = &Dialect{
		Name:         "tsql",
		quote:        bracket,
		placeholder:  atName,
		named:        true,
		top:          true,
		apply:        applyCrossApply,
		identity:     identityOutput,
		rowsAffected: "@@ROWCOUNT",
		concat:       func(l, r string) string { return l + " + " + r },
		functions: map[string]string{
			ir.FuncLower: "LOWER", ir.FuncUpper: "UPPER", ir.FuncLength: "LEN",
			ir.FuncTrim: "TRIM", ir.FuncAbs: "ABS", ir.FuncCoalesce: "COALESCE",
			ir.FuncSubstr: "SUBSTRING", ir.FuncReplace: "REPLACE",
		},
		types: storageTypes{
			boolean: "BIT", smallint: "SMALLINT", integer: "INT", bigint: "BIGINT",
			real: "REAL", double: "FLOAT", text: "NVARCHAR(MAX)", blob: "VARBINARY(MAX)",
			timestamp: "DATETIME2", uuid: "UNIQUEIDENTIFIER",
		},
	}
)

var dialects = map[string]*Dialect{
	SQLite.Name:   SQLite,
	Postgres.Name: Postgres,
	MySQL.Name:    MySQL,
	TSQL.Name:     TSQL,
}

// LookupDialect returns the dialect registered under name.
func LookupDialect(name string) (*Dialect, error) {
	if d, ok := dialects[strings.ToLower(name)]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown dialect %q (known: %s)", name, strings.Join(DialectNames(), ", "))
}

// DialectNames lists the known dialect names in sorted order.
func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities reports the features the rewrite pipeline may rely on.
func (d *Dialect) Capabilities() rewrite.Capabilities {
	return rewrite.Capabilities{NativeOffset: d.nativeOffset}
}

// QuoteIdentifier quotes one identifier. Identifiers are NFC-normalized
// first so visually equal names quote identically.
func (d *Dialect) QuoteIdentifier(name string) string {
	return d.quote(norm.NFC.String(name))
}

// RowsAffected returns the expression that yields the row count of the
// previous statement.
func (d *Dialect) RowsAffected() (string, error) {
	if d.rowsAffected == "" {
		return "", d.unsupported("no rows-affected expression")
	}
	return d.rowsAffected, nil
}

var (
	timeType = reflect.TypeFor[time.Time]()
	uuidType = reflect.TypeFor[uuid.UUID]()
)

// StorageType maps a Go type to the dialect's column type. Pointers map
// like their element.
func (d *Dialect) StorageType(t reflect.Type) (string, error) {
	if t == nil {
		return "", &Error{Code: ErrCodeUnmappedType, Dialect: d.Name, Message: "untyped value"}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t {
	case timeType:
		return d.types.timestamp, nil
	case uuidType:
		return d.types.uuid, nil
	}
	switch t.Kind() {
	case reflect.Bool:
		return d.types.boolean, nil
	case reflect.Int8, reflect.Int16, reflect.Uint8:
		return d.types.smallint, nil
	case reflect.Int32, reflect.Uint16:
		return d.types.integer, nil
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return d.types.bigint, nil
	case reflect.Float32:
		return d.types.real, nil
	case reflect.Float64:
		return d.types.double, nil
	case reflect.String:
		return d.types.text, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return d.types.blob, nil
		}
	}
	return "", &Error{Code: ErrCodeUnmappedType, Dialect: d.Name, Message: "no storage type for " + t.String()}
}

func (d *Dialect) unsupported(msg string) error {
	return &Error{Code: ErrCodeUnsupportedFeature, Dialect: d.Name, Message: msg}
}

func doubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func backtick(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func bracket(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

func atName(name string, _ int) string {
	return "@" + name
}

func pipes(l, r string) string {
	return l + " || " + r
}
