package mapping

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// TableAttributes are the entity-level attributes read for a type.
type TableAttributes struct {
	Name   string // entity name, the type name when empty
	Schema string
	Table  string
}

// MemberAttributes are the field-level attributes read for a struct field.
type MemberAttributes struct {
	Skip        bool
	Column      string
	PrimaryKey  bool
	Identity    bool
	ReadOnly    bool
	Computed    bool
	Nullable    bool
	Version     bool
	Ordinal     int // 0 means unset
	Length      int
	Precision   int
	Scale       int
	StorageType string

	Inline bool
	Prefix string

	Relation bool
	Key      string
	Foreign  string
}

// AttributeReader supplies schema attributes for entity types.
//
// The Registry calls it while building a mapping. Implementations must be
// safe for concurrent use.
type AttributeReader interface {
	ReadTable(t reflect.Type) (TableAttributes, error)
	ReadMember(t reflect.Type, f reflect.StructField) (MemberAttributes, error)
}

// Tabler lets an entity type name its table.
type Tabler interface {
	TableName() string
}

// Schemer lets an entity type name its schema.
type Schemer interface {
	SchemaName() string
}

// TagReader reads attributes from `db` struct tags and the Tabler/Schemer
// methods. It is the default AttributeReader.
type TagReader struct{}

// ReadTable implements AttributeReader.
func (TagReader) ReadTable(t reflect.Type) (TableAttributes, error) {
	attrs := TableAttributes{Table: t.Name()}
	zero := reflect.New(t).Elem().Interface()
	if tn, ok := zero.(Tabler); ok {
		attrs.Table = tn.TableName()
	} else if tn, ok := reflect.New(t).Interface().(Tabler); ok {
		attrs.Table = tn.TableName()
	}
	if sn, ok := zero.(Schemer); ok {
		attrs.Schema = sn.SchemaName()
	} else if sn, ok := reflect.New(t).Interface().(Schemer); ok {
		attrs.Schema = sn.SchemaName()
	}
	return attrs, nil
}

// ReadMember implements AttributeReader.
func (TagReader) ReadMember(t reflect.Type, f reflect.StructField) (MemberAttributes, error) {
	return ParseTag(f.Name, f.Tag.Get("db"))
}

// ParseTag parses a `db` tag value for the named field.
//
// Grammar: name[,option[,option=value]...]. A name of "-" skips the field.
func ParseTag(field, tag string) (MemberAttributes, error) {
	var attrs MemberAttributes
	if tag == "-" {
		attrs.Skip = true
		return attrs, nil
	}

	parts := strings.Split(tag, ",")
	name := strings.TrimSpace(parts[0])
	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		key, value, hasValue := strings.Cut(opt, "=")
		switch key {
		case "pk":
			attrs.PrimaryKey = true
		case "identity":
			attrs.Identity = true
		case "readonly":
			attrs.ReadOnly = true
		case "computed":
			attrs.Computed = true
		case "nullable":
			attrs.Nullable = true
		case "version":
			attrs.Version = true
		case "inline":
			attrs.Inline = true
		case "rel":
			attrs.Relation = true
		case "key":
			attrs.Key = value
		case "fk":
			attrs.Foreign = value
		case "type":
			attrs.StorageType = value
		case "ordinal", "len", "precision", "scale":
			if !hasValue {
				return attrs, fmt.Errorf("option %q on %s requires a value", key, field)
			}
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return attrs, fmt.Errorf("option %q on %s: invalid number %q", key, field, value)
			}
			switch key {
			case "ordinal":
				attrs.Ordinal = n
			case "len":
				attrs.Length = n
			case "precision":
				attrs.Precision = n
			case "scale":
				attrs.Scale = n
			}
		default:
			return attrs, fmt.Errorf("unknown option %q on %s", key, field)
		}
	}

	switch {
	case attrs.Inline:
		attrs.Prefix = name
	case attrs.Relation:
		if name != "" {
			return attrs, fmt.Errorf("relation %s must not name a column", field)
		}
	case name == "":
		attrs.Column = SnakeCase(field)
	default:
		attrs.Column = name
	}
	attrs.Column = norm.NFC.String(attrs.Column)
	return attrs, nil
}

// SnakeCase converts a Go identifier to snake_case.
// Acronym runs stay together: "UserID" becomes "user_id".
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
