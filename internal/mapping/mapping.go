package mapping

import (
	"reflect"
	"strings"
)

// EntityMapping is the relational shape of one entity type.
//
// Instances are built by a Registry and shared read-only afterwards.
// Callers must not modify a mapping returned by Resolve.
type EntityMapping struct {
	// Type is the struct type this mapping describes.
	Type reflect.Type

	// Name is the entity name (the Go type name).
	Name string

	// Schema is the storage schema, empty for the default schema.
	Schema string

	// Table is the storage table. Empty for inline value objects.
	Table string

	// Members lists mapped members in ordinal order.
	Members []*MemberMapping
}

// MemberMapping maps one struct field.
//
// A member is exactly one of: a column, an inline value object (Inline
// set) or a child collection (Relation set).
type MemberMapping struct {
	Name        string       // Go field name
	Column      string       // storage column, empty for inline and relation members
	Type        reflect.Type // declared field type
	StorageType string       // explicit storage type hint (e.g. "varchar"), may be empty

	PrimaryKey bool
	Identity   bool // value generated by storage on insert
	ReadOnly   bool // populated on materialization, never written
	Computed   bool // computed by storage, never written
	Nullable   bool
	Version    bool // optimistic concurrency token

	Ordinal   int
	Length    int
	Precision int
	Scale     int

	// Index is the reflect field index path from the owning entity.
	Index []int

	// Inline holds the nested value object mapping for inline members.
	// Its member columns already carry the configured prefix.
	Inline *EntityMapping

	// Relation describes a child collection member.
	Relation *Relation
}

// Relation describes a one-to-many child collection.
//
// The child rows are those whose Foreign member equals the owner's Key member.
type Relation struct {
	Entity  reflect.Type // element type of the collection
	Key     string       // member name on the owning entity
	Foreign string       // member name on the related entity
}

// IsColumn reports whether the member maps directly to a storage column.
func (m *MemberMapping) IsColumn() bool {
	return m.Inline == nil && m.Relation == nil
}

// Writable reports whether the member is written by insert and update commands.
func (m *MemberMapping) Writable() bool {
	return m.IsColumn() && !m.ReadOnly && !m.Computed && !m.Identity
}

// Member looks up a member by Go field name.
func (e *EntityMapping) Member(name string) (*MemberMapping, bool) {
	for _, m := range e.Members {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// MemberPath resolves a dotted member path through inline value objects.
// "Address.City" resolves City inside the inline Address member.
func (e *EntityMapping) MemberPath(path string) (*MemberMapping, error) {
	current := e
	parts := strings.Split(path, ".")
	for i, part := range parts {
		m, ok := current.Member(part)
		if !ok {
			return nil, &Error{
				Code:    ErrCodeUnknownMember,
				Entity:  e.Name,
				Member:  path,
				Message: "member is not mapped",
			}
		}
		if i == len(parts)-1 {
			return m, nil
		}
		if m.Inline == nil {
			return nil, &Error{
				Code:    ErrCodeUnknownMember,
				Entity:  e.Name,
				Member:  path,
				Message: part + " is not an inline value object",
			}
		}
		current = m.Inline
	}
	return nil, &Error{Code: ErrCodeUnknownMember, Entity: e.Name, Member: path, Message: "empty member path"}
}

// Columns returns all column members, flattening inline value objects,
// in ordinal order.
func (e *EntityMapping) Columns() []*MemberMapping {
	var cols []*MemberMapping
	for _, m := range e.Members {
		switch {
		case m.Inline != nil:
			cols = append(cols, m.Inline.Columns()...)
		case m.Relation != nil:
		default:
			cols = append(cols, m)
		}
	}
	return cols
}

// Keys returns the primary key members.
func (e *EntityMapping) Keys() []*MemberMapping {
	var keys []*MemberMapping
	for _, m := range e.Members {
		if m.PrimaryKey {
			keys = append(keys, m)
		}
	}
	return keys
}

// RequireKey returns the primary key members or a NO_PRIMARY_KEY error.
func (e *EntityMapping) RequireKey() ([]*MemberMapping, error) {
	keys := e.Keys()
	if len(keys) == 0 {
		return nil, &Error{
			Code:    ErrCodeNoPrimaryKey,
			Entity:  e.Name,
			Message: "entity has no primary key",
		}
	}
	return keys, nil
}

// VersionMember returns the optimistic concurrency member, if any.
func (e *EntityMapping) VersionMember() (*MemberMapping, bool) {
	for _, m := range e.Members {
		if m.Version {
			return m, true
		}
	}
	return nil, false
}

// Relations returns the child collection members.
func (e *EntityMapping) Relations() []*MemberMapping {
	var rels []*MemberMapping
	for _, m := range e.Members {
		if m.Relation != nil {
			rels = append(rels, m)
		}
	}
	return rels
}
