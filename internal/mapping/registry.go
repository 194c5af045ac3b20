package mapping

import (
	"cmp"
	"database/sql/driver"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry caches entity mappings for the life of the process.
//
// Build one Registry at startup and pass it to every compiler and provider
// that needs mappings. Resolve is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	cache  map[reflect.Type]*EntityMapping
	reader AttributeReader
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithReader sets the attribute source. Defaults to TagReader.
func WithReader(reader AttributeReader) Option {
	return func(r *Registry) {
		r.reader = reader
	}
}

// WithLogger sets the logger used for resolution diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		cache:  make(map[reflect.Type]*EntityMapping),
		reader: TagReader{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveOf resolves the mapping for T.
func ResolveOf[T any](r *Registry) (*EntityMapping, error) {
	return r.Resolve(reflect.TypeFor[T]())
}

// Resolve returns the cached mapping for t, building it on first use.
//
// Pointer types resolve to their element type. Build errors are returned
// to the caller and not cached.
func (r *Registry) Resolve(t reflect.Type) (*EntityMapping, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.RLock()
	m, ok := r.cache[t]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	built, err := r.build(t)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[t]; ok {
		// Another goroutine won the race; converge on its value.
		return existing, nil
	}
	r.cache[t] = built
	r.logger.Debug("entity mapping resolved",
		"entity", built.Name,
		"table", built.Table,
		"members", len(built.Members))
	return built, nil
}

// Len returns the number of cached mappings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Registry) build(t reflect.Type) (*EntityMapping, error) {
	if t.Kind() != reflect.Struct {
		return nil, &Error{
			Code:    ErrCodeNotStruct,
			Entity:  t.String(),
			Message: "entity type must be a struct",
		}
	}

	table, err := r.reader.ReadTable(t)
	if err != nil {
		return nil, &Error{Code: ErrCodeBadTag, Entity: t.Name(), Message: err.Error()}
	}

	em := &EntityMapping{
		Type:   t,
		Name:   cmp.Or(table.Name, t.Name()),
		Schema: table.Schema,
		Table:  table.Table,
	}
	em.Members, err = r.buildMembers(t, em.Name, "", nil)
	if err != nil {
		return nil, err
	}

	if len(em.Keys()) == 0 {
		if id, ok := em.Member("ID"); ok && id.IsColumn() {
			id.PrimaryKey = true
		}
	}

	for _, rel := range em.Relations() {
		key, ok := em.Member(rel.Relation.Key)
		if !ok || !key.IsColumn() {
			return nil, &Error{
				Code:    ErrCodeBadRelation,
				Entity:  em.Name,
				Member:  rel.Name,
				Message: "relation key " + rel.Relation.Key + " is not a column member",
			}
		}
	}
	return em, nil
}

func (r *Registry) buildMembers(t reflect.Type, entity, prefix string, base []int) ([]*MemberMapping, error) {
	type ordered struct {
		member   *MemberMapping
		explicit int
	}
	var members []ordered

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int(nil), base...), i)

		if f.Anonymous && f.Tag.Get("db") == "" && f.Type.Kind() == reflect.Struct {
			promoted, err := r.buildMembers(f.Type, entity, prefix, index)
			if err != nil {
				return nil, err
			}
			for _, m := range promoted {
				members = append(members, ordered{member: m})
			}
			continue
		}
		if !f.IsExported() {
			continue
		}

		attrs, err := r.reader.ReadMember(t, f)
		if err != nil {
			return nil, &Error{Code: ErrCodeBadTag, Entity: entity, Member: f.Name, Message: err.Error()}
		}
		if attrs.Skip {
			continue
		}

		m := &MemberMapping{
			Name:        f.Name,
			Type:        f.Type,
			StorageType: attrs.StorageType,
			PrimaryKey:  attrs.PrimaryKey,
			Identity:    attrs.Identity,
			ReadOnly:    attrs.ReadOnly,
			Computed:    attrs.Computed,
			Nullable:    attrs.Nullable || isNullableType(f.Type),
			Version:     attrs.Version,
			Length:      attrs.Length,
			Precision:   attrs.Precision,
			Scale:       attrs.Scale,
			Index:       index,
		}

		switch {
		case attrs.Inline:
			if f.Type.Kind() != reflect.Struct {
				return nil, &Error{Code: ErrCodeBadTag, Entity: entity, Member: f.Name, Message: "inline member must be a struct"}
			}
			nested, err := r.buildMembers(f.Type, entity, prefix+attrs.Prefix, nil)
			if err != nil {
				return nil, err
			}
			m.Inline = &EntityMapping{Type: f.Type, Name: f.Type.Name(), Members: nested}
		case attrs.Relation:
			elem := f.Type
			if elem.Kind() != reflect.Slice {
				return nil, &Error{Code: ErrCodeBadRelation, Entity: entity, Member: f.Name, Message: "relation member must be a slice"}
			}
			elem = elem.Elem()
			for elem.Kind() == reflect.Pointer {
				elem = elem.Elem()
			}
			if elem.Kind() != reflect.Struct || attrs.Foreign == "" {
				return nil, &Error{Code: ErrCodeBadRelation, Entity: entity, Member: f.Name, Message: "relation needs a struct element and an fk option"}
			}
			key := attrs.Key
			if key == "" {
				key = "ID"
			}
			m.Relation = &Relation{Entity: elem, Key: key, Foreign: attrs.Foreign}
		default:
			m.Column = prefix + attrs.Column
		}
		members = append(members, ordered{member: m, explicit: attrs.Ordinal})
	}

	// Explicit ordinals first (ascending), then declaration order.
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i].explicit, members[j].explicit
		switch {
		case a > 0 && b > 0:
			return a < b
		case a > 0:
			return true
		default:
			return false
		}
	})

	out := make([]*MemberMapping, len(members))
	for i, o := range members {
		o.member.Ordinal = i
		out[i] = o.member
	}
	return out, nil
}

var (
	timeType   = reflect.TypeFor[time.Time]()
	valuerType = reflect.TypeFor[driver.Valuer]()
)

// isNullableType reports whether values of t can hold SQL NULL.
func isNullableType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map:
		return true
	case reflect.Slice:
		return t.Elem().Kind() != reflect.Uint8
	case reflect.Struct:
		if t == timeType {
			return false
		}
		return strings.HasPrefix(t.Name(), "Null") && reflect.PointerTo(t).Implements(valuerType) ||
			strings.HasPrefix(t.Name(), "Null") && t.Implements(valuerType)
	}
	return false
}
