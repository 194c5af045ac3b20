// Package schema reads entity catalogs written in CUE and turns them into
// Go types the mapping registry understands.
//
// A catalog declares entities under a top-level entities struct:
//
//	entities: {
//		User: {
//			table: "users"
//			members: [
//				{name: "ID", type: "int64", pk: true, identity: true},
//				{name: "Email", type: "string"},
//				{name: "Nick", type: "string", nullable: true},
//				{name: "Orders", relation: {entity: "Order", key: "ID", foreign: "UserID"}},
//			]
//		}
//		Order: {
//			table: "orders"
//			members: [
//				{name: "ID", type: "int64", pk: true, identity: true},
//				{name: "UserID", type: "int64"},
//			]
//		}
//	}
//
// Each entity becomes a struct type built with reflect.StructOf whose
// fields carry the equivalent db tags. The Catalog is the mapping
// AttributeReader for those types, so tables and entity names come from
// the catalog rather than from methods.
package schema

import (
	"cmp"
	"go/token"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	cuetoken "cuelang.org/go/cue/token"

	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/queryir"
)

// entityDoc is one entity of a catalog document.
type entityDoc struct {
	Name    string      `json:"-"`
	Table   string      `json:"table"`
	Schema  string      `json:"schema"`
	Members []memberDoc `json:"members"`
	pos     cuetoken.Pos
}

type memberDoc struct {
	Name      string       `json:"name"`
	Type      string       `json:"type"`
	Column    string       `json:"column"`
	PK        bool         `json:"pk"`
	Identity  bool         `json:"identity"`
	ReadOnly  bool         `json:"readonly"`
	Computed  bool         `json:"computed"`
	Nullable  bool         `json:"nullable"`
	Version   bool         `json:"version"`
	Storage   string       `json:"storage"`
	Length    int          `json:"length"`
	Precision int          `json:"precision"`
	Scale     int          `json:"scale"`
	Relation  *relationDoc `json:"relation"`
}

type relationDoc struct {
	Entity  string `json:"entity"`
	Key     string `json:"key"`
	Foreign string `json:"foreign"`
}

// scalarTypes are the member type names a catalog may use.
var scalarTypes = map[string]reflect.Type{
	"string":  reflect.TypeFor[string](),
	"bool":    reflect.TypeFor[bool](),
	"int":     reflect.TypeFor[int64](),
	"int64":   reflect.TypeFor[int64](),
	"int32":   reflect.TypeFor[int32](),
	"float":   reflect.TypeFor[float64](),
	"float64": reflect.TypeFor[float64](),
	"time":    reflect.TypeFor[time.Time](),
	"bytes":   reflect.TypeFor[[]byte](),
}

// Catalog holds the entity types of one or more catalog documents.
// It is immutable once built.
type Catalog struct {
	types  map[string]reflect.Type
	tables map[reflect.Type]mapping.TableAttributes
}

// Names returns the entity names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.types))
	for n := range c.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Type returns the struct type built for an entity.
func (c *Catalog) Type(name string) (reflect.Type, bool) {
	t, ok := c.types[name]
	return t, ok
}

// Lookup implements queryir.Types.
func (c *Catalog) Lookup(name string) (reflect.Type, bool) {
	return c.Type(name)
}

// Types returns the entities as a queryir.TypeMap.
func (c *Catalog) Types() queryir.TypeMap {
	out := make(queryir.TypeMap, len(c.types))
	for n, t := range c.types {
		out[n] = t
	}
	return out
}

// ReadTable implements mapping.AttributeReader. Types outside the catalog
// fall back to tags and methods.
func (c *Catalog) ReadTable(t reflect.Type) (mapping.TableAttributes, error) {
	if attrs, ok := c.tables[t]; ok {
		return attrs, nil
	}
	return mapping.TagReader{}.ReadTable(t)
}

// ReadMember implements mapping.AttributeReader.
func (c *Catalog) ReadMember(t reflect.Type, f reflect.StructField) (mapping.MemberAttributes, error) {
	return mapping.TagReader{}.ReadMember(t, f)
}

// NewRegistry returns a registry that reads attributes from the catalog.
func (c *Catalog) NewRegistry(opts ...mapping.Option) *mapping.Registry {
	return mapping.NewRegistry(append([]mapping.Option{mapping.WithReader(c)}, opts...)...)
}

// Resolve maps every entity of the catalog into reg and returns the
// mappings in name order.
func (c *Catalog) Resolve(reg *mapping.Registry) ([]*mapping.EntityMapping, error) {
	var out []*mapping.EntityMapping
	for _, n := range c.Names() {
		em, err := reg.Resolve(c.types[n])
		if err != nil {
			return nil, err
		}
		out = append(out, em)
	}
	return out, nil
}

// catalogSchema constrains catalog documents. Entities and members are
// closed, so misspelled attributes fail validation.
const catalogSchema = `
#Member: {
	name:       string
	type?:      "string" | "bool" | "int" | "int64" | "int32" | "float" | "float64" | "time" | "bytes"
	column?:    string
	pk?:        bool
	identity?:  bool
	readonly?:  bool
	computed?:  bool
	nullable?:  bool
	version?:   bool
	storage?:   string
	length?:    int & >=0
	precision?: int & >=0
	scale?:     int & >=0
	relation?: {
		entity:   string
		key?:     string
		foreign:  string
	}
}

#Entity: {
	table:   string
	schema?: string
	members: [...#Member]
}

#Catalog: {
	entities?: [string]: #Entity
	...
}
`

// parseEntities validates a CUE value against the catalog schema and
// reads its entities struct.
func parseEntities(v cue.Value) ([]entityDoc, error) {
	if err := v.Err(); err != nil {
		return nil, cueError(err)
	}
	def := v.Context().CompileString(catalogSchema, cue.Filename("catalog-schema.cue"))
	if err := def.Err(); err != nil {
		return nil, cueError(err)
	}
	v = v.Unify(def.LookupPath(cue.ParsePath("#Catalog")))
	if err := v.Validate(); err != nil {
		return nil, cueError(err)
	}
	ents := v.LookupPath(cue.ParsePath("entities"))
	if !ents.Exists() {
		return nil, nil
	}
	iter, err := ents.Fields()
	if err != nil {
		return nil, cueError(err)
	}

	var docs []entityDoc
	for iter.Next() {
		ev := iter.Value()
		var doc entityDoc
		if err := ev.Decode(&doc); err != nil {
			return nil, cueError(err)
		}
		doc.Name = iter.Label()
		doc.pos = ev.Pos()
		docs = append(docs, doc)
	}
	return docs, nil
}

// build creates the struct types for docs. Related entities are built
// before the entities that hold them; a relation cycle cannot be
// expressed as Go types and is an error.
func build(docs []entityDoc) (*Catalog, error) {
	byName := make(map[string]*entityDoc, len(docs))
	for i := range docs {
		d := &docs[i]
		if _, dup := byName[d.Name]; dup {
			return nil, &Error{Code: ErrCodeBadEntity, Entity: d.Name, Message: "declared twice", Pos: d.pos}
		}
		if d.Table == "" {
			return nil, &Error{Code: ErrCodeBadEntity, Entity: d.Name, Message: "table is required", Pos: d.pos}
		}
		if len(d.Members) == 0 {
			return nil, &Error{Code: ErrCodeBadEntity, Entity: d.Name, Message: "at least one member is required", Pos: d.pos}
		}
		byName[d.Name] = d
	}

	graph := make(relationGraph, len(docs))
	for _, d := range docs {
		graph[d.Name] = []string{}
		for _, m := range d.Members {
			if m.Relation == nil {
				continue
			}
			if _, ok := byName[m.Relation.Entity]; !ok {
				return nil, &Error{
					Code: ErrCodeUnknownEntity, Entity: d.Name, Member: m.Name,
					Message: "relation to unknown entity " + strconv.Quote(m.Relation.Entity), Pos: d.pos,
				}
			}
			graph[d.Name] = append(graph[d.Name], m.Relation.Entity)
		}
	}
	if cycles := findCycles(graph); len(cycles) > 0 {
		first := cycles[0]
		return nil, &Error{
			Code: ErrCodeRelationCycle, Entity: first[0],
			Message: "relations form a cycle: " + strings.Join(first, " -> "),
			Pos:     byName[first[0]].pos,
		}
	}

	c := &Catalog{
		types:  make(map[string]reflect.Type, len(docs)),
		tables: make(map[reflect.Type]mapping.TableAttributes, len(docs)),
	}
	for _, name := range buildOrder(graph) {
		d := byName[name]
		t, err := c.structOf(d)
		if err != nil {
			return nil, err
		}
		c.types[name] = t
		c.tables[t] = mapping.TableAttributes{Name: name, Schema: d.Schema, Table: d.Table}
	}
	return c, nil
}

// structOf builds the struct type of one entity. Relations reference
// entities already built.
func (c *Catalog) structOf(d *entityDoc) (reflect.Type, error) {
	fields := make([]reflect.StructField, 0, len(d.Members))
	seen := make(map[string]bool, len(d.Members))
	for _, m := range d.Members {
		bad := func(msg string) error {
			return &Error{Code: ErrCodeBadMember, Entity: d.Name, Member: m.Name, Message: msg, Pos: d.pos}
		}
		if !token.IsIdentifier(m.Name) || !token.IsExported(m.Name) {
			return nil, bad("name must be an exported Go identifier")
		}
		if seen[m.Name] {
			return nil, bad("declared twice")
		}
		seen[m.Name] = true

		if m.Relation != nil {
			if m.Type != "" || m.Column != "" {
				return nil, bad("a relation takes neither type nor column")
			}
			child := c.types[m.Relation.Entity]
			tag := ",rel,key=" + cmp.Or(m.Relation.Key, "ID") + ",fk=" + m.Relation.Foreign
			fields = append(fields, reflect.StructField{
				Name: m.Name,
				Type: reflect.SliceOf(child),
				Tag:  reflect.StructTag(`db:"` + tag + `"`),
			})
			continue
		}

		t, ok := scalarTypes[m.Type]
		if !ok {
			return nil, bad("unknown type " + strconv.Quote(m.Type))
		}
		if m.Nullable && t.Kind() != reflect.Slice {
			t = reflect.PointerTo(t)
		}
		fields = append(fields, reflect.StructField{
			Name: m.Name,
			Type: t,
			Tag:  reflect.StructTag(`db:"` + memberTag(m) + `"`),
		})
	}
	return reflect.StructOf(fields), nil
}

// memberTag renders the db tag for a column member.
func memberTag(m memberDoc) string {
	parts := []string{m.Column}
	flag := func(on bool, name string) {
		if on {
			parts = append(parts, name)
		}
	}
	flag(m.PK, "pk")
	flag(m.Identity, "identity")
	flag(m.ReadOnly, "readonly")
	flag(m.Computed, "computed")
	flag(m.Nullable, "nullable")
	flag(m.Version, "version")
	if m.Storage != "" {
		parts = append(parts, "type="+m.Storage)
	}
	for _, o := range []struct {
		name string
		n    int
	}{{"len", m.Length}, {"precision", m.Precision}, {"scale", m.Scale}} {
		if o.n > 0 {
			parts = append(parts, o.name+"="+strconv.Itoa(o.n))
		}
	}
	return strings.Join(parts, ",")
}
