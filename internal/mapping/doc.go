// Package mapping resolves Go entity types into relational schema mappings.
//
// An EntityMapping describes where an entity lives (schema and table) and how
// each persistable member maps to a storage column. Mappings are produced by
// reflecting over the entity type once and are cached in a Registry for the
// life of the process.
//
// ATTRIBUTES:
//
// Member attributes come from the `db` struct tag by default:
//
//	type User struct {
//	    ID      int64   `db:"id,pk,identity"`
//	    Email   string  `db:"email,len=255"`
//	    Version int64   `db:"version,version"`
//	    Address Address `db:"addr_,inline"`
//	    Orders  []Order `db:",rel,key=ID,fk=UserID"`
//	    Scratch string  `db:"-"`
//	}
//
// Table and schema names come from optional TableName() and SchemaName()
// methods on the entity type. Other attribute sources (for example CUE
// catalogs) plug in through the AttributeReader interface.
//
// REGISTRY:
//
// The Registry is an explicit value built once at startup and handed to the
// compiler. There is no package-level cache. Resolve is safe for concurrent
// use: concurrent first-time resolutions of the same type converge on a
// single cached *EntityMapping, and entries are never evicted.
package mapping
