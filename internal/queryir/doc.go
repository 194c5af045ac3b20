// Package queryir provides the caller-facing query description that relq
// compiles into SQL.
//
// A Query is a declarative, strongly-typed description of what to read:
// an entity source, optional joins, a predicate, a projection, grouping,
// ordering, paging and a result operator. Queries are built in Go code or
// decoded from YAML (see Decode) and handed to the translator, which turns
// them into the relational IR.
//
// ARCHITECTURE:
//
//	[Go builder / YAML] → [queryir.Query] → [translate] → [ir.Projection]
//	                                      → [rewrite] → [querysql] → SQL
//
// SEALED INTERFACES:
//
// Expr is a sealed interface using the marker method pattern. Only types in
// this package implement it, so the partial evaluator and binder can use
// exhaustive type switches:
//
//	switch e := expr.(type) {
//	case *Field:
//	    // Column reference
//	case *Value:
//	    // Literal
//	default:
//	    // Impossible - compiler knows all Expr types
//	}
//
// SOURCES:
//
// Every source in a query has a name. The root source is named by Query.As
// (the empty string when unset); joined sources name themselves with
// Join.As. A Field refers to a member of a source by name and dotted member
// path:
//
//	&Field{Source: "u", Path: "Address.City"}
//
// An empty Path refers to the whole source row (an entity or record).
// Inside a relation aggregate, the relation member name is itself a source
// naming the child rows.
//
// CAPTURED VALUES:
//
// Var wraps a Go closure that is read once, at compile time, by the partial
// evaluator. Everything that does not depend on a Field is folded into a
// literal before translation, so captured variables never reach SQL as
// expressions; they become parameters.
//
// PORTABILITY:
//
// Validate reports features that only some dialects render natively
// (lateral/apply joins, offset paging, client-evaluated calls). Such
// queries still compile; the warnings tell the caller which dialects will
// emulate or reject them.
package queryir
