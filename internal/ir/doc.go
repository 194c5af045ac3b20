// Package ir defines the relational expression model used by the query
// compiler.
//
// The IR is a dialect-neutral tree of tables, aliased selects, columns,
// joins, subqueries and scalar expressions. A compiled query is a
// *Projection: a root *Select plus a projector expression describing how a
// materializer turns result rows into the caller's requested shape.
//
// SEALED INTERFACE:
//
// Expr is sealed with a marker method. Only types in this package implement
// it, so every traversal in the compiler can use an exhaustive type switch:
//
//	switch n := e.(type) {
//	case *Select:
//	case *Column:
//	...
//	default:
//	    panic(fmt.Sprintf("ir: unhandled node %T", e))
//	}
//
// IMMUTABILITY:
//
// Nodes are never modified after construction. Slices held by a node are
// never appended to or written in place. Every transformation builds new
// nodes (the With* helpers on *Select return copies) and returns the input
// pointer unchanged when nothing changed, so passes can detect fixed points
// with pointer comparison.
//
// ALIASES:
//
// Every table and select instance carries an Alias minted by NewAlias.
// Aliases come from a process-wide counter and are never reused. A copy of
// a select that replaces the original keeps the original alias; a new
// select layer always receives a fresh alias.
package ir
