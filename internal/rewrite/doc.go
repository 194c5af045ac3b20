// Package rewrite simplifies translated query trees before formatting.
//
// ARCHITECTURE:
//
// The translator emits one select layer per query level and keeps
// correlated constructs as they were written. The pipeline runs these
// passes in order:
//
//  1. UnusedColumns: drop column declarations nobody reads
//  2. RedundantColumns: collapse duplicate declarations of one column
//  3. RedundantSubqueries: inline passthrough selects, then merge a
//     select with its FROM select when the compatibility rules allow
//  4. CrossApply and CrossJoin: turn provably uncorrelated applies into
//     joins and cross joins with an equality filter into inner joins
//  5. passes 1-3 again when 4 changed the tree
//  6. AggregateSubqueries: move relation aggregates into their grouped
//     select as columns (followed by 1-3 when it changed the tree)
//  7. SkipToRowNumber: emulate OFFSET with ROW_NUMBER when the dialect
//     has no native offset or paging is configured to emulate
//  8. Parameterize: replace literals compared against values with named
//     parameters
//
// CRITICAL:
//
// Every pass is a pure func(*ir.Projection) (*ir.Projection, error) and
// returns its input pointer when nothing changed. The pipeline relies on
// that to detect change, and running it twice on its own output returns
// the same tree.
package rewrite
