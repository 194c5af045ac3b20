// Package harness runs query conformance scenarios.
//
// A scenario compiles one query for one or more dialects, optionally
// executes it on a fresh in-memory SQLite database, and checks the
// commands and results with assertions. Snapshots of the commands and
// results can be pinned in golden files.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: adults_paged
//	description: "Adults ordered by id, second page"
//	schema: [shop.cue]         # optional; built-in User/Order fixtures otherwise
//	seed: 20                   # fixture users, without schema only
//	setup:                     # SQL run after the tables exist
//	  - INSERT INTO users (email) VALUES ('x@example.com')
//	dialects: [sqlite, postgres]
//	paging: native             # or row_number
//	vars: { min: 30 }
//	query:                     # or query_file: adults.yaml
//	  from: User
//	  where: {gt: [$Age, {var: min}]}
//	  order_by: [{expr: $ID}]
//	  skip: 5
//	  take: 5
//	assertions:
//	  - type: sql_contains
//	    dialect: postgres
//	    text: "OFFSET 5"
//	  - type: params
//	    params: [30]
//	  - type: rows
//	    rows: [{ID: 16}, {ID: 17}]
//
// # Assertion Types
//
//   - sql_contains / sql_not_contains: the command text has (or lacks) a fragment
//   - params: the command's parameter values, in order
//   - row_count: the number of rows a sequence query returned
//   - rows: the rows, in order; mapping rows match on the keys they name
//   - value: the result of a single-value query (count, any, first...)
//   - error: compiling or running the query failed with a matching message
//
// Any failure without an error assertion fails the scenario.
//
// # Deterministic Testing
//
// Every run opens its own database. Fixture seeding uses the fixed
// testutil clock, so timestamps and identities repeat across runs.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/adults.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
