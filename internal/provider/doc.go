// Package provider compiles query descriptions and runs them against a
// storage connection.
//
// # Architecture
//
// A query goes through four stages:
//
//  1. translate: description to a naive relational tree
//  2. rewrite: the fixed pass pipeline for the target dialect
//  3. querysql: one parameterized command plus the projector
//  4. execution: rows are read lazily and shaped by the projector
//
// Stages 1-3 run when a query is created, so translation and dialect
// errors surface before anything touches storage. Stage 4 runs when the
// result is enumerated.
//
// # Critical Patterns
//
// Sequences are forward-only and single-use: a second enumeration yields
// ErrAlreadyEnumerated instead of re-running the command.
//
// Context cancellation reaches storage only through the Connection; the
// provider itself never blocks.
//
// Writes compare the version member when the entity has one. A write that
// matches zero rows is a conflict, resolved by the caller's
// ConflictStrategy or reported as *ConflictError.
package provider
