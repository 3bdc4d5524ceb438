// Package history persists the outcome of every export in SQLite so the CLI
// can list what was produced, what failed and why.
//
// Rows are append-only. The schema is versioned; a mismatched database must be
// cleared rather than migrated.
package history
