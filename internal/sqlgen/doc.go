// Package sqlgen builds the SQL statements the reconciliation pipeline
// executes against the database.
//
// Rule configurations drive predicate and projection construction, so
// statements are assembled from a small typed expression tree rather
// than ad-hoc string concatenation. Catalogue-supplied identifiers are
// normalized and validated before they are embedded; free-form
// formula fragments are confined to the Raw node so every other path
// stays injection-safe by construction.
//
// The renderer targets SQLite. Date values travel as TEXT in the
// "YYYY-MM-DD HH:MM:SS" layout and date arithmetic goes through
// julianday().
package sqlgen
