// Package control models the control catalogue: the per-control
// parameters a run consumes, the rule configuration that drives the
// reconciliation pipeline, and the alternative window
// parameterizations (iterations).
//
// Rule and iteration configurations are JSON documents stored in the
// catalogue table. Parsing applies global algorithm defaults for the
// toggles the document omits, folds field names to the canonical
// lower-case form, and validates everything a run would otherwise
// trip over mid-flight.
package control
