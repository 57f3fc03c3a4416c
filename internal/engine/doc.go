// Package engine executes reconciliation controls.
//
// A run is a staged pipeline in which every stage materializes a
// temporary relation keyed by the run's process id:
//
//  1. window resolution
//  2. source fetch (A, B)
//  3. correlation (COMB, MOD)
//  4. organization (ORG_A, ORG_B)
//  5. fuzzy duplicate resolution (DUP)
//  6. match stabilization (MAC fixed-point loop)
//  7. classification (ERROR_A/B, STAGE_A/B)
//  8. result writing
//
// The orchestration layer is single-threaded: stages execute
// sequentially, each awaiting the previous stage's relation, and
// every database round-trip is a suspension point. Cancellation is
// observed between round-trips; in-flight statements are never
// killed. Temporary relations are deleted on every terminal state
// unless debug mode retains them.
package engine
