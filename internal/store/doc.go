// Package store provides SQLite-backed access to the shared Rapo
// state: the control catalogue (rapo_config), the run log (rapo_log)
// and the start checkpoint (rapo_checkpoint).
//
// The catalogue and the log are the only shared mutable state in the
// system; every write is a small standalone transaction and the
// engine never caches either across pipeline stages. Per-run
// temporary relations are private to one process_id and go through
// the generic table helpers.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
