// Package journal records dispatch cycles in a SQLite database.
//
// The journal is an append-only diagnostic log: one row per finished cycle
// with its outcome, the epics it changed, a hash of their committed states
// and the reducer and listener invocations it ran. It is written by a
// Recorder attached to a store as an observer and read back by the
// trace command. Nothing is ever restored from it.
//
// # Logical Time
//
// Rows are keyed by (run, seq). seq is the store's cycle sequence number,
// which restarts with every store, so each Recorder stamps its rows with a
// run identifier. Queries order by run, then seq.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait up to 5s for locks
//   - user_version: schema migrations
package journal
