// Package store provides SQLite-backed durable storage for the convergence
// engine.
//
// Tables:
//   - convergence_results: one row per (token_symbol, window_start)
//   - proof_guards: one row per publishable identity, the compare-and-set point
//     for ledger publication
//   - published_claims: agent report claims, one per report_id
//   - signals, agent_reports: local input tables for collectors that write
//     through the engine
//   - scan_checkpoints: how far each window has been scanned
//
// # Invariants
//
// Uniqueness is enforced by the database, never by a read-then-write in Go:
// every insert uses ON CONFLICT DO NOTHING and reports whether it inserted.
//
// Proof fields are attached with UPDATE ... WHERE proof_tx_ref IS NULL, so a
// reference is written at most once no matter how many publishers race.
//
// Queries that return lists use a total order (time, then id) so repeated
// reads of the same data return identical results.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
