// Package ir provides the canonical data model for the convergence engine.
//
// Everything that is hashed, persisted, or submitted to the ledger is
// defined here: signals, observations, convergence results, published
// claims, and the identity keys that make publication idempotent.
//
// This package imports nothing internal. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Canonical payloads carry NO floats. Scores are fixed-point
//     hundredths (int64) so the same logical artifact always hashes
//     identically.
//   - Canonical JSON is RFC 8785 (sorted keys, NFC strings, no HTML escaping).
//   - Content hashes use SHA-256 with domain separation.
//   - All JSON tags use snake_case.
package ir
