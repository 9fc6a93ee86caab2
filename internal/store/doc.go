// Package store provides the SQLite run ledger.
//
// The ledger records, per migration run:
//   - Runs: id (UUIDv7), start/finish time, status, fatal cause, overflow policy
//   - ID mappings: the identifier registry, so re-runs reuse generated ids
//   - Run errors: the accumulated record errors and warnings, in order
//   - Document digests: canonical content digests per (collection, original id)
//
// # Patterns
//
// Idempotent writes: mappings use ON CONFLICT DO NOTHING and then verify
// that the stored generated id agrees, so saving the same registry twice is
// a no-op while a conflicting mapping is an error.
//
// Deterministic reads: every query has a total ORDER BY.
//
// Digests are computed by model.DocumentDigest over canonical JSON, so two
// runs with identical input and allocation produce identical ledgers.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
