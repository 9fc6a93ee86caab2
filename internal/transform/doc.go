// Package transform implements the denormalization engine.
//
// The engine turns one run's extracted relational rows into four collections
// of documents: organizations, users, labels and projects. Tasks, assignees,
// labels and comments are embedded in their project; organizations are
// referenced by generated id with their name copied alongside.
//
// ARCHITECTURE:
//
// A run is a sequence of stages in dependency order (see Stages). Every
// stage works in two phases:
//
//  1. Build: records are independent, so drafts are built by parallel
//     workers. Workers only read the shared index and resolve references
//     with the non-allocating Registry.Lookup.
//  2. Allocate: drafts are finalized one by one in original id order and
//     receive their generated ids from Registry.Resolve.
//
// Allocation order therefore never depends on worker scheduling, and a
// deterministic generator yields byte-identical documents across runs.
//
// A reference resolves only to a record produced earlier in the same run. A
// registry restored from a previous run may know ids for rows that were not
// extracted this time; those do not count.
//
// ERRORS:
//
// Record-level problems (MISSING_REFERENCE, BOUND_EXCEEDED) skip the record
// and are accumulated. DUPLICATE_ORIGINAL_ID and truncation are warnings.
// Only REGISTRY_EXHAUSTION, a stage run out of order and, in strict mode, a
// project whose organization is missing abort the run.
package transform
