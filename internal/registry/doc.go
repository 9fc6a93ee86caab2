// Package registry maps source records to generated document identifiers.
//
// A Registry is scoped to one migration run and passed explicitly to every
// transform call. It is the single source of truth for cross-entity
// reference resolution while documents are built:
//
//   - Resolve allocates on first sight and returns the same id forever after
//   - Lookup never allocates; validation uses it to assert existence
//   - Export snapshots the whole mapping for persistence and audit
//
// Thread-safety: all methods are safe for concurrent use. Allocation is
// guarded by a single mutex, so two workers resolving the same key observe
// the same id.
package registry
