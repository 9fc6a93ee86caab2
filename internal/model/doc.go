// Package model defines the shared types of the migration: relational source
// rows, the document shapes written to the target store, entity keys, and the
// canonical JSON encoding used for digests and golden files.
//
// This package imports nothing internal. Every other internal package imports
// model; model stays the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Source rows are immutable once extracted for a run
//   - Documents carry both the generated id and the original relational id
//   - Embedded slices are never nil, so encoders emit [] instead of null
//   - No float fields anywhere; counters are int
package model
