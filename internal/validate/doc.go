// Package validate reads migrated documents back from the target store and
// checks them against the extraction snapshot and the registry export.
//
// Checks fall into four categories:
//
//	count         collection counts match the records the run should have produced
//	relationship  every embedded reference resolves through the registry export
//	sample        a deterministic sample of documents matches its source rows
//	invariant     embedded array bounds and derived stats hold
//
// Validation never writes.
package validate
