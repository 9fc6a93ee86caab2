// Package harness runs migration scenarios as executable contract tests.
//
// A scenario is a YAML file naming a source dataset (inline, from a fixture
// file, or synthesized), an optional policy override, and assertions on the
// outcome. The harness runs the full pipeline against an in-memory ledger
// and an in-memory target with sequential identifiers and a deterministic
// clock, so every run of a scenario produces the same documents.
//
// # Scenario Format
//
//	name: missing_assignee
//	description: "A task assigned to an unknown user is skipped alone"
//	dataset: ../../extract/testdata/acme.yaml   # or data: {...} inline
//	generate:
//	  - kind: tasks
//	    parent: 10
//	    first_id: 1000
//	    count: 501
//	policy:
//	  overflow: truncate
//	  bounds: {project.tasks: 500}
//	strict: false
//	runs: 2
//	assertions:
//	  - type: status
//	    status: partial
//	  - type: document_count
//	    collection: projects
//	    count: 1
//	  - type: document
//	    collection: projects
//	    original_id: 10
//	    fields: {org_name: Acme}
//	  - type: task
//	    original_id: 100
//	    fields: {title: Build}
//	  - type: embedded_count
//	    collection: projects
//	    original_id: 10
//	    path: tasks
//	    count: 500
//	  - type: error
//	    kind: MISSING_REFERENCE
//	    entity: task
//	    original_id: 101
//	    skipped: true
//	    details: {missing_id: "999"}
//	  - type: error_count
//	    kind: BOUND_EXCEEDED
//	    count: 1
//	  - type: validation_passed
//	  - type: check_failed
//	    check: projects count
//	  - type: deterministic
//	  - type: fatal
//	    contains: strict references
//
// # Assertions
//
// document and task assertions use subset matching over the canonical JSON
// form of the document: only the listed fields are compared, nested maps
// recurse, arrays must match element by element. Timestamps must be quoted
// RFC 3339 strings or YAML timestamps.
//
// deterministic requires runs >= 2: every run after the first must leave
// the target with the same document digests under the same ids as the
// first, and the same per-collection counts.
//
// # Golden Files
//
// RunWithGolden compares a compact snapshot (status, counts, produced
// mappings, errors) against testdata/golden/<name>.golden:
//
//	go test ./internal/harness -update
package harness
