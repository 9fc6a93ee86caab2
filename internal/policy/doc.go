// Package policy holds the relationship policy table.
//
// Every relationship between source tables is either embedded in the owning
// document (with a bound on the embedded array) or kept as a reference to a
// document in another collection. The table lives in CUE: a default is
// compiled into the binary and an override file may replace individual rows.
//
//	overflow: "fail"
//	relationships: {
//		"task.assignees": {mode: "embed", bound: 20}
//		"label.organization": {mode: "reference"}
//	}
package policy
