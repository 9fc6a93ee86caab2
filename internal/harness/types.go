package harness

import (
	"github.com/roach88/denorm/internal/load"
	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/pipeline"
	"github.com/roach88/denorm/internal/store"
)

// TargetState is the content of the target after one run: per collection,
// the digest of each stored document by original id.
type TargetState map[model.Collection]map[int64]string

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success: every assertion held.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Reports holds one pipeline report per run, in run order.
	Reports []*pipeline.Report `json:"reports"`

	// States holds the target state after each run.
	States []TargetState `json:"-"`

	// Diffs compares the ledger digests of the first run with each later
	// run.
	Diffs []*store.RunDiff `json:"diffs,omitempty"`

	// Target is the in-memory target after the last run.
	Target *load.Memory `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Last returns the report of the last run.
func (r *Result) Last() *pipeline.Report {
	if len(r.Reports) == 0 {
		return nil
	}
	return r.Reports[len(r.Reports)-1]
}
