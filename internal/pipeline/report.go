package pipeline

import (
	"time"

	"github.com/roach88/denorm/internal/load"
	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/store"
	"github.com/roach88/denorm/internal/transform"
	"github.com/roach88/denorm/internal/validate"
)

// StageReport counts the outcome of one stage.
type StageReport struct {
	Stage     transform.Stage `json:"stage"`
	Succeeded int             `json:"succeeded"`
	Skipped   int             `json:"skipped"`
	Errors    int             `json:"errors"`
}

// Report is the outcome of a run. It always distinguishes produced
// documents, skipped records with reasons, and the fatal cause if any.
type Report struct {
	RunID      string          `json:"run_id"`
	DryRun     bool            `json:"dry_run"`
	Status     store.Status    `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Overflow   policy.Overflow `json:"overflow_policy"`

	// Restored is the number of mappings reused from earlier runs;
	// NewMappings the number first persisted by this run.
	Restored    int `json:"restored_mappings"`
	NewMappings int `json:"new_mappings"`

	Stages     []StageReport      `json:"stages"`
	Batches    []load.BatchStats  `json:"batches,omitempty"`
	Validation *validate.Report   `json:"validation,omitempty"`
	Summary    transform.Summary  `json:"summary"`
	Errors     []transform.Error  `json:"errors"`
	Fatal      string             `json:"fatal,omitempty"`

	// Documents and Registry hold the run's output for callers that write
	// it elsewhere.
	Documents map[model.Collection][]model.Document `json:"-"`
	Registry  registry.Snapshot                     `json:"-"`

	errorsSaved bool
}

// LoadFailures returns the number of documents the sink rejected.
func (r *Report) LoadFailures() int {
	return load.Totals(r.Batches).Failed
}

// Clean reports whether the run finished with every record produced, loaded
// and validated.
func (r *Report) Clean() bool {
	return r.Status == store.StatusSucceeded
}

func (r *Report) status(fatal error) store.Status {
	switch {
	case fatal != nil:
		return store.StatusFailed
	case r.Summary.Skipped > 0, r.LoadFailures() > 0:
		return store.StatusPartial
	case r.Validation != nil && !r.Validation.Passed():
		return store.StatusPartial
	}
	return store.StatusSucceeded
}
