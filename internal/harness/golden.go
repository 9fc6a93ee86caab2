package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/transform"
)

// Snapshot is the golden form of a scenario outcome: what the last run
// produced, keyed by source ids so goldens survive id allocation changes.
type Snapshot struct {
	Scenario string                     `json:"scenario"`
	Status   string                     `json:"status"`
	Counts   map[model.Collection]int64 `json:"counts"`
	Mappings []string                   `json:"mappings"`
	Errors   []transform.Error          `json:"errors"`
}

// NewSnapshot builds the snapshot of a scenario result.
func NewSnapshot(ctx context.Context, name string, result *Result) (*Snapshot, error) {
	last := result.Last()
	snap := &Snapshot{
		Scenario: name,
		Status:   string(last.Status),
		Counts:   make(map[model.Collection]int64, len(model.Collections)),
		Mappings: []string{},
		Errors:   []transform.Error{},
	}
	for _, c := range model.Collections {
		n, err := result.Target.Count(ctx, c)
		if err != nil {
			return nil, err
		}
		snap.Counts[c] = n
	}
	for _, m := range last.Registry {
		snap.Mappings = append(snap.Mappings, m.Key().String())
	}
	snap.Errors = append(snap.Errors, last.Errors...)
	return snap, nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot be executed. Assertion failures
// and golden mismatches fail t.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	ctx := context.Background()
	result, err := Run(ctx, scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	snap, err := NewSnapshot(ctx, scenario.Name, result)
	if err != nil {
		return err
	}
	data, err := model.CanonicalJSON(snap)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
