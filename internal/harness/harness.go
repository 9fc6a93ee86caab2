package harness

import (
	"context"
	"fmt"

	"github.com/roach88/denorm/internal/extract"
	"github.com/roach88/denorm/internal/load"
	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/pipeline"
	"github.com/roach88/denorm/internal/policy"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/store"
	"github.com/roach88/denorm/internal/testutil"
	"github.com/roach88/denorm/internal/transform"
	"github.com/roach88/denorm/internal/validate"
)

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh in-memory ledger and target, sequential ids and
// a deterministic clock. Every run shares the ledger, the target and the id
// generator, the way consecutive production runs share a ledger file and a
// database.
//
// A fatal run error is part of the outcome, not an error of Run: it is
// recorded in the report and checked with the fatal assertion.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	ds, err := BuildDataset(ctx, scenario)
	if err != nil {
		return nil, err
	}
	table, err := scenario.policy()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	target := load.NewMemory()
	gen := registry.NewSequentialGenerator()
	clock := testutil.NewClock()
	log := logger.Discard()

	runs := scenario.Runs
	if runs == 0 {
		runs = 1
	}

	result := NewResult()
	result.Target = target
	for i := 1; i <= runs; i++ {
		p := pipeline.New(extract.NewStatic(ds),
			pipeline.WithEngine(transform.New(
				transform.WithPolicy(table),
				transform.WithStrict(scenario.Strict),
				transform.WithLogger(log),
			)),
			pipeline.WithLoader(load.New(target, load.WithLogger(log))),
			pipeline.WithLedger(st),
			pipeline.WithValidator(validate.New(target,
				validate.WithPolicy(table),
				validate.WithLogger(log),
			)),
			pipeline.WithGenerator(gen),
			pipeline.WithLogger(log),
			pipeline.WithClock(clock.Next),
			pipeline.WithRunID(runID(i)),
		)

		report, _ := p.Run(ctx)
		if report == nil {
			return nil, fmt.Errorf("run %d: no report", i)
		}
		result.Reports = append(result.Reports, report)

		state, err := captureState(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		result.States = append(result.States, state)

		if i > 1 {
			diff, err := st.CompareRuns(ctx, runID(1), runID(i))
			if err != nil {
				return nil, fmt.Errorf("run %d: %w", i, err)
			}
			result.Diffs = append(result.Diffs, diff)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func runID(i int) string {
	return fmt.Sprintf("run-%d", i)
}

// BuildDataset assembles the scenario's source rows: the dataset file, then
// inline rows, then generated rows.
func BuildDataset(ctx context.Context, s *Scenario) (*model.Dataset, error) {
	ds := &model.Dataset{}
	if s.Dataset != "" {
		fromFile, err := extract.NewFile(s.Dataset).Extract(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load dataset: %w", err)
		}
		ds = fromFile
	}
	if d := s.Data; d != nil {
		ds.Organizations = append(ds.Organizations, d.Organizations...)
		ds.Users = append(ds.Users, d.Users...)
		ds.Memberships = append(ds.Memberships, d.Memberships...)
		ds.Projects = append(ds.Projects, d.Projects...)
		ds.Tasks = append(ds.Tasks, d.Tasks...)
		ds.Labels = append(ds.Labels, d.Labels...)
		ds.TaskLabels = append(ds.TaskLabels, d.TaskLabels...)
		ds.TaskAssignees = append(ds.TaskAssignees, d.TaskAssignees...)
		ds.Comments = append(ds.Comments, d.Comments...)
	}
	for _, g := range s.Generate {
		g.apply(ds)
	}
	return ds, nil
}

// apply appends the generated rows to ds. Timestamps advance one minute per
// row so embedded order follows id order.
func (g Generate) apply(ds *model.Dataset) {
	for i := 0; i < g.Count; i++ {
		id := g.FirstID + int64(i)
		at := testutil.At(i)
		switch g.Kind {
		case GenerateTasks:
			ds.Tasks = append(ds.Tasks, model.Task{
				ID:        id,
				ProjectID: g.Parent,
				Title:     fmt.Sprintf("Task %d", id),
				Status:    model.StatusTodo,
				Priority:  "medium",
				CreatedAt: at,
				UpdatedAt: at,
			})
		case GenerateComments:
			ds.Comments = append(ds.Comments, model.Comment{
				ID:        id,
				TaskID:    g.Parent,
				UserID:    g.UserID,
				Content:   fmt.Sprintf("Comment %d", id),
				CreatedAt: at,
			})
		case GenerateAssignees:
			ds.TaskAssignees = append(ds.TaskAssignees, model.TaskAssignee{
				TaskID:     g.Parent,
				UserID:     id,
				AssignedAt: at,
			})
		}
	}
}

// policy builds the scenario's relationship policy table.
func (s *Scenario) policy() (*policy.Table, error) {
	table := policy.Default()
	p := s.Policy
	if p == nil {
		return table, nil
	}
	if p.File != "" {
		var err error
		if table, err = policy.LoadFile(p.File); err != nil {
			return nil, err
		}
	}
	for rel, bound := range p.Bounds {
		var err error
		if table, err = table.WithBound(policy.Relationship(rel), bound); err != nil {
			return nil, fmt.Errorf("policy bounds: %w", err)
		}
	}
	if p.Overflow != "" {
		o, err := policy.ParseOverflow(p.Overflow)
		if err != nil {
			return nil, err
		}
		table = table.WithOverflow(o)
	}
	return table, nil
}

func captureState(ctx context.Context, target *load.Memory) (TargetState, error) {
	state := make(TargetState, len(model.Collections))
	for _, c := range model.Collections {
		docs, err := target.Documents(ctx, c)
		if err != nil {
			return nil, err
		}
		digests := make(map[int64]string, len(docs))
		for _, d := range docs {
			digest, err := model.DocumentDigest(d)
			if err != nil {
				return nil, err
			}
			digests[d.SourceID()] = digest
		}
		state[c] = digests
	}
	return state, nil
}
