package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
	"github.com/roach88/denorm/internal/store"
	"github.com/roach88/denorm/internal/testutil"
)

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
		})
	}
}

func TestRun_InlineDataset(t *testing.T) {
	scenario := &Scenario{
		Name: "inline",
		Data: testutil.Acme(),
		Runs: 3,
		Assertions: []Assertion{
			{Type: AssertStatus, Status: "succeeded"},
			{Type: AssertDocumentCount, Collection: "projects", Count: 1},
			{Type: AssertDeterministic},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
	assert.Len(t, result.Reports, 3)
	assert.Len(t, result.States, 3)
	assert.Len(t, result.Diffs, 2)

	assert.Equal(t, "run-1", result.Reports[0].RunID)
	assert.Equal(t, "run-3", result.Last().RunID)
	assert.Zero(t, result.Reports[0].Restored)
	assert.Equal(t, result.Reports[0].NewMappings, result.Last().Restored)
	assert.Zero(t, result.Last().NewMappings)
}

func TestRun_FailingAssertionsAreCollected(t *testing.T) {
	scenario := &Scenario{
		Name: "wrong",
		Data: testutil.Acme(),
		Assertions: []Assertion{
			{Type: AssertStatus, Status: "failed"},
			{Type: AssertDocumentCount, Collection: "users", Count: 7},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertion 0 (status)")
	assert.Contains(t, result.Errors[1], "7 documents in users")
}

func TestRun_FatalIsAnOutcome(t *testing.T) {
	ds := testutil.NewDataset().
		Project(10, 99, "Orphan", "active").
		Build()
	scenario := &Scenario{
		Name:       "fatal",
		Data:       ds,
		Strict:     true,
		Assertions: []Assertion{{Type: AssertFatal, Contains: "organization 99"}},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
	assert.Equal(t, store.StatusFailed, result.Last().Status)
}

func TestBuildDataset_AppendsInlineAndGenerated(t *testing.T) {
	s := &Scenario{
		Dataset: "../extract/testdata/acme.yaml",
		Data:    testutil.NewDataset().User(6, "Bob", "bob@acme.com").Build(),
		Generate: []Generate{
			{Kind: GenerateTasks, Parent: 10, FirstID: 500, Count: 3},
			{Kind: GenerateComments, Parent: 500, FirstID: 9000, Count: 2, UserID: 6},
			{Kind: GenerateAssignees, Parent: 500, FirstID: 5, Count: 2},
		},
	}

	ds, err := BuildDataset(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, ds.Users, 2)
	assert.Equal(t, int64(6), ds.Users[1].ID)

	require.Len(t, ds.Tasks, 5)
	generated := ds.Tasks[2:]
	for i, task := range generated {
		assert.Equal(t, int64(500+i), task.ID)
		assert.Equal(t, int64(10), task.ProjectID)
		assert.Equal(t, model.StatusTodo, task.Status)
		assert.Equal(t, testutil.At(i), task.CreatedAt)
	}
	assert.Equal(t, "Task 500", generated[0].Title)

	require.Len(t, ds.Comments, 3)
	assert.Equal(t, int64(9001), ds.Comments[2].ID)
	assert.Equal(t, int64(6), ds.Comments[2].UserID)

	require.Len(t, ds.TaskAssignees, 3)
	assert.Equal(t, int64(6), ds.TaskAssignees[2].UserID)
}

func TestBuildDataset_MissingFile(t *testing.T) {
	_, err := BuildDataset(context.Background(), &Scenario{Dataset: "missing.yaml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load dataset")
}

func TestScenarioPolicy(t *testing.T) {
	s := &Scenario{Policy: &PolicyOverride{
		Overflow: "truncate",
		Bounds:   map[string]int{"task.comments": 3},
	}}
	table, err := s.policy()
	require.NoError(t, err)
	assert.Equal(t, 3, table.Bound(policy.TaskComments))
	assert.Equal(t, policy.Default().Bound(policy.ProjectTasks), table.Bound(policy.ProjectTasks))
	assert.Equal(t, policy.OverflowTruncate, table.OverflowFor(policy.TaskComments))

	bad := &Scenario{Policy: &PolicyOverride{Bounds: map[string]int{"project.organization": 3}}}
	_, err = bad.policy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy bounds")

	none := &Scenario{}
	table, err = none.policy()
	require.NoError(t, err)
	assert.Equal(t, policy.OverflowFail, table.Overflow())
}
