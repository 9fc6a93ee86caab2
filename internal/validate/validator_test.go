package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/denorm/internal/load"
	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/testutil"
	"github.com/roach88/denorm/internal/transform"
)

// migrate transforms ds, loads it into a Memory sink and returns the
// validation input for it.
func migrate(t *testing.T, ds *model.Dataset) (*load.Memory, Input) {
	t.Helper()
	ctx := context.Background()
	reg := testutil.NewRegistry()

	res, err := transform.New(transform.WithLogger(logger.Discard())).Transform(ctx, ds, reg)
	require.NoError(t, err)

	sink := load.NewMemory()
	docs := make(map[model.Collection][]model.Document)
	for _, c := range model.Collections {
		docs[c] = res.Documents(c)
	}
	_, err = load.New(sink, load.WithLogger(logger.Discard())).LoadAll(ctx, docs)
	require.NoError(t, err)

	return sink, Input{Dataset: ds, Mappings: reg.Export(), Errors: res.Errors}
}

func check(t *testing.T, r *Report, name string) Check {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no check named %q", name)
	return Check{}
}

func TestValidate_CleanRunPasses(t *testing.T) {
	sink, in := migrate(t, testutil.Rich())

	report, err := New(sink, WithLogger(logger.Discard())).Validate(context.Background(), in)
	require.NoError(t, err)

	for _, c := range report.Checks {
		assert.True(t, c.Passed, "%s: %s %v", c.Name, c.Message, c.Failures)
	}
	assert.True(t, report.Passed())
	assert.Empty(t, report.Failed())

	tasks := check(t, report, "task count (embedded)")
	assert.Equal(t, int64(4), tasks.Actual)
	comments := check(t, report, "comment count (embedded)")
	assert.Equal(t, int64(3), comments.Actual)
}

func TestValidate_SkippedRecordsAreNotExpected(t *testing.T) {
	ds := testutil.NewDataset().
		Org(1, "Acme").
		User(5, "Alice", "alice@acme.com").
		Project(10, 1, "Web", "active").
		Project(11, 99, "Orphan", "active").
		Task(100, 10, "Build", model.StatusCompleted).
		Task(101, 10, "Ghost", model.StatusTodo).
		Assign(100, 5).
		Assign(101, 999).
		Build()
	sink, in := migrate(t, ds)

	report, err := New(sink, WithLogger(logger.Discard())).Validate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, report.Passed(), "%+v", report.Failed())

	projects := check(t, report, "projects count")
	assert.Equal(t, int64(1), projects.Expected)
	assert.Equal(t, int64(1), projects.Actual)
	assert.Equal(t, int64(1), check(t, report, "task count (embedded)").Actual)
}

func TestValidate_MissingDocument(t *testing.T) {
	sink, in := migrate(t, testutil.Rich())
	sink.Delete(model.CollectionUsers, 6)

	report, err := New(sink, WithLogger(logger.Discard())).Validate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, report.Passed())

	users := check(t, report, "users count")
	assert.False(t, users.Passed)
	assert.Equal(t, int64(3), users.Expected)
	assert.Equal(t, int64(2), users.Actual)
	assert.Contains(t, users.Message, "difference 1")

	samples := check(t, report, "users samples (n=3)")
	assert.False(t, samples.Passed)
	assert.Contains(t, samples.Failures, "user:6: not found")
}

func TestValidate_FieldMismatch(t *testing.T) {
	sink, in := migrate(t, testutil.Rich())

	doc, ok, err := sink.Get(context.Background(), model.CollectionProjects, 10)
	require.NoError(t, err)
	require.True(t, ok)
	p := doc.(model.ProjectDoc)
	p.Name = "Website"
	p.Tasks = append([]model.TaskDoc(nil), p.Tasks...)
	p.Tasks[0].Title = "Built"
	sink.Put(p)

	report, err := New(sink, WithLogger(logger.Discard())).Validate(context.Background(), in)
	require.NoError(t, err)

	samples := check(t, report, "projects samples (n=2)")
	assert.False(t, samples.Passed)
	assert.Contains(t, samples.Failures, "project:10: name: want Web, got Website")
	assert.Contains(t, samples.Failures, "project:10: task 100 title: want Build, got Built")

	assert.True(t, check(t, report, "projects count").Passed)
}

func TestValidate_UnresolvedReference(t *testing.T) {
	sink, in := migrate(t, testutil.Rich())

	doc, _, err := sink.Get(context.Background(), model.CollectionLabels, 22)
	require.NoError(t, err)
	l := doc.(model.LabelDoc)
	l.OrgID = registry.SequentialID(999)
	sink.Put(l)

	report, err := New(sink, WithLogger(logger.Discard())).Validate(context.Background(), in)
	require.NoError(t, err)

	refs := check(t, report, "labels references")
	assert.False(t, refs.Passed)
	require.Len(t, refs.Failures, 1)
	assert.Contains(t, refs.Failures[0], "label:22: reference")
	assert.True(t, check(t, report, "projects references").Passed)
}

func TestValidate_IdentityMismatch(t *testing.T) {
	sink, in := migrate(t, testutil.Acme())

	doc, _, err := sink.Get(context.Background(), model.CollectionOrganizations, 1)
	require.NoError(t, err)
	org := doc.(model.OrganizationDoc)
	org.ID = testutil.ID(2)
	sink.Put(org)

	report, err := New(sink, WithLogger(logger.Discard())).Validate(context.Background(), in)
	require.NoError(t, err)

	refs := check(t, report, "organizations references")
	assert.False(t, refs.Passed)
	assert.Contains(t, refs.Failures[0], "is registered to user:5")
}

func TestValidate_BoundsAndStats(t *testing.T) {
	sink, in := migrate(t, testutil.Rich())

	doc, _, err := sink.Get(context.Background(), model.CollectionProjects, 10)
	require.NoError(t, err)
	p := doc.(model.ProjectDoc)
	p.Stats.CompletedTasks = 3
	sink.Put(p)

	tight, err := policy.Default().WithBound(policy.TaskAssignees, 1)
	require.NoError(t, err)

	report, err := New(sink, WithPolicy(tight), WithLogger(logger.Discard())).Validate(context.Background(), in)
	require.NoError(t, err)

	bounds := check(t, report, "embedded bounds")
	assert.False(t, bounds.Passed)
	assert.Equal(t, []string{"task:100: task.assignees has 2 entries, bound 1"}, bounds.Failures)

	stats := check(t, report, "project stats")
	assert.False(t, stats.Passed)
	require.Len(t, stats.Failures, 1)
	assert.Contains(t, stats.Failures[0], "project 10")
}

func TestValidate_SampleSizeZeroSkipsSamples(t *testing.T) {
	sink, in := migrate(t, testutil.Rich())
	sink.Delete(model.CollectionOrganizations, 2)

	report, err := New(sink, WithSampleSize(0), WithLogger(logger.Discard())).Validate(context.Background(), in)
	require.NoError(t, err)

	samples := check(t, report, "organizations samples (n=0)")
	assert.True(t, samples.Passed)
	assert.False(t, check(t, report, "organizations count").Passed)
}

func TestSample(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		name string
		n    int
		want []int64
	}{
		{"all when small", 20, ids},
		{"zero", 0, nil},
		{"one", 1, []int64{1}},
		{"ends included", 2, []int64{1, 10}},
		{"spread", 4, []int64{1, 4, 7, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sample(ids, tt.n))
		})
	}
}

func TestReport_Summary(t *testing.T) {
	r := &Report{Checks: []Check{{Passed: true}, {Passed: false}, {Passed: true}}}
	passed, failed := r.Summary()
	assert.Equal(t, 2, passed)
	assert.Equal(t, 1, failed)
	assert.False(t, r.Passed())
	assert.Len(t, r.Failed(), 1)
}

func TestCheck_FailCapsMessages(t *testing.T) {
	c := Check{Passed: true}
	for i := 0; i < maxFailures+5; i++ {
		c.fail("x")
	}
	assert.False(t, c.Passed)
	assert.Len(t, c.Failures, maxFailures)
	assert.Equal(t, 5, c.Truncated)
}

func TestRelevant_DropsStaleAndOrphanedMappings(t *testing.T) {
	ds := testutil.NewDataset().
		Org(1, "Acme").
		User(5, "Alice", "alice@acme.com").
		Project(10, 1, "Web", "active").
		Project(11, 99, "Orphan", "active").
		Task(100, 10, "Build", model.StatusCompleted).
		Task(110, 11, "Lost", model.StatusTodo).
		Comment(1000, 100, 5, "ok").
		Comment(1001, 110, 5, "lost too").
		Build()
	_, in := migrate(t, ds)

	// Mappings left behind by an earlier run over different data.
	reg := registry.New(testutil.GeneratorAt(100))
	require.NoError(t, reg.Restore(in.Mappings))
	for _, k := range []model.Key{
		model.KeyOf(model.EntityProject, 11),
		model.KeyOf(model.EntityTask, 110),
		model.KeyOf(model.EntityComment, 1001),
		model.KeyOf(model.EntityUser, 77),
	} {
		_, err := reg.Resolve(k.Type, k.OriginalID)
		require.NoError(t, err)
	}

	got := Relevant(reg.Export(), ds, in.Errors)

	var keys []string
	for _, m := range got {
		keys = append(keys, m.Key().String())
	}
	assert.Equal(t, []string{
		"comment:1000",
		"organization:1",
		"project:10",
		"task:100",
		"user:5",
	}, keys)
}
