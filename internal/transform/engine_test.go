package transform

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/testutil"
)

func newEngine(opts ...Option) *Engine {
	return New(append([]Option{WithLogger(logger.Discard())}, opts...)...)
}

func transformAll(t *testing.T, ds *model.Dataset, opts ...Option) (*Result, *registry.Registry) {
	t.Helper()
	reg := testutil.NewRegistry()
	res, err := newEngine(opts...).Transform(context.Background(), ds, reg)
	require.NoError(t, err)
	return res, reg
}

func TestTransform_AcmeScenario(t *testing.T) {
	res, _ := transformAll(t, testutil.Acme())

	require.Len(t, res.Organizations, 1)
	require.Len(t, res.Users, 1)
	require.Len(t, res.Projects, 1)
	assert.Empty(t, res.Errors)

	org := res.Organizations[0]
	assert.Equal(t, testutil.ID(1), org.ID)
	assert.Equal(t, 1, org.MemberCount)
	assert.Equal(t, 1, org.ProjectCount)

	user := res.Users[0]
	assert.Equal(t, testutil.ID(2), user.ID)
	require.Len(t, user.Organizations, 1)
	assert.Equal(t, "Acme", user.Organizations[0].OrgName)
	assert.Equal(t, org.ID, user.Organizations[0].OrgID)
	assert.Equal(t, model.UserStats{AssignedTasks: 1, CompletedTasks: 1}, user.Stats)

	project := res.Projects[0]
	assert.Equal(t, "Acme", project.OrgName)
	assert.Equal(t, org.ID, project.OrgID)
	require.Len(t, project.Tasks, 1)

	task := project.Tasks[0]
	assert.Equal(t, "Build", task.Title)
	require.Len(t, task.Assignees, 1)
	assert.Equal(t, "Alice", task.Assignees[0].Name)
	assert.Equal(t, "alice@acme.com", task.Assignees[0].Email)
	assert.Equal(t, user.ID, task.Assignees[0].UserID)
	assert.Equal(t, 1, task.AssigneeCount)
}

func TestTransform_AcmeProjectGolden(t *testing.T) {
	res, _ := transformAll(t, testutil.Acme())
	require.Len(t, res.Projects, 1)

	data, err := model.CanonicalJSON(res.Projects[0])
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "acme_project", append(data, '\n'))
}

func TestTransform_MissingAssignee(t *testing.T) {
	ds := testutil.NewDataset().
		Org(1, "Acme").
		User(5, "Alice", "alice@acme.com").
		Project(10, 1, "Web", "active").
		Task(100, 10, "Build", model.StatusCompleted).
		Task(101, 10, "Review", model.StatusTodo).
		Assign(100, 999).
		Assign(101, 5).
		Build()

	res, reg := transformAll(t, ds)

	require.Len(t, res.Projects, 1)
	tasks := res.Projects[0].Tasks
	require.Len(t, tasks, 1, "other tasks of the project are still produced")
	assert.Equal(t, int64(101), tasks[0].OriginalID)

	require.Len(t, res.Errors, 1)
	e := res.Errors[0]
	assert.Equal(t, KindMissingReference, e.Kind)
	assert.Equal(t, model.EntityTask, e.Entity)
	assert.Equal(t, int64(100), e.OriginalID)
	assert.True(t, e.Skipped)
	assert.Equal(t, "user", e.Details["missing_entity"])
	assert.Equal(t, "999", e.Details["missing_id"])
	assert.True(t, IsMissingReference(&e))

	_, ok := reg.Lookup(model.EntityTask, 100)
	assert.False(t, ok, "skipped task gets no id")
}

func bigProject(tasks int) *model.Dataset {
	b := testutil.NewDataset().
		Org(1, "Acme").
		Project(10, 1, "Big", "active")
	for i := 0; i < tasks; i++ {
		b.TaskAt(int64(1000+i), 10, fmt.Sprintf("task %d", i), model.StatusTodo, testutil.At(100+i))
	}
	return b.Build()
}

func TestTransform_TaskBoundFailSkipsProject(t *testing.T) {
	res, reg := transformAll(t, bigProject(501))

	assert.Empty(t, res.Projects)
	require.Len(t, res.Errors, 1)
	e := res.Errors[0]
	assert.Equal(t, KindBoundExceeded, e.Kind)
	assert.Equal(t, model.EntityProject, e.Entity)
	assert.Equal(t, int64(10), e.OriginalID)
	assert.True(t, e.Skipped)
	assert.Equal(t, "501", e.Details["count"])
	assert.Equal(t, "500", e.Details["bound"])

	assert.Equal(t, 0, reg.Counts()[model.EntityTask])
	assert.Equal(t, 1, res.Stages[3].Skipped)
}

func TestTransform_TaskBoundTruncate(t *testing.T) {
	table := policy.Default().WithOverflow(policy.OverflowTruncate)
	res, reg := transformAll(t, bigProject(501), WithPolicy(table))

	require.Len(t, res.Projects, 1)
	tasks := res.Projects[0].Tasks
	require.Len(t, tasks, 500)
	assert.Equal(t, int64(1000), tasks[0].OriginalID)
	assert.Equal(t, int64(1499), tasks[499].OriginalID)
	assert.Equal(t, 500, res.Projects[0].Stats.TotalTasks)

	require.Len(t, res.Errors, 1)
	assert.True(t, IsBoundExceeded(&res.Errors[0]))
	assert.False(t, res.Errors[0].Skipped)

	_, ok := reg.Lookup(model.EntityTask, 1500)
	assert.False(t, ok, "truncated tasks get no id")
	assert.Equal(t, 500, reg.Counts()[model.EntityTask])
}

func TestTransform_TaskBoundExactlyAtLimit(t *testing.T) {
	res, _ := transformAll(t, bigProject(500))
	require.Len(t, res.Projects, 1)
	assert.Len(t, res.Projects[0].Tasks, 500)
	assert.Empty(t, res.Errors)
}

func TestTransform_EmbeddedBounds(t *testing.T) {
	build := func() *model.Dataset {
		b := testutil.NewDataset().
			Org(1, "Acme").
			Project(10, 1, "Web", "active").
			Task(100, 10, "Crowded", model.StatusTodo).
			Task(101, 10, "Quiet", model.StatusTodo)
		for i := int64(0); i < 3; i++ {
			b.User(50+i, fmt.Sprintf("user%d", i), fmt.Sprintf("u%d@acme.com", i))
			b.Member(1, 50+i, "member")
			b.Assign(100, 50+i)
			b.Label(20+i, 1, fmt.Sprintf("l%d", i), "#fff")
			b.TaskLabel(100, 20+i)
			b.Comment(1000+i, 100, 50+i, "hi")
		}
		return b.Build()
	}

	table := policy.Default()
	for _, rel := range []policy.Relationship{policy.TaskAssignees, policy.TaskLabels, policy.TaskComments} {
		var err error
		table, err = table.WithBound(rel, 2)
		require.NoError(t, err)
	}

	t.Run("fail", func(t *testing.T) {
		res, _ := transformAll(t, build(), WithPolicy(table))
		require.Len(t, res.Projects, 1)
		require.Len(t, res.Projects[0].Tasks, 1)
		assert.Equal(t, int64(101), res.Projects[0].Tasks[0].OriginalID)

		var bound []Error
		for _, e := range res.Errors {
			if e.Kind == KindBoundExceeded {
				bound = append(bound, e)
			}
		}
		require.Len(t, bound, 1, "the first bound hit skips the task")
		assert.Equal(t, model.EntityTask, bound[0].Entity)
		assert.Equal(t, string(policy.TaskAssignees), bound[0].Details["relationship"])
	})

	t.Run("truncate", func(t *testing.T) {
		res, _ := transformAll(t, build(), WithPolicy(table.WithOverflow(policy.OverflowTruncate)))
		require.Len(t, res.Projects, 1)
		require.Len(t, res.Projects[0].Tasks, 2)

		task := res.Projects[0].Tasks[0]
		assert.Len(t, task.Assignees, 2)
		assert.Len(t, task.Labels, 2)
		assert.Len(t, task.Comments, 2)
		assert.Equal(t, 2, task.AssigneeCount)
		assert.Equal(t, 2, task.CommentCount)
		assert.Equal(t, 2, res.Projects[0].Stats.TotalComments)

		// earliest assignees and comments survive
		assert.Equal(t, "user0", task.Assignees[0].Name)
		assert.Equal(t, int64(1000), task.Comments[0].OriginalID)
		assert.Equal(t, int64(1001), task.Comments[1].OriginalID)

		assert.Len(t, res.Errors, 3)
		for _, e := range res.Errors {
			assert.Equal(t, KindBoundExceeded, e.Kind)
			assert.False(t, e.Skipped)
		}
	})
}

func TestTransform_MembershipBound(t *testing.T) {
	b := testutil.NewDataset().User(5, "Alice", "alice@acme.com")
	for i := int64(1); i <= 3; i++ {
		b.Org(i, fmt.Sprintf("org%d", i)).Member(i, 5, "member")
	}
	table, err := policy.Default().WithBound(policy.UserMemberships, 2)
	require.NoError(t, err)

	res, _ := transformAll(t, b.Build(), WithPolicy(table))
	assert.Empty(t, res.Users)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.EntityUser, res.Errors[0].Entity)
	assert.True(t, IsBoundExceeded(&res.Errors[0]))

	res, _ = transformAll(t, b.Build(), WithPolicy(table.WithOverflow(policy.OverflowTruncate)))
	require.Len(t, res.Users, 1)
	require.Len(t, res.Users[0].Organizations, 2)
	assert.Equal(t, "org1", res.Users[0].Organizations[0].OrgName)
	assert.Equal(t, "org2", res.Users[0].Organizations[1].OrgName)
}

func TestTransform_Determinism(t *testing.T) {
	render := func(workers int) []string {
		res, reg := transformAll(t, testutil.Rich(), WithWorkers(workers))
		var out []string
		for _, c := range model.Collections {
			for _, d := range res.Documents(c) {
				data, err := model.CanonicalJSON(d)
				require.NoError(t, err)
				out = append(out, string(data))
			}
		}
		snap, err := model.CanonicalJSON(reg.Export())
		require.NoError(t, err)
		return append(out, string(snap))
	}

	first := render(1)
	assert.Equal(t, first, render(1))
	assert.Equal(t, first, render(8))
}

func TestTransform_BijectiveMapping(t *testing.T) {
	res, reg := transformAll(t, testutil.Rich())
	require.Empty(t, res.Errors)

	snap := reg.Export()
	seen := make(map[primitive.ObjectID]model.Key)
	for _, m := range snap {
		prev, dup := seen[m.GeneratedID]
		require.False(t, dup, "%s and %s share id %s", prev, m.Key(), m.GeneratedID.Hex())
		seen[m.GeneratedID] = m.Key()

		id, ok := reg.Lookup(m.Entity, m.OriginalID)
		require.True(t, ok)
		assert.Equal(t, m.GeneratedID, id)
	}

	counts := reg.Counts()
	assert.Equal(t, 2, counts[model.EntityOrganization])
	assert.Equal(t, 3, counts[model.EntityUser])
	assert.Equal(t, 3, counts[model.EntityLabel])
	assert.Equal(t, 2, counts[model.EntityProject])
	assert.Equal(t, 4, counts[model.EntityTask])
	assert.Equal(t, 3, counts[model.EntityComment])
}

func TestTransform_ReferentialClosure(t *testing.T) {
	res, reg := transformAll(t, testutil.Rich())
	issued := reg.Export().ByGeneratedID()

	for _, c := range model.Collections {
		for _, d := range res.Documents(c) {
			_, ok := issued[d.DocumentID()]
			assert.True(t, ok, "%s %d has unissued id", c, d.SourceID())
			for _, ref := range model.References(d) {
				_, ok := issued[ref]
				assert.True(t, ok, "%s %d references unissued id %s", c, d.SourceID(), ref.Hex())
			}
		}
	}
}

func TestTransform_StatsConsistency(t *testing.T) {
	res, _ := transformAll(t, testutil.Rich())
	require.Len(t, res.Projects, 2)

	for _, p := range res.Projects {
		completed, comments := 0, 0
		for _, task := range p.Tasks {
			if task.Status == model.StatusCompleted {
				completed++
			}
			comments += len(task.Comments)
			assert.Equal(t, len(task.Comments), task.CommentCount)
			assert.Equal(t, len(task.Assignees), task.AssigneeCount)
		}
		assert.Equal(t, len(p.Tasks), p.Stats.TotalTasks)
		assert.Equal(t, completed, p.Stats.CompletedTasks)
		assert.Equal(t, comments, p.Stats.TotalComments)
	}

	web := res.Projects[0]
	assert.Equal(t, model.ProjectStats{
		TotalTasks:      3,
		CompletedTasks:  1,
		InProgressTasks: 1,
		TodoTasks:       1,
		TotalComments:   3,
	}, web.Stats)
}

func TestTransform_RichCounters(t *testing.T) {
	res, _ := transformAll(t, testutil.Rich())

	require.Len(t, res.Organizations, 2)
	for _, o := range res.Organizations {
		assert.Equal(t, 2, o.MemberCount, "org %d", o.OriginalID)
		assert.Equal(t, 1, o.ProjectCount, "org %d", o.OriginalID)
	}

	require.Len(t, res.Labels, 3)
	for _, l := range res.Labels {
		assert.Equal(t, 1, l.UsageCount)
	}
	assert.Equal(t, res.Organizations[0].ID, res.Labels[0].OrgID)

	alice := res.Users[0]
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, model.UserStats{AssignedTasks: 1, CompletedTasks: 1, CommentsMade: 2}, alice.Stats)
	require.Len(t, alice.Organizations, 2)
	assert.Equal(t, "Acme", alice.Organizations[0].OrgName)
	assert.Equal(t, "Globex", alice.Organizations[1].OrgName)

	bob := res.Users[1]
	assert.Equal(t, model.UserStats{AssignedTasks: 2, CompletedTasks: 1, CommentsMade: 1}, bob.Stats)
}

func TestTransform_Ordering(t *testing.T) {
	same := testutil.At(50)
	ds := testutil.NewDataset().
		Org(1, "Acme").
		Org(2, "Globex").
		User(5, "Alice", "alice@acme.com").
		User(6, "Bob", "bob@acme.com").
		MemberAt(2, 5, "member", testutil.At(10)).
		MemberAt(1, 5, "admin", testutil.At(20)).
		Label(21, 1, "bug", "#111").
		Label(20, 1, "feature", "#222").
		Project(10, 1, "Web", "active").
		TaskAt(102, 10, "tie high", model.StatusTodo, same).
		TaskAt(101, 10, "tie low", model.StatusTodo, same).
		TaskAt(100, 10, "later", model.StatusTodo, testutil.At(60)).
		AssignAt(101, 6, testutil.At(30)).
		AssignAt(101, 5, testutil.At(40)).
		TaskLabel(101, 21).
		TaskLabel(101, 20).
		CommentAt(1002, 101, 5, "tie high", same).
		CommentAt(1001, 101, 5, "tie low", same).
		CommentAt(1000, 101, 6, "later", testutil.At(70)).
		Build()

	res, _ := transformAll(t, ds)
	require.Empty(t, res.Errors)

	alice := res.Users[0]
	require.Len(t, alice.Organizations, 2)
	assert.Equal(t, "Globex", alice.Organizations[0].OrgName, "memberships by joined_at")

	tasks := res.Projects[0].Tasks
	require.Len(t, tasks, 3)
	assert.Equal(t, []int64{101, 102, 100}, []int64{tasks[0].OriginalID, tasks[1].OriginalID, tasks[2].OriginalID})

	task := tasks[0]
	assert.Equal(t, "Bob", task.Assignees[0].Name, "assignees by assigned_at")
	assert.Equal(t, "Alice", task.Assignees[1].Name)

	// labels by generated id: label 20 is allocated first
	assert.Equal(t, "feature", task.Labels[0].Name)
	assert.Equal(t, "bug", task.Labels[1].Name)

	assert.Equal(t, []int64{1001, 1002, 1000}, []int64{
		task.Comments[0].OriginalID, task.Comments[1].OriginalID, task.Comments[2].OriginalID,
	})
	assert.Equal(t, "Alice", task.Comments[0].AuthorName)
}

func TestTransform_AllocationOrder(t *testing.T) {
	res, _ := transformAll(t, testutil.Rich())

	// organizations, users, labels, then per project: project, tasks, comments
	assert.Equal(t, testutil.ID(9), res.Projects[0].ID)
	tasks := res.Projects[0].Tasks
	assert.Equal(t, testutil.ID(10), tasks[0].ID)
	assert.Equal(t, testutil.ID(12), tasks[2].ID)
	assert.Equal(t, testutil.ID(13), tasks[0].Comments[0].ID)
	assert.Equal(t, testutil.ID(15), tasks[1].Comments[0].ID)
	assert.Equal(t, testutil.ID(16), res.Projects[1].ID)
}

func TestTransform_Duplicates(t *testing.T) {
	t.Run("conflicting row warns and last write wins", func(t *testing.T) {
		ds := testutil.Acme()
		dup := ds.Organizations[0]
		dup.Name = "Acme Corp"
		ds.Organizations = append(ds.Organizations, dup)

		res, reg := transformAll(t, ds)
		require.Len(t, res.Organizations, 1)
		assert.Equal(t, "Acme Corp", res.Organizations[0].Name)
		assert.Equal(t, "Acme Corp", res.Projects[0].OrgName)
		assert.Equal(t, 1, reg.Counts()[model.EntityOrganization])

		require.Len(t, res.Errors, 1)
		e := res.Errors[0]
		assert.True(t, IsDuplicateOriginalID(&e))
		assert.Equal(t, model.EntityOrganization, e.Entity)
		assert.Equal(t, int64(1), e.OriginalID)
		assert.False(t, e.Skipped)
	})

	t.Run("identical rows are deduplicated silently", func(t *testing.T) {
		ds := testutil.Acme()
		ds.Users = append(ds.Users, ds.Users[0])
		ds.TaskAssignees = append(ds.TaskAssignees, ds.TaskAssignees[0])
		ds.Memberships = append(ds.Memberships, ds.Memberships[0])

		res, _ := transformAll(t, ds)
		assert.Empty(t, res.Errors)
		assert.Len(t, res.Users, 1)
		assert.Len(t, res.Projects[0].Tasks[0].Assignees, 1)
		assert.Equal(t, 1, res.Organizations[0].MemberCount)
	})

	t.Run("same instant in another location is not a conflict", func(t *testing.T) {
		ds := testutil.Acme()
		dup := ds.Organizations[0]
		dup.CreatedAt = dup.CreatedAt.In(time.FixedZone("UTC+1", 3600))
		ds.Organizations = append(ds.Organizations, dup)

		res, _ := transformAll(t, ds)
		assert.Empty(t, res.Errors)
		require.Len(t, res.Organizations, 1)
		assert.True(t, res.Organizations[0].CreatedAt.Equal(ds.Organizations[0].CreatedAt))
	})

	t.Run("conflicting junction row warns under its owner", func(t *testing.T) {
		ds := testutil.Acme()
		a := ds.TaskAssignees[0]
		a.AssignedAt = a.AssignedAt.Add(time.Hour)
		ds.TaskAssignees = append(ds.TaskAssignees, a)

		res, _ := transformAll(t, ds)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, model.EntityTask, res.Errors[0].Entity)
		assert.Equal(t, int64(100), res.Errors[0].OriginalID)
		assert.Equal(t, a.AssignedAt, res.Projects[0].Tasks[0].Assignees[0].AssignedAt)
	})
}

func TestTransform_MissingOrganizationCascades(t *testing.T) {
	ds := testutil.Acme()
	ds.Memberships = append(ds.Memberships, model.OrgMembership{OrgID: 77, UserID: 5, Role: "member", JoinedAt: testutil.At(90)})

	res, _ := transformAll(t, ds)

	assert.Empty(t, res.Users, "user with a dangling membership is skipped")
	require.Len(t, res.Projects, 1)
	assert.Empty(t, res.Projects[0].Tasks, "task assigned to a skipped user is skipped")

	require.Len(t, res.Errors, 2)
	assert.Equal(t, model.EntityUser, res.Errors[0].Entity)
	assert.Equal(t, "organization", res.Errors[0].Details["missing_entity"])
	assert.Equal(t, "77", res.Errors[0].Details["missing_id"])
	assert.Equal(t, model.EntityTask, res.Errors[1].Entity)
	assert.Equal(t, "5", res.Errors[1].Details["missing_id"])
}

func TestTransform_ProjectMissingOrganization(t *testing.T) {
	ds := testutil.Acme()
	ds.Projects = append(ds.Projects, model.Project{ID: 11, OrgID: 42, Name: "Lost", Status: "active"})

	res, _ := transformAll(t, ds)
	require.Len(t, res.Projects, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.EntityProject, res.Errors[0].Entity)
	assert.Equal(t, int64(11), res.Errors[0].OriginalID)
	assert.Equal(t, 1, res.Stages[3].Skipped)

	_, err := newEngine(WithStrict(true)).Transform(context.Background(), ds, testutil.NewRegistry())
	require.Error(t, err)
	assert.True(t, IsMissingReference(err))
	assert.Contains(t, err.Error(), "strict references")
}

func TestTransform_CommentAuthorMissing(t *testing.T) {
	ds := testutil.Acme()
	ds.Comments = append(ds.Comments,
		model.Comment{ID: 1000, TaskID: 100, UserID: 5, Content: "ok", CreatedAt: testutil.At(10)},
		model.Comment{ID: 1001, TaskID: 100, UserID: 404, Content: "ghost", CreatedAt: testutil.At(11)},
	)

	res, _ := transformAll(t, ds)
	task := res.Projects[0].Tasks[0]
	require.Len(t, task.Comments, 1)
	assert.Equal(t, int64(1000), task.Comments[0].OriginalID)
	assert.Equal(t, 1, task.CommentCount)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.EntityComment, res.Errors[0].Entity)
	assert.Equal(t, int64(1001), res.Errors[0].OriginalID)
}

func TestTransform_Orphans(t *testing.T) {
	ds := testutil.Acme()
	ds.Tasks = append(ds.Tasks, model.Task{ID: 300, ProjectID: 99, Title: "orphan", Status: model.StatusTodo})
	ds.Comments = append(ds.Comments, model.Comment{ID: 3000, TaskID: 888, UserID: 5, Content: "?"})
	ds.TaskAssignees = append(ds.TaskAssignees, model.TaskAssignee{TaskID: 888, UserID: 5})
	ds.TaskLabels = append(ds.TaskLabels, model.TaskLabel{TaskID: 888, LabelID: 1})
	ds.Memberships = append(ds.Memberships, model.OrgMembership{OrgID: 1, UserID: 66, Role: "member"})

	res, _ := transformAll(t, ds)
	require.Len(t, res.Projects, 1)
	assert.Len(t, res.Projects[0].Tasks, 1)

	var got []string
	for _, e := range res.Errors {
		require.Equal(t, KindMissingReference, e.Kind)
		got = append(got, e.Key().String()+"->"+e.Details["missing_entity"]+":"+e.Details["missing_id"])
	}
	assert.Equal(t, []string{
		"user:66->user:66",
		"task:300->project:99",
		"comment:3000->task:888",
		"task:888->task:888",
		"task:888->task:888",
	}, got)
}

func TestTransform_RestoredRegistryDoesNotSatisfyReferences(t *testing.T) {
	reg := testutil.NewRegistry()
	require.NoError(t, reg.Restore(registry.Snapshot{
		{Entity: model.EntityUser, OriginalID: 999, GeneratedID: testutil.ID(500)},
	}))

	ds := testutil.Acme()
	ds.TaskAssignees = append(ds.TaskAssignees, model.TaskAssignee{TaskID: 100, UserID: 999})

	res, err := newEngine().Transform(context.Background(), ds, reg)
	require.NoError(t, err)
	assert.Empty(t, res.Projects[0].Tasks)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "999", res.Errors[0].Details["missing_id"])
}

func TestTransform_OrgNameFollowsPolicy(t *testing.T) {
	table, err := policy.Compile("override.cue", []byte(`
		relationships: "project.organization": {mode: "reference", denormalize: []}
	`))
	require.NoError(t, err)

	res, _ := transformAll(t, testutil.Acme(), WithPolicy(table))
	require.Len(t, res.Projects, 1)
	assert.Empty(t, res.Projects[0].OrgName)
	assert.Equal(t, testutil.ID(1), res.Projects[0].OrgID)

	// Memberships are embedded copies and keep the name regardless.
	assert.Equal(t, "Acme", res.Users[0].Organizations[0].OrgName)

	res, _ = transformAll(t, testutil.Acme())
	assert.Equal(t, "Acme", res.Projects[0].OrgName)
}

func TestTransform_ReusesRestoredIDs(t *testing.T) {
	_, first := transformAll(t, testutil.Rich())

	reg := registry.New(testutil.GeneratorAt(1000))
	require.NoError(t, reg.Restore(first.Export()))

	res, err := newEngine().Transform(context.Background(), testutil.Rich(), reg)
	require.NoError(t, err)
	assert.Equal(t, first.Export(), reg.Export())
	assert.Equal(t, testutil.ID(1), res.Organizations[0].ID)
}

type failingGenerator struct{}

func (failingGenerator) Generate() (primitive.ObjectID, error) {
	return primitive.NilObjectID, errors.New("generator offline")
}

func TestTransform_RegistryExhaustionIsFatal(t *testing.T) {
	res, err := newEngine().Transform(context.Background(), testutil.Acme(), registry.New(failingGenerator{}))
	require.Error(t, err)
	assert.True(t, IsRegistryExhaustion(err))
	assert.ErrorIs(t, err, registry.ErrExhausted)
	assert.Empty(t, res.Stages)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindRegistryExhaustion, res.Errors[0].Kind)
	assert.Equal(t, model.EntityOrganization, res.Errors[0].Entity)
	assert.True(t, res.Errors[0].Skipped)
}

func TestTransform_CancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newEngine().Transform(ctx, testutil.Acme(), testutil.NewRegistry())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Stages)
}

func TestRun_StageOrderEnforced(t *testing.T) {
	run := newEngine().Begin(testutil.Acme(), testutil.NewRegistry())
	ctx := context.Background()

	_, err := run.Stage(ctx, StageProjects)
	require.ErrorIs(t, err, ErrStageOrder)

	_, err = run.Stage(ctx, StageOrganizations)
	require.NoError(t, err)
	_, err = run.Stage(ctx, StageOrganizations)
	require.ErrorIs(t, err, ErrStageOrder, "stages run once")

	_, err = run.Stage(ctx, Stage("comments"))
	require.ErrorIs(t, err, ErrStageOrder)

	_, err = run.Stage(ctx, StageLabels)
	require.NoError(t, err)
	_, err = run.Stage(ctx, StageUsers)
	require.NoError(t, err)
	res, err := run.Stage(ctx, StageProjects)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded())
	assert.True(t, run.Produced(model.KeyOf(model.EntityTask, 100)))
}

func TestTransform_EmptyDataset(t *testing.T) {
	res, reg := transformAll(t, &model.Dataset{})
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Stages, 4)
	assert.Equal(t, 0, reg.Len())
}

func TestTransform_NullableFields(t *testing.T) {
	desc := "landing page"
	due := testutil.At(1000)
	ds := testutil.Acme()
	ds.Projects[0].Description = &desc
	ds.Tasks[0].DueDate = &due

	res, _ := transformAll(t, ds)
	require.NotNil(t, res.Projects[0].Description)
	assert.Equal(t, desc, *res.Projects[0].Description)
	require.NotNil(t, res.Projects[0].Tasks[0].DueDate)
	assert.True(t, due.Equal(*res.Projects[0].Tasks[0].DueDate))
	assert.Nil(t, res.Projects[0].Tasks[0].Description)
}
