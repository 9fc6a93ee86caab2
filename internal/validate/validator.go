package validate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/transform"
)

// DefaultSampleSize is the number of documents compared field by field per
// collection.
const DefaultSampleSize = 5

// Reader reads migrated documents from the target store.
type Reader interface {
	Count(ctx context.Context, c model.Collection) (int64, error)
	Documents(ctx context.Context, c model.Collection) ([]model.Document, error)
	Get(ctx context.Context, c model.Collection, originalID int64) (model.Document, bool, error)
}

// Input is what a run hands to validation.
type Input struct {
	// Dataset is the extraction snapshot the run transformed.
	Dataset *model.Dataset

	// Mappings are the registry entries for records produced by the run.
	Mappings registry.Snapshot

	// Errors are the run's accumulated record errors and warnings.
	Errors []transform.Error
}

// Validator runs read-only checks against a Reader.
type Validator struct {
	reader     Reader
	policy     *policy.Table
	sampleSize int
	logger     *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithPolicy sets the relationship policy whose bounds are checked.
func WithPolicy(t *policy.Table) Option {
	return func(v *Validator) {
		v.policy = t
	}
}

// WithSampleSize sets the number of sampled documents per collection.
func WithSampleSize(n int) Option {
	return func(v *Validator) {
		if n >= 0 {
			v.sampleSize = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = log
	}
}

// New creates a Validator reading from r.
func New(r Reader, opts ...Option) *Validator {
	v := &Validator{
		reader:     r,
		policy:     policy.Default(),
		sampleSize: DefaultSampleSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With(logger.Scope("validate"))
	return v
}

// Validate runs every check. A returned error means the store could not be
// read; failed checks are reported in the Report.
func (v *Validator) Validate(ctx context.Context, in Input) (*Report, error) {
	if in.Dataset == nil {
		in.Dataset = &model.Dataset{}
	}
	src := newSource(in.Dataset, in.Errors)

	stored := make(map[model.Collection][]model.Document, len(model.Collections))
	for _, c := range model.Collections {
		docs, err := v.reader.Documents(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("validate: %w", err)
		}
		stored[c] = docs
	}

	report := &Report{}
	counts, err := v.counts(ctx, src, in.Mappings, stored)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	report.Checks = append(report.Checks, counts...)
	report.Checks = append(report.Checks, closure(in.Mappings, stored)...)

	samples, err := v.samples(ctx, src, in.Mappings)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	report.Checks = append(report.Checks, samples...)
	report.Checks = append(report.Checks, v.bounds(stored), projectStats(stored[model.CollectionProjects]))

	for _, c := range report.Checks {
		if !c.Passed {
			v.logger.Warn("check failed",
				slog.String("check", c.Name),
				slog.String("category", string(c.Category)),
				slog.String("message", c.Message),
			)
		}
	}
	passed, failed := report.Summary()
	v.logger.Info("validation complete", slog.Int("passed", passed), slog.Int("failed", failed))
	return report, nil
}

func (v *Validator) counts(ctx context.Context, src *source, mappings registry.Snapshot, stored map[model.Collection][]model.Document) ([]Check, error) {
	var checks []Check
	for _, c := range model.Collections {
		actual, err := v.reader.Count(ctx, c)
		if err != nil {
			return nil, err
		}
		checks = append(checks, countCheck(string(c)+" count", c,
			int64(len(src.expected(c.Entity()))), actual))
	}

	var tasks, comments int64
	for _, d := range stored[model.CollectionProjects] {
		p, ok := d.(model.ProjectDoc)
		if !ok {
			continue
		}
		for _, t := range p.Tasks {
			tasks++
			comments += int64(len(t.Comments))
		}
	}
	checks = append(checks,
		countCheck("task count (embedded)", model.CollectionProjects,
			int64(len(mappings.Filter(model.EntityTask))), tasks),
		countCheck("comment count (embedded)", model.CollectionProjects,
			int64(len(mappings.Filter(model.EntityComment))), comments),
	)
	return checks, nil
}

func countCheck(name string, c model.Collection, expected, actual int64) Check {
	check := Check{
		Name:       name,
		Category:   CategoryCount,
		Collection: c,
		Expected:   expected,
		Actual:     actual,
		Passed:     expected == actual,
	}
	if check.Passed {
		check.Message = fmt.Sprintf("counts match: %d", actual)
	} else {
		check.Message = fmt.Sprintf("count mismatch: expected %d, stored %d (difference %d)",
			expected, actual, expected-actual)
	}
	return check
}

// closure checks that every stored document's own id and every id it embeds
// resolve through the registry export, and that its own id maps back to its
// original id.
func closure(mappings registry.Snapshot, stored map[model.Collection][]model.Document) []Check {
	byID := mappings.ByGeneratedID()
	var checks []Check
	for _, c := range model.Collections {
		check := Check{
			Name:       string(c) + " references",
			Category:   CategoryRelationship,
			Collection: c,
			Passed:     true,
		}
		refs := 0
		for _, d := range stored[c] {
			key, ok := byID[d.DocumentID()]
			want := model.KeyOf(c.Entity(), d.SourceID())
			switch {
			case !ok:
				check.fail(fmt.Sprintf("%s: _id %s is not in the registry", want, d.DocumentID().Hex()))
			case key != want:
				check.fail(fmt.Sprintf("%s: _id %s is registered to %s", want, d.DocumentID().Hex(), key))
			}
			for _, ref := range model.References(d) {
				refs++
				if _, ok := byID[ref]; !ok {
					check.fail(fmt.Sprintf("%s: reference %s is not in the registry", want, ref.Hex()))
				}
			}
		}
		if check.Passed {
			check.Message = fmt.Sprintf("%d documents, %d references resolved", len(stored[c]), refs)
		} else {
			check.Message = fmt.Sprintf("%d unresolved", len(check.Failures)+check.Truncated)
		}
		checks = append(checks, check)
	}
	return checks
}

func (v *Validator) samples(ctx context.Context, src *source, mappings registry.Snapshot) ([]Check, error) {
	byKey := mappings.ByKey()
	var checks []Check
	for _, c := range model.Collections {
		ids := sample(src.expected(c.Entity()), v.sampleSize)
		check := Check{
			Name:       fmt.Sprintf("%s samples (n=%d)", c, len(ids)),
			Category:   CategorySample,
			Collection: c,
			Passed:     true,
		}
		for _, id := range ids {
			doc, ok, err := v.reader.Get(ctx, c, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				check.fail(fmt.Sprintf("%s: not found", model.KeyOf(c.Entity(), id)))
				continue
			}
			for _, diff := range compare(src, byKey, doc) {
				check.fail(fmt.Sprintf("%s: %s", model.KeyOf(c.Entity(), id), diff))
			}
		}
		if check.Passed {
			check.Message = fmt.Sprintf("%d documents match their source rows", len(ids))
		} else {
			check.Message = fmt.Sprintf("%d field mismatches", len(check.Failures)+check.Truncated)
		}
		checks = append(checks, check)
	}
	return checks, nil
}

// compare lists the fields of doc that disagree with its source rows.
func compare(src *source, byKey map[model.Key]primitive.ObjectID, doc model.Document) []string {
	var diffs []string
	field := func(name string, want, got any) {
		if want != got {
			diffs = append(diffs, fmt.Sprintf("%s: want %v, got %v", name, want, got))
		}
	}
	when := func(name string, want, got time.Time) {
		if !sameInstant(want, got) {
			diffs = append(diffs, fmt.Sprintf("%s: want %s, got %s", name, want.UTC(), got.UTC()))
		}
	}
	ref := func(name string, entity model.EntityType, originalID int64, got primitive.ObjectID) {
		if want := byKey[model.KeyOf(entity, originalID)]; want != got {
			diffs = append(diffs, fmt.Sprintf("%s: want %s, got %s", name, want.Hex(), got.Hex()))
		}
	}

	switch d := doc.(type) {
	case model.OrganizationDoc:
		row := src.orgs[d.OriginalID]
		field("name", row.Name, d.Name)
		when("created_at", row.CreatedAt, d.CreatedAt)
	case model.UserDoc:
		row := src.users[d.OriginalID]
		field("email", row.Email, d.Email)
		field("name", row.Name, d.Name)
		when("created_at", row.CreatedAt, d.CreatedAt)
	case model.LabelDoc:
		row := src.labels[d.OriginalID]
		field("name", row.Name, d.Name)
		field("color", row.Color, d.Color)
		ref("org_id", model.EntityOrganization, row.OrgID, d.OrgID)
	case model.ProjectDoc:
		row := src.projects[d.OriginalID]
		field("name", row.Name, d.Name)
		field("status", row.Status, d.Status)
		field("description", deref(row.Description), deref(d.Description))
		when("created_at", row.CreatedAt, d.CreatedAt)
		ref("org_id", model.EntityOrganization, row.OrgID, d.OrgID)
		diffs = append(diffs, compareTasks(src, byKey, d)...)
	}
	return diffs
}

// compareTasks checks the embedded tasks of p against their source rows.
// Tasks without a mapping were not produced and are not expected.
func compareTasks(src *source, byKey map[model.Key]primitive.ObjectID, p model.ProjectDoc) []string {
	embedded := make(map[int64]model.TaskDoc, len(p.Tasks))
	for _, t := range p.Tasks {
		embedded[t.OriginalID] = t
	}
	var diffs []string
	for _, id := range src.tasksByProject[p.OriginalID] {
		if _, produced := byKey[model.KeyOf(model.EntityTask, id)]; !produced {
			continue
		}
		t, ok := embedded[id]
		if !ok {
			diffs = append(diffs, fmt.Sprintf("task %d: not embedded", id))
			continue
		}
		row := src.tasks[id]
		if row.Title != t.Title {
			diffs = append(diffs, fmt.Sprintf("task %d title: want %v, got %v", id, row.Title, t.Title))
		}
		if row.Status != t.Status {
			diffs = append(diffs, fmt.Sprintf("task %d status: want %v, got %v", id, row.Status, t.Status))
		}
		if row.Priority != t.Priority {
			diffs = append(diffs, fmt.Sprintf("task %d priority: want %v, got %v", id, row.Priority, t.Priority))
		}
		if !sameOptionalInstant(row.DueDate, t.DueDate) {
			diffs = append(diffs, fmt.Sprintf("task %d due_date differs", id))
		}
	}
	return diffs
}

// sameInstant compares at millisecond precision, the resolution of BSON
// dates.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}

func sameOptionalInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return sameInstant(*a, *b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (v *Validator) bounds(stored map[model.Collection][]model.Document) Check {
	check := Check{Name: "embedded bounds", Category: CategoryInvariant, Passed: true}
	over := func(what string, n int, rel policy.Relationship) {
		if bound := v.policy.Bound(rel); n > bound {
			check.fail(fmt.Sprintf("%s: %s has %d entries, bound %d", what, rel, n, bound))
		}
	}
	for _, d := range stored[model.CollectionUsers] {
		if u, ok := d.(model.UserDoc); ok {
			over(model.KeyOf(model.EntityUser, u.OriginalID).String(), len(u.Organizations), policy.UserMemberships)
		}
	}
	for _, d := range stored[model.CollectionProjects] {
		p, ok := d.(model.ProjectDoc)
		if !ok {
			continue
		}
		over(model.KeyOf(model.EntityProject, p.OriginalID).String(), len(p.Tasks), policy.ProjectTasks)
		for _, t := range p.Tasks {
			what := model.KeyOf(model.EntityTask, t.OriginalID).String()
			over(what, len(t.Assignees), policy.TaskAssignees)
			over(what, len(t.Labels), policy.TaskLabels)
			over(what, len(t.Comments), policy.TaskComments)
		}
	}
	if check.Passed {
		check.Message = "every embedded array is within its bound"
	} else {
		check.Message = fmt.Sprintf("%d arrays over bound", len(check.Failures)+check.Truncated)
	}
	return check
}

func projectStats(docs []model.Document) Check {
	check := Check{Name: "project stats", Category: CategoryInvariant, Collection: model.CollectionProjects, Passed: true}
	for _, d := range docs {
		p, ok := d.(model.ProjectDoc)
		if !ok {
			continue
		}
		var want model.ProjectStats
		want.TotalTasks = len(p.Tasks)
		for _, t := range p.Tasks {
			switch t.Status {
			case model.StatusCompleted:
				want.CompletedTasks++
			case model.StatusInProgress:
				want.InProgressTasks++
			case model.StatusTodo:
				want.TodoTasks++
			}
			want.TotalComments += len(t.Comments)
			if t.CommentCount != len(t.Comments) || t.AssigneeCount != len(t.Assignees) {
				check.fail(fmt.Sprintf("task %d: counts disagree with embedded arrays", t.OriginalID))
			}
		}
		if want != p.Stats {
			check.fail(fmt.Sprintf("project %d: stats %+v, derived %+v", p.OriginalID, p.Stats, want))
		}
	}
	if check.Passed {
		check.Message = fmt.Sprintf("%d projects consistent", len(docs))
	} else {
		check.Message = fmt.Sprintf("%d inconsistencies", len(check.Failures)+check.Truncated)
	}
	return check
}
