package testutil

import (
	"time"

	"github.com/roach88/denorm/internal/model"
)

// DatasetBuilder assembles model.Dataset fixtures. Timestamps that are not
// given explicitly come from a Clock, so rows get increasing created_at
// values in the order they are added.
type DatasetBuilder struct {
	ds    model.Dataset
	clock *Clock
}

// NewDataset starts an empty dataset.
func NewDataset() *DatasetBuilder {
	return &DatasetBuilder{clock: NewClock()}
}

// Org adds an organization.
func (b *DatasetBuilder) Org(id int64, name string) *DatasetBuilder {
	b.ds.Organizations = append(b.ds.Organizations, model.Organization{ID: id, Name: name, CreatedAt: b.clock.Next()})
	return b
}

// User adds a user.
func (b *DatasetBuilder) User(id int64, name, email string) *DatasetBuilder {
	b.ds.Users = append(b.ds.Users, model.User{ID: id, Name: name, Email: email, CreatedAt: b.clock.Next()})
	return b
}

// Member adds an org_members row.
func (b *DatasetBuilder) Member(orgID, userID int64, role string) *DatasetBuilder {
	return b.MemberAt(orgID, userID, role, b.clock.Next())
}

// MemberAt adds an org_members row with an explicit joined_at.
func (b *DatasetBuilder) MemberAt(orgID, userID int64, role string, joinedAt time.Time) *DatasetBuilder {
	b.ds.Memberships = append(b.ds.Memberships, model.OrgMembership{OrgID: orgID, UserID: userID, Role: role, JoinedAt: joinedAt})
	return b
}

// Project adds a project.
func (b *DatasetBuilder) Project(id, orgID int64, name, status string) *DatasetBuilder {
	b.ds.Projects = append(b.ds.Projects, model.Project{ID: id, OrgID: orgID, Name: name, Status: status, CreatedAt: b.clock.Next()})
	return b
}

// Task adds a task with priority "medium".
func (b *DatasetBuilder) Task(id, projectID int64, title, status string) *DatasetBuilder {
	return b.TaskAt(id, projectID, title, status, b.clock.Next())
}

// TaskAt adds a task with an explicit created_at.
func (b *DatasetBuilder) TaskAt(id, projectID int64, title, status string, createdAt time.Time) *DatasetBuilder {
	b.ds.Tasks = append(b.ds.Tasks, model.Task{
		ID:        id,
		ProjectID: projectID,
		Title:     title,
		Status:    status,
		Priority:  "medium",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	})
	return b
}

// Label adds a label.
func (b *DatasetBuilder) Label(id, orgID int64, name, color string) *DatasetBuilder {
	b.ds.Labels = append(b.ds.Labels, model.Label{ID: id, OrgID: orgID, Name: name, Color: color, CreatedAt: b.clock.Next()})
	return b
}

// TaskLabel adds a task_labels row.
func (b *DatasetBuilder) TaskLabel(taskID, labelID int64) *DatasetBuilder {
	b.ds.TaskLabels = append(b.ds.TaskLabels, model.TaskLabel{TaskID: taskID, LabelID: labelID})
	return b
}

// Assign adds a task_assignees row.
func (b *DatasetBuilder) Assign(taskID, userID int64) *DatasetBuilder {
	return b.AssignAt(taskID, userID, b.clock.Next())
}

// AssignAt adds a task_assignees row with an explicit assigned_at.
func (b *DatasetBuilder) AssignAt(taskID, userID int64, assignedAt time.Time) *DatasetBuilder {
	b.ds.TaskAssignees = append(b.ds.TaskAssignees, model.TaskAssignee{TaskID: taskID, UserID: userID, AssignedAt: assignedAt})
	return b
}

// Comment adds a comment.
func (b *DatasetBuilder) Comment(id, taskID, userID int64, content string) *DatasetBuilder {
	return b.CommentAt(id, taskID, userID, content, b.clock.Next())
}

// CommentAt adds a comment with an explicit created_at.
func (b *DatasetBuilder) CommentAt(id, taskID, userID int64, content string, createdAt time.Time) *DatasetBuilder {
	b.ds.Comments = append(b.ds.Comments, model.Comment{ID: id, TaskID: taskID, UserID: userID, Content: content, CreatedAt: createdAt})
	return b
}

// Build returns a copy of the assembled dataset.
func (b *DatasetBuilder) Build() *model.Dataset {
	ds := model.Dataset{
		Organizations: append([]model.Organization(nil), b.ds.Organizations...),
		Users:         append([]model.User(nil), b.ds.Users...),
		Memberships:   append([]model.OrgMembership(nil), b.ds.Memberships...),
		Projects:      append([]model.Project(nil), b.ds.Projects...),
		Tasks:         append([]model.Task(nil), b.ds.Tasks...),
		Labels:        append([]model.Label(nil), b.ds.Labels...),
		TaskLabels:    append([]model.TaskLabel(nil), b.ds.TaskLabels...),
		TaskAssignees: append([]model.TaskAssignee(nil), b.ds.TaskAssignees...),
		Comments:      append([]model.Comment(nil), b.ds.Comments...),
	}
	return &ds
}

// Acme is the smallest complete dataset: organization 1 "Acme", user 5
// "Alice" (a member), project 10 "Web", task 100 "Build" assigned to Alice.
func Acme() *model.Dataset {
	return NewDataset().
		Org(1, "Acme").
		User(5, "Alice", "alice@acme.com").
		Member(1, 5, "admin").
		Project(10, 1, "Web", "active").
		Task(100, 10, "Build", model.StatusCompleted).
		Assign(100, 5).
		Build()
}

// Rich is a two-organization dataset touching every relationship: labels,
// several assignees, comments, and tasks in every status.
func Rich() *model.Dataset {
	b := NewDataset().
		Org(1, "Acme").
		Org(2, "Globex").
		User(5, "Alice", "alice@acme.com").
		User(6, "Bob", "bob@acme.com").
		User(7, "Carol", "carol@globex.com").
		Member(1, 5, "admin").
		Member(1, 6, "member").
		Member(2, 7, "admin").
		Member(2, 5, "member").
		Label(20, 1, "bug", "#d73a4a").
		Label(21, 1, "feature", "#a2eeef").
		Label(22, 2, "ops", "#000000").
		Project(10, 1, "Web", "active").
		Project(11, 2, "Infra", "planning").
		Task(100, 10, "Build", model.StatusCompleted).
		Task(101, 10, "Test", model.StatusInProgress).
		Task(102, 10, "Ship", model.StatusTodo).
		Task(110, 11, "Provision", model.StatusTodo).
		Assign(100, 5).
		Assign(100, 6).
		Assign(101, 6).
		Assign(110, 7).
		TaskLabel(100, 21).
		TaskLabel(100, 20).
		TaskLabel(110, 22).
		Comment(1000, 100, 6, "looks good").
		Comment(1001, 100, 5, "merged").
		Comment(1002, 101, 5, "flaky on CI")
	return b.Build()
}
