package model

import "time"

// Source rows as extracted from the relational database. The yaml tags serve
// fixture datasets; the db tags serve pgx row scanning.

// Organization is a row of the organizations table.
type Organization struct {
	ID        int64     `yaml:"id" db:"id"`
	Name      string    `yaml:"name" db:"name"`
	CreatedAt time.Time `yaml:"created_at" db:"created_at"`
}

// User is a row of the users table.
type User struct {
	ID        int64     `yaml:"id" db:"id"`
	Email     string    `yaml:"email" db:"email"`
	Name      string    `yaml:"name" db:"name"`
	CreatedAt time.Time `yaml:"created_at" db:"created_at"`
}

// OrgMembership is a row of the org_members junction table.
type OrgMembership struct {
	OrgID    int64     `yaml:"org_id" db:"org_id"`
	UserID   int64     `yaml:"user_id" db:"user_id"`
	Role     string    `yaml:"role" db:"role"`
	JoinedAt time.Time `yaml:"joined_at" db:"joined_at"`
}

// Project is a row of the projects table.
type Project struct {
	ID          int64     `yaml:"id" db:"id"`
	OrgID       int64     `yaml:"org_id" db:"org_id"`
	Name        string    `yaml:"name" db:"name"`
	Description *string   `yaml:"description" db:"description"`
	Status      string    `yaml:"status" db:"status"`
	CreatedAt   time.Time `yaml:"created_at" db:"created_at"`
}

// Task is a row of the tasks table.
type Task struct {
	ID          int64      `yaml:"id" db:"id"`
	ProjectID   int64      `yaml:"project_id" db:"project_id"`
	Title       string     `yaml:"title" db:"title"`
	Description *string    `yaml:"description" db:"description"`
	Status      string     `yaml:"status" db:"status"`
	Priority    string     `yaml:"priority" db:"priority"`
	DueDate     *time.Time `yaml:"due_date" db:"due_date"`
	CreatedAt   time.Time  `yaml:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `yaml:"updated_at" db:"updated_at"`
}

// Label is a row of the labels table. (org_id, name) is unique.
type Label struct {
	ID        int64     `yaml:"id" db:"id"`
	OrgID     int64     `yaml:"org_id" db:"org_id"`
	Name      string    `yaml:"name" db:"name"`
	Color     string    `yaml:"color" db:"color"`
	CreatedAt time.Time `yaml:"created_at" db:"created_at"`
}

// TaskLabel is a row of the task_labels junction table.
type TaskLabel struct {
	TaskID  int64 `yaml:"task_id" db:"task_id"`
	LabelID int64 `yaml:"label_id" db:"label_id"`
}

// TaskAssignee is a row of the task_assignees junction table.
type TaskAssignee struct {
	TaskID     int64     `yaml:"task_id" db:"task_id"`
	UserID     int64     `yaml:"user_id" db:"user_id"`
	AssignedAt time.Time `yaml:"assigned_at" db:"assigned_at"`
}

// Comment is a row of the comments table.
type Comment struct {
	ID        int64     `yaml:"id" db:"id"`
	TaskID    int64     `yaml:"task_id" db:"task_id"`
	UserID    int64     `yaml:"user_id" db:"user_id"`
	Content   string    `yaml:"content" db:"content"`
	CreatedAt time.Time `yaml:"created_at" db:"created_at"`
}

// Dataset is everything extracted for one run. Junction rows are supplied as
// separate sequences keyed by the owning entity's original id.
type Dataset struct {
	Organizations []Organization  `yaml:"organizations"`
	Users         []User          `yaml:"users"`
	Memberships   []OrgMembership `yaml:"org_members"`
	Projects      []Project       `yaml:"projects"`
	Tasks         []Task          `yaml:"tasks"`
	Labels        []Label         `yaml:"labels"`
	TaskLabels    []TaskLabel     `yaml:"task_labels"`
	TaskAssignees []TaskAssignee  `yaml:"task_assignees"`
	Comments      []Comment       `yaml:"comments"`
}

// Counts returns the number of extracted rows per entity type.
func (d *Dataset) Counts() map[EntityType]int {
	return map[EntityType]int{
		EntityOrganization: len(d.Organizations),
		EntityUser:         len(d.Users),
		EntityLabel:        len(d.Labels),
		EntityProject:      len(d.Projects),
		EntityTask:         len(d.Tasks),
		EntityComment:      len(d.Comments),
	}
}
