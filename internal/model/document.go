package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is implemented by every top-level target document.
type Document interface {
	DocumentID() primitive.ObjectID
	SourceID() int64
	Collection() Collection
}

// OrganizationDoc is stored in the organizations collection.
type OrganizationDoc struct {
	ID           primitive.ObjectID `bson:"_id" json:"_id"`
	OriginalID   int64              `bson:"original_id" json:"original_id"`
	Name         string             `bson:"name" json:"name"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	MemberCount  int                `bson:"member_count" json:"member_count"`
	ProjectCount int                `bson:"project_count" json:"project_count"`
}

func (d OrganizationDoc) DocumentID() primitive.ObjectID { return d.ID }
func (d OrganizationDoc) SourceID() int64                { return d.OriginalID }
func (d OrganizationDoc) Collection() Collection         { return CollectionOrganizations }

// UserDoc is stored in the users collection with its memberships embedded.
type UserDoc struct {
	ID            primitive.ObjectID  `bson:"_id" json:"_id"`
	OriginalID    int64               `bson:"original_id" json:"original_id"`
	Email         string              `bson:"email" json:"email"`
	Name          string              `bson:"name" json:"name"`
	CreatedAt     time.Time           `bson:"created_at" json:"created_at"`
	Organizations []MembershipSummary `bson:"organizations" json:"organizations"`
	Stats         UserStats           `bson:"stats" json:"stats"`
}

func (d UserDoc) DocumentID() primitive.ObjectID { return d.ID }
func (d UserDoc) SourceID() int64                { return d.OriginalID }
func (d UserDoc) Collection() Collection         { return CollectionUsers }

// MembershipSummary is one organization membership embedded in a UserDoc.
type MembershipSummary struct {
	OrgID    primitive.ObjectID `bson:"org_id" json:"org_id"`
	OrgName  string             `bson:"org_name" json:"org_name"`
	Role     string             `bson:"role" json:"role"`
	JoinedAt time.Time          `bson:"joined_at" json:"joined_at"`
}

// UserStats are activity counters derived from task junction rows.
type UserStats struct {
	AssignedTasks  int `bson:"assigned_tasks" json:"assigned_tasks"`
	CompletedTasks int `bson:"completed_tasks" json:"completed_tasks"`
	CommentsMade   int `bson:"comments_made" json:"comments_made"`
}

// LabelDoc is stored in the labels collection. Labels reference their
// organization; denormalized copies are embedded in tasks.
type LabelDoc struct {
	ID         primitive.ObjectID `bson:"_id" json:"_id"`
	OriginalID int64              `bson:"original_id" json:"original_id"`
	OrgID      primitive.ObjectID `bson:"org_id" json:"org_id"`
	Name       string             `bson:"name" json:"name"`
	Color      string             `bson:"color" json:"color"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UsageCount int                `bson:"usage_count" json:"usage_count"`
}

func (d LabelDoc) DocumentID() primitive.ObjectID { return d.ID }
func (d LabelDoc) SourceID() int64                { return d.OriginalID }
func (d LabelDoc) Collection() Collection         { return CollectionLabels }

// ProjectDoc is stored in the projects collection with all of its tasks
// embedded.
type ProjectDoc struct {
	ID          primitive.ObjectID `bson:"_id" json:"_id"`
	OriginalID  int64              `bson:"original_id" json:"original_id"`
	OrgID       primitive.ObjectID `bson:"org_id" json:"org_id"`
	OrgName     string             `bson:"org_name,omitempty" json:"org_name,omitempty"`
	Name        string             `bson:"name" json:"name"`
	Description *string            `bson:"description,omitempty" json:"description,omitempty"`
	Status      string             `bson:"status" json:"status"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	Tasks       []TaskDoc          `bson:"tasks" json:"tasks"`
	Stats       ProjectStats       `bson:"stats" json:"stats"`
}

func (d ProjectDoc) DocumentID() primitive.ObjectID { return d.ID }
func (d ProjectDoc) SourceID() int64                { return d.OriginalID }
func (d ProjectDoc) Collection() Collection         { return CollectionProjects }

// ProjectStats aggregate the embedded tasks.
type ProjectStats struct {
	TotalTasks      int `bson:"total_tasks" json:"total_tasks"`
	CompletedTasks  int `bson:"completed_tasks" json:"completed_tasks"`
	InProgressTasks int `bson:"in_progress_tasks" json:"in_progress_tasks"`
	TodoTasks       int `bson:"todo_tasks" json:"todo_tasks"`
	TotalComments   int `bson:"total_comments" json:"total_comments"`
}

// TaskDoc is embedded in ProjectDoc; tasks have no collection of their own.
type TaskDoc struct {
	ID            primitive.ObjectID `bson:"_id" json:"_id"`
	OriginalID    int64              `bson:"original_id" json:"original_id"`
	Title         string             `bson:"title" json:"title"`
	Description   *string            `bson:"description,omitempty" json:"description,omitempty"`
	Status        string             `bson:"status" json:"status"`
	Priority      string             `bson:"priority" json:"priority"`
	DueDate       *time.Time         `bson:"due_date" json:"due_date"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
	Assignees     []AssigneeSummary  `bson:"assignees" json:"assignees"`
	Labels        []LabelSummary     `bson:"labels" json:"labels"`
	Comments      []CommentSummary   `bson:"comments" json:"comments"`
	CommentCount  int                `bson:"comment_count" json:"comment_count"`
	AssigneeCount int                `bson:"assignee_count" json:"assignee_count"`
}

// AssigneeSummary is a denormalized user embedded in a task.
type AssigneeSummary struct {
	UserID     primitive.ObjectID `bson:"user_id" json:"user_id"`
	Name       string             `bson:"name" json:"name"`
	Email      string             `bson:"email" json:"email"`
	AssignedAt time.Time          `bson:"assigned_at" json:"assigned_at"`
}

// LabelSummary is a denormalized label embedded in a task.
type LabelSummary struct {
	LabelID primitive.ObjectID `bson:"label_id" json:"label_id"`
	Name    string             `bson:"name" json:"name"`
	Color   string             `bson:"color" json:"color"`
}

// CommentSummary is a comment embedded in a task with its author's name.
type CommentSummary struct {
	ID         primitive.ObjectID `bson:"_id" json:"_id"`
	OriginalID int64              `bson:"original_id" json:"original_id"`
	UserID     primitive.ObjectID `bson:"user_id" json:"user_id"`
	AuthorName string             `bson:"author_name" json:"author_name"`
	Content    string             `bson:"content" json:"content"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}

// References lists every generated id a document points at, excluding its
// own id. Used for referential closure checks.
func References(d Document) []primitive.ObjectID {
	var refs []primitive.ObjectID
	switch doc := d.(type) {
	case UserDoc:
		for _, m := range doc.Organizations {
			refs = append(refs, m.OrgID)
		}
	case LabelDoc:
		refs = append(refs, doc.OrgID)
	case ProjectDoc:
		refs = append(refs, doc.OrgID)
		for _, t := range doc.Tasks {
			refs = append(refs, t.ID)
			for _, a := range t.Assignees {
				refs = append(refs, a.UserID)
			}
			for _, l := range t.Labels {
				refs = append(refs, l.LabelID)
			}
			for _, c := range t.Comments {
				refs = append(refs, c.ID, c.UserID)
			}
		}
	}
	return refs
}
