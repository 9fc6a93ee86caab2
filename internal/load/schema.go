package load

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
)

// codeNamespaceExists is the server error returned by create for an
// existing collection.
const codeNamespaceExists = 48

// Go ints encode as int32 when they fit and int64 otherwise.
var integer = bson.A{"int", "long"}

func typed(t any) bson.M { return bson.M{"bsonType": t} }

func counter() bson.M { return bson.M{"bsonType": integer, "minimum": 0} }

func object(required []string, props bson.M) bson.M {
	o := bson.M{"bsonType": "object", "properties": props}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

func array(maxItems int, items bson.M) bson.M {
	a := bson.M{"bsonType": "array", "items": items}
	if maxItems > 0 {
		a["maxItems"] = maxItems
	}
	return a
}

// Validators returns the $jsonSchema validator of every target collection.
// Embedded array limits follow the bounds of t.
func Validators(t *policy.Table) map[model.Collection]bson.M {
	schema := func(s bson.M) bson.M { return bson.M{"$jsonSchema": s} }

	organizations := object([]string{"original_id", "name", "created_at"}, bson.M{
		"original_id":   typed(integer),
		"name":          bson.M{"bsonType": "string", "maxLength": 255},
		"created_at":    typed("date"),
		"member_count":  counter(),
		"project_count": counter(),
	})

	users := object([]string{"original_id", "email", "name", "created_at"}, bson.M{
		"original_id": typed(integer),
		"email": bson.M{
			"bsonType": "string",
			"pattern":  `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`,
		},
		"name":       bson.M{"bsonType": "string", "maxLength": 255},
		"created_at": typed("date"),
		"organizations": array(t.Bound(policy.UserMemberships),
			object([]string{"org_id", "org_name", "role", "joined_at"}, bson.M{
				"org_id":    typed("objectId"),
				"org_name":  typed("string"),
				"role":      bson.M{"enum": bson.A{"admin", "member", "viewer"}},
				"joined_at": typed("date"),
			})),
		"stats": object(nil, bson.M{
			"assigned_tasks":  counter(),
			"completed_tasks": counter(),
			"comments_made":   counter(),
		}),
	})

	labels := object([]string{"original_id", "org_id", "name", "color", "created_at"}, bson.M{
		"original_id": typed(integer),
		"org_id":      typed("objectId"),
		"name":        bson.M{"bsonType": "string", "maxLength": 100},
		"color":       bson.M{"bsonType": "string", "pattern": "^#[0-9A-Fa-f]{6}$"},
		"created_at":  typed("date"),
		"usage_count": counter(),
	})

	task := object([]string{"_id", "original_id", "title", "status", "priority", "created_at"}, bson.M{
		"_id":         typed("objectId"),
		"original_id": typed(integer),
		"title":       bson.M{"bsonType": "string", "maxLength": 255},
		"description": typed("string"),
		"status":      bson.M{"enum": bson.A{"todo", "in_progress", "completed", "blocked"}},
		"priority":    bson.M{"enum": bson.A{"low", "medium", "high", "critical"}},
		"due_date":    typed(bson.A{"date", "null"}),
		"created_at":  typed("date"),
		"updated_at":  typed("date"),
		"assignees": array(t.Bound(policy.TaskAssignees),
			object([]string{"user_id", "name", "email", "assigned_at"}, bson.M{
				"user_id":     typed("objectId"),
				"name":        typed("string"),
				"email":       typed("string"),
				"assigned_at": typed("date"),
			})),
		"labels": array(t.Bound(policy.TaskLabels),
			object([]string{"label_id", "name", "color"}, bson.M{
				"label_id": typed("objectId"),
				"name":     typed("string"),
				"color":    typed("string"),
			})),
		"comments": array(t.Bound(policy.TaskComments),
			object([]string{"_id", "user_id", "author_name", "content", "created_at"}, bson.M{
				"_id":         typed("objectId"),
				"original_id": typed(integer),
				"user_id":     typed("objectId"),
				"author_name": typed("string"),
				"content":     typed("string"),
				"created_at":  typed("date"),
			})),
		"comment_count":  counter(),
		"assignee_count": counter(),
	})

	projects := object([]string{"original_id", "org_id", "name", "status", "created_at", "tasks"}, bson.M{
		"original_id": typed(integer),
		"org_id":      typed("objectId"),
		"org_name":    typed("string"),
		"name":        bson.M{"bsonType": "string", "maxLength": 255},
		"description": typed("string"),
		"status":      bson.M{"enum": bson.A{"active", "planning", "completed", "archived"}},
		"created_at":  typed("date"),
		"tasks":       array(t.Bound(policy.ProjectTasks), task),
		"stats": object(nil, bson.M{
			"total_tasks":       counter(),
			"completed_tasks":   counter(),
			"in_progress_tasks": counter(),
			"todo_tasks":        counter(),
			"total_comments":    counter(),
		}),
	})

	return map[model.Collection]bson.M{
		model.CollectionOrganizations: schema(organizations),
		model.CollectionUsers:         schema(users),
		model.CollectionLabels:        schema(labels),
		model.CollectionProjects:      schema(projects),
	}
}

// EnsureSchema creates every target collection with its validator. A
// collection that already exists has its validator replaced with collMod.
func (m *Mongo) EnsureSchema(ctx context.Context, t *policy.Table) error {
	validators := Validators(t)
	for _, c := range model.Collections {
		v := validators[c]
		err := m.db.CreateCollection(ctx, string(c), options.CreateCollection().SetValidator(v))
		switch {
		case err == nil:
		case namespaceExists(err):
			cmd := bson.D{{Key: "collMod", Value: string(c)}, {Key: "validator", Value: v}}
			if err := m.db.RunCommand(ctx, cmd).Err(); err != nil {
				return fmt.Errorf("update validator on %s: %w", c, err)
			}
		default:
			return fmt.Errorf("create collection %s: %w", c, err)
		}
	}
	return nil
}

func namespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.HasErrorCode(codeNamespaceExists)
}
