package load

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/denorm/internal/model"
)

// IndexSpec describes one secondary index on a target collection.
type IndexSpec struct {
	Name   string
	Keys   bson.D
	Unique bool
}

func asc(fields ...string) bson.D {
	keys := make(bson.D, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	return keys
}

var originalIDIndex = IndexSpec{Name: "original_id_1", Keys: asc("original_id"), Unique: true}

// Indexes returns the indexes created by EnsureIndexes, keyed by collection.
// Every collection carries a unique original_id index backing upserts.
func Indexes() map[model.Collection][]IndexSpec {
	return map[model.Collection][]IndexSpec{
		model.CollectionOrganizations: {
			originalIDIndex,
			{Name: "name_1", Keys: asc("name")},
		},
		model.CollectionUsers: {
			originalIDIndex,
			{Name: "email_1", Keys: asc("email"), Unique: true},
			{Name: "name_1", Keys: asc("name")},
			{Name: "organizations_org_id_1", Keys: asc("organizations.org_id")},
		},
		model.CollectionLabels: {
			originalIDIndex,
			{Name: "org_id_1_name_1", Keys: asc("org_id", "name"), Unique: true},
			{Name: "org_id_1", Keys: asc("org_id")},
		},
		model.CollectionProjects: {
			originalIDIndex,
			{Name: "org_id_1_status_1", Keys: asc("org_id", "status")},
			{Name: "tasks_assignees_user_id_1", Keys: asc("tasks.assignees.user_id")},
			{Name: "tasks_status_1", Keys: asc("tasks.status")},
			{Name: "tasks_labels_label_id_1", Keys: asc("tasks.labels.label_id")},
		},
	}
}

func (s IndexSpec) model() mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    s.Keys,
		Options: options.Index().SetName(s.Name).SetUnique(s.Unique),
	}
}
