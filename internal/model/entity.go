package model

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityType names a kind of source record that receives a generated id.
type EntityType string

const (
	EntityOrganization EntityType = "organization"
	EntityUser         EntityType = "user"
	EntityLabel        EntityType = "label"
	EntityProject      EntityType = "project"
	EntityTask         EntityType = "task"
	EntityComment      EntityType = "comment"
)

// EntityTypes lists every entity type in dependency order.
var EntityTypes = []EntityType{
	EntityOrganization,
	EntityUser,
	EntityLabel,
	EntityProject,
	EntityTask,
	EntityComment,
}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEntityType converts a string into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// Key identifies one source record: its entity type and original id.
type Key struct {
	Type       EntityType `json:"entity_type"`
	OriginalID int64      `json:"original_id"`
}

// KeyOf builds a Key.
func KeyOf(t EntityType, originalID int64) Key {
	return Key{Type: t, OriginalID: originalID}
}

// String renders the key as "type:id".
func (k Key) String() string {
	return string(k.Type) + ":" + strconv.FormatInt(k.OriginalID, 10)
}

// Less orders keys by entity type name, then original id.
func (k Key) Less(other Key) bool {
	if k.Type != other.Type {
		return k.Type < other.Type
	}
	return k.OriginalID < other.OriginalID
}

// Collection names a top-level collection in the target store.
type Collection string

const (
	CollectionOrganizations Collection = "organizations"
	CollectionUsers         Collection = "users"
	CollectionLabels        Collection = "labels"
	CollectionProjects      Collection = "projects"
)

// Collections lists the target collections in load order.
var Collections = []Collection{
	CollectionOrganizations,
	CollectionUsers,
	CollectionLabels,
	CollectionProjects,
}

// Entity returns the entity type stored as top-level documents in c.
func (c Collection) Entity() EntityType {
	switch c {
	case CollectionOrganizations:
		return EntityOrganization
	case CollectionUsers:
		return EntityUser
	case CollectionLabels:
		return EntityLabel
	case CollectionProjects:
		return EntityProject
	}
	return ""
}

// Task statuses counted in project stats.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)
