package transform

import (
	"reflect"
	"sort"
	"time"

	"github.com/roach88/denorm/internal/model"
)

// index is the deduplicated, grouped view of a Dataset that every stage
// reads. It is built once per run and never mutated afterwards, so workers
// share it without locking.
type index struct {
	orgs     map[int64]model.Organization
	orgIDs   []int64
	users    map[int64]model.User
	userIDs  []int64
	labels   map[int64]model.Label
	labelIDs []int64

	projects   map[int64]model.Project
	projectIDs []int64
	tasks      map[int64]model.Task
	taskIDs    []int64
	comments   map[int64]model.Comment
	commentIDs []int64

	tasksByProject  map[int64][]int64
	commentsByTask  map[int64][]int64
	assigneesByTask map[int64][]model.TaskAssignee
	labelsByTask    map[int64][]int64

	membershipsByUser map[int64][]model.OrgMembership
	memberCount       map[int64]int
	projectCount      map[int64]int
	usageCount        map[int64]int
	assignedTasks     map[int64][]int64
	commentsMade      map[int64]int

	// warnings are DUPLICATE_ORIGINAL_ID entries found while deduplicating.
	warnings []Error
}

type membershipKey struct{ org, user int64 }
type assigneeKey struct{ task, user int64 }
type taskLabelKey struct{ task, label int64 }

func buildIndex(ds *model.Dataset) *index {
	ix := &index{
		tasksByProject:    make(map[int64][]int64),
		commentsByTask:    make(map[int64][]int64),
		assigneesByTask:   make(map[int64][]model.TaskAssignee),
		labelsByTask:      make(map[int64][]int64),
		membershipsByUser: make(map[int64][]model.OrgMembership),
		memberCount:       make(map[int64]int),
		projectCount:      make(map[int64]int),
		usageCount:        make(map[int64]int),
		assignedTasks:     make(map[int64][]int64),
		commentsMade:      make(map[int64]int),
	}

	warn := func(entity model.EntityType, what string) func(id int64, occurrence int) {
		return func(id int64, occurrence int) {
			ix.warnings = append(ix.warnings, *newDuplicate(entity, id, what, occurrence))
		}
	}

	ix.orgs, ix.orgIDs = dedupe(ds.Organizations, func(r model.Organization) int64 { return r.ID }, warn(model.EntityOrganization, "organizations row"))
	ix.users, ix.userIDs = dedupe(ds.Users, func(r model.User) int64 { return r.ID }, warn(model.EntityUser, "users row"))
	ix.labels, ix.labelIDs = dedupe(ds.Labels, func(r model.Label) int64 { return r.ID }, warn(model.EntityLabel, "labels row"))
	ix.projects, ix.projectIDs = dedupe(ds.Projects, func(r model.Project) int64 { return r.ID }, warn(model.EntityProject, "projects row"))
	ix.tasks, ix.taskIDs = dedupe(ds.Tasks, func(r model.Task) int64 { return r.ID }, warn(model.EntityTask, "tasks row"))
	ix.comments, ix.commentIDs = dedupe(ds.Comments, func(r model.Comment) int64 { return r.ID }, warn(model.EntityComment, "comments row"))

	memberships, membershipKeys := dedupe(ds.Memberships,
		func(r model.OrgMembership) membershipKey { return membershipKey{r.OrgID, r.UserID} },
		func(k membershipKey, occurrence int) {
			ix.warnings = append(ix.warnings, *newDuplicate(model.EntityUser, k.user, "org_members row", occurrence))
		})
	for _, k := range membershipKeys {
		m := memberships[k]
		ix.membershipsByUser[m.UserID] = append(ix.membershipsByUser[m.UserID], m)
		ix.memberCount[m.OrgID]++
	}

	assignees, assigneeKeys := dedupe(ds.TaskAssignees,
		func(r model.TaskAssignee) assigneeKey { return assigneeKey{r.TaskID, r.UserID} },
		func(k assigneeKey, occurrence int) {
			ix.warnings = append(ix.warnings, *newDuplicate(model.EntityTask, k.task, "task_assignees row", occurrence))
		})
	for _, k := range assigneeKeys {
		a := assignees[k]
		ix.assigneesByTask[a.TaskID] = append(ix.assigneesByTask[a.TaskID], a)
		ix.assignedTasks[a.UserID] = append(ix.assignedTasks[a.UserID], a.TaskID)
	}

	// task_labels rows carry only their key, so duplicates never conflict.
	_, taskLabelKeys := dedupe(ds.TaskLabels,
		func(r model.TaskLabel) taskLabelKey { return taskLabelKey{r.TaskID, r.LabelID} },
		nil)
	for _, k := range taskLabelKeys {
		ix.labelsByTask[k.task] = append(ix.labelsByTask[k.task], k.label)
		ix.usageCount[k.label]++
	}

	for _, id := range ix.projectIDs {
		p := ix.projects[id]
		ix.projectCount[p.OrgID]++
	}
	for _, id := range ix.taskIDs {
		t := ix.tasks[id]
		ix.tasksByProject[t.ProjectID] = append(ix.tasksByProject[t.ProjectID], id)
	}
	for _, id := range ix.commentIDs {
		c := ix.comments[id]
		ix.commentsByTask[c.TaskID] = append(ix.commentsByTask[c.TaskID], id)
		ix.commentsMade[c.UserID]++
	}

	return ix
}

// dedupe indexes rows by key. Later rows overwrite earlier ones. A repeat
// whose fields differ from the row it replaces is passed to conflict with the
// 1-based occurrence number of the winning row; identical repeats are
// dropped silently. Keys come back in sorted order when K is int64 and in
// first-seen order otherwise.
func dedupe[K comparable, R any](rows []R, keyOf func(R) K, conflict func(K, int)) (map[K]R, []K) {
	byKey := make(map[K]R, len(rows))
	seen := make(map[K]int, len(rows))
	keys := make([]K, 0, len(rows))

	for _, r := range rows {
		k := keyOf(r)
		seen[k]++
		if prev, ok := byKey[k]; ok {
			if conflict != nil && !sameRow(prev, r) {
				conflict(k, seen[k])
			}
		} else {
			keys = append(keys, k)
		}
		byKey[k] = r
	}

	if ids, ok := any(keys).([]int64); ok {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return byKey, keys
}

var timeType = reflect.TypeOf(time.Time{})

// sameRow reports whether two rows hold the same values. Timestamps compare
// by instant, so a driver returning another location is not a conflict.
func sameRow[R any](a, b R) bool {
	return sameValue(reflect.ValueOf(a), reflect.ValueOf(b))
}

func sameValue(a, b reflect.Value) bool {
	switch {
	case a.Type() == timeType:
		return a.Interface().(time.Time).Equal(b.Interface().(time.Time))
	case a.Kind() == reflect.Pointer:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() == b.IsNil()
		}
		return sameValue(a.Elem(), b.Elem())
	case a.Kind() == reflect.Struct:
		for i := range a.NumField() {
			if !sameValue(a.Field(i), b.Field(i)) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a.Interface(), b.Interface())
}
