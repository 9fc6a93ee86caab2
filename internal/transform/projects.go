package transform

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
)

// projects builds one ProjectDoc per project row with its tasks embedded.
//
// A task that cannot be built (missing assignee or label, bound exceeded
// under fail) is skipped and the project is produced without it. The
// project itself is skipped only when its organization is missing or its
// surviving tasks exceed the project.tasks bound under fail.
func (r *Run) projects() (*StageResult, error) {
	ids := r.ix.projectIDs
	out := make([]outcome[model.ProjectDoc], len(ids))

	r.build(len(ids), func(i int) {
		out[i] = r.buildProject(r.ix.projects[ids[i]])
	})

	res := &StageResult{Stage: StageProjects}
	for i := range out {
		if out[i].fatal != nil {
			return nil, out[i].fatal
		}
		res.Errors = append(res.Errors, out[i].errs...)
		if out[i].skipped {
			res.Skipped++
			continue
		}
		doc := out[i].doc
		if err := r.finalizeProject(&doc); err != nil {
			return nil, err
		}
		res.Documents = append(res.Documents, doc)
	}

	res.Errors = append(res.Errors, r.orphans()...)
	return res, nil
}

func (r *Run) buildProject(p model.Project) outcome[model.ProjectDoc] {
	var o outcome[model.ProjectDoc]

	orgID, ok := r.ref(model.EntityOrganization, p.OrgID)
	if !ok {
		e := newMissingReference(model.EntityProject, p.ID, model.EntityOrganization, p.OrgID, "project")
		if r.engine.strict {
			o.fatal = fmt.Errorf("strict references: %w", e)
			return o
		}
		o.fail(e)
		return o
	}

	tasks := make([]model.TaskDoc, 0, len(r.ix.tasksByProject[p.ID]))
	for _, taskID := range r.sortedTasks(p.ID) {
		t := r.buildTask(r.ix.tasks[taskID])
		o.errs = append(o.errs, t.errs...)
		if t.skipped {
			continue
		}
		tasks = append(tasks, t.doc)
	}

	tasks, ok = applyBound(&o, r.engine.policy, policy.ProjectTasks, model.EntityProject, p.ID, tasks)
	if !ok {
		return o
	}

	o.doc = model.ProjectDoc{
		OriginalID:  p.ID,
		OrgID:       orgID,
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		Tasks:       tasks,
		Stats:       projectStats(tasks),
	}
	if r.engine.policy.Denormalizes(policy.ProjectOrganization, "name") {
		o.doc.OrgName = r.ix.orgs[p.OrgID].Name
	}
	return o
}

func (r *Run) buildTask(t model.Task) outcome[model.TaskDoc] {
	var o outcome[model.TaskDoc]
	table := r.engine.policy

	rows := r.sortedAssignees(t.ID)
	assignees := make([]model.AssigneeSummary, 0, len(rows))
	for _, a := range rows {
		userID, ok := r.ref(model.EntityUser, a.UserID)
		if !ok {
			o.fail(newMissingReference(model.EntityTask, t.ID, model.EntityUser, a.UserID, "task_assignees row"))
			return o
		}
		u := r.ix.users[a.UserID]
		assignees = append(assignees, model.AssigneeSummary{
			UserID:     userID,
			Name:       u.Name,
			Email:      u.Email,
			AssignedAt: a.AssignedAt,
		})
	}

	labels := make([]model.LabelSummary, 0, len(r.ix.labelsByTask[t.ID]))
	for _, labelID := range r.ix.labelsByTask[t.ID] {
		id, ok := r.ref(model.EntityLabel, labelID)
		if !ok {
			o.fail(newMissingReference(model.EntityTask, t.ID, model.EntityLabel, labelID, "task_labels row"))
			return o
		}
		l := r.ix.labels[labelID]
		labels = append(labels, model.LabelSummary{LabelID: id, Name: l.Name, Color: l.Color})
	}
	sort.Slice(labels, func(i, j int) bool {
		return bytes.Compare(labels[i].LabelID[:], labels[j].LabelID[:]) < 0
	})

	// A comment whose author is missing is dropped on its own; the task
	// survives.
	commentIDs := r.sortedComments(t.ID)
	comments := make([]model.CommentSummary, 0, len(commentIDs))
	for _, commentID := range commentIDs {
		c := r.ix.comments[commentID]
		userID, ok := r.ref(model.EntityUser, c.UserID)
		if !ok {
			o.note(newMissingReference(model.EntityComment, c.ID, model.EntityUser, c.UserID, "comment"))
			continue
		}
		comments = append(comments, model.CommentSummary{
			OriginalID: c.ID,
			UserID:     userID,
			AuthorName: r.ix.users[c.UserID].Name,
			Content:    c.Content,
			CreatedAt:  c.CreatedAt,
		})
	}

	var ok bool
	if assignees, ok = applyBound(&o, table, policy.TaskAssignees, model.EntityTask, t.ID, assignees); !ok {
		return o
	}
	if labels, ok = applyBound(&o, table, policy.TaskLabels, model.EntityTask, t.ID, labels); !ok {
		return o
	}
	if comments, ok = applyBound(&o, table, policy.TaskComments, model.EntityTask, t.ID, comments); !ok {
		return o
	}

	o.doc = model.TaskDoc{
		OriginalID:    t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Priority:      t.Priority,
		DueDate:       t.DueDate,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		Assignees:     assignees,
		Labels:        labels,
		Comments:      comments,
		CommentCount:  len(comments),
		AssigneeCount: len(assignees),
	}
	return o
}

// finalizeProject allocates the project id, then task ids in embedded order,
// then comment ids task by task.
func (r *Run) finalizeProject(doc *model.ProjectDoc) error {
	id, err := r.allocate(model.EntityProject, doc.OriginalID)
	if err != nil {
		return err
	}
	doc.ID = id

	for i := range doc.Tasks {
		id, err := r.allocate(model.EntityTask, doc.Tasks[i].OriginalID)
		if err != nil {
			return err
		}
		doc.Tasks[i].ID = id
	}
	for i := range doc.Tasks {
		comments := doc.Tasks[i].Comments
		for j := range comments {
			id, err := r.allocate(model.EntityComment, comments[j].OriginalID)
			if err != nil {
				return err
			}
			comments[j].ID = id
		}
	}
	return nil
}

// projectStats aggregates built tasks.
func projectStats(tasks []model.TaskDoc) model.ProjectStats {
	s := model.ProjectStats{TotalTasks: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case model.StatusCompleted:
			s.CompletedTasks++
		case model.StatusInProgress:
			s.InProgressTasks++
		case model.StatusTodo:
			s.TodoTasks++
		}
		s.TotalComments += t.CommentCount
	}
	return s
}

// orphans reports rows whose owning record was never extracted: tasks
// without a project, comments without a task, and junction rows without a
// task.
func (r *Run) orphans() []Error {
	var errs []Error

	for _, id := range r.ix.taskIDs {
		t := r.ix.tasks[id]
		if _, ok := r.ix.projects[t.ProjectID]; !ok {
			errs = append(errs, *newMissingReference(model.EntityTask, id, model.EntityProject, t.ProjectID, "task"))
		}
	}
	for _, id := range r.ix.commentIDs {
		c := r.ix.comments[id]
		if _, ok := r.ix.tasks[c.TaskID]; !ok {
			errs = append(errs, *newMissingReference(model.EntityComment, id, model.EntityTask, c.TaskID, "comment"))
		}
	}
	for _, taskID := range sortedKeys(r.ix.assigneesByTask) {
		if _, ok := r.ix.tasks[taskID]; ok {
			continue
		}
		for _, a := range r.sortedAssignees(taskID) {
			errs = append(errs, *newMissingReference(model.EntityTask, taskID, model.EntityTask, taskID,
				"task_assignees row for user "+itoa(a.UserID)))
		}
	}
	for _, taskID := range sortedKeys(r.ix.labelsByTask) {
		if _, ok := r.ix.tasks[taskID]; ok {
			continue
		}
		for _, labelID := range r.ix.labelsByTask[taskID] {
			errs = append(errs, *newMissingReference(model.EntityTask, taskID, model.EntityTask, taskID,
				"task_labels row for label "+itoa(labelID)))
		}
	}
	return errs
}

// sortedTasks returns a project's task ids by created_at, then id.
func (r *Run) sortedTasks(projectID int64) []int64 {
	ids := append([]int64(nil), r.ix.tasksByProject[projectID]...)
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.ix.tasks[ids[i]], r.ix.tasks[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ids
}

// sortedComments returns a task's comment ids by created_at, then id.
func (r *Run) sortedComments(taskID int64) []int64 {
	ids := append([]int64(nil), r.ix.commentsByTask[taskID]...)
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.ix.comments[ids[i]], r.ix.comments[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ids
}

// sortedAssignees returns a task's assignee rows by assigned_at, then user id.
func (r *Run) sortedAssignees(taskID int64) []model.TaskAssignee {
	rows := append([]model.TaskAssignee(nil), r.ix.assigneesByTask[taskID]...)
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].AssignedAt.Equal(rows[j].AssignedAt) {
			return rows[i].AssignedAt.Before(rows[j].AssignedAt)
		}
		return rows[i].UserID < rows[j].UserID
	})
	return rows
}
