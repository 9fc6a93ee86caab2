package extract

import (
	"fmt"
	"strings"
)

// table describes how one source table is paged.
type table struct {
	name    string
	columns []string
	// keys is the primary key, in keyset order.
	keys []string
}

var (
	organizationsTable = table{"organizations", []string{"id", "name", "created_at"}, []string{"id"}}
	usersTable         = table{"users", []string{"id", "email", "name", "created_at"}, []string{"id"}}
	orgMembersTable    = table{"org_members", []string{"org_id", "user_id", "role", "joined_at"}, []string{"org_id", "user_id"}}
	projectsTable      = table{"projects", []string{"id", "org_id", "name", "description", "status", "created_at"}, []string{"id"}}
	tasksTable         = table{"tasks", []string{"id", "project_id", "title", "description", "status", "priority", "due_date", "created_at", "updated_at"}, []string{"id"}}
	labelsTable        = table{"labels", []string{"id", "org_id", "name", "color", "created_at"}, []string{"id"}}
	taskLabelsTable    = table{"task_labels", []string{"task_id", "label_id"}, []string{"task_id", "label_id"}}
	taskAssigneesTable = table{"task_assignees", []string{"task_id", "user_id", "assigned_at"}, []string{"task_id", "user_id"}}
	commentsTable      = table{"comments", []string{"id", "task_id", "user_id", "content", "created_at"}, []string{"id"}}
)

// page returns the query for the page after the row whose keys are after,
// or the first page when after is empty. Arguments are positional: the
// keyset values, then the limit.
func (t table) page(after []any, limit int) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(t.columns, ", "), t.name)

	args := make([]any, 0, len(after)+1)
	if len(after) > 0 {
		placeholders := make([]string, len(after))
		for i, v := range after {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		fmt.Fprintf(&b, " WHERE (%s) > (%s)", strings.Join(t.keys, ", "), strings.Join(placeholders, ", "))
	}

	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY %s LIMIT $%d", strings.Join(t.keys, ", "), len(args))
	return b.String(), args
}
