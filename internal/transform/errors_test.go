package transform

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/registry"
)

func TestErrorHelpers(t *testing.T) {
	missing := newMissingReference(model.EntityTask, 100, model.EntityUser, 999, "task_assignees row")
	bound := newBoundExceeded(model.EntityProject, 10, "project.tasks", 501, 500, false)
	dup := newDuplicate(model.EntityOrganization, 1, "organizations row", 2)
	exhausted := newExhaustion(model.EntityOrganization, 1, fmt.Errorf("resolve: %w", registry.ErrExhausted))

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"missing reference", missing, IsMissingReference},
		{"bound exceeded", bound, IsBoundExceeded},
		{"duplicate", dup, IsDuplicateOriginalID},
		{"exhaustion", exhausted, IsRegistryExhaustion},
		{"wrapped", fmt.Errorf("stage: %w", missing), IsMissingReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}

	assert.False(t, IsBoundExceeded(missing))
	assert.ErrorIs(t, exhausted, registry.ErrExhausted)
}

func TestError_Message(t *testing.T) {
	e := newMissingReference(model.EntityTask, 100, model.EntityUser, 999, "task_assignees row")
	assert.Equal(t, "MISSING_REFERENCE: task 100: task_assignees row references user 999 which was not produced in this run", e.Error())
	assert.Equal(t, model.KeyOf(model.EntityTask, 100), e.Key())
	assert.True(t, e.Skipped)

	w := newBoundExceeded(model.EntityTask, 7, "task.labels", 21, 20, true)
	assert.False(t, w.Skipped)
	assert.Contains(t, w.Message, "truncated")
}

func TestSummarizeAndSort(t *testing.T) {
	errs := []Error{
		*newBoundExceeded(model.EntityTask, 7, "task.labels", 21, 20, true),
		*newMissingReference(model.EntityTask, 3, model.EntityUser, 9, "task_assignees row"),
		*newDuplicate(model.EntityOrganization, 1, "organizations row", 2),
	}

	s := Summarize(errs)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 2, s.Warnings)
	assert.Equal(t, 1, s.ByKind[KindMissingReference])

	SortErrors(errs)
	require.Len(t, errs, 3)
	assert.Equal(t, model.EntityOrganization, errs[0].Entity)
	assert.Equal(t, int64(3), errs[1].OriginalID)
	assert.Equal(t, int64(7), errs[2].OriginalID)
}
