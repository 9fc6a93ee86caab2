package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/denorm/internal/model"
)

func TestStages_DependencyOrder(t *testing.T) {
	assert.Equal(t, []Stage{StageOrganizations, StageUsers, StageLabels, StageProjects}, Stages())
}

func TestStages_Collections(t *testing.T) {
	for i, s := range Stages() {
		assert.Equal(t, model.Collections[i], s.Collection())
	}
}

func TestStage_DependenciesIsCopy(t *testing.T) {
	deps := StageProjects.Dependencies()
	require.Len(t, deps, 3)
	deps[0] = "mutated"
	assert.Equal(t, StageOrganizations, StageProjects.Dependencies()[0])
}

func TestOrderStages(t *testing.T) {
	tests := []struct {
		name    string
		deps    map[Stage][]Stage
		want    []Stage
		wantErr bool
	}{
		{
			name: "ties broken by load order",
			deps: map[Stage][]Stage{
				StageProjects:      nil,
				StageLabels:        nil,
				StageOrganizations: nil,
			},
			want: []Stage{StageOrganizations, StageLabels, StageProjects},
		},
		{
			name: "dependency beats load order",
			deps: map[Stage][]Stage{
				StageOrganizations: {StageLabels},
				StageLabels:        nil,
			},
			want: []Stage{StageLabels, StageOrganizations},
		},
		{
			name: "unknown stages sort by name after known ones",
			deps: map[Stage][]Stage{
				"zeta":        nil,
				"alpha":       nil,
				StageProjects: nil,
			},
			want: []Stage{StageProjects, "alpha", "zeta"},
		},
		{
			name: "cycle",
			deps: map[Stage][]Stage{
				StageUsers:  {StageLabels},
				StageLabels: {StageUsers},
			},
			wantErr: true,
		},
		{
			name: "missing dependency",
			deps: map[Stage][]Stage{
				StageUsers: {StageOrganizations},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := orderStages(tt.deps)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrStageOrder)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
