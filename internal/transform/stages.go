package transform

import (
	"fmt"
	"sort"

	"github.com/roach88/denorm/internal/model"
)

// Stage is one dependency level of a run: every record of one top-level
// collection.
type Stage string

const (
	StageOrganizations Stage = "organizations"
	StageUsers         Stage = "users"
	StageLabels        Stage = "labels"
	StageProjects      Stage = "projects"
)

// Collection returns the collection the stage produces.
func (s Stage) Collection() model.Collection {
	return model.Collection(s)
}

// dependencies lists the stages whose generated ids a stage resolves.
var dependencies = map[Stage][]Stage{
	StageOrganizations: nil,
	StageUsers:         {StageOrganizations},
	StageLabels:        {StageOrganizations},
	StageProjects:      {StageOrganizations, StageUsers, StageLabels},
}

// Dependencies returns the stages that must complete before s.
func (s Stage) Dependencies() []Stage {
	return append([]Stage(nil), dependencies[s]...)
}

// Stages returns every stage in execution order.
func Stages() []Stage {
	order, err := orderStages(dependencies)
	if err != nil {
		panic(err)
	}
	return order
}

// orderStages topologically sorts a stage graph. When several stages are
// ready at once the one whose collection comes first in load order wins, so
// the result is deterministic.
func orderStages(deps map[Stage][]Stage) ([]Stage, error) {
	nodes := make([]Stage, 0, len(deps))
	for s := range deps {
		nodes = append(nodes, s)
	}
	sort.Slice(nodes, func(i, j int) bool {
		ri, rj := loadRank(nodes[i]), loadRank(nodes[j])
		if ri != rj {
			return ri < rj
		}
		return nodes[i] < nodes[j]
	})

	pos := make(map[Stage]int, len(nodes))
	for i, s := range nodes {
		pos[s] = i
	}

	indeg := make([]int, len(nodes))
	out := make([][]int, len(nodes))
	for i, s := range nodes {
		for _, d := range deps[s] {
			j, ok := pos[d]
			if !ok {
				return nil, fmt.Errorf("%w: %s depends on unknown stage %s", ErrStageOrder, s, d)
			}
			indeg[i]++
			out[j] = append(out[j], i)
		}
	}
	for i := range out {
		sort.Ints(out[i])
	}

	var ready []int
	for i := range nodes {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]Stage, 0, len(nodes))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		order = append(order, nodes[i])

		for _, j := range out[i] {
			indeg[j]--
			if indeg[j] == 0 {
				k := sort.SearchInts(ready, j)
				ready = append(ready, 0)
				copy(ready[k+1:], ready[k:])
				ready[k] = j
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, fmt.Errorf("%w: dependency cycle", ErrStageOrder)
	}
	return order, nil
}

func loadRank(s Stage) int {
	for i, c := range model.Collections {
		if c == s.Collection() {
			return i
		}
	}
	return len(model.Collections)
}
