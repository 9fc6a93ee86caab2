package validate

import (
	"slices"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/transform"
)

// source is the extraction snapshot reduced to the rows the run kept:
// duplicates resolved last-write-wins and skipped records remembered.
type source struct {
	orgs     map[int64]model.Organization
	users    map[int64]model.User
	labels   map[int64]model.Label
	projects map[int64]model.Project
	tasks    map[int64]model.Task
	comments map[int64]model.Comment

	tasksByProject map[int64][]int64
	skipped        map[model.Key]bool
}

func lastByID[T any](rows []T, id func(T) int64) map[int64]T {
	out := make(map[int64]T, len(rows))
	for _, r := range rows {
		out[id(r)] = r
	}
	return out
}

func newSource(ds *model.Dataset, errs []transform.Error) *source {
	s := &source{
		orgs:           lastByID(ds.Organizations, func(r model.Organization) int64 { return r.ID }),
		users:          lastByID(ds.Users, func(r model.User) int64 { return r.ID }),
		labels:         lastByID(ds.Labels, func(r model.Label) int64 { return r.ID }),
		projects:       lastByID(ds.Projects, func(r model.Project) int64 { return r.ID }),
		tasks:          lastByID(ds.Tasks, func(r model.Task) int64 { return r.ID }),
		comments:       lastByID(ds.Comments, func(r model.Comment) int64 { return r.ID }),
		tasksByProject: make(map[int64][]int64),
		skipped:        make(map[model.Key]bool),
	}
	for id, t := range s.tasks {
		s.tasksByProject[t.ProjectID] = append(s.tasksByProject[t.ProjectID], id)
	}
	for _, ids := range s.tasksByProject {
		slices.Sort(ids)
	}
	for _, e := range errs {
		if e.Skipped {
			s.skipped[e.Key()] = true
		}
	}
	return s
}

// Relevant keeps the mappings of records a run over ds would produce: the
// record was extracted, was not skipped, and neither was its owner. It lets
// a validation outside a run use the ledger's accumulated mappings.
//
// Entries dropped by truncation are not errors of their own and stay in.
func Relevant(snap registry.Snapshot, ds *model.Dataset, errs []transform.Error) registry.Snapshot {
	src := newSource(ds, errs)
	return snap.Where(func(m registry.Mapping) bool { return src.produced(m.Key()) })
}

func (s *source) produced(k model.Key) bool {
	if s.skipped[k] {
		return false
	}
	switch k.Type {
	case model.EntityOrganization:
		_, ok := s.orgs[k.OriginalID]
		return ok
	case model.EntityUser:
		_, ok := s.users[k.OriginalID]
		return ok
	case model.EntityLabel:
		_, ok := s.labels[k.OriginalID]
		return ok
	case model.EntityProject:
		p, ok := s.projects[k.OriginalID]
		return ok && s.produced(model.KeyOf(model.EntityOrganization, p.OrgID))
	case model.EntityTask:
		t, ok := s.tasks[k.OriginalID]
		return ok && s.produced(model.KeyOf(model.EntityProject, t.ProjectID))
	case model.EntityComment:
		c, ok := s.comments[k.OriginalID]
		return ok && s.produced(model.KeyOf(model.EntityTask, c.TaskID))
	}
	return false
}

// expected returns the sorted original ids of entity that should have a
// top-level document: every distinct source row the run did not skip.
func (s *source) expected(entity model.EntityType) []int64 {
	var ids []int64
	add := func(id int64) {
		if !s.skipped[model.KeyOf(entity, id)] {
			ids = append(ids, id)
		}
	}
	switch entity {
	case model.EntityOrganization:
		for id := range s.orgs {
			add(id)
		}
	case model.EntityUser:
		for id := range s.users {
			add(id)
		}
	case model.EntityLabel:
		for id := range s.labels {
			add(id)
		}
	case model.EntityProject:
		for id := range s.projects {
			add(id)
		}
	}
	slices.Sort(ids)
	return ids
}

// sample picks up to n ids spread evenly over ids, always including the
// first and last.
func sample(ids []int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	if len(ids) <= n {
		return ids
	}
	if n == 1 {
		return ids[:1]
	}
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ids[i*(len(ids)-1)/(n-1)])
	}
	return out
}
