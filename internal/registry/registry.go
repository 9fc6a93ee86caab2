package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/denorm/internal/model"
)

// ErrExhausted reports that the generator could not produce a usable id.
// It means identifier generation is broken, not that the data is bad, so
// callers treat it as fatal for the run.
var ErrExhausted = errors.New("registry exhausted")

// maxAttempts bounds how many times Resolve asks the generator for an id that
// has not been issued yet.
const maxAttempts = 8

// Registry is a bidirectional map between (entity type, original id) pairs
// and generated ids.
type Registry struct {
	mu      sync.Mutex
	gen     Generator
	forward map[model.Key]primitive.ObjectID
	reverse map[primitive.ObjectID]model.Key
}

// New creates an empty registry that allocates with gen.
// A nil gen defaults to ObjectIDGenerator.
func New(gen Generator) *Registry {
	if gen == nil {
		gen = ObjectIDGenerator{}
	}
	return &Registry{
		gen:     gen,
		forward: make(map[model.Key]primitive.ObjectID),
		reverse: make(map[primitive.ObjectID]model.Key),
	}
}

// Resolve returns the generated id for (entity, originalID), allocating and
// recording a fresh one on first sight. Repeated calls with the same key
// return the same id.
//
// Returns an error wrapping ErrExhausted when the generator fails or keeps
// returning ids that are already issued to other keys.
func (r *Registry) Resolve(entity model.EntityType, originalID int64) (primitive.ObjectID, error) {
	if !entity.Valid() {
		return primitive.NilObjectID, fmt.Errorf("resolve: unknown entity type %q", entity)
	}
	key := model.KeyOf(entity, originalID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.forward[key]; ok {
		return id, nil
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := r.gen.Generate()
		if err != nil {
			return primitive.NilObjectID, fmt.Errorf("resolve %s: %w: %v", key, ErrExhausted, err)
		}
		if id.IsZero() {
			continue
		}
		if _, taken := r.reverse[id]; taken {
			continue
		}
		r.forward[key] = id
		r.reverse[id] = key
		return id, nil
	}

	return primitive.NilObjectID, fmt.Errorf("resolve %s: %w: no unused id after %d attempts", key, ErrExhausted, maxAttempts)
}

// Lookup returns the id already issued for (entity, originalID) without
// allocating.
func (r *Registry) Lookup(entity model.EntityType, originalID int64) (primitive.ObjectID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.forward[model.KeyOf(entity, originalID)]
	return id, ok
}

// Len returns the number of mappings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forward)
}

// Counts returns the number of mappings per entity type.
func (r *Registry) Counts() map[model.EntityType]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[model.EntityType]int)
	for key := range r.forward {
		counts[key.Type]++
	}
	return counts
}

// Export returns a complete snapshot of the mapping table, ordered by entity
// type then original id.
func (r *Registry) Export() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(Snapshot, 0, len(r.forward))
	for key, id := range r.forward {
		snap = append(snap, Mapping{Entity: key.Type, OriginalID: key.OriginalID, GeneratedID: id})
	}
	snap.sort()
	return snap
}

// Restore loads previously exported mappings, typically from the run ledger,
// so a re-run reuses the ids of the earlier run. Mappings already present
// with the same id are accepted; any conflict fails the whole restore and
// leaves the registry unchanged.
func (r *Registry) Restore(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[model.Key]primitive.ObjectID, len(snap))
	stagedRev := make(map[primitive.ObjectID]model.Key, len(snap))

	for _, m := range snap {
		if !m.Entity.Valid() {
			return fmt.Errorf("restore: unknown entity type %q", m.Entity)
		}
		if m.GeneratedID.IsZero() {
			return fmt.Errorf("restore: %s has a zero id", m.Key())
		}
		key := m.Key()

		if existing, ok := r.forward[key]; ok && existing != m.GeneratedID {
			return fmt.Errorf("restore: %s already mapped to %s, snapshot has %s", key, existing.Hex(), m.GeneratedID.Hex())
		}
		if owner, ok := r.reverse[m.GeneratedID]; ok && owner != key {
			return fmt.Errorf("restore: id %s already issued to %s", m.GeneratedID.Hex(), owner)
		}
		if prev, ok := staged[key]; ok && prev != m.GeneratedID {
			return fmt.Errorf("restore: snapshot maps %s twice", key)
		}
		if owner, ok := stagedRev[m.GeneratedID]; ok && owner != key {
			return fmt.Errorf("restore: snapshot issues id %s to both %s and %s", m.GeneratedID.Hex(), owner, key)
		}
		staged[key] = m.GeneratedID
		stagedRev[m.GeneratedID] = key
	}

	for key, id := range staged {
		r.forward[key] = id
		r.reverse[id] = key
	}
	return nil
}

// Mapping is one row of an exported registry.
type Mapping struct {
	Entity      model.EntityType   `json:"entity_type"`
	OriginalID  int64              `json:"original_id"`
	GeneratedID primitive.ObjectID `json:"generated_id"`
}

// Key returns the source key of the mapping.
func (m Mapping) Key() model.Key {
	return model.KeyOf(m.Entity, m.OriginalID)
}

// Snapshot is an exported registry, ordered by entity type then original id.
type Snapshot []Mapping

func (s Snapshot) sort() {
	sort.Slice(s, func(i, j int) bool {
		return s[i].Key().Less(s[j].Key())
	})
}

// ByGeneratedID indexes the snapshot by generated id.
func (s Snapshot) ByGeneratedID() map[primitive.ObjectID]model.Key {
	idx := make(map[primitive.ObjectID]model.Key, len(s))
	for _, m := range s {
		idx[m.GeneratedID] = m.Key()
	}
	return idx
}

// ByKey indexes the snapshot by source key.
func (s Snapshot) ByKey() map[model.Key]primitive.ObjectID {
	idx := make(map[model.Key]primitive.ObjectID, len(s))
	for _, m := range s {
		idx[m.Key()] = m.GeneratedID
	}
	return idx
}

// Filter returns the mappings of one entity type.
func (s Snapshot) Filter(entity model.EntityType) Snapshot {
	var out Snapshot
	for _, m := range s {
		if m.Entity == entity {
			out = append(out, m)
		}
	}
	return out
}

// Where returns the mappings for which keep reports true.
func (s Snapshot) Where(keep func(Mapping) bool) Snapshot {
	var out Snapshot
	for _, m := range s {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
