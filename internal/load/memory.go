package load

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/denorm/internal/model"
)

// Memory is an in-process Sink and validation reader. It applies the same
// upsert-by-original-id rule as Mongo, and rejects a write that would change
// the _id already stored for an original id.
type Memory struct {
	mu   sync.Mutex
	docs map[model.Collection]map[int64]model.Document

	// Reject, when set, fails individual documents the way a server-side
	// write error would.
	Reject func(model.Document) error
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{docs: make(map[model.Collection]map[int64]model.Document)}
}

func (m *Memory) Upsert(ctx context.Context, c model.Collection, docs []model.Document) (BatchStats, error) {
	if err := ctx.Err(); err != nil {
		return BatchStats{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.docs[c]
	if stored == nil {
		stored = make(map[int64]model.Document)
		m.docs[c] = stored
	}

	var stats BatchStats
	for _, d := range docs {
		if m.Reject != nil {
			if err := m.Reject(d); err != nil {
				stats.Failed++
				stats.Causes = append(stats.Causes, fmt.Sprintf("original_id %d: %v", d.SourceID(), err))
				continue
			}
		}
		prev, exists := stored[d.SourceID()]
		if exists && prev.DocumentID() != d.DocumentID() {
			stats.Failed++
			stats.Causes = append(stats.Causes, fmt.Sprintf(
				"original_id %d: stored as %s, refusing to change _id to %s",
				d.SourceID(), prev.DocumentID().Hex(), d.DocumentID().Hex()))
			continue
		}
		stored[d.SourceID()] = d
		if exists {
			stats.Updated++
		} else {
			stats.Inserted++
		}
	}
	return stats, nil
}

// Clear removes every stored document.
func (m *Memory) Clear(context.Context) (map[model.Collection]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[model.Collection]int64, len(m.docs))
	for c, docs := range m.docs {
		removed[c] = int64(len(docs))
	}
	m.docs = make(map[model.Collection]map[int64]model.Document)
	return removed, nil
}

func (m *Memory) Count(_ context.Context, c model.Collection) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.docs[c])), nil
}

// Documents returns the stored documents of c ordered by original id.
func (m *Memory) Documents(_ context.Context, c model.Collection) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.docs[c]))
	for id := range m.docs[c] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	docs := make([]model.Document, len(ids))
	for i, id := range ids {
		docs[i] = m.docs[c][id]
	}
	return docs, nil
}

func (m *Memory) Get(_ context.Context, c model.Collection, originalID int64) (model.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[c][originalID]
	return d, ok, nil
}

// Put stores a document directly, bypassing upsert rules. Tests use it to
// seed a target that disagrees with the source.
func (m *Memory) Put(d model.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := d.Collection()
	if m.docs[c] == nil {
		m.docs[c] = make(map[int64]model.Document)
	}
	m.docs[c][d.SourceID()] = d
}

// Delete removes one document. Tests use it to simulate lost writes.
func (m *Memory) Delete(c model.Collection, originalID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[c], originalID)
}
