package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/denorm/internal/model"
)

// stuckGenerator always returns the same id.
type stuckGenerator struct{ id primitive.ObjectID }

func (g stuckGenerator) Generate() (primitive.ObjectID, error) { return g.id, nil }

// failingGenerator always errors.
type failingGenerator struct{}

func (failingGenerator) Generate() (primitive.ObjectID, error) {
	return primitive.NilObjectID, errors.New("entropy source closed")
}

func TestResolve_Idempotent(t *testing.T) {
	reg := New(NewSequentialGenerator())

	first, err := reg.Resolve(model.EntityUser, 7)
	require.NoError(t, err)
	second, err := reg.Resolve(model.EntityUser, 7)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, reg.Len())
}

func TestResolve_SameOriginalIDDifferentEntity(t *testing.T) {
	reg := New(NewSequentialGenerator())

	user, err := reg.Resolve(model.EntityUser, 1)
	require.NoError(t, err)
	org, err := reg.Resolve(model.EntityOrganization, 1)
	require.NoError(t, err)

	assert.NotEqual(t, user, org)
	assert.Equal(t, 2, reg.Len())
}

func TestResolve_UnknownEntity(t *testing.T) {
	reg := New(nil)

	_, err := reg.Resolve(model.EntityType("widget"), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestResolve_CollisionExhausts(t *testing.T) {
	reg := New(stuckGenerator{id: SequentialID(1)})

	_, err := reg.Resolve(model.EntityOrganization, 1)
	require.NoError(t, err)

	_, err = reg.Resolve(model.EntityOrganization, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)

	_, ok := reg.Lookup(model.EntityOrganization, 2)
	assert.False(t, ok, "failed allocation must not leave a mapping")
}

func TestResolve_GeneratorErrorExhausts(t *testing.T) {
	reg := New(failingGenerator{})

	_, err := reg.Resolve(model.EntityTask, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "entropy source closed")
}

func TestResolve_ZeroIDRejected(t *testing.T) {
	reg := New(stuckGenerator{})

	_, err := reg.Resolve(model.EntityTask, 1)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestResolve_ConcurrentSameKey(t *testing.T) {
	reg := New(ObjectIDGenerator{})
	const goroutines = 50

	ids := make([]primitive.ObjectID, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := reg.Resolve(model.EntityProject, 42)
			if err == nil {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, reg.Len())
}

func TestResolve_ConcurrentDistinctKeys(t *testing.T) {
	reg := New(NewSequentialGenerator())
	const goroutines = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = reg.Resolve(model.EntityComment, int64(i))
		}(i)
	}
	wg.Wait()

	snap := reg.Export()
	require.Len(t, snap, goroutines)
	seen := make(map[primitive.ObjectID]bool)
	for _, m := range snap {
		require.False(t, seen[m.GeneratedID], "id %s issued twice", m.GeneratedID.Hex())
		seen[m.GeneratedID] = true
	}
}

func TestLookup_NeverAllocates(t *testing.T) {
	reg := New(NewSequentialGenerator())

	_, ok := reg.Lookup(model.EntityLabel, 3)
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())

	want, err := reg.Resolve(model.EntityLabel, 3)
	require.NoError(t, err)

	got, ok := reg.Lookup(model.EntityLabel, 3)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestExport_ReverseLookup(t *testing.T) {
	reg := New(NewSequentialGenerator())

	id, err := reg.Resolve(model.EntityTask, 100)
	require.NoError(t, err)

	byID := reg.Export().ByGeneratedID()
	key, ok := byID[id]
	require.True(t, ok)
	assert.Equal(t, model.KeyOf(model.EntityTask, 100), key)

	_, ok = byID[SequentialID(99)]
	assert.False(t, ok)
}

func TestExport_SortedAndBijective(t *testing.T) {
	reg := New(NewSequentialGenerator())

	keys := []model.Key{
		{Type: model.EntityUser, OriginalID: 11},
		{Type: model.EntityOrganization, OriginalID: 2},
		{Type: model.EntityUser, OriginalID: 10},
		{Type: model.EntityOrganization, OriginalID: 1},
		{Type: model.EntityComment, OriginalID: 5},
	}
	for _, k := range keys {
		_, err := reg.Resolve(k.Type, k.OriginalID)
		require.NoError(t, err)
	}

	snap := reg.Export()
	var got []string
	for _, m := range snap {
		got = append(got, m.Key().String())
	}
	assert.Equal(t, []string{
		"comment:5",
		"organization:1",
		"organization:2",
		"user:10",
		"user:11",
	}, got)

	assert.Len(t, snap.ByGeneratedID(), len(snap))
	assert.Len(t, snap.ByKey(), len(snap))
	assert.Len(t, snap.Filter(model.EntityUser), 2)
	assert.Len(t, snap.Where(func(m Mapping) bool { return m.OriginalID < 10 }), 3)

	counts := reg.Counts()
	assert.Equal(t, 2, counts[model.EntityOrganization])
	assert.Equal(t, 2, counts[model.EntityUser])
	assert.Equal(t, 1, counts[model.EntityComment])
}

func TestRestore_ReusesIDs(t *testing.T) {
	first := New(NewSequentialGenerator())
	for i := int64(1); i <= 3; i++ {
		_, err := first.Resolve(model.EntityOrganization, i)
		require.NoError(t, err)
	}
	snap := first.Export()

	second := New(sequentialAt(3))
	require.NoError(t, second.Restore(snap))

	for _, m := range snap {
		id, err := second.Resolve(m.Entity, m.OriginalID)
		require.NoError(t, err)
		assert.Equal(t, m.GeneratedID, id)
	}

	fresh, err := second.Resolve(model.EntityOrganization, 4)
	require.NoError(t, err)
	assert.Equal(t, SequentialID(4), fresh)
}

func TestRestore_Idempotent(t *testing.T) {
	reg := New(NewSequentialGenerator())
	_, err := reg.Resolve(model.EntityUser, 1)
	require.NoError(t, err)

	snap := reg.Export()
	require.NoError(t, reg.Restore(snap))
	assert.Equal(t, 1, reg.Len())
}

func TestRestore_Conflicts(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{
			name: "key already mapped elsewhere",
			snap: Snapshot{{Entity: model.EntityUser, OriginalID: 1, GeneratedID: SequentialID(50)}},
		},
		{
			name: "id already issued to another key",
			snap: Snapshot{{Entity: model.EntityUser, OriginalID: 2, GeneratedID: SequentialID(1)}},
		},
		{
			name: "snapshot maps one id twice",
			snap: Snapshot{
				{Entity: model.EntityLabel, OriginalID: 1, GeneratedID: SequentialID(60)},
				{Entity: model.EntityLabel, OriginalID: 2, GeneratedID: SequentialID(60)},
			},
		},
		{
			name: "zero id",
			snap: Snapshot{{Entity: model.EntityLabel, OriginalID: 3}},
		},
		{
			name: "unknown entity",
			snap: Snapshot{{Entity: "widget", OriginalID: 1, GeneratedID: SequentialID(70)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New(NewSequentialGenerator())
			_, err := reg.Resolve(model.EntityUser, 1)
			require.NoError(t, err)

			err = reg.Restore(tt.snap)
			require.Error(t, err)
			assert.Equal(t, 1, reg.Len(), "failed restore must leave the registry unchanged")
		})
	}
}

func ExampleRegistry_Resolve() {
	reg := New(NewSequentialGenerator())
	org, _ := reg.Resolve(model.EntityOrganization, 1)
	again, _ := reg.Resolve(model.EntityOrganization, 1)
	fmt.Println(org.Hex(), org == again)
	// Output: 000000000000000000000001 true
}
