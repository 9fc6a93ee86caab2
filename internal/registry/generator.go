package registry

import (
	"encoding/binary"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Generator mints fresh document identifiers.
// Implemented by ObjectIDGenerator (production) and SequentialGenerator (tests
// and reproducible runs).
type Generator interface {
	Generate() (primitive.ObjectID, error)
}

// ObjectIDGenerator mints MongoDB ObjectIDs: a timestamp, a per-process
// random value and a counter. Stateless and safe for concurrent use.
type ObjectIDGenerator struct{}

// Generate returns a new ObjectID.
func (ObjectIDGenerator) Generate() (primitive.ObjectID, error) {
	return primitive.NewObjectID(), nil
}

// SequentialGenerator mints ObjectIDs whose 12 bytes encode a strictly
// increasing counter: 000000000000000000000001, 000000000000000000000002, ...
//
// Identical allocation order yields identical ids, which makes document
// output byte-for-byte reproducible. Safe for concurrent use (atomic counter).
type SequentialGenerator struct {
	seq atomic.Uint64
}

// NewSequentialGenerator creates a generator whose first id is 1.
func NewSequentialGenerator() *SequentialGenerator {
	return &SequentialGenerator{}
}

// Generate returns the next id in sequence.
func (g *SequentialGenerator) Generate() (primitive.ObjectID, error) {
	return SequentialID(g.seq.Add(1)), nil
}

// SequentialID returns the ObjectID a SequentialGenerator issues for n.
func SequentialID(n uint64) primitive.ObjectID {
	var id primitive.ObjectID
	binary.BigEndian.PutUint64(id[4:], n)
	return id
}
