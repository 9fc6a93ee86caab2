package testutil

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/denorm/internal/registry"
)

// NewRegistry returns a registry backed by a SequentialGenerator, so the
// n-th allocation is always ID(n).
func NewRegistry() *registry.Registry {
	return registry.New(registry.NewSequentialGenerator())
}

// GeneratorAt returns a sequential generator that has already issued ids 1
// through start, for registries restored with that many mappings.
func GeneratorAt(start uint64) *registry.SequentialGenerator {
	g := registry.NewSequentialGenerator()
	for range start {
		_, _ = g.Generate()
	}
	return g
}

// ID returns the id a fresh sequential registry issues on its n-th
// allocation.
func ID(n uint64) primitive.ObjectID {
	return registry.SequentialID(n)
}

// Hex is ID(n).Hex().
func Hex(n uint64) string {
	return ID(n).Hex()
}
