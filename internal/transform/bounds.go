package transform

import (
	"sort"
	"strconv"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
)

// applyBound enforces the policy bound of rel on an embedded array that is
// already in its final order. Under truncate the first bound items are kept
// and a warning is noted; under fail the owning record is skipped and false
// is returned.
func applyBound[D, T any](o *outcome[D], table *policy.Table, rel policy.Relationship, entity model.EntityType, originalID int64, items []T) ([]T, bool) {
	bound := table.Bound(rel)
	if bound <= 0 || len(items) <= bound {
		return items, true
	}

	if table.OverflowFor(rel) == policy.OverflowTruncate {
		o.note(newBoundExceeded(entity, originalID, string(rel), len(items), bound, true))
		return items[:bound:bound], true
	}

	o.fail(newBoundExceeded(entity, originalID, string(rel), len(items), bound, false))
	return nil, false
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
