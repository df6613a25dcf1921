package input

import (
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Distribute returns the items owned by worker w out of n: every n-th
// item starting at index w.
func Distribute[T any](items []T, w recovery.WorkerIndex, n recovery.WorkerCount) []T {
	if n <= 0 || w < 0 || int(w) >= int(n) {
		return nil
	}
	var out []T
	for i := int(w); i < len(items); i += int(n) {
		out = append(out, items[i])
	}
	return out
}

// Testing returns an input over a fixed list of items, partitioned across
// workers with Distribute. The resume state is the index of the next item
// in the worker's partition.
func Testing[T any](items []T) *Manual[int, T] {
	snapshot := append([]T(nil), items...)
	return NewManual[int, T](func(w recovery.WorkerIndex, n recovery.WorkerCount, resume *int) (Iterator, error) {
		part := Distribute(snapshot, w, n)
		next := 0
		if resume != nil {
			next = *resume
		}
		return IteratorFunc(func() Poll[any] {
			if next >= len(part) {
				return Done[any]()
			}
			item := part[next]
			next++
			return Ready[any](Pair[int, T]{State: next, Item: item})
		}), nil
	})
}
