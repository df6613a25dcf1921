package epochflow

import (
	"slices"
	"sync"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Captured is one item received by a Collector.
type Captured[T any] struct {
	Epoch recovery.Epoch
	Item  T
}

// Collector is a sink that keeps every item it receives, in arrival
// order. Safe for concurrent use.
type Collector[T any] struct {
	mu    sync.Mutex
	items []Captured[T]
}

// Compile-time interface check.
var _ Sink[int] = (*Collector[int])(nil)

// NewCollector creates an empty collector.
func NewCollector[T any]() *Collector[T] {
	return &Collector[T]{}
}

// Write implements Sink.
func (c *Collector[T]) Write(epoch recovery.Epoch, item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, Captured[T]{Epoch: epoch, Item: item})
	return nil
}

// Items returns a copy of everything received so far.
func (c *Collector[T]) Items() []Captured[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

// Values returns the received items without their epochs.
func (c *Collector[T]) Values() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]T, len(c.items))
	for i, it := range c.items {
		out[i] = it.Item
	}
	return out
}

// Len returns the number of items received.
func (c *Collector[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Reset discards everything received so far.
func (c *Collector[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}
