// Package dataflow is a small cooperative scheduling substrate: outputs
// that carry epoch-stamped records, capabilities that grant permission to
// emit at an epoch, a progress frontier that doubles as a backpressure
// probe, and a per-worker tick loop.
//
// It provides just enough of a dataflow runtime to host input
// coordinators and the operators downstream of them.
package dataflow

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Probe reports whether any work at an epoch earlier than e is still in
// flight. Coordinators only read it.
type Probe interface {
	LessThan(e recovery.Epoch) bool
}

type frontierEntry struct {
	epoch recovery.Epoch
	count int
}

func frontierEntryLess(a, b frontierEntry) bool {
	return a.epoch < b.epoch
}

// Frontier tracks every epoch that still has a live capability or an
// unacknowledged record. Its minimum is the oldest epoch that may still
// change; everything below it is complete.
//
// Frontier is safe for concurrent use so that workers of one execution
// can share it.
type Frontier struct {
	mu     sync.Mutex
	counts *btree.BTreeG[frontierEntry]
	high   recovery.Epoch
	seen   bool
}

// Compile-time interface check.
var _ Probe = (*Frontier)(nil)

// NewFrontier creates an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		counts: btree.NewG(16, frontierEntryLess),
	}
}

// Update adjusts the number of outstanding holds at epoch e.
// Panics if the count would become negative.
func (f *Frontier) Update(e recovery.Epoch, delta int) {
	if delta == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cur, _ := f.counts.Get(frontierEntry{epoch: e})
	n := cur.count + delta
	switch {
	case n < 0:
		panic(fmt.Sprintf("dataflow: negative frontier count %d at epoch %d", n, e))
	case n == 0:
		f.counts.Delete(frontierEntry{epoch: e})
	default:
		f.counts.ReplaceOrInsert(frontierEntry{epoch: e, count: n})
	}

	if delta > 0 && (!f.seen || e > f.high) {
		f.high = e
		f.seen = true
	}
}

// Min returns the oldest epoch still in flight.
// The second result is false when nothing is in flight.
func (f *Frontier) Min() (recovery.Epoch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.counts.Min()
	return m.epoch, ok
}

// LessThan implements Probe.
func (f *Frontier) LessThan(e recovery.Epoch) bool {
	m, ok := f.Min()
	return ok && m < e
}

// Empty reports whether nothing is in flight.
func (f *Frontier) Empty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts.Len() == 0
}

// High returns the largest epoch ever held.
// The second result is false if nothing was ever held.
func (f *Frontier) High() (recovery.Epoch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.high, f.seen
}

// Mint creates a new capability at epoch e.
func (f *Frontier) Mint(e recovery.Epoch) *Capability {
	f.Update(e, 1)
	return &Capability{frontier: f, time: e}
}

// String renders the outstanding counts, oldest first.
func (f *Frontier) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := "["
	first := true
	f.counts.Ascend(func(it frontierEntry) bool {
		if !first {
			s += " "
		}
		s += fmt.Sprintf("%d:%d", it.epoch, it.count)
		first = false
		return true
	})
	return s + "]"
}
