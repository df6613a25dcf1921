package dataflow

import (
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Record is a value stamped with the epoch it was emitted at.
type Record[T any] struct {
	Epoch recovery.Epoch
	Value T
}

// Output is a named, ordered buffer of records between an operator and
// its consumer on the same worker. Each buffered record holds its epoch
// in the frontier until the consumer acknowledges it.
//
// Output is not safe for concurrent use; it lives on one worker thread.
type Output[T any] struct {
	name     string
	frontier *Frontier
	buf      []Record[T]
}

// NewOutput creates an output that accounts its records in frontier.
func NewOutput[T any](name string, frontier *Frontier) *Output[T] {
	return &Output[T]{
		name:     name,
		frontier: frontier,
	}
}

// Name returns the output name.
func (o *Output[T]) Name() string {
	return o.name
}

// Give emits v at the capability's epoch.
// Panics if the capability was dropped.
func (o *Output[T]) Give(c *Capability, v T) {
	if !c.Valid() {
		panic("dataflow: give on " + o.name + " with a dropped capability")
	}
	o.GiveAt(c.Time(), v)
}

// GiveAt emits v at epoch e. Callers must hold something that keeps e
// in the frontier, usually the input record being processed.
func (o *Output[T]) GiveAt(e recovery.Epoch, v T) {
	o.frontier.Update(e, 1)
	o.buf = append(o.buf, Record[T]{Epoch: e, Value: v})
}

// Len returns the number of unacknowledged records.
func (o *Output[T]) Len() int {
	return len(o.buf)
}

// Pending returns the unacknowledged records, oldest first. The slice is
// only valid until the next Give or Ack.
func (o *Output[T]) Pending() []Record[T] {
	return o.buf
}

// Ack acknowledges the n oldest records and releases their epochs.
func (o *Output[T]) Ack(n int) {
	if n > len(o.buf) {
		n = len(o.buf)
	}
	for i := 0; i < n; i++ {
		o.frontier.Update(o.buf[i].Epoch, -1)
	}
	clear(o.buf[:n])
	o.buf = o.buf[n:]
	if len(o.buf) == 0 {
		o.buf = nil
	}
}

// Drain hands records to fn in order, acknowledging each one after fn
// returns nil. It stops at the first error and leaves the failing record
// buffered.
func (o *Output[T]) Drain(fn func(Record[T]) error) error {
	for len(o.buf) > 0 {
		if err := fn(o.buf[0]); err != nil {
			return err
		}
		o.Ack(1)
	}
	return nil
}
