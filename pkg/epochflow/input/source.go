// Package input defines the contract between external data sources and
// the epoch coordinator, and provides adapters that turn plain resumable
// iterators into sources.
//
// A Source is polled without blocking. Each poll returns one of three
// outcomes: Pending (nothing right now, ask again), Done (exhausted for
// good), or Ready with one item. Snapshot captures the position after the
// last item returned so a later run can resume from it.
package input

import (
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// PollKind is the outcome of a single poll.
type PollKind int

const (
	// PollPending means no item is available right now.
	PollPending PollKind = iota
	// PollDone means the source is exhausted.
	PollDone
	// PollReady means exactly one item was produced.
	PollReady
)

// String returns the poll kind name.
func (k PollKind) String() string {
	switch k {
	case PollPending:
		return "pending"
	case PollDone:
		return "done"
	case PollReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Poll is the result of polling a source once.
type Poll[T any] struct {
	kind PollKind
	item T
}

// Pending returns a Poll meaning "nothing yet".
func Pending[T any]() Poll[T] {
	return Poll[T]{kind: PollPending}
}

// Done returns a Poll meaning "exhausted".
func Done[T any]() Poll[T] {
	return Poll[T]{kind: PollDone}
}

// Ready returns a Poll carrying item.
func Ready[T any](item T) Poll[T] {
	return Poll[T]{kind: PollReady, item: item}
}

// Kind returns the poll outcome.
func (p Poll[T]) Kind() PollKind { return p.kind }

// IsPending reports whether the poll produced nothing.
func (p Poll[T]) IsPending() bool { return p.kind == PollPending }

// IsDone reports whether the source is exhausted.
func (p Poll[T]) IsDone() bool { return p.kind == PollDone }

// Item returns the produced item. The second result is false unless the
// poll is Ready.
func (p Poll[T]) Item() (T, bool) {
	return p.item, p.kind == PollReady
}

// Source is a resumable, non-blocking producer of items on one worker.
//
// Next must never block. Snapshot may be called at any time, including
// immediately after construction and after Done, and returns the position
// after the last item Next returned. Errors from either method are fatal
// for the flow.
//
// Sources that implement io.Closer are closed once they report Done.
type Source[T any] interface {
	Next() (Poll[T], error)
	Snapshot() (recovery.StateBytes, error)
}

// Builder constructs a Source for one worker. resume is the snapshot the
// previous run recorded for this worker, or nil on a fresh run.
type Builder[T any] interface {
	Build(w recovery.WorkerIndex, n recovery.WorkerCount, resume *recovery.StateBytes) (Source[T], error)
}

type builderFunc[T any] func(recovery.WorkerIndex, recovery.WorkerCount, *recovery.StateBytes) (Source[T], error)

func (f builderFunc[T]) Build(w recovery.WorkerIndex, n recovery.WorkerCount, resume *recovery.StateBytes) (Source[T], error) {
	return f(w, n, resume)
}

// NewBuilder adapts a function to Builder.
func NewBuilder[T any](fn func(w recovery.WorkerIndex, n recovery.WorkerCount, resume *recovery.StateBytes) (Source[T], error)) Builder[T] {
	return builderFunc[T](fn)
}
