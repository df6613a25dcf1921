package input

import (
	"iter"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// SeqFunc returns the sequence of (state, item) pairs for one worker,
// starting after resume.
type SeqFunc[S, T any] func(w recovery.WorkerIndex, n recovery.WorkerCount, resume *S) iter.Seq2[S, T]

// FromSeq adapts a push-style sequence into a pull-based input. The
// sequence is stopped when it is exhausted or the source is closed.
func FromSeq[S, T any](fn SeqFunc[S, T]) *Manual[S, T] {
	if fn == nil {
		panic("input: nil sequence func")
	}
	return NewManual[S, T](func(w recovery.WorkerIndex, n recovery.WorkerCount, resume *S) (Iterator, error) {
		next, stop := iter.Pull2(fn(w, n, resume))
		return &seqIterator[S, T]{next: next, stop: stop}, nil
	})
}

type seqIterator[S, T any] struct {
	next func() (S, T, bool)
	stop func()
	done bool
}

func (it *seqIterator[S, T]) Next() Poll[any] {
	if it.done {
		return Done[any]()
	}
	s, t, ok := it.next()
	if !ok {
		it.Close()
		return Done[any]()
	}
	return Ready[any](Pair[S, T]{State: s, Item: t})
}

func (it *seqIterator[S, T]) Close() error {
	if !it.done {
		it.done = true
		it.stop()
	}
	return nil
}
