package input

import (
	"fmt"
	"io"
	"reflect"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Pair is the preferred shape for an iterator yield: the resume state
// after the item, and the item itself.
type Pair[S, T any] struct {
	State S
	Item  T
}

// Iterator is an external, resumable producer. Each Next advances it by
// exactly one step. Ready values must decompose into a (state, item)
// pair: Pair[S, T], *Pair[S, T], [2]any{state, item} or []any{state, item}.
type Iterator interface {
	Next() Poll[any]
}

// IteratorFunc adapts a function to Iterator.
type IteratorFunc func() Poll[any]

// Next implements Iterator.
func (f IteratorFunc) Next() Poll[any] {
	return f()
}

// BuilderFunc builds the iterator for one worker. resume is the state
// recorded by the previous run, or nil on a fresh run.
type BuilderFunc[S any] func(w recovery.WorkerIndex, n recovery.WorkerCount, resume *S) (Iterator, error)

// Manual wraps a user-supplied iterator builder as a Builder. The last
// yielded state is retained and becomes the snapshot.
type Manual[S, T any] struct {
	build BuilderFunc[S]
}

// Compile-time interface check.
var _ Builder[int] = (*Manual[int, int])(nil)

// NewManual creates a manual input from an iterator builder.
// Panics if build is nil.
func NewManual[S, T any](build BuilderFunc[S]) *Manual[S, T] {
	if build == nil {
		panic("input: nil builder")
	}
	return &Manual[S, T]{build: build}
}

// Build implements Builder.
func (m *Manual[S, T]) Build(w recovery.WorkerIndex, n recovery.WorkerCount, resume *recovery.StateBytes) (Source[T], error) {
	var state *S
	if resume != nil {
		decoded, err := recovery.De[*S](*resume)
		if err != nil {
			return nil, fmt.Errorf("decode resume state for worker %d: %w", w, err)
		}
		state = decoded
	}

	it, err := m.build(w, n, state)
	if err != nil {
		return nil, fmt.Errorf("build input for worker %d: %w", w, err)
	}
	if it == nil {
		return nil, fmt.Errorf("build input for worker %d: %w", w, ErrNilIterator)
	}

	return &manualSource[S, T]{it: it, last: state}, nil
}

type manualSource[S, T any] struct {
	it   Iterator
	last *S
}

func (s *manualSource[S, T]) Next() (Poll[T], error) {
	p := s.it.Next()
	switch p.Kind() {
	case PollPending:
		return Pending[T](), nil
	case PollDone:
		return Done[T](), nil
	}

	raw, _ := p.Item()
	state, item, err := decompose[S, T](raw)
	if err != nil {
		return Poll[T]{}, err
	}
	s.last = &state
	return Ready(item), nil
}

func (s *manualSource[S, T]) Snapshot() (recovery.StateBytes, error) {
	return recovery.Ser(s.last)
}

func (s *manualSource[S, T]) Close() error {
	if c, ok := s.it.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func decompose[S, T any](v any) (S, T, error) {
	var (
		zs S
		zt T
	)

	switch p := v.(type) {
	case Pair[S, T]:
		return p.State, p.Item, nil
	case *Pair[S, T]:
		if p == nil {
			return zs, zt, malformed(v, "nil pair")
		}
		return p.State, p.Item, nil
	case [2]any:
		return fromParts[S, T](p[0], p[1])
	case []any:
		if len(p) != 2 {
			return zs, zt, malformed(v, fmt.Sprintf("sequence of length %d, want 2", len(p)))
		}
		return fromParts[S, T](p[0], p[1])
	}
	return zs, zt, malformed(v, "value is not a pair")
}

func fromParts[S, T any](rawState, rawItem any) (S, T, error) {
	var zt T

	state, ok := as[S](rawState)
	if !ok {
		return state, zt, malformed(rawState, "state has the wrong type")
	}
	item, ok := as[T](rawItem)
	if !ok {
		return state, zt, malformed(rawItem, "item has the wrong type")
	}
	return state, item, nil
}

func as[X any](v any) (X, bool) {
	if x, ok := v.(X); ok {
		return x, true
	}
	var zero X
	if v == nil && nilable(reflect.TypeFor[X]()) {
		return zero, true
	}
	return zero, false
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return true
	}
	return false
}
