package dataflow

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Operator is one schedulable unit on a worker. Schedule runs a single
// activation and must not block.
type Operator interface {
	Schedule(ctx context.Context) error
}

// OperatorFunc adapts a function to Operator.
type OperatorFunc func(ctx context.Context) error

// Schedule implements Operator.
func (f OperatorFunc) Schedule(ctx context.Context) error {
	return f(ctx)
}

// Activator asks the worker to schedule its operator again in the next
// round. It is safe to call from any goroutine.
type Activator struct {
	pending atomic.Bool
}

// Activate requests another activation.
func (a *Activator) Activate() {
	a.pending.Store(true)
}

// Active reports whether an activation is pending.
func (a *Activator) Active() bool {
	return a.pending.Load()
}

func (a *Activator) take() bool {
	return a.pending.Swap(false)
}

// OperatorError wraps an error returned by an operator.
type OperatorError struct {
	Name string
	Err  error
}

// Error implements the error interface.
func (e *OperatorError) Error() string {
	return fmt.Sprintf("operator %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperatorError) Unwrap() error {
	return e.Err
}

type slot struct {
	name string
	op   Operator
	act  *Activator
}

// Worker runs registered operators in registration order, one round at a
// time, until none of them asks to be scheduled again.
type Worker struct {
	index    recovery.WorkerIndex
	count    recovery.WorkerCount
	frontier *Frontier
	slots    []slot
	rounds   uint64
}

// NewWorker creates a worker that accounts progress in frontier.
func NewWorker(index recovery.WorkerIndex, count recovery.WorkerCount, frontier *Frontier) *Worker {
	if frontier == nil {
		frontier = NewFrontier()
	}
	return &Worker{
		index:    index,
		count:    count,
		frontier: frontier,
	}
}

// Index returns the worker index.
func (w *Worker) Index() recovery.WorkerIndex { return w.index }

// Count returns the number of workers in the execution.
func (w *Worker) Count() recovery.WorkerCount { return w.count }

// Frontier returns the shared progress frontier.
func (w *Worker) Frontier() *Frontier { return w.frontier }

// Rounds returns how many rounds Step has run.
func (w *Worker) Rounds() uint64 { return w.rounds }

// NewActivator returns an activator that is already pending, so the
// operator it is registered with runs in the first round.
func (w *Worker) NewActivator() *Activator {
	a := &Activator{}
	a.Activate()
	return a
}

// Register adds an operator. Operators run in the order registered.
func (w *Worker) Register(name string, op Operator, act *Activator) {
	if op == nil {
		panic("dataflow: nil operator " + name)
	}
	if act == nil {
		panic("dataflow: nil activator for " + name)
	}
	w.slots = append(w.slots, slot{name: name, op: op, act: act})
}

// Step runs one round over every activated operator. It reports whether
// any operator asked to run again.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	for _, s := range w.slots {
		if !s.act.take() {
			continue
		}
		if err := s.op.Schedule(ctx); err != nil {
			return false, &OperatorError{Name: s.name, Err: err}
		}
	}
	w.rounds++

	for _, s := range w.slots {
		if s.act.Active() {
			return true, nil
		}
	}
	return false, nil
}

// Run steps the worker until it is quiescent, an operator fails, or ctx
// is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := w.Step(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		runtime.Gosched()
	}
}
