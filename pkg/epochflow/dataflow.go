package epochflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/epochflow/pkg/epochflow/input"
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// CaptureStep is the step ID reported for sink failures.
const CaptureStep recovery.StepID = "capture"

// Sink receives the items that reach the end of a dataflow. A sink shared
// by several workers must be safe for concurrent use.
type Sink[T any] interface {
	Write(epoch recovery.Epoch, item T) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(epoch recovery.Epoch, item T) error

// Write implements Sink.
func (f SinkFunc[T]) Write(epoch recovery.Epoch, item T) error {
	return f(epoch, item)
}

type stepKind int

const (
	stepMap stepKind = iota
	stepFilter
	stepInspect
)

type step[T any] struct {
	id      recovery.StepID
	kind    stepKind
	mapFn   func(T) (T, error)
	keep    func(T) bool
	inspect func(recovery.Epoch, T)
}

// Dataflow is a builder for a linear dataflow over items of type T.
// Chain Input, the processing steps and Capture, then hand the dataflow
// to RunMain or Cluster.
//
// Dataflow is NOT thread-safe during building. Once built it can be run
// any number of times; runs never modify it.
//
// Example:
//
//	flow := epochflow.NewDataflow[int]("numbers").
//	    Input("inp", input.Testing([]int{1, 2, 3})).
//	    Filter("odd", func(x int) bool { return x%2 == 1 }).
//	    Capture(collector)
type Dataflow[T any] struct {
	name    string
	inputID recovery.StepID
	input   input.Builder[T]
	steps   []step[T]
	sink    Sink[T]
	ids     map[recovery.StepID]bool
	errs    []error
}

// NewDataflow creates an empty dataflow.
func NewDataflow[T any](name string) *Dataflow[T] {
	return &Dataflow[T]{
		name: name,
		ids:  make(map[recovery.StepID]bool),
	}
}

// Name returns the dataflow name.
func (d *Dataflow[T]) Name() string {
	return d.name
}

// InputStep returns the ID of the input step, or "" if none was added.
func (d *Dataflow[T]) InputStep() recovery.StepID {
	return d.inputID
}

// Input sets the dataflow's input. Its state is recovered under the
// step ID, so keep the ID stable between runs.
//
// Panics if id is empty or contains whitespace, or if b is nil.
func (d *Dataflow[T]) Input(id recovery.StepID, b input.Builder[T]) *Dataflow[T] {
	if b == nil {
		panic("epochflow: input builder cannot be nil")
	}
	if !d.claim(id) {
		return d
	}
	if d.input != nil {
		d.errs = append(d.errs, fmt.Errorf("%w: %s", ErrMultipleInputs, id))
		return d
	}
	d.inputID = id
	d.input = b
	return d
}

// Map replaces each item with the result of fn. An error from fn fails
// the run.
func (d *Dataflow[T]) Map(id recovery.StepID, fn func(T) (T, error)) *Dataflow[T] {
	if fn == nil {
		panic("epochflow: map function cannot be nil")
	}
	if d.claim(id) {
		d.steps = append(d.steps, step[T]{id: id, kind: stepMap, mapFn: fn})
	}
	return d
}

// Filter drops items for which fn returns false.
func (d *Dataflow[T]) Filter(id recovery.StepID, fn func(T) bool) *Dataflow[T] {
	if fn == nil {
		panic("epochflow: filter function cannot be nil")
	}
	if d.claim(id) {
		d.steps = append(d.steps, step[T]{id: id, kind: stepFilter, keep: fn})
	}
	return d
}

// Inspect calls fn with each item and its epoch, passing the item on
// unchanged.
func (d *Dataflow[T]) Inspect(id recovery.StepID, fn func(recovery.Epoch, T)) *Dataflow[T] {
	if fn == nil {
		panic("epochflow: inspect function cannot be nil")
	}
	if d.claim(id) {
		d.steps = append(d.steps, step[T]{id: id, kind: stepInspect, inspect: fn})
	}
	return d
}

// Capture sets the sink that receives every item reaching the end of the
// dataflow.
func (d *Dataflow[T]) Capture(sink Sink[T]) *Dataflow[T] {
	if sink == nil {
		panic("epochflow: sink cannot be nil")
	}
	d.sink = sink
	return d
}

// Validate reports structural problems: a missing input or capture and
// duplicate step IDs.
func (d *Dataflow[T]) Validate() error {
	var errs []error
	if d.input == nil {
		errs = append(errs, ErrNoInput)
	}
	if d.sink == nil {
		errs = append(errs, ErrNoCapture)
	}
	errs = append(errs, d.errs...)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("dataflow %s: %w", d.name, errors.Join(errs...))
}

func (d *Dataflow[T]) claim(id recovery.StepID) bool {
	if id == "" {
		panic("epochflow: step ID cannot be empty")
	}
	if strings.ContainsAny(string(id), " \t\n\r") {
		panic("epochflow: step ID cannot contain whitespace")
	}
	if id == CaptureStep || d.ids[id] {
		d.errs = append(d.errs, fmt.Errorf("%w: %s", ErrDuplicateStep, id))
		return false
	}
	d.ids[id] = true
	return true
}
