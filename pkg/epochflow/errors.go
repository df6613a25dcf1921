package epochflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Sentinel errors for building a dataflow.
var (
	// ErrNoInput indicates Input() was not called before running.
	ErrNoInput = errors.New("dataflow has no input")

	// ErrMultipleInputs indicates Input() was called more than once.
	ErrMultipleInputs = errors.New("dataflow has more than one input")

	// ErrNoCapture indicates Capture() was not called before running.
	ErrNoCapture = errors.New("dataflow has no capture")

	// ErrDuplicateStep indicates two steps share an ID.
	ErrDuplicateStep = errors.New("duplicate step ID")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates a run was started with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrInvalidWorkers indicates Cluster was asked for fewer than one worker.
	ErrInvalidWorkers = errors.New("worker count must be at least 1")
)

// StepError wraps an error returned by a step function.
type StepError struct {
	// Step is the step that failed.
	Step recovery.StepID
	// Epoch is the epoch of the item being processed.
	Epoch recovery.Epoch
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s at epoch %d: %v", e.Step, e.Epoch, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a step function or sink.
// It includes the stack trace for debugging.
type PanicError struct {
	// Step is the step that panicked.
	Step recovery.StepID
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("step %s panicked: %v", e.Step, e.Value)
}
