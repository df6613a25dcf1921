package epoch

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Coordinator errors.
var (
	// ErrCapabilityMismatch means the data and change capabilities are no
	// longer at the same epoch.
	ErrCapabilityMismatch = errors.New("data and change capabilities out of lock-step")

	// ErrInvalidConfig means an epoch config is unusable.
	ErrInvalidConfig = errors.New("invalid epoch config")

	// ErrInvalidParams means required coordinator wiring is missing.
	ErrInvalidParams = errors.New("invalid coordinator params")
)

// SourceError wraps a failure of the input source. It is fatal for the flow.
type SourceError struct {
	Step  recovery.StepID
	Epoch recovery.Epoch
	// Op is the failing source call: "build", "next", "snapshot" or "close".
	Op  string
	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("input %s at epoch %d: %s: %v", e.Step, e.Epoch, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error {
	return e.Err
}
