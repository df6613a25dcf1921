package input

import (
	"errors"
	"fmt"
)

// Sentinel errors for input construction and polling.
var (
	// ErrMalformedYield is returned when an iterator yields a value that
	// does not decompose into a (state, item) pair.
	ErrMalformedYield = errors.New("iterator yield is not a (state, item) pair")

	// ErrNilIterator is returned when a builder returns no iterator.
	ErrNilIterator = errors.New("builder returned a nil iterator")
)

// ContractError reports an iterator that broke the (state, item) yield
// contract. It is never retried.
type ContractError struct {
	// Got is the dynamic type of the offending value.
	Got string
	// Reason says which part of the contract was broken.
	Reason string
}

// Error implements the error interface.
func (e *ContractError) Error() string {
	return fmt.Sprintf("input contract violation: %s (got %s)", e.Reason, e.Got)
}

// Unwrap returns ErrMalformedYield.
func (e *ContractError) Unwrap() error {
	return ErrMalformedYield
}

func malformed(v any, reason string) *ContractError {
	return &ContractError{Got: fmt.Sprintf("%T", v), Reason: reason}
}
