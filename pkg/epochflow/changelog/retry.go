package changelog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// RetryPolicy configures how the writer retries failed store writes.
// The zero value makes a single attempt.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Retryable overrides IsTransient.
	Retryable func(error) bool
}

// DefaultRetry retries transient write failures a few times with short
// backoff. Writes block the worker, so waits stay small.
var DefaultRetry = RetryPolicy{
	MaxAttempts:    4,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     250 * time.Millisecond,
	BackoffFactor:  2.0,
}

// NoRetry disables retries.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// IsTransient reports whether a store error may succeed on retry: SQLite
// busy and locked errors, and errors that report themselves temporary.
func IsTransient(err error) bool {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}

// RetryError reports a write that still failed after retrying.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// do runs fn until it succeeds, fails with a non-retryable error, or the
// policy's attempts are used up. Waits use clk and stop early when ctx is
// done.
func (p RetryPolicy) do(ctx context.Context, clk clock.Clock, fn func() error) error {
	attempts := max(p.MaxAttempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	backoff := p.InitialBackoff

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			if attempts == 1 {
				return err
			}
			return &RetryError{Attempts: attempt, Err: err}
		}

		if backoff > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-clk.After(backoff):
			}
		}

		backoff = time.Duration(float64(backoff) * max(p.BackoffFactor, 1))
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}
