// Package retry provides a generic resilient-call wrapper with exponential
// backoff for fallible remote operations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrExhausted is reported once every attempt has failed transiently.
var ErrExhausted = errors.New("retry attempts exhausted")

// PermanentError marks an error that cannot succeed on retry. The wrapped
// operation is responsible for this classification; the retry layer only
// honors it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so Do propagates it immediately without consuming
// further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// ExhaustedError carries the last underlying error after all attempts failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Is lets errors.Is(err, ErrExhausted) match exhaustion regardless of the
// underlying cause.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Do invokes op up to maxAttempts times, sleeping baseDelay*2^(attempt-1)
// between tries: baseDelay, 2*baseDelay, 4*baseDelay, ...
//
// A nil error returns immediately. An error wrapped with Permanent propagates
// unwrapped without further attempts. Any other error counts as transient.
// Backoff waits respect ctx so a canceled caller does not sit out the delay.
func Do[T any](ctx context.Context, op func() (T, error), maxAttempts int, baseDelay time.Duration) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := op()
		if err == nil {
			return v, nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			return zero, perm.Err
		}
		lastErr = err

		if attempt < maxAttempts {
			delay := baseDelay * time.Duration(1<<(attempt-1))
			slog.Debug("transient failure, backing off",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"delay", delay,
				"error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts, Last: lastErr}
}
