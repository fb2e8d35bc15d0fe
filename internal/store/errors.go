package store

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a retryable infrastructure failure of the backing
// store. Merged state is left as it was before the failed call.
var ErrUnavailable = errors.New("shared store unavailable")

// ErrLockTimeout is returned when the per-job lock could not be acquired
// within the configured wait. It is retryable.
var ErrLockTimeout = errors.New("timed out waiting for job lock")

// UnavailableError wraps a backend failure with the operation and key.
type UnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is matches ErrUnavailable.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Retryable is always true for backend failures.
func (e *UnavailableError) Retryable() bool { return true }

func unavailable(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Op: op, Key: key, Err: err}
}

// IsRetryable reports whether err is an infrastructure failure worth
// retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrLockTimeout)
}
