package db

import (
	"errors"
	"fmt"
)

var (
	ErrClosed          = errors.New("db: store is closed")
	ErrIteratorInvalid = errors.New("db: iterator is not positioned on an element")
)

// BackendError wraps a failure reported by the underlying storage engine.
// The original error is preserved and reachable through errors.Is/As.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("db: backend error during %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError wraps err as a BackendError, returning nil for a nil err.
// Errors that already are backend errors, and ErrClosed, are returned as is.
func NewBackendError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrClosed) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}

// IsBackendError reports whether err carries an engine failure.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
