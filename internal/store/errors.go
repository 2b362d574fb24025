package store

import (
	"errors"
	"fmt"
)

var (
	// ErrCreateNotAllowed is returned by CreateOrUpdate when the match does not
	// exist and creation was not requested. Callers skip the update.
	ErrCreateNotAllowed = errors.New("match does not exist and creation is not allowed")
	ErrMissingMatchID   = errors.New("match id is required")
	ErrInvalidScore     = errors.New("score must be between 1 and 5")
	ErrInvalidComment   = errors.New("match id and player id are required")
	ErrNotFound         = errors.New("record not found")
)

// PersistenceError wraps a storage-layer failure (I/O, constraint violation).
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// classify keeps caller-level errors as they are and wraps everything else.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsPersistence(err),
		errors.Is(err, ErrCreateNotAllowed),
		errors.Is(err, ErrMissingMatchID),
		errors.Is(err, ErrInvalidScore),
		errors.Is(err, ErrInvalidComment),
		errors.Is(err, ErrNotFound):
		return err
	default:
		return persistErr(op, err)
	}
}
