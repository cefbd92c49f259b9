package persist

import (
	"errors"
	"fmt"
)

// PersistenceError reports a snapshot read or write failure.
type PersistenceError struct {
	Op  string // "load", "write", "delete"
	Key string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError returns true if err is or wraps a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
