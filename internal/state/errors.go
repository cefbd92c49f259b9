package state

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by writes to a closed store.
var ErrClosed = errors.New("store is closed")

// ValidationError reports a malformed partial update.
type ValidationError struct {
	// Path is the dot path of the offending value, empty for the root.
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid update: %s", e.Message)
	}
	return fmt.Sprintf("invalid update at %s: %s", e.Path, e.Message)
}

// SubscriberError wraps a panic raised by a subscriber callback.
type SubscriberError struct {
	SubscriptionID string
	Value          any
}

// Error implements the error interface.
func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %s panicked: %v", e.SubscriptionID, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *SubscriberError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsValidationError returns true if err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSubscriberError returns true if err is or wraps a *SubscriberError.
func IsSubscriberError(err error) bool {
	var se *SubscriberError
	return errors.As(err, &se)
}
