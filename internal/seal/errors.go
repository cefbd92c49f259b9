package seal

import (
	"errors"
	"fmt"
)

// CryptoError reports a key derivation, encryption or decryption failure.
// Path is empty for failures that are not tied to one field.
type CryptoError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *CryptoError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("crypto %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// IsCryptoError returns true if err is or wraps a *CryptoError.
func IsCryptoError(err error) bool {
	var ce *CryptoError
	return errors.As(err, &ce)
}

// ErrNoKey is returned when a tree is sealed or opened before a key exists.
var ErrNoKey = errors.New("encryption key not initialized")
