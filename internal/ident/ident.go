// Package ident generates identifiers for subscriptions and audit entries.
package ident

import "github.com/google/uuid"

// Generator produces unique string identifiers.
// Implemented by UUIDv7 (production) and testutil.SequenceGenerator (tests).
type Generator interface {
	Generate() string
}

// UUIDv7 generates time-sortable UUIDv7 identifiers, so audit entries and
// subscriptions sort by creation time when listed.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if the random source fails, which uuid treats as unrecoverable.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
