// Package state implements the reactive state container.
//
// A Store owns one state tree and coordinates the subsystems around it:
// selector caching, sensitive field encryption, audit logging, debounced
// persistence and subscriber notification. Which subsystems run is decided
// by config.Features, swapped at runtime with Reconfigure.
//
// CONCURRENCY:
//
// One mutex guards all store internals. Timer callbacks (batch flush,
// debounced and throttled deliveries, snapshot writes) take the same lock,
// so deferred work interleaves with direct calls but never overlaps them.
// Subscriber callbacks always run after the lock is released, so a callback
// may call SetState or GetState.
//
// MERGE SEMANTICS:
//
// SetState is a shallow, top-level merge: each key of the partial replaces
// the whole value under that key. Nested objects are not deep-merged, so a
// caller updating user.email must pass the full user object.
//
// Readers never see the live tree. GetState and Select return deep copies
// with sensitive fields decrypted.
package state
