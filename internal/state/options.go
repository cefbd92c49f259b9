package state

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/docstate/internal/audit"
	"github.com/roach88/docstate/internal/clock"
	"github.com/roach88/docstate/internal/ident"
	"github.com/roach88/docstate/internal/ir"
	"github.com/roach88/docstate/internal/persist"
)

// Option configures a Store at construction.
type Option func(*storeOptions)

type storeOptions struct {
	clock      clock.Clock
	logger     *slog.Logger
	ids        ident.Generator
	kv         persist.KV
	auditSink  audit.Sink
	registerer prometheus.Registerer
	initial    ir.IRObject
}

// WithClock sets the clock driving every timer. Tests use a manual clock.
func WithClock(c clock.Clock) Option {
	return func(o *storeOptions) { o.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *storeOptions) { o.logger = l }
}

// WithIDs sets the generator for subscription and audit entry IDs.
func WithIDs(g ident.Generator) Option {
	return func(o *storeOptions) { o.ids = g }
}

// WithKV enables persistence on kv. Without it the store is memory-only.
func WithKV(kv persist.KV) Option {
	return func(o *storeOptions) { o.kv = kv }
}

// WithAuditSink sets the durable audit log. Default: an in-memory sink.
func WithAuditSink(s audit.Sink) Option {
	return func(o *storeOptions) { o.auditSink = s }
}

// WithRegisterer registers the store's metrics collector.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *storeOptions) { o.registerer = r }
}

// WithInitialState sets the state used when nothing was persisted.
func WithInitialState(s ir.IRObject) Option {
	return func(o *storeOptions) { o.initial = s }
}

// UpdateOption adjusts a single SetState call.
type UpdateOption func(*updateOptions)

type updateOptions struct {
	batch      bool
	skipNotify bool
	encrypt    bool
}

func defaultUpdateOptions() updateOptions {
	return updateOptions{batch: true, encrypt: true}
}

// WithBatch(false) applies the update immediately even when batching is on.
func WithBatch(on bool) UpdateOption {
	return func(o *updateOptions) { o.batch = on }
}

// WithSkipNotify commits the update without notifying subscribers.
func WithSkipNotify() UpdateOption {
	return func(o *updateOptions) { o.skipNotify = true }
}

// WithEncrypt(false) leaves sensitive fields of this update in plaintext.
func WithEncrypt(on bool) UpdateOption {
	return func(o *updateOptions) { o.encrypt = on }
}

// SubscribeOption adjusts a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	debounce  time.Duration
	throttle  time.Duration
	immediate bool
	equal     EqualityFunc
}

// Debounce delivers once the selected value has been quiet for d, with the
// latest value.
func Debounce(d time.Duration) SubscribeOption {
	return func(o *subscribeOptions) { o.debounce = d }
}

// Throttle delivers at most once per d: on the leading edge, then once more
// with the most recent value when the window closes.
func Throttle(d time.Duration) SubscribeOption {
	return func(o *subscribeOptions) { o.throttle = d }
}

// Immediate fires the callback once with the current value on Subscribe.
func Immediate() SubscribeOption {
	return func(o *subscribeOptions) { o.immediate = true }
}

// EqualityFn replaces ShallowEqual for this subscription.
func EqualityFn(f EqualityFunc) SubscribeOption {
	return func(o *subscribeOptions) { o.equal = f }
}
