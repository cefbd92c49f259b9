package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/docstate/internal/clock"
	"github.com/roach88/docstate/internal/ir"
	"github.com/roach88/docstate/internal/schedule"
	"github.com/roach88/docstate/internal/seal"
)

// DefaultWriteDelay is the debounce delay for snapshot writes.
const DefaultWriteDelay = 500 * time.Millisecond

// Snapshot is the persisted form of a store. State never contains values at
// sensitive paths while encryption is active; those live in Encrypted as
// [path, ciphertext] pairs.
type Snapshot struct {
	State     ir.IRObject `json:"state"`
	Encrypted [][2]string `json:"encrypted"`
}

// SnapshotKey is the KV key of a store's snapshot.
func SnapshotKey(name string) string { return "docstate:" + name }

// CryptoKey is the KV key of a store's key derivation parameters.
func CryptoKey(name string) string { return "docstate:" + name + ":crypto" }

// Options configures an Adapter.
type Options struct {
	Clock      clock.Clock
	Logger     *slog.Logger
	WriteDelay time.Duration
}

// Adapter reads and writes one store's snapshot.
//
// Thread Safety: safe for concurrent use.
type Adapter struct {
	kv     KV
	name   string
	logger *slog.Logger
	deb    *schedule.Debouncer
}

// NewAdapter creates an adapter for the store called name.
func NewAdapter(kv KV, name string, opts Options) *Adapter {
	if opts.Clock == nil {
		opts.Clock = clock.Wall{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteDelay <= 0 {
		opts.WriteDelay = DefaultWriteDelay
	}
	return &Adapter{
		kv:     kv,
		name:   name,
		logger: opts.Logger,
		deb:    schedule.NewDebouncer(opts.Clock, opts.WriteDelay),
	}
}

// Load reads the snapshot. The bool is false when nothing was persisted.
func (a *Adapter) Load(ctx context.Context) (Snapshot, bool, error) {
	key := SnapshotKey(a.name)
	data, ok, err := a.kv.Get(ctx, key)
	if err != nil {
		return Snapshot{}, false, &PersistenceError{Op: "load", Key: key, Err: err}
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return Snapshot{}, false, &PersistenceError{Op: "load", Key: key, Err: err}
	}
	return snap, true, nil
}

// LoadParams reads the persisted key derivation parameters, if any.
func (a *Adapter) LoadParams(ctx context.Context) (*seal.Params, error) {
	key := CryptoKey(a.name)
	data, ok, err := a.kv.Get(ctx, key)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Key: key, Err: err}
	}
	if !ok {
		return nil, nil
	}
	var p seal.Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &PersistenceError{Op: "load", Key: key, Err: err}
	}
	return &p, nil
}

// SaveParams writes key derivation parameters immediately.
func (a *Adapter) SaveParams(ctx context.Context, p seal.Params) error {
	key := CryptoKey(a.name)
	data, err := json.Marshal(p)
	if err != nil {
		return &PersistenceError{Op: "write", Key: key, Err: err}
	}
	if err := a.kv.Put(ctx, key, data); err != nil {
		return &PersistenceError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Write stores snap immediately.
func (a *Adapter) Write(ctx context.Context, snap Snapshot) error {
	key := SnapshotKey(a.name)
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return &PersistenceError{Op: "write", Key: key, Err: err}
	}
	if err := a.kv.Put(ctx, key, data); err != nil {
		return &PersistenceError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Schedule (re)arms the debounced write. source is called when the delay
// expires, so the written snapshot is the one current at that time. Errors
// are logged, never returned.
func (a *Adapter) Schedule(source func() (Snapshot, error)) {
	a.deb.Trigger(func() {
		snap, err := source()
		if err == nil {
			err = a.Write(context.Background(), snap)
		}
		if err != nil {
			a.logger.Warn("snapshot write failed", "store", a.name, "error", err)
			return
		}
		a.logger.Debug("snapshot written", "store", a.name, "encrypted", len(snap.Encrypted))
	})
}

// Flush runs a pending write now. It reports whether one was pending.
func (a *Adapter) Flush() bool {
	return a.deb.Flush()
}

// Cancel drops a pending write.
func (a *Adapter) Cancel() bool {
	return a.deb.Cancel()
}

// Pending reports whether a write is armed.
func (a *Adapter) Pending() bool {
	return a.deb.Pending()
}

// Delete cancels any pending write and removes the snapshot. Key derivation
// parameters are kept so a later snapshot can reuse the same key.
func (a *Adapter) Delete(ctx context.Context) error {
	a.deb.Cancel()
	key := SnapshotKey(a.name)
	if err := a.kv.Delete(ctx, key); err != nil {
		return &PersistenceError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// EncodeSnapshot serializes snap as {"state":...,"encrypted":[[path,ct],...]}.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	if snap.State == nil {
		snap.State = ir.IRObject{}
	}
	if snap.Encrypted == nil {
		snap.Encrypted = [][2]string{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a persisted snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.State == nil {
		snap.State = ir.IRObject{}
	}
	return snap, nil
}
