package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/docstate/internal/audit"
	"github.com/roach88/docstate/internal/cache"
	"github.com/roach88/docstate/internal/clock"
	"github.com/roach88/docstate/internal/config"
	"github.com/roach88/docstate/internal/ident"
	"github.com/roach88/docstate/internal/ir"
	"github.com/roach88/docstate/internal/persist"
	"github.com/roach88/docstate/internal/seal"
)

// Store is the reactive state container. Construct with New.
//
// INVARIANTS:
//   - state never holds a value at a path present in the sealer's field map
//   - the cache is empty after every committed write
//   - subs is in registration order
type Store struct {
	name       string
	clk        clock.Clock
	ids        ident.Generator
	logger     *slog.Logger
	security   config.Security
	timings    config.Timings
	collector  *Collector
	registerer prometheus.Registerer

	mu         sync.Mutex
	features   config.Features
	state      ir.IRObject
	sealer     *seal.Sealer
	cache      *cache.Cache
	audit      *audit.Log
	persist    *persist.Adapter
	queue      []ir.IRObject
	batchTimer clock.Timer
	subs       []*subscription
	closed     bool

	// paramsPending is set when key parameters could not be written; the
	// next snapshot write retries them first.
	paramsPending bool

	totalUpdates    int64
	totalUpdateTime time.Duration
}

// New creates a store from cfg and, when a KV is configured, synchronously
// restores the last persisted snapshot. A missing or unreadable snapshot is
// logged and the store starts from the initial state.
func New(cfg config.Config, opts ...Option) (*Store, error) {
	o := storeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Wall{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.ids == nil {
		o.ids = ident.UUIDv7{}
	}
	if o.initial == nil {
		o.initial = ir.IRObject{}
	}
	if err := validatePartial(o.initial); err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}

	logger := o.logger.With("store", cfg.Name)
	s := &Store{
		name:     cfg.Name,
		clk:      o.clock,
		ids:      o.ids,
		logger:   logger,
		security: cfg.Security,
		timings:  cfg.Timings,
		features: cfg.Features,
		sealer:   seal.NewSealer(cfg.SensitivePaths),
		cache: cache.New(o.clock, cache.Options{
			TTL:        cfg.Timings.CacheTTL,
			MaxEntries: cfg.Timings.CacheMaxEntries,
		}),
		audit: audit.New(audit.Options{
			Clock:         o.clock,
			IDs:           o.ids,
			Logger:        logger,
			Sink:          o.auditSink,
			RetentionDays: cfg.Security.AuditRetentionDays,
			FlushInterval: cfg.Timings.AuditFlushInterval,
			MaskPII:       cfg.Features.PIIDetection,
		}),
	}
	if o.kv != nil {
		s.persist = persist.NewAdapter(o.kv, cfg.Name, persist.Options{
			Clock:      o.clock,
			Logger:     logger,
			WriteDelay: cfg.Timings.PersistDelay,
		})
	}

	if err := s.restore(o.initial); err != nil {
		return nil, err
	}

	if o.registerer != nil {
		s.collector = newCollector(s)
		s.registerer = o.registerer
		if err := o.registerer.Register(s.collector); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if s.features.AuditLogging {
		s.audit.Start()
	}
	logger.Debug("store ready", "keys", len(s.state), "encrypted", s.sealer.Len())
	return s, nil
}

// restore loads the persisted snapshot, or installs initial.
func (s *Store) restore(initial ir.IRObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persist != nil {
		snap, ok, err := s.persist.Load(context.Background())
		if err != nil {
			s.logger.Warn("snapshot load failed, starting fresh", "error", err)
		}
		if ok {
			s.state = snap.State
			s.sealer.LoadEntries(snap.Encrypted)
			if s.sealer.Len() == 0 && !s.features.Encryption {
				return nil
			}
			if err := s.ensureKeyLocked(); err != nil {
				// GetState surfaces the CryptoError if fields stay sealed.
				s.logger.Warn("encryption key unavailable", "error", err)
				return nil
			}
			if s.features.Encryption {
				// Snapshots written with encryption off hold plaintext.
				enc, err := s.sealer.EncryptTree(s.state)
				if err != nil {
					return err
				}
				s.state = enc
			}
			return nil
		}
	}

	s.state = ir.CloneObject(initial)
	if s.features.Encryption {
		if err := s.ensureKeyLocked(); err != nil {
			return err
		}
		enc, err := s.sealer.EncryptTree(s.state)
		if err != nil {
			return err
		}
		s.state = enc
	}
	return nil
}

// ensureKeyLocked installs the encryption key, restoring persisted
// parameters when they exist and deriving (and persisting) a new key
// otherwise.
//
// Storage failures are not fatal unless sealed fields are already loaded,
// since those can only be opened with the persisted key. Otherwise an
// unreadable parameter record is logged and a fresh key derived, and a
// failed parameter write is retried with the next snapshot write.
func (s *Store) ensureKeyLocked() error {
	if s.sealer.Context() != nil {
		return nil
	}
	ctx := context.Background()
	if s.persist != nil {
		key, err := s.restoreKeyLocked(ctx)
		if err != nil {
			if s.sealer.Len() > 0 {
				return err
			}
			s.logger.Warn("stored encryption parameters unusable, deriving a new key", "error", err)
		}
		if key != nil {
			s.sealer.SetContext(key)
			return nil
		}
	}

	key, err := seal.DeriveKey(s.security.Passphrase, s.security.SealOptions())
	if err != nil {
		return err
	}
	s.sealer.SetContext(key)
	s.logger.Info("encryption key derived", "iterations", key.Params().Iterations)
	if s.persist != nil {
		s.paramsPending = true
		if err := s.saveParamsLocked(); err != nil {
			s.logger.Warn("encryption parameters not saved, retrying with next snapshot", "error", err)
			s.schedulePersistLocked()
		}
	}
	return nil
}

// restoreKeyLocked rebuilds the persisted key. Both results are nil when no
// parameters were stored.
func (s *Store) restoreKeyLocked(ctx context.Context) (*seal.Context, error) {
	params, err := s.persist.LoadParams(ctx)
	if err != nil || params == nil {
		return nil, err
	}
	return seal.Restore(*params, s.security.Passphrase)
}

// saveParamsLocked writes the key parameters if an earlier write has not
// stored them yet.
func (s *Store) saveParamsLocked() error {
	key := s.sealer.Context()
	if !s.paramsPending || key == nil || s.persist == nil {
		return nil
	}
	if err := s.persist.SaveParams(context.Background(), key.Params()); err != nil {
		return err
	}
	s.paramsPending = false
	return nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Features returns the active feature set.
func (s *Store) Features() config.Features {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.features
}

// GetState returns a deep copy of the full state with sensitive fields
// decrypted. A decryption failure returns a *seal.CryptoError and changes
// nothing.
func (s *Store) GetState() (ir.IRObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plaintextLocked()
}

// Select applies sel to the plaintext state. With caching on and a keyed
// selector, a result younger than the cache TTL is returned without
// recomputation.
func (s *Store) Select(sel Selector) (ir.IRValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cacheable := s.features.Caching && sel.Key != ""
	if cacheable {
		if e, ok := s.cache.Get(sel.Key); ok {
			return ir.Clone(e.Value), nil
		}
	}
	plain, err := s.plaintextLocked()
	if err != nil {
		return nil, err
	}
	v := sel.apply(plain)
	if cacheable {
		s.cache.Put(sel.Key, ir.Clone(v))
	}
	return v, nil
}

// plaintextLocked reassembles a private copy of the state.
func (s *Store) plaintextLocked() (ir.IRObject, error) {
	if s.sealer.Len() == 0 {
		return ir.CloneObject(s.state), nil
	}
	return s.sealer.DecryptTree(s.state)
}

// SetState merges partial into the state.
//
// Each top-level key of partial replaces the current value. If no key
// differs the call is a no-op. With batching on (and no WithBatch(false))
// the partial is queued and the batch window's partials are merged, later
// keys winning, and applied as one update.
func (s *Store) SetState(partial ir.IRObject, opts ...UpdateOption) error {
	o := defaultUpdateOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := validatePartial(partial); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.features.BatchUpdates && o.batch {
		// The change check runs on the merged batch: a later partial may
		// undo an earlier queued one.
		s.queue = append(s.queue, ir.CloneObject(partial))
		if s.batchTimer == nil {
			s.batchTimer = s.clk.AfterFunc(s.timings.BatchWindow, s.flushBatch)
		}
		s.mu.Unlock()
		return nil
	}
	var ds []delivery
	if len(s.queue) > 0 {
		// Drain the pending batch first so call order is kept; o applies to
		// this partial only.
		batched, err := s.flushBatchLocked()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		ds = batched
	}
	changed, err := s.hasChangesLocked(partial)
	if err != nil || !changed {
		s.mu.Unlock()
		s.deliver(ds)
		return err
	}

	own, err := s.applyLocked("setState", partial, o)
	ds = append(ds, own...)
	s.mu.Unlock()
	s.deliver(ds)
	return err
}

func (s *Store) hasChangesLocked(partial ir.IRObject) (bool, error) {
	current := s.state
	if s.sealer.Len() > 0 {
		plain, err := s.sealer.DecryptTree(s.state)
		if err != nil {
			return false, err
		}
		current = plain
	}
	for k, v := range partial {
		cur, ok := current[k]
		if !ok || !ir.Equal(cur, v) {
			return true, nil
		}
	}
	return false, nil
}

// applyLocked commits partial: merge, seal, invalidate, audit, persist and
// compute deliveries. On a crypto error nothing is committed.
func (s *Store) applyLocked(action string, partial ir.IRObject, o updateOptions) ([]delivery, error) {
	start := s.clk.Now()

	next := make(ir.IRObject, len(s.state)+len(partial))
	for k, v := range s.state {
		next[k] = v
	}
	saved := s.sealer.Entries()
	for k, v := range partial {
		next[k] = ir.Clone(v)
		s.sealer.Forget(k)
	}
	if s.features.Encryption && o.encrypt {
		if err := s.ensureKeyLocked(); err != nil {
			s.sealer.LoadEntries(saved)
			return nil, err
		}
		enc, err := s.sealer.EncryptTree(next)
		if err != nil {
			s.sealer.LoadEntries(saved)
			return nil, err
		}
		next = enc
	}

	s.state = next
	s.cache.Clear()
	if s.features.AuditLogging {
		s.audit.Record(action, s.sealer.Redacted(ir.CloneObject(partial)))
	}
	s.schedulePersistLocked()

	elapsed := clock.Since(s.clk, start)
	s.totalUpdates++
	s.totalUpdateTime += elapsed
	if s.collector != nil {
		s.collector.observeUpdate(elapsed)
	}

	if o.skipNotify {
		return nil, nil
	}
	return s.notifyLocked(), nil
}

// flushBatch applies the queued partials as one update. It runs on the batch
// timer and from Flush.
func (s *Store) flushBatch() {
	s.mu.Lock()
	ds, err := s.flushBatchLocked()
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("batch apply failed", "error", err)
	}
	s.deliver(ds)
}

// flushBatchLocked applies the queue with default update options. Options
// passed to a queued SetState call do not survive queueing.
func (s *Store) flushBatchLocked() ([]delivery, error) {
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
	if len(s.queue) == 0 {
		return nil, nil
	}
	merged := ir.IRObject{}
	for _, p := range s.queue {
		for k, v := range p {
			merged[k] = v
		}
	}
	n := len(s.queue)
	s.queue = nil

	changed, err := s.hasChangesLocked(merged)
	if err != nil || !changed {
		return nil, err
	}
	s.logger.Debug("batch applied", "updates", n, "keys", len(merged))
	return s.applyLocked("setState", merged, defaultUpdateOptions())
}

func (s *Store) schedulePersistLocked() {
	if s.persist == nil {
		return
	}
	s.persist.Schedule(s.snapshot)
}

// snapshot is the persistence source. It runs on the write timer. Sealed
// entries are never written ahead of the parameters needed to open them.
func (s *Store) snapshot() (persist.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveParamsLocked(); err != nil {
		return persist.Snapshot{}, err
	}
	return persist.Snapshot{
		State:     ir.CloneObject(s.state),
		Encrypted: s.sealer.Entries(),
	}, nil
}
