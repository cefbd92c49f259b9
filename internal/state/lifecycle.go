package state

import (
	"context"

	"github.com/roach88/docstate/internal/audit"
	"github.com/roach88/docstate/internal/config"
	"github.com/roach88/docstate/internal/ir"
)

// Reset replaces the whole state with newState (empty when nil).
//
// The cache, encrypted field map, batch queue and audit buffer are cleared
// and the persisted snapshot is deleted. Pending subscriber deliveries are
// cancelled and every subscriber is called synchronously with its value
// from the new state, whether or not it changed. Subscriptions are kept.
func (s *Store) Reset(newState ir.IRObject) error {
	if newState == nil {
		newState = ir.IRObject{}
	}
	if err := validatePartial(newState); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	next := ir.CloneObject(newState)
	saved := s.sealer.Entries()
	s.sealer.Clear()
	if s.features.Encryption {
		if err := s.ensureKeyLocked(); err != nil {
			s.sealer.LoadEntries(saved)
			s.mu.Unlock()
			return err
		}
		enc, err := s.sealer.EncryptTree(next)
		if err != nil {
			s.sealer.LoadEntries(saved)
			s.mu.Unlock()
			return err
		}
		next = enc
	}

	s.state = next
	s.queue = nil
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
	s.cache.Clear()
	s.audit.ClearBuffer()

	plain := ir.CloneObject(newState)
	ds := make([]delivery, 0, len(s.subs))
	for _, sub := range s.subs {
		sub.cancelTimers()
		v, ok := s.selectFor(sub, plain)
		sub.last = v
		if ok {
			ds = append(ds, delivery{sub: sub, value: v})
		}
	}
	adapter := s.persist
	s.mu.Unlock()

	if adapter != nil {
		if err := adapter.Delete(context.Background()); err != nil {
			s.logger.Warn("reset: snapshot delete failed", "error", err)
		}
	}
	s.logger.Debug("state reset", "keys", len(newState), "subscribers", len(ds))
	s.deliver(ds)
	return nil
}

// Reconfigure swaps the active feature set and re-initializes only the
// subsystems whose flag changed:
//   - Encryption on: derive (or restore) the key and seal the current tree
//   - Encryption off: decrypt sealed fields back into the tree
//   - Caching off: clear the cache
//   - BatchUpdates off: apply the queued batch now
//   - AuditLogging: start or stop the periodic flush
//   - Debouncing off: deliver pending debounced values now
//
// On a crypto error the previous feature set stays active.
func (s *Store) Reconfigure(f config.Features) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.features

	switch {
	case f.Encryption && !old.Encryption:
		if err := s.ensureKeyLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
		enc, err := s.sealer.EncryptTree(s.state)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.state = enc
		s.schedulePersistLocked()
	case !f.Encryption && old.Encryption:
		plain, err := s.plaintextLocked()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.state = plain
		s.sealer.Clear()
		s.schedulePersistLocked()
	}

	if !f.Caching {
		s.cache.Clear()
	}
	s.features = f
	s.audit.SetMaskPII(f.PIIDetection)

	var (
		ds       []delivery
		batchErr error
	)
	if old.BatchUpdates && !f.BatchUpdates {
		ds, batchErr = s.flushBatchLocked()
	}
	var debounced []*subscription
	if old.Debouncing && !f.Debouncing {
		for _, sub := range s.subs {
			if sub.deb != nil && sub.deb.Pending() {
				debounced = append(debounced, sub)
			}
		}
	}
	s.mu.Unlock()

	switch {
	case f.AuditLogging && !old.AuditLogging:
		s.audit.Start()
	case !f.AuditLogging && old.AuditLogging:
		s.audit.Stop()
	}

	for _, sub := range debounced {
		sub.deb.Flush()
	}
	s.deliver(ds)

	s.logger.Info("features reconfigured",
		"encryption", f.Encryption,
		"caching", f.Caching,
		"batch_updates", f.BatchUpdates,
		"audit_logging", f.AuditLogging,
	)
	if batchErr != nil {
		s.logger.Error("batch apply failed", "error", batchErr)
	}
	return nil
}

// Flush applies the pending batch, writes a pending snapshot and flushes the
// audit buffer. Failures are logged.
func (s *Store) Flush() {
	if err := s.flush(); err != nil {
		s.logger.Warn("audit flush failed, keeping buffer", "error", err)
	}
}

func (s *Store) flush() error {
	s.flushBatch()
	if s.persist != nil {
		s.persist.Flush()
	}
	return s.audit.Flush(context.Background())
}

// Close flushes pending work and stops every timer. Later writes return
// ErrClosed; reads keep working. The returned error is the final audit
// flush failure, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.flush()

	s.mu.Lock()
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
	for _, sub := range s.subs {
		sub.active.Store(false)
		sub.cancelTimers()
	}
	s.subs = nil
	s.mu.Unlock()

	s.audit.Stop()
	if s.persist != nil {
		s.persist.Cancel()
	}
	if s.registerer != nil {
		s.registerer.Unregister(s.collector)
	}
	s.logger.Debug("store closed")
	return err
}

// AuditEntries returns the retained durable audit log.
func (s *Store) AuditEntries(ctx context.Context) ([]audit.Entry, error) {
	return s.audit.Entries(ctx)
}

// PendingAudit returns audit entries not yet flushed.
func (s *Store) PendingAudit() []audit.Entry {
	return s.audit.Buffered()
}
