package store

import (
	"context"
	"fmt"

	"github.com/roach88/docstate/internal/audit"
)

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, s.now())
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// AuditSink is an audit.Sink over the audit_log table for one store scope.
type AuditSink struct {
	s     *Store
	scope string
}

// AuditSink returns the audit sink for scope, normally the store name.
func (s *Store) AuditSink(scope string) *AuditSink {
	return &AuditSink{s: s, scope: scope}
}

var _ audit.Sink = (*AuditSink)(nil)

// Append inserts entries in one transaction. Uses ON CONFLICT DO NOTHING so
// a retried flush does not duplicate entries already written.
func (a *AuditSink) Append(ctx context.Context, entries []audit.Entry) error {
	tx, err := a.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append audit: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_log (scope, id, timestamp, action, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append audit: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		data, err := marshalData(e.Data)
		if err != nil {
			return fmt.Errorf("append audit %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, a.scope, e.ID, e.Timestamp, e.Action, data); err != nil {
			return fmt.Errorf("append audit %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append audit: commit: %w", err)
	}
	return nil
}

// Prune deletes entries with timestamp <= cutoff.
func (a *AuditSink) Prune(ctx context.Context, cutoff int64) (int, error) {
	res, err := a.s.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE scope = ? AND timestamp <= ?`, a.scope, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune audit: %w", err)
	}
	return int(n), nil
}
