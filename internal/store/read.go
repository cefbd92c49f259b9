package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/docstate/internal/audit"
)

// Get returns the value stored under key. The bool is false if the key does
// not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Keys returns every kv key with the given prefix in byte order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE substr(key, 1, length(?)) = ?
		ORDER BY key COLLATE BINARY ASC
	`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// List returns retained entries ordered by timestamp, then insertion order.
// Returns an empty slice (not nil) when the log is empty.
func (a *AuditSink) List(ctx context.Context) ([]audit.Entry, error) {
	rows, err := a.s.db.QueryContext(ctx, `
		SELECT id, timestamp, action, data
		FROM audit_log
		WHERE scope = ?
		ORDER BY timestamp ASC, seq ASC
	`, a.scope)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e    audit.Entry
			data string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &data); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if e.Data, err = unmarshalData(data); err != nil {
			return nil, fmt.Errorf("audit %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return entries, nil
}
