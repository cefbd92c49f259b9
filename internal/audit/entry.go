// Package audit records state changes into an append-only log with
// retention.
//
// Records are buffered in memory and moved to a Sink by Flush, which also
// prunes everything older than the retention window. Flush runs on a timer
// while the log is started; the owner may also call it directly.
package audit

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/docstate/internal/ir"
)

// Entry is one audit record. Timestamp is Unix milliseconds.
type Entry struct {
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Action    string      `json:"action"`
	Data      ir.IRObject `json:"data"`
}

// Sink is the durable side of the log.
type Sink interface {
	// Append stores entries in order.
	Append(ctx context.Context, entries []Entry) error
	// Prune removes every entry with Timestamp <= cutoff and reports how many.
	Prune(ctx context.Context, cutoff int64) (int, error)
	// List returns retained entries ordered by timestamp.
	List(ctx context.Context) ([]Entry, error)
}

// MemorySink keeps entries in process memory.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Append(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MemorySink) Prune(_ context.Context, cutoff int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.entries)
	m.entries = slices.DeleteFunc(m.entries, func(e Entry) bool {
		return e.Timestamp <= cutoff
	})
	return before - len(m.entries), nil
}

func (m *MemorySink) List(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.entries)
	slices.SortStableFunc(out, func(a, b Entry) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	return out, nil
}
