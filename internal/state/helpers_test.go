package state

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docstate/internal/audit"
	"github.com/roach88/docstate/internal/config"
	"github.com/roach88/docstate/internal/ir"
	"github.com/roach88/docstate/internal/persist"
	"github.com/roach88/docstate/internal/testutil"
)

// testConfig returns a config with every feature off and a cheap KDF.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.Name = "app"
	cfg.Features = config.Features{}
	cfg.Security.Iterations = 1000
	cfg.Security.Passphrase = "correct horse"
	return cfg
}

type fixture struct {
	store *Store
	clk   *testutil.ManualClock
	kv    *persist.MemoryKV
	sink  *audit.MemorySink
	logs  *bytes.Buffer
}

func newFixture(t *testing.T, cfg config.Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clk:  testutil.NewManualClock(),
		kv:   persist.NewMemoryKV(),
		sink: audit.NewMemorySink(),
		logs: &bytes.Buffer{},
	}
	base := []Option{
		WithClock(f.clk),
		WithIDs(testutil.NewSequenceGenerator("id")),
		WithLogger(slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithKV(f.kv),
		WithAuditSink(f.sink),
	}
	s, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	f.store = s
	t.Cleanup(func() { _ = s.Close() })
	return f
}

// failingKV is a MemoryKV whose reads or writes of chosen keys fail.
type failingKV struct {
	*persist.MemoryKV
	mu      sync.Mutex
	getErrs map[string]error
	putErrs map[string]error
}

func newFailingKV() *failingKV {
	return &failingKV{
		MemoryKV: persist.NewMemoryKV(),
		getErrs:  map[string]error{},
		putErrs:  map[string]error{},
	}
}

// failGet makes reads of key return err. A nil err heals the key.
func (k *failingKV) failGet(key string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.getErrs[key] = err
}

// failPut makes writes of key return err. A nil err heals the key.
func (k *failingKV) failPut(key string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.putErrs[key] = err
}

func (k *failingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	err := k.getErrs[key]
	k.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return k.MemoryKV.Get(ctx, key)
}

func (k *failingKV) Put(ctx context.Context, key string, value []byte) error {
	k.mu.Lock()
	err := k.putErrs[key]
	k.mu.Unlock()
	if err != nil {
		return err
	}
	return k.MemoryKV.Put(ctx, key, value)
}

// recorder collects callback values.
type recorder struct {
	mu     sync.Mutex
	values []ir.IRValue
}

func (r *recorder) callback(v ir.IRValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) calls() []ir.IRValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ir.IRValue(nil), r.values...)
}

// reachable reports whether needle appears anywhere in the tree's leaves.
func reachable(v ir.IRValue, needle string) bool {
	switch val := v.(type) {
	case ir.IRString:
		return strings.Contains(string(val), needle)
	case ir.IRArray:
		for _, e := range val {
			if reachable(e, needle) {
				return true
			}
		}
	case ir.IRObject:
		for _, e := range val {
			if reachable(e, needle) {
				return true
			}
		}
	}
	return false
}

func mustState(t *testing.T, s *Store) ir.IRObject {
	t.Helper()
	st, err := s.GetState()
	require.NoError(t, err)
	return st
}
