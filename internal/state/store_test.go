package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/docstate/internal/ir"
	"github.com/roach88/docstate/internal/persist"
	"github.com/roach88/docstate/internal/seal"
)

func TestNew_InitialState(t *testing.T) {
	f := newFixture(t, testConfig(), WithInitialState(ir.Obj(ir.O("count", ir.IRInt(0)))))

	got := mustState(t, f.store)
	if diff := cmp.Diff(ir.Obj(ir.O("count", ir.IRInt(0))), got); diff != "" {
		t.Errorf("initial state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "app", f.store.Name())
}

func TestNew_RejectsInvalidInitialState(t *testing.T) {
	_, err := New(testConfig(), WithInitialState(ir.IRObject{"a": nil}))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestGetState_ReturnsCopy(t *testing.T) {
	f := newFixture(t, testConfig(), WithInitialState(ir.Obj(ir.O("user", ir.Obj(ir.O("name", ir.IRString("ann")))))))

	got := mustState(t, f.store)
	got["user"].(ir.IRObject)["name"] = ir.IRString("mallory")

	again := mustState(t, f.store)
	assert.Equal(t, ir.IRString("ann"), again["user"].(ir.IRObject)["name"])
}

func TestSetState_ShallowMerge(t *testing.T) {
	f := newFixture(t, testConfig(), WithInitialState(ir.Obj(
		ir.O("a", ir.IRInt(1)),
		ir.O("b", ir.Obj(ir.O("x", ir.IRInt(1)))),
	)))

	require.NoError(t, f.store.SetState(ir.Obj(ir.O("b", ir.Obj(ir.O("y", ir.IRInt(2)))))))

	want := ir.Obj(
		ir.O("a", ir.IRInt(1)),
		ir.O("b", ir.Obj(ir.O("y", ir.IRInt(2)))),
	)
	if diff := cmp.Diff(want, mustState(t, f.store)); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestSetState_DoesNotAliasCaller(t *testing.T) {
	f := newFixture(t, testConfig())
	partial := ir.Obj(ir.O("list", ir.Arr(ir.IRInt(1))))
	require.NoError(t, f.store.SetState(partial))

	partial["list"].(ir.IRArray)[0] = ir.IRInt(99)
	assert.Equal(t, ir.Arr(ir.IRInt(1)), mustState(t, f.store)["list"])
}

func TestSetState_Validation(t *testing.T) {
	f := newFixture(t, testConfig())

	err := f.store.SetState(nil)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	err = f.store.SetState(ir.Obj(ir.O("a", ir.Obj(ir.O("b", nil)))))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "a.b", ve.Path)

	err = f.store.SetState(ir.Obj(ir.O("list", ir.Arr(ir.IRInt(1), nil))))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "list[1]", ve.Path)

	assert.Empty(t, mustState(t, f.store))
}

func TestSetState_NoChangeIsNoOp(t *testing.T) {
	cfg := testConfig()
	cfg.Features.AuditLogging = true
	f := newFixture(t, cfg, WithInitialState(ir.Obj(ir.O("a", ir.IRInt(1)))))

	require.NoError(t, f.store.SetState(ir.Obj(ir.O("a", ir.IRInt(1)))))

	assert.Zero(t, f.store.PerformanceMetrics().TotalUpdates)
	assert.Empty(t, f.store.PendingAudit())
}

func TestSetState_Batching(t *testing.T) {
	cfg := testConfig()
	cfg.Features.BatchUpdates = true
	f := newFixture(t, cfg)
	rec := &recorder{}
	f.store.Subscribe(rec.callback, nil)

	require.NoError(t, f.store.SetState(ir.Obj(ir.O("a", ir.IRInt(1)))))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("b", ir.IRInt(2)))))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("a", ir.IRInt(3)))))

	assert.Empty(t, mustState(t, f.store), "batched updates wait for the window")
	assert.Empty(t, rec.calls())

	f.clk.Advance(16 * time.Millisecond)

	want := ir.Obj(ir.O("a", ir.IRInt(3)), ir.O("b", ir.IRInt(2)))
	assert.Equal(t, want, mustState(t, f.store))
	require.Len(t, rec.calls(), 1)
	assert.Equal(t, ir.IRValue(want), rec.calls()[0])
	assert.Equal(t, int64(1), f.store.PerformanceMetrics().TotalUpdates)
}

func TestSetState_BatchLaterPartialUndoesEarlier(t *testing.T) {
	cfg := testConfig()
	cfg.Features.BatchUpdates = true
	f := newFixture(t, cfg, WithInitialState(ir.Obj(ir.O("k", ir.IRInt(1)))))

	require.NoError(t, f.store.SetState(ir.Obj(ir.O("k", ir.IRInt(2)))))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("k", ir.IRInt(1)))))
	f.clk.Advance(16 * time.Millisecond)

	assert.Equal(t, ir.IRInt(1), mustState(t, f.store)["k"])
	assert.Zero(t, f.store.PerformanceMetrics().TotalUpdates)
}

func TestSetState_UnbatchedKeepsCallOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Features.BatchUpdates = true
	f := newFixture(t, cfg)

	require.NoError(t, f.store.SetState(ir.Obj(ir.O("k", ir.IRInt(1)))))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("k", ir.IRInt(2))), WithBatch(false)))

	assert.Equal(t, ir.IRInt(2), mustState(t, f.store)["k"])
	f.clk.Advance(time.Second)
	assert.Equal(t, ir.IRInt(2), mustState(t, f.store)["k"])
}

func TestSetState_UnbatchedOptionsApplyOnlyToOwnPartial(t *testing.T) {
	cfg := testConfig()
	cfg.Features.BatchUpdates = true
	cfg.Features.Encryption = true
	cfg.SensitivePaths = []string{"secret.token"}
	f := newFixture(t, cfg)
	count := Path("count")
	rec := &recorder{}
	f.store.Subscribe(rec.callback, &count)

	require.NoError(t, f.store.SetState(ir.Obj(ir.O("secret", ir.Obj(ir.O("token", ir.IRString("abc123")))))))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("count", ir.IRInt(1)))))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("note", ir.IRString("x"))),
		WithBatch(false), WithEncrypt(false), WithSkipNotify()))

	f.store.mu.Lock()
	internal := ir.CloneObject(f.store.state)
	f.store.mu.Unlock()
	assert.False(t, reachable(internal, "abc123"), "queued sensitive field sealed")
	assert.Equal(t, []ir.IRValue{ir.IRInt(1)}, rec.calls(), "queued update still notifies")

	st := mustState(t, f.store)
	token, ok := ir.Lookup(st, "secret.token")
	require.True(t, ok)
	assert.Equal(t, ir.IRString("abc123"), token)
	assert.Equal(t, ir.IRString("x"), st["note"])
}

func TestSetState_SkipNotify(t *testing.T) {
	f := newFixture(t, testConfig())
	rec := &recorder{}
	f.store.Subscribe(rec.callback, nil)

	require.NoError(t, f.store.SetState(ir.Obj(ir.O("a", ir.IRInt(1))), WithSkipNotify()))

	assert.Empty(t, rec.calls())
	assert.Equal(t, ir.IRInt(1), mustState(t, f.store)["a"])

	// The skipped value is not remembered as delivered.
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("b", ir.IRInt(2)))))
	assert.Len(t, rec.calls(), 1)
}

func TestEncryption_NoPlaintextInState(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Encryption = true
	cfg.Features.AuditLogging = true
	cfg.SensitivePaths = []string{"user.ssn", "token"}
	f := newFixture(t, cfg)

	require.NoError(t, f.store.SetState(ir.Obj(
		ir.O("user", ir.Obj(ir.O("name", ir.IRString("ann")), ir.O("ssn", ir.IRString("123-45-6789")))),
		ir.O("token", ir.IRString("s3cr3t-token")),
	)))

	f.store.mu.Lock()
	raw := ir.CloneObject(f.store.state)
	sealed := f.store.sealer.Len()
	f.store.mu.Unlock()
	assert.False(t, reachable(raw, "123-45-6789"))
	assert.False(t, reachable(raw, "s3cr3t-token"))
	assert.Equal(t, 2, sealed)

	got := mustState(t, f.store)
	assert.Equal(t, ir.IRString("123-45-6789"), got["user"].(ir.IRObject)["ssn"])
	assert.Equal(t, ir.IRString("s3cr3t-token"), got["token"])

	pending := f.store.PendingAudit()
	require.Len(t, pending, 1)
	assert.False(t, reachable(pending[0].Data, "123-45-6789"))
	assert.Equal(t, ir.IRString(seal.RedactedMarker), pending[0].Data["token"])

	f.store.Flush()
	data, ok, err := f.kv.Get(context.Background(), persist.SnapshotKey("app"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(data), "123-45-6789")
	assert.NotContains(t, string(data), "s3cr3t-token")
}

func TestEncryption_ReplacingParentDropsStaleField(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Encryption = true
	cfg.SensitivePaths = []string{"user.ssn"}
	f := newFixture(t, cfg)

	require.NoError(t, f.store.SetState(ir.Obj(ir.O("user", ir.Obj(ir.O("ssn", ir.IRString("111")))))))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("user", ir.Obj(ir.O("name", ir.IRString("ann")))))))

	want := ir.Obj(ir.O("user", ir.Obj(ir.O("name", ir.IRString("ann")))))
	if diff := cmp.Diff(want, mustState(t, f.store)); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestEncryption_OptOutPerUpdate(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Encryption = true
	cfg.SensitivePaths = []string{"token"}
	f := newFixture(t, cfg)

	require.NoError(t, f.store.SetState(ir.Obj(ir.O("token", ir.IRString("plain"))), WithEncrypt(false)))

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Equal(t, ir.IRString("plain"), f.store.state["token"])
	assert.Zero(t, f.store.sealer.Len())
}

func TestPersistence_RestoresWithGeneratedPassphrase(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Encryption = true
	cfg.Security.Passphrase = ""
	cfg.SensitivePaths = []string{"token"}
	f := newFixture(t, cfg)

	want := ir.Obj(ir.O("token", ir.IRString("abc")), ir.O("n", ir.IRInt(7)))
	require.NoError(t, f.store.SetState(want))
	require.NoError(t, f.store.Close())

	params, ok, err := f.kv.Get(context.Background(), persist.CryptoKey("app"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(params), "passphrase")

	again, err := New(cfg, WithClock(f.clk), WithKV(f.kv))
	require.NoError(t, err)
	defer again.Close()

	if diff := cmp.Diff(want, mustState(t, again)); diff != "" {
		t.Errorf("restored state mismatch (-want +got):\n%s", diff)
	}
}

func TestPersistence_PlaintextSnapshotSealedOnLoad(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg)
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("token", ir.IRString("abc")))))
	require.NoError(t, f.store.Close())

	cfg.Features.Encryption = true
	cfg.SensitivePaths = []string{"token"}
	again, err := New(cfg, WithClock(f.clk), WithKV(f.kv))
	require.NoError(t, err)
	defer again.Close()

	again.mu.Lock()
	_, present := again.state["token"]
	again.mu.Unlock()
	assert.False(t, present)
	assert.Equal(t, ir.IRString("abc"), mustState(t, again)["token"])
}

func TestPersistence_ParamsWriteFailureIsRetried(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Encryption = true
	cfg.SensitivePaths = []string{"token"}
	ctx := context.Background()
	kv := newFailingKV()
	kv.failPut(persist.CryptoKey("app"), errors.New("disk full"))

	f := newFixture(t, cfg, WithKV(kv))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("token", ir.IRString("abc")))))
	assert.Equal(t, ir.IRString("abc"), mustState(t, f.store)["token"])
	assert.Contains(t, f.logs.String(), "encryption parameters not saved")
	assert.Contains(t, f.logs.String(), "disk full")

	f.clk.Advance(time.Second)
	_, ok, err := kv.Get(ctx, persist.SnapshotKey("app"))
	require.NoError(t, err)
	assert.False(t, ok, "sealed entries are not written ahead of their parameters")

	kv.failPut(persist.CryptoKey("app"), nil)
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("n", ir.IRInt(1)))))
	f.clk.Advance(time.Second)
	require.NoError(t, f.store.Close())

	again, err := New(cfg, WithClock(f.clk), WithKV(kv))
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, ir.IRString("abc"), mustState(t, again)["token"])
}

func TestPersistence_ReconfigureSurvivesParamsWriteFailure(t *testing.T) {
	cfg := testConfig()
	cfg.SensitivePaths = []string{"token"}
	kv := newFailingKV()
	kv.failPut(persist.CryptoKey("app"), errors.New("disk full"))
	f := newFixture(t, cfg, WithKV(kv), WithInitialState(ir.Obj(ir.O("token", ir.IRString("abc")))))

	on := cfg.Features
	on.Encryption = true
	require.NoError(t, f.store.Reconfigure(on))

	f.store.mu.Lock()
	_, present := f.store.state["token"]
	f.store.mu.Unlock()
	assert.False(t, present)
	assert.Equal(t, ir.IRString("abc"), mustState(t, f.store)["token"])
}

func TestPersistence_UnreadableParamsDeriveFreshKey(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Encryption = true
	cfg.SensitivePaths = []string{"token"}
	kv := newFailingKV()
	kv.failGet(persist.CryptoKey("app"), errors.New("io error"))

	f := newFixture(t, cfg, WithKV(kv))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("token", ir.IRString("abc")))))

	assert.Equal(t, ir.IRString("abc"), mustState(t, f.store)["token"])
	assert.Contains(t, f.logs.String(), "stored encryption parameters unusable")
	assert.Contains(t, f.logs.String(), "io error")
}

func TestPersistence_UnreadableParamsWithSealedFields(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Encryption = true
	cfg.SensitivePaths = []string{"token"}
	kv := newFailingKV()
	f := newFixture(t, cfg, WithKV(kv))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("token", ir.IRString("abc")), ir.O("n", ir.IRInt(1)))))
	require.NoError(t, f.store.Close())

	kv.failGet(persist.CryptoKey("app"), errors.New("io error"))
	again, err := New(cfg, WithClock(f.clk), WithKV(kv))
	require.NoError(t, err, "load is best effort")
	defer again.Close()

	_, err = again.GetState()
	require.Error(t, err)
	assert.True(t, seal.IsCryptoError(err))
}

func TestPersistence_RotatedPassphraseLeavesStateIntact(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Encryption = true
	cfg.SensitivePaths = []string{"token"}
	f := newFixture(t, cfg)
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("token", ir.IRString("abc")), ir.O("n", ir.IRInt(1)))))
	require.NoError(t, f.store.Close())

	cfg.Security.Passphrase = "rotated"
	again, err := New(cfg, WithClock(f.clk), WithKV(f.kv))
	require.NoError(t, err)
	defer again.Close()

	before, err := again.snapshot()
	require.NoError(t, err)
	require.Len(t, before.Encrypted, 1)

	_, err = again.GetState()
	require.Error(t, err)
	assert.True(t, seal.IsCryptoError(err))
	var ce *seal.CryptoError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "token", ce.Path)

	_, err = again.Select(Path("n"))
	require.Error(t, err)
	assert.True(t, seal.IsCryptoError(err))

	after, err := again.snapshot()
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("failed read changed the store (-before +after):\n%s", diff)
	}
}

func TestPersistence_WriteIsDebounced(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	require.NoError(t, f.store.SetState(ir.Obj(ir.O("a", ir.IRInt(1)))))
	require.NoError(t, f.store.SetState(ir.Obj(ir.O("a", ir.IRInt(2)))))

	_, ok, err := f.kv.Get(ctx, persist.SnapshotKey("app"))
	require.NoError(t, err)
	assert.False(t, ok)

	f.clk.Advance(500 * time.Millisecond)

	data, ok, err := f.kv.Get(ctx, persist.SnapshotKey("app"))
	require.NoError(t, err)
	require.True(t, ok)
	snap, err := persist.DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(2), snap.State["a"])
}

func TestPersistence_CorruptSnapshotStartsFresh(t *testing.T) {
	kv := persist.NewMemoryKV()
	require.NoError(t, kv.Put(context.Background(), persist.SnapshotKey("app"), []byte("{not json")))

	s, err := New(testConfig(), WithKV(kv), WithInitialState(ir.Obj(ir.O("fresh", ir.IRBool(true)))))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, ir.IRBool(true), mustState(t, s)["fresh"])
}

func TestClose_RejectsWritesKeepsReads(t *testing.T) {
	f := newFixture(t, testConfig(), WithInitialState(ir.Obj(ir.O("a", ir.IRInt(1)))))
	require.NoError(t, f.store.Close())
	require.NoError(t, f.store.Close())

	assert.ErrorIs(t, f.store.SetState(ir.Obj(ir.O("a", ir.IRInt(2)))), ErrClosed)
	assert.ErrorIs(t, f.store.Reset(nil), ErrClosed)
	assert.Equal(t, ir.IRInt(1), mustState(t, f.store)["a"])
	assert.Zero(t, f.store.SubscriberCount())
}

func TestClose_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig()
	cfg.Features.BatchUpdates = true
	cfg.Features.Debouncing = true
	cfg.Features.AuditLogging = true
	s, err := New(cfg, WithKV(persist.NewMemoryKV()))
	require.NoError(t, err)

	rec := &recorder{}
	s.Subscribe(rec.callback, nil, Debounce(time.Hour))
	require.NoError(t, s.SetState(ir.Obj(ir.O("a", ir.IRInt(1)))))
	require.NoError(t, s.Close())

	assert.Equal(t, ir.IRInt(1), mustState(t, s)["a"], "close applies the pending batch")
}
