package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/docstate/internal/clock"
	"github.com/roach88/docstate/internal/ident"
	"github.com/roach88/docstate/internal/ir"
)

const (
	// DefaultFlushInterval is how often a started log flushes.
	DefaultFlushInterval = 30 * time.Second

	dayMillis = int64(86_400_000)
)

// Options configures a Log. Zero fields get defaults.
type Options struct {
	Clock         clock.Clock
	IDs           ident.Generator
	Logger        *slog.Logger
	Sink          Sink
	RetentionDays int
	FlushInterval time.Duration
	MaskPII       bool
}

// Log buffers audit entries and flushes them into a Sink.
//
// Thread Safety: safe for concurrent use. Flushes are serialized.
type Log struct {
	clk      clock.Clock
	ids      ident.Generator
	logger   *slog.Logger
	sink     Sink
	interval time.Duration

	flushMu sync.Mutex

	mu            sync.Mutex
	buf           []Entry
	retentionDays int
	maskPII       bool
	timer         clock.Timer
	running       bool
}

// New creates a stopped log.
func New(opts Options) *Log {
	if opts.Clock == nil {
		opts.Clock = clock.Wall{}
	}
	if opts.IDs == nil {
		opts.IDs = ident.UUIDv7{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = NewMemorySink()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &Log{
		clk:           opts.Clock,
		ids:           opts.IDs,
		logger:        opts.Logger,
		sink:          opts.Sink,
		interval:      opts.FlushInterval,
		retentionDays: opts.RetentionDays,
		maskPII:       opts.MaskPII,
	}
}

// Record appends an entry to the buffer and returns it.
func (l *Log) Record(action string, data ir.IRObject) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maskPII {
		data = Mask(data)
	}
	e := Entry{
		ID:        l.ids.Generate(),
		Timestamp: l.clk.Now().UnixMilli(),
		Action:    action,
		Data:      data,
	}
	l.buf = append(l.buf, e)
	return e
}

// Flush moves the buffer into the sink and prunes expired entries.
//
// If the append fails the buffer is kept for the next attempt. A prune
// failure is returned but the appended entries are not re-buffered.
func (l *Log) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	pending := append([]Entry(nil), l.buf...)
	days := l.retentionDays
	l.mu.Unlock()

	if len(pending) > 0 {
		if err := l.sink.Append(ctx, pending); err != nil {
			return fmt.Errorf("audit flush: %w", err)
		}
		l.mu.Lock()
		// Record may have appended while the sink was busy.
		l.buf = append([]Entry(nil), l.buf[min(len(pending), len(l.buf)):]...)
		l.mu.Unlock()
	}

	cutoff := l.clk.Now().UnixMilli() - int64(days)*dayMillis
	pruned, err := l.sink.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("audit prune: %w", err)
	}

	l.logger.Debug("audit flushed", "appended", len(pending), "pruned", pruned)
	return nil
}

// Start arms the periodic flush. Calling Start on a running log is a no-op.
func (l *Log) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.timer = l.clk.AfterFunc(l.interval, l.tick)
}

// Stop cancels the periodic flush. Buffered entries stay buffered.
func (l *Log) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// Running reports whether the periodic flush is armed.
func (l *Log) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Log) tick() {
	if err := l.Flush(context.Background()); err != nil {
		l.logger.Warn("audit flush failed, keeping buffer", "error", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		l.timer = l.clk.AfterFunc(l.interval, l.tick)
	}
}

// ClearBuffer drops unflushed entries.
func (l *Log) ClearBuffer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = nil
}

// Buffered returns a copy of the unflushed entries.
func (l *Log) Buffered() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.buf...)
}

// Entries returns the retained durable log.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	entries, err := l.sink.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit list: %w", err)
	}
	return entries, nil
}

// SetRetentionDays changes the retention window for later flushes.
func (l *Log) SetRetentionDays(days int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retentionDays = days
}

// SetMaskPII toggles masking for later records.
func (l *Log) SetMaskPII(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maskPII = on
}
