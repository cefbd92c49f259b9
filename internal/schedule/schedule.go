// Package schedule provides the rate-limiting primitives used to deliver
// notifications and to coalesce background writes.
//
// Both primitives run their callbacks without holding their own lock, so a
// callback may take other locks (the store's) or re-trigger the primitive.
// Callers must not hold a lock that the callback also takes when calling
// Trigger on a Throttler, because the leading edge runs synchronously.
package schedule

import (
	"sync"
	"time"

	"github.com/roach88/docstate/internal/clock"
)

// Debouncer delays a callback until Trigger has not been called for the
// configured delay. Each Trigger replaces the pending callback, so the last
// one wins.
type Debouncer struct {
	clk   clock.Clock
	delay time.Duration

	mu    sync.Mutex
	timer clock.Timer
	fn    func()
	gen   uint64
}

// NewDebouncer creates a debouncer on clk.
func NewDebouncer(clk clock.Clock, delay time.Duration) *Debouncer {
	return &Debouncer{clk: clk, delay: delay}
}

// Trigger cancels any pending call and arms a new one for fn.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.fn = fn
	d.gen++
	gen := d.gen
	d.timer = d.clk.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.fn == nil {
		// Superseded by a later Trigger or cancelled after the timer fired.
		d.mu.Unlock()
		return
	}
	fn := d.fn
	d.fn = nil
	d.timer = nil
	d.mu.Unlock()

	fn()
}

// Cancel drops the pending call. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.fn != nil
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.fn = nil
	d.gen++
	return pending
}

// Flush runs the pending call now, if any, and reports whether it ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	fn := d.fn
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.fn = nil
	d.gen++
	d.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether a call is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

// Throttler runs a callback at most once per window: immediately when the
// window since the last run has elapsed, otherwise once on a single trailing
// timer carrying the most recent callback.
type Throttler struct {
	clk    clock.Clock
	window time.Duration

	mu      sync.Mutex
	last    time.Time
	ran     bool
	timer   clock.Timer
	pending func()
	gen     uint64
}

// NewThrottler creates a throttler on clk.
func NewThrottler(clk clock.Clock, window time.Duration) *Throttler {
	return &Throttler{clk: clk, window: window}
}

// Trigger runs fn now (leading edge) or records it for the trailing run.
// It reports whether fn ran synchronously.
func (t *Throttler) Trigger(fn func()) bool {
	t.mu.Lock()
	now := t.clk.Now()
	elapsed := now.Sub(t.last)
	if !t.ran || elapsed >= t.window {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.pending = nil
		t.last = now
		t.ran = true
		t.mu.Unlock()

		fn()
		return true
	}

	t.pending = fn
	if t.timer == nil {
		t.gen++
		gen := t.gen
		t.timer = t.clk.AfterFunc(t.window-elapsed, func() { t.fire(gen) })
	}
	t.mu.Unlock()
	return false
}

func (t *Throttler) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.pending == nil {
		t.mu.Unlock()
		return
	}
	fn := t.pending
	t.pending = nil
	t.timer = nil
	t.last = t.clk.Now()
	t.ran = true
	t.mu.Unlock()

	fn()
}

// Cancel drops the trailing call. It reports whether one was pending.
func (t *Throttler) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := t.pending != nil
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = nil
	t.pending = nil
	t.gen++
	return pending
}

// Pending reports whether a trailing call is armed.
func (t *Throttler) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}
