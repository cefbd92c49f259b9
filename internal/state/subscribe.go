package state

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/docstate/internal/ir"
	"github.com/roach88/docstate/internal/schedule"
)

// Callback receives a subscriber's selected value. The value is a private
// copy the callback may keep or modify.
type Callback func(value ir.IRValue)

type subscription struct {
	id   string
	cb   Callback
	sel  *Selector
	opts subscribeOptions

	// Guarded by Store.mu.
	last   ir.IRValue
	latest ir.IRValue

	deb    *schedule.Debouncer
	thr    *schedule.Throttler
	active atomic.Bool
}

type delivery struct {
	sub       *subscription
	value     ir.IRValue
	throttled bool
}

// Subscribe registers cb for changes to the value selected by sel, or to the
// whole state when sel is nil. Subscriptions are notified in registration
// order. When both Debounce and Throttle are given, Debounce wins.
//
// The returned function unsubscribes and cancels any pending delivery. It is
// safe to call more than once.
func (s *Store) Subscribe(cb Callback, sel *Selector, opts ...SubscribeOption) (unsubscribe func()) {
	o := subscribeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	sub := &subscription{cb: cb, opts: o}
	if sel != nil {
		c := *sel
		sub.sel = &c
	}
	if o.debounce > 0 {
		sub.deb = schedule.NewDebouncer(s.clk, o.debounce)
	} else if o.throttle > 0 {
		sub.thr = schedule.NewThrottler(s.clk, o.throttle)
	}
	sub.active.Store(true)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	sub.id = s.ids.Generate()
	ready := false
	plain, err := s.plaintextLocked()
	if err != nil {
		s.logger.Warn("subscribe: state unreadable", "subscription", sub.id, "error", err)
	} else {
		sub.last, ready = s.selectFor(sub, plain)
	}
	initial := sub.last
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	if o.immediate && ready {
		s.invoke(sub, initial)
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(sub) })
	}
}

func (s *Store) unsubscribe(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.active.Store(false)
	sub.cancelTimers()
	s.subs = slices.DeleteFunc(s.subs, func(c *subscription) bool { return c == sub })
}

// SubscriberCount returns the number of live subscriptions.
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// notifyLocked compares every subscription against the committed state and
// returns the deliveries to run once the lock is released. Debounced
// deliveries are armed here since arming never runs the callback.
func (s *Store) notifyLocked() []delivery {
	if len(s.subs) == 0 {
		return nil
	}
	plain, err := s.plaintextLocked()
	if err != nil {
		s.logger.Error("notify: state unreadable", "error", err)
		return nil
	}

	var ds []delivery
	for _, sub := range s.subs {
		v, changed := s.compareFor(sub, plain)
		if !changed {
			continue
		}
		sub.last = v

		switch {
		case sub.deb != nil && s.features.Debouncing:
			sub.latest = v
			sub.deb.Trigger(func() { s.fireDebounced(sub) })
		case sub.thr != nil && s.features.Throttling:
			ds = append(ds, delivery{sub: sub, value: v, throttled: true})
		default:
			ds = append(ds, delivery{sub: sub, value: v})
		}
	}
	return ds
}

// deliver runs deliveries in order. Must be called without s.mu held: the
// leading edge of a throttle and immediate callbacks run synchronously.
func (s *Store) deliver(ds []delivery) {
	for _, d := range ds {
		if d.throttled {
			sub, v := d.sub, d.value
			sub.thr.Trigger(func() { s.invoke(sub, v) })
			continue
		}
		s.invoke(d.sub, d.value)
	}
}

func (s *Store) fireDebounced(sub *subscription) {
	s.mu.Lock()
	v := sub.latest
	s.mu.Unlock()
	s.invoke(sub, v)
}

// selectFor runs the subscriber's selector. It runs under s.mu, so a panic
// is recovered and reported as a subscriber failure; ok is false then.
func (s *Store) selectFor(sub *subscription, plain ir.IRObject) (v ir.IRValue, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.subscriberFailed(sub, r)
			v, ok = nil, false
		}
	}()
	return sub.sel.apply(plain), true
}

// compareFor selects and compares against the last delivered value. A
// panicking selector or equality function skips the subscriber for this
// change.
func (s *Store) compareFor(sub *subscription, plain ir.IRObject) (v ir.IRValue, changed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.subscriberFailed(sub, r)
			v, changed = nil, false
		}
	}()
	v = sub.sel.apply(plain)
	eq := sub.opts.equal
	if eq == nil {
		eq = ShallowEqual
	}
	return v, !eq(sub.last, v)
}

// invoke calls the subscriber, isolating panics.
func (s *Store) invoke(sub *subscription, v ir.IRValue) {
	if !sub.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.subscriberFailed(sub, r)
		}
	}()
	sub.cb(ir.Clone(v))
}

func (s *Store) subscriberFailed(sub *subscription, r any) {
	err := &SubscriberError{SubscriptionID: sub.id, Value: r}
	s.logger.Error("subscriber failed", "subscription", sub.id, "error", err)
	if s.collector != nil {
		s.collector.subscriberErrors.Inc()
	}
}

func (sub *subscription) cancelTimers() {
	if sub.deb != nil {
		sub.deb.Cancel()
	}
	if sub.thr != nil {
		sub.thr.Cancel()
	}
}
