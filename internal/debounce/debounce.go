// Package debounce coalesces bursts of calls into one delayed call.
package debounce

import (
	"sync"
	"time"
)

// afterFunc is swapped in tests to drive timers by hand.
var afterFunc = time.AfterFunc

type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
	// gen invalidates callbacks of timers that were stopped too late.
	gen     uint64
	pending bool
}

func New(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Ensure returns *d, creating it first if nil. An existing debouncer keeps
// its original delay and callback.
func Ensure(d **Debouncer, delay time.Duration, fn func()) *Debouncer {
	if *d == nil {
		*d = New(delay, fn)
	}
	return *d
}

// Trigger (re)starts the delay. Only the last trigger of a burst fires.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.pending = true
	gen := d.gen
	d.timer = afterFunc(d.delay, func() { d.fire(gen) })
}

// Flush runs a pending call now instead of waiting for the delay. It
// reports whether anything was pending.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	gen := d.gen
	d.mu.Unlock()
	return d.fire(gen)
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire(gen uint64) bool {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return false
	}
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	fn := d.fn
	d.mu.Unlock()
	fn()
	return true
}
