// Package debounce coalesces bursts of calls into a single trailing call
// per key. Scheduling a key that already has a pending call cancels the
// previous one and replaces its payload, so only the last call within the
// window ever runs.
package debounce

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type pending struct {
	timer *clock.Timer
	fn    func()
}

// Debouncer holds at most one pending call per key.
type Debouncer struct {
	clk     clock.Clock
	mu      sync.Mutex
	pending map[string]*pending
	stopped bool
}

// New creates a debouncer using the system clock.
func New() *Debouncer {
	return NewWithClock(clock.New())
}

// NewWithClock creates a debouncer on a caller-supplied clock. Tests pass
// a mock clock and drive time explicitly.
func NewWithClock(clk clock.Clock) *Debouncer {
	return &Debouncer{
		clk:     clk,
		pending: make(map[string]*pending),
	}
}

// Schedule arranges for fn to run after delay. A pending call for the
// same key is cancelled and replaced; its fn never runs.
func (d *Debouncer) Schedule(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}

	p := &pending{fn: fn}
	p.timer = d.clk.AfterFunc(delay, func() { d.fire(key, p) })
	d.pending[key] = p
}

// fire runs a pending call if it is still the current one for its key.
func (d *Debouncer) fire(key string, p *pending) {
	d.mu.Lock()
	if d.pending[key] != p {
		// Superseded between timer fire and lock acquisition
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	p.fn()
}

// Cancel drops the pending call for a key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

// Flush runs the pending call for a key immediately, if any. Used on
// teardown so an in-window write is not lost to process exit.
func (d *Debouncer) Flush(key string) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if ok {
		p.fn()
	}
}

// Stop cancels every pending call and rejects further scheduling.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.stopped = true
}
