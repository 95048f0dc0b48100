// Package debounce coalesces bursts of events per key.
package debounce

import (
	"sync"
	"time"
)

type entry struct {
	timer *time.Timer
	fn    func()
}

// Debouncer runs the last function triggered for a key once no new trigger
// for that key arrived within the wait window. Keys are independent.
type Debouncer[K comparable] struct {
	mu      sync.Mutex
	wait    time.Duration
	pending map[K]*entry
	stopped bool
}

// New returns a Debouncer with the given window
func New[K comparable](wait time.Duration) *Debouncer[K] {
	return &Debouncer[K]{
		wait:    wait,
		pending: make(map[K]*entry),
	}
}

// Trigger (re)schedules fn for key, replacing any pending function for key.
// It reports whether this trigger started a new burst.
func (d *Debouncer[K]) Trigger(key K, fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}

	old, existed := d.pending[key]
	if existed {
		old.timer.Stop()
	}

	e := &entry{fn: fn}
	e.timer = time.AfterFunc(d.wait, func() { d.fire(key, e) })
	d.pending[key] = e
	return !existed
}

func (d *Debouncer[K]) fire(key K, e *entry) {
	d.mu.Lock()
	// a newer trigger or a cancel replaced this entry
	if d.pending[key] != e {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	e.fn()
}

// Cancel drops the pending function for key without running it
func (d *Debouncer[K]) Cancel(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(d.pending, key)
	return true
}

// Pending reports whether key has a scheduled function
func (d *Debouncer[K]) Pending(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Len returns the number of keys with a scheduled function
func (d *Debouncer[K]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush runs every pending function now, on the calling goroutine.
// Must not be called while holding a lock the functions take.
func (d *Debouncer[K]) Flush() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.pending))
	for key, e := range d.pending {
		e.timer.Stop()
		fns = append(fns, e.fn)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Stop cancels all pending functions and rejects further triggers
func (d *Debouncer[K]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.pending {
		e.timer.Stop()
		delete(d.pending, key)
	}
	d.stopped = true
}
