// Package autosave debounces rapid edits so only the last one inside an idle
// window is committed.
package autosave

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrStopped is returned when scheduling on a stopped Debouncer.
var ErrStopped = errors.New("autosave: debouncer stopped")

// Debouncer holds at most one pending commit per key.
type Debouncer struct {
	idle time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCommit
	stopped bool
}

type pendingCommit struct {
	timer *time.Timer
}

// New returns a Debouncer that commits after idle without further edits.
func New(idle time.Duration) *Debouncer {
	return &Debouncer{
		idle:    idle,
		pending: make(map[string]*pendingCommit),
	}
}

// Schedule cancels any pending commit for key and arms fn to run after the
// idle interval.
func (d *Debouncer) Schedule(key string, fn func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}

	p := &pendingCommit{}
	p.timer = time.AfterFunc(d.idle, func() {
		d.mu.Lock()
		current, ok := d.pending[key]
		if !ok || current != p {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
	d.pending[key] = p
	return nil
}

// Cancel drops the pending commit for key. It reports whether one existed.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked(key)
}

// CancelPrefix drops every pending commit whose key starts with prefix.
func (d *Debouncer) CancelPrefix(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for key := range d.pending {
		if strings.HasPrefix(key, prefix) && d.cancelLocked(key) {
			n++
		}
	}
	return n
}

// Pending is the number of armed commits.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending commit and rejects further scheduling.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key := range d.pending {
		d.cancelLocked(key)
	}
}

func (d *Debouncer) cancelLocked(key string) bool {
	p, ok := d.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

// Key builds the per-field-instance key used by callers.
func Key(bookID, field string) string {
	return bookID + "/" + field
}
