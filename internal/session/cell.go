// Package session holds the signed-in identity for a connection and notifies
// watchers when it changes.
package session

import (
	"sync"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
)

// Cell is an observable holder of the current identity. A nil user means
// signed out.
type Cell struct {
	mu       sync.Mutex
	current  *domain.User
	watchers map[int]func(*domain.User)
	nextID   int
}

// NewCell returns a Cell initialised with user, which may be nil.
func NewCell(user *domain.User) *Cell {
	return &Cell{current: user, watchers: make(map[int]func(*domain.User))}
}

// Current returns the signed-in user or nil.
func (c *Cell) Current() *domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set replaces the identity. Watchers run, in registration order, only when
// the user id changes. Profile edits for the same id are stored silently.
func (c *Cell) Set(user *domain.User) {
	c.mu.Lock()
	changed := uid(c.current) != uid(user)
	c.current = user
	var fns []func(*domain.User)
	if changed {
		fns = c.snapshotLocked()
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(user)
	}
}

// Watch calls fn with the current identity and then on every change until the
// returned cancel func is called.
func (c *Cell) Watch(fn func(*domain.User)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	current := c.current
	c.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Cell) snapshotLocked() []func(*domain.User) {
	fns := make([]func(*domain.User), 0, len(c.watchers))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.watchers[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

func uid(u *domain.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
