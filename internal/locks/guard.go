package locks

import (
	"sync"
	"time"
)

// Guard is a held lock. Release it with defer on every exit path.
type Guard struct {
	m          *Manager
	key        string
	token      string
	acquiredAt time.Time
	once       sync.Once
}

// Key returns the locked document key.
func (g *Guard) Key() string { return g.key }

// AcquiredAt returns the acquisition timestamp.
func (g *Guard) AcquiredAt() time.Time { return g.acquiredAt }

// Release drops the lock if this guard still owns it. It returns true when an
// entry was removed. Subsequent calls are no-ops returning false.
//
// A lock released by key through Manager.Release and re-acquired by another
// caller is left alone.
func (g *Guard) Release() bool {
	if g == nil {
		return false
	}
	removed := false
	g.once.Do(func() {
		removed = g.m.releaseToken(g.key, g.token)
	})
	return removed
}
