// Package locks implements the process-local document lock table.
//
// A Manager maps document keys to the time they were acquired. Acquisition is
// a non-blocking test-and-set: there is no queueing, no timeout and no
// fairness. Callers that lose the race treat the document as busy.
package locks

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"pkt.systems/docsync/internal/clock"
)

// Entry describes a held lock.
type Entry struct {
	Key        string
	AcquiredAt time.Time
	token      string
}

// Manager guards a map of held document keys.
type Manager struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]Entry
}

// NewManager returns an empty lock table. A nil clock uses clock.Real.
func NewManager(clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		clock:   clk,
		entries: make(map[string]Entry),
	}
}

// TryAcquire records key as held and returns true, or returns false without
// side effects when key is already held.
func (m *Manager) TryAcquire(key string) bool {
	_, ok := m.acquire(key)
	return ok
}

// Acquire is TryAcquire returning a Guard for scoped release.
func (m *Manager) Acquire(key string) (*Guard, bool) {
	entry, ok := m.acquire(key)
	if !ok {
		return nil, false
	}
	return &Guard{m: m, key: key, token: entry.token, acquiredAt: entry.AcquiredAt}, true
}

func (m *Manager) acquire(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.entries[key]; held {
		return Entry{}, false
	}
	entry := Entry{Key: key, AcquiredAt: m.clock.Now(), token: xid.New().String()}
	m.entries[key] = entry
	return entry, true
}

// Release drops any entry for key. Releasing a key that is not held is a no-op.
// Ownership is not checked: any caller holding the key string may release it.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// ClearAll drops every entry and reports how many were held.
func (m *Manager) ClearAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	clear(m.entries)
	return n
}

// Held reports the entry for key, if any.
func (m *Manager) Held(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	return entry, ok
}

// Len returns the number of held locks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Snapshot returns the held entries ordered by key.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (m *Manager) releaseToken(key, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || entry.token != token {
		return false
	}
	delete(m.entries, key)
	return true
}
