package repos

import (
	"sync"
	"time"
)

// DefaultFetchWindow is the minimum time between two refreshes of the same
// clone.
const DefaultFetchWindow = 5 * time.Second

// FetchThrottle remembers when each clone was last refreshed. One instance
// is shared by reference between every Cache that should respect it.
type FetchThrottle struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

func NewFetchThrottle(window time.Duration) *FetchThrottle {
	if window < 0 {
		window = 0
	}
	return &FetchThrottle{window: window, last: make(map[string]time.Time), now: time.Now}
}

// Allow reports whether key may be fetched now and, if so, records the
// fetch.
func (t *FetchThrottle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.window {
		return false
	}
	t.last[key] = now
	return true
}

// Mark records a fetch of key without checking the window, as after a fresh
// clone.
func (t *FetchThrottle) Mark(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[key] = t.now()
}

// Forget drops key, typically when its clone is evicted.
func (t *FetchThrottle) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, key)
}
