// Sliding-window membership with lazy expiry.
//
// Each entry expires independently, `span` after its own insertion. Expired entries are dropped whenever the window is inspected, so no timer is scheduled per insertion.
package window

import (
	"time"
)

type entry[K comparable] struct {
	key K
	at  time.Time
}

// Window is not safe for concurrent use; callers hold their own lock.
type Window[K comparable] struct {
	span    time.Duration
	entries []entry[K]
	index   map[K]time.Time
}

func New[K comparable](span time.Duration) *Window[K] {
	return &Window[K]{
		span:  span,
		index: make(map[K]time.Time),
	}
}

func (w *Window[K]) Span() time.Duration {
	return w.span
}

func (w *Window[K]) expired(at, now time.Time) bool {
	return now.Sub(at) >= w.span
}

// Add inserts key at time now. Returns false, leaving the original insertion time in place, if the key is already live.
func (w *Window[K]) Add(key K, now time.Time) bool {
	w.Compact(now)
	if _, ok := w.index[key]; ok {
		return false
	}
	w.index[key] = now
	w.entries = append(w.entries, entry[K]{key: key, at: now})
	return true
}

// Contains reports whether key is live at time now.
func (w *Window[K]) Contains(key K, now time.Time) bool {
	at, ok := w.index[key]
	return ok && !w.expired(at, now)
}

// Len returns the number of live keys at time now.
func (w *Window[K]) Len(now time.Time) int {
	w.Compact(now)
	return len(w.index)
}

// Compact drops expired entries and returns how many were removed.
//
// Entries are appended in time order, so expired ones form a prefix; out-of-order timestamps are tolerated by scanning the whole slice.
func (w *Window[K]) Compact(now time.Time) int {
	if len(w.entries) == 0 {
		return 0
	}
	kept := w.entries[:0]
	removed := 0
	for _, e := range w.entries {
		if w.expired(e.at, now) {
			delete(w.index, e.key)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// release references held by the tail of the backing array
	var zero entry[K]
	for i := len(kept); i < len(w.entries); i++ {
		w.entries[i] = zero
	}
	w.entries = kept
	return removed
}

// Remove deletes key regardless of age. Returns false if it was not present.
func (w *Window[K]) Remove(key K) bool {
	if _, ok := w.index[key]; !ok {
		return false
	}
	delete(w.index, key)
	for i, e := range w.entries {
		if e.key == key {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			break
		}
	}
	return true
}

// Drain returns every key in insertion order and empties the window.
func (w *Window[K]) Drain() []K {
	out := make([]K, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e.key)
	}
	w.entries = nil
	w.index = make(map[K]time.Time)
	return out
}
