package detect

import (
	"time"

	"github.com/guardianbot/guardian/protect"

	"github.com/puzpuzpuz/xsync/v3"
)

type burstCounter struct {
	count int
	first time.Time
	last  time.Time
}

// burstTracker keeps one counter per member. Updates to different members never share a lock (the map is sharded), and each update of one member is atomic.
type burstTracker struct {
	counters *xsync.MapOf[protect.MemberID, burstCounter]
	// reports whether an existing counter should restart before counting the event at now
	expired func(c burstCounter, now time.Time) bool
}

func newBurstTracker(expired func(c burstCounter, now time.Time) bool) *burstTracker {
	return &burstTracker{
		counters: xsync.NewMapOf[protect.MemberID, burstCounter](),
		expired:  expired,
	}
}

// hit adds weight to the member's counter. When the count reaches threshold the entry is deleted in the same atomic step, so the next hit starts a fresh count.
func (b *burstTracker) hit(m protect.MemberID, weight, threshold int, now time.Time) (int, bool) {
	var count int
	var triggered bool
	b.counters.Compute(m, func(old burstCounter, loaded bool) (burstCounter, bool) {
		if !loaded || b.expired(old, now) {
			old = burstCounter{first: now}
		}
		old.count += weight
		old.last = now
		count = old.count
		if old.count >= threshold {
			triggered = true
			return old, true
		}
		return old, false
	})
	return count, triggered
}

func (b *burstTracker) count(m protect.MemberID, now time.Time) int {
	c, ok := b.counters.Load(m)
	if !ok || b.expired(c, now) {
		return 0
	}
	return c.count
}

func (b *burstTracker) size() int {
	return b.counters.Size()
}

// compact deletes counters which would restart on their next hit.
func (b *burstTracker) compact(now time.Time) int {
	n := 0
	b.counters.Range(func(m protect.MemberID, c burstCounter) bool {
		if !b.expired(c, now) {
			return true
		}
		b.counters.Compute(m, func(old burstCounter, loaded bool) (burstCounter, bool) {
			// re-checked: the counter may have been hit since Range observed it
			if loaded && b.expired(old, now) {
				n++
				return old, true
			}
			return old, !loaded
		})
		return true
	})
	return n
}
