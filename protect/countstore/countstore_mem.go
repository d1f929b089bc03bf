package countstore

import (
	"context"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect"
)

type memCount struct {
	n int
	// zero for buckets kept forever
	expires time.Time
}

// MemCountStore keeps counters in process memory. Expired buckets are dropped as new ones are written.
type MemCountStore struct {
	Clock func() time.Time

	lk     sync.Mutex
	counts map[string]memCount
	// buckets written since the last sweep of expired ones
	writes int
}

var _ CountStore = (*MemCountStore)(nil)

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		Clock:  time.Now,
		counts: make(map[string]memCount),
	}
}

func (s *MemCountStore) get(key string, now time.Time) int {
	mc, ok := s.counts[key]
	if !ok || (!mc.expires.IsZero() && now.After(mc.expires)) {
		return 0
	}
	return mc.n
}

func (s *MemCountStore) add(key string, p Period, n int, now time.Time) int {
	mc := memCount{n: s.get(key, now) + n}
	if r := p.retention(); r > 0 {
		mc.expires = now.Add(r)
	}
	s.counts[key] = mc
	s.writes++
	if s.writes >= 1024 {
		s.writes = 0
		for k, v := range s.counts {
			if !v.expires.IsZero() && now.After(v.expires) {
				delete(s.counts, k)
			}
		}
	}
	return mc.n
}

func (s *MemCountStore) GetCount(ctx context.Context, name string, c protect.CommunityID, p Period) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	now := s.Clock()
	return s.get(bucketKey(name, c, p, now), now), nil
}

func (s *MemCountStore) Add(ctx context.Context, name string, c protect.CommunityID, n int) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	now := s.Clock()
	for _, p := range periods {
		s.add(bucketKey(name, c, p, now), p, n, now)
	}
	return nil
}

func (s *MemCountStore) Take(ctx context.Context, name string, c protect.CommunityID, n, limit int) (bool, int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	now := s.Clock()
	key := bucketKey(name, c, PeriodDay, now)
	cur := s.get(key, now)
	if cur+n > limit {
		return false, cur, nil
	}
	return true, s.add(key, PeriodDay, n, now), nil
}
