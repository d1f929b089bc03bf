package detect

import (
	"sync"
	"testing"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/punish"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func raidFixture(t *testing.T, threshold, secs int, kind punish.Kind) *RaidDetector {
	d := NewRaidDetector()
	err := d.Install(1, RaidSettings{Threshold: threshold, WindowSeconds: secs, Action: punish.Action{Kind: kind}})
	assert.NoError(t, err)
	return d
}

func TestRaidTriggerExact(t *testing.T) {
	assert := assert.New(t)
	d := raidFixture(t, 3, 10, punish.Ban)

	assert.Nil(d.OnMemberJoin(1, 100, t0))
	assert.Nil(d.OnMemberJoin(1, 101, t0.Add(2*time.Second)))
	v := d.OnMemberJoin(1, 102, t0.Add(4*time.Second))
	assert.NotNil(v)
	assert.Equal(protect.Raiding, v.Type)
	assert.Equal([]protect.MemberID{100, 101, 102}, v.Members)
	assert.Equal(punish.Ban, v.Action.Kind)

	stats, ok := d.Stats(1, t0.Add(4*time.Second))
	assert.True(ok)
	assert.Equal(0, stats.Pending)
}

func TestRaidIdempotentJoin(t *testing.T) {
	assert := assert.New(t)
	d := raidFixture(t, 3, 10, punish.Kick)

	assert.Nil(d.OnMemberJoin(1, 100, t0))
	assert.Nil(d.OnMemberJoin(1, 100, t0.Add(time.Second)))
	assert.Nil(d.OnMemberJoin(1, 100, t0.Add(2*time.Second)))
	stats, _ := d.Stats(1, t0.Add(2*time.Second))
	assert.Equal(1, stats.Pending)
}

func TestRaidSlidingExpiry(t *testing.T) {
	assert := assert.New(t)
	d := raidFixture(t, 3, 10, punish.Kick)

	assert.Nil(d.OnMemberJoin(1, 100, t0))
	stats, _ := d.Stats(1, t0.Add(10*time.Second+time.Millisecond))
	assert.Equal(0, stats.Pending)

	// each join expires independently
	d.OnMemberJoin(1, 200, t0.Add(20*time.Second))
	d.OnMemberJoin(1, 201, t0.Add(25*time.Second))
	stats, _ = d.Stats(1, t0.Add(31*time.Second))
	assert.Equal(1, stats.Pending)
	// 201 still in window, so two more joins trigger
	assert.Nil(d.OnMemberJoin(1, 202, t0.Add(32*time.Second)))
	v := d.OnMemberJoin(1, 203, t0.Add(33*time.Second))
	assert.NotNil(v)
	assert.Equal([]protect.MemberID{201, 202, 203}, v.Members)
}

func TestRaidEndToEnd(t *testing.T) {
	assert := assert.New(t)
	d := raidFixture(t, 2, 5, punish.Ban)

	assert.Nil(d.OnMemberJoin(1, 'A', t0))
	v := d.OnMemberJoin(1, 'B', t0.Add(time.Second))
	assert.NotNil(v)
	assert.Equal([]protect.MemberID{'A', 'B'}, v.Members)
	assert.Equal(punish.Ban, v.Action.Kind)

	assert.Nil(d.OnMemberJoin(1, 'C', t0.Add(10*time.Second)))
	assert.NotNil(d.OnMemberJoin(1, 'D', t0.Add(11*time.Second)))
}

func TestRaidDisabled(t *testing.T) {
	assert := assert.New(t)
	d := raidFixture(t, 2, 5, punish.Ban)

	assert.Nil(d.OnMemberJoin(2, 100, t0))
	assert.Nil(d.OnMemberJoin(2, 101, t0))

	assert.Nil(d.OnMemberJoin(1, 100, t0))
	assert.True(d.Remove(1))
	assert.False(d.Remove(1))
	assert.Nil(d.OnMemberJoin(1, 101, t0))
	_, ok := d.Stats(1, t0)
	assert.False(ok)
}

func TestRaidValidation(t *testing.T) {
	assert := assert.New(t)
	d := NewRaidDetector()
	act := punish.Action{Kind: punish.Ban}

	assert.ErrorIs(d.Install(1, RaidSettings{Threshold: 1, WindowSeconds: 10, Action: act}), protect.ErrInvalidSettings)
	assert.ErrorIs(d.Install(1, RaidSettings{Threshold: 3, WindowSeconds: 1, Action: act}), protect.ErrInvalidSettings)
	assert.ErrorIs(d.Install(1, RaidSettings{Threshold: 3, WindowSeconds: 301, Action: act}), protect.ErrInvalidSettings)
	assert.ErrorIs(d.Install(1, RaidSettings{Threshold: 3, WindowSeconds: 10, Action: punish.Action{Kind: punish.Kick, Duration: time.Minute}}), protect.ErrInvalidSettings)
	_, ok := d.Stats(1, t0)
	assert.False(ok)
	assert.NoError(d.Install(1, RaidSettings{Threshold: 2, WindowSeconds: 300, Action: act}))
}

func TestRaidConcurrentSingleTrigger(t *testing.T) {
	assert := assert.New(t)
	d := raidFixture(t, 10, 300, punish.Ban)

	var wg sync.WaitGroup
	var lk sync.Mutex
	batches := 0
	seen := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(m protect.MemberID) {
			defer wg.Done()
			if v := d.OnMemberJoin(1, m, t0); v != nil {
				lk.Lock()
				batches++
				seen += len(v.Members)
				lk.Unlock()
			}
		}(protect.MemberID(i))
	}
	wg.Wait()
	assert.Equal(10, batches)
	assert.Equal(100, seen)
}

func TestRaidIsolation(t *testing.T) {
	assert := assert.New(t)
	d := NewRaidDetector()
	s := RaidSettings{Threshold: 3, WindowSeconds: 60, Action: punish.Action{Kind: punish.Kick}}
	assert.NoError(d.Install(1, s))
	assert.NoError(d.Install(2, s))

	var wg sync.WaitGroup
	for _, c := range []protect.CommunityID{1, 2} {
		wg.Add(1)
		go func(c protect.CommunityID) {
			defer wg.Done()
			for i := 0; i < 2; i++ {
				assert.Nil(d.OnMemberJoin(c, protect.MemberID(i), t0))
			}
		}(c)
	}
	wg.Wait()

	s1, _ := d.Stats(1, t0)
	s2, _ := d.Stats(2, t0)
	assert.Equal(2, s1.Pending)
	assert.Equal(2, s2.Pending)
}

func TestRaidCompact(t *testing.T) {
	assert := assert.New(t)
	d := raidFixture(t, 5, 10, punish.Kick)
	d.OnMemberJoin(1, 1, t0)
	d.OnMemberJoin(1, 2, t0.Add(5*time.Second))
	assert.Equal(1, d.Compact(t0.Add(11*time.Second)))
}
