package detect

import (
	"sync"
	"testing"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/punish"

	"github.com/stretchr/testify/assert"
)

func msgAt(m protect.MemberID, at time.Time) Message {
	return Message{Community: 1, Member: m, Channel: 10, SentAt: at}
}

func TestSpamTriggerExact(t *testing.T) {
	assert := assert.New(t)
	d := NewSpamDetector()
	assert.NoError(d.Install(1, SpamSettings{MessageThreshold: 5, Action: punish.Action{Kind: punish.Mute}}))

	for i := 0; i < 4; i++ {
		assert.Nil(d.OnMemberMessage(msgAt(7, t0.Add(time.Duration(i)*time.Second))))
	}
	assert.Equal(4, d.Count(1, 7, t0.Add(4*time.Second)))
	v := d.OnMemberMessage(msgAt(7, t0.Add(4*time.Second)))
	assert.NotNil(v)
	assert.Equal(protect.Spamming, v.Type)
	assert.Equal([]protect.MemberID{7}, v.Members)
	assert.Equal(0, d.Count(1, 7, t0.Add(4*time.Second)))

	// next message starts a fresh count
	assert.Nil(d.OnMemberMessage(msgAt(7, t0.Add(5*time.Second))))
	assert.Equal(1, d.Count(1, 7, t0.Add(5*time.Second)))
}

func TestSpamBurstReset(t *testing.T) {
	assert := assert.New(t)
	d := NewSpamDetector()
	assert.NoError(d.Install(1, SpamSettings{MessageThreshold: 3, BurstResetSeconds: 10, Action: punish.Action{Kind: punish.Kick}}))

	assert.Nil(d.OnMemberMessage(msgAt(7, t0)))
	assert.Nil(d.OnMemberMessage(msgAt(7, t0.Add(10*time.Second))))
	assert.Equal(2, d.Count(1, 7, t0.Add(10*time.Second)))
	// gap longer than the reset restarts the count
	assert.Nil(d.OnMemberMessage(msgAt(7, t0.Add(21*time.Second))))
	assert.Equal(1, d.Count(1, 7, t0.Add(21*time.Second)))
	assert.Equal(1, d.Compact(t0.Add(40*time.Second)))
}

func TestSpamIgnored(t *testing.T) {
	assert := assert.New(t)
	d := NewSpamDetector()
	assert.NoError(d.Install(1, SpamSettings{MessageThreshold: 2, Action: punish.Action{Kind: punish.Kick}, IgnoredChannels: []protect.ChannelID{99}}))

	bypass := msgAt(7, t0)
	bypass.Bypass = true
	assert.Nil(d.OnMemberMessage(bypass))
	assert.Nil(d.OnMemberMessage(bypass))

	ignored := msgAt(8, t0)
	ignored.Channel = 99
	assert.Nil(d.OnMemberMessage(ignored))
	assert.Nil(d.OnMemberMessage(ignored))

	toggled, err := d.ToggleIgnore(1, 99)
	assert.NoError(err)
	assert.False(toggled)
	assert.Nil(d.OnMemberMessage(ignored))
	assert.NotNil(d.OnMemberMessage(ignored))

	toggled, err = d.ToggleIgnore(1, 5)
	assert.NoError(err)
	assert.True(toggled)
	stats, ok := d.Stats(1)
	assert.True(ok)
	assert.Equal([]protect.ChannelID{5}, stats.Settings.IgnoredChannels)

	_, err = d.ToggleIgnore(2, 5)
	assert.ErrorIs(err, protect.ErrNotRunning)
}

func TestSpamConcurrentMembers(t *testing.T) {
	assert := assert.New(t)
	d := NewSpamDetector()
	assert.NoError(d.Install(1, SpamSettings{MessageThreshold: 10, Action: punish.Action{Kind: punish.Kick}}))

	var wg sync.WaitGroup
	var lk sync.Mutex
	triggered := map[protect.MemberID]int{}
	for m := 0; m < 20; m++ {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(m protect.MemberID) {
				defer wg.Done()
				if v := d.OnMemberMessage(msgAt(m, t0)); v != nil {
					lk.Lock()
					triggered[v.Members[0]]++
					lk.Unlock()
				}
			}(protect.MemberID(m))
		}
	}
	wg.Wait()
	assert.Len(triggered, 20)
	for _, n := range triggered {
		assert.Equal(1, n)
	}
}

func TestSpamRemoved(t *testing.T) {
	assert := assert.New(t)
	d := NewSpamDetector()
	assert.NoError(d.Install(1, SpamSettings{MessageThreshold: 2, Action: punish.Action{Kind: punish.Kick}}))
	assert.Nil(d.OnMemberMessage(msgAt(7, t0)))
	assert.True(d.Remove(1))
	assert.Nil(d.OnMemberMessage(msgAt(7, t0)))
	assert.ErrorIs(d.Install(1, SpamSettings{MessageThreshold: 11, Action: punish.Action{Kind: punish.Kick}}), protect.ErrInvalidSettings)
}
