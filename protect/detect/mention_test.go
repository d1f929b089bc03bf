package detect

import (
	"testing"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/punish"

	"github.com/stretchr/testify/assert"
)

func TestMentionFlood(t *testing.T) {
	assert := assert.New(t)
	d := NewMentionDetector()
	assert.NoError(d.Install(1, MentionSettings{MaxMentionsInWindow: 5, WindowSeconds: 10, IgnoreBots: true, Action: punish.Action{Kind: punish.Timeout, Duration: time.Hour}}))

	m := Message{Community: 1, Member: 3, Mentions: 2, SentAt: t0}
	assert.Nil(d.OnMemberMessage(m))
	m.Mentions = 0
	assert.Nil(d.OnMemberMessage(m))
	assert.Equal(2, d.Count(1, 3, t0))

	// window elapsed: restarts
	m.Mentions = 2
	m.SentAt = t0.Add(10 * time.Second)
	assert.Nil(d.OnMemberMessage(m))
	assert.Equal(2, d.Count(1, 3, m.SentAt))

	m.Mentions = 3
	m.SentAt = t0.Add(12 * time.Second)
	v := d.OnMemberMessage(m)
	assert.NotNil(v)
	assert.Equal(protect.MentionFlood, v.Type)
	assert.Equal(punish.Timeout, v.Action.Kind)
	assert.Equal(0, d.Count(1, 3, m.SentAt))
}

func TestMentionSingleMessage(t *testing.T) {
	assert := assert.New(t)
	d := NewMentionDetector()
	assert.NoError(d.Install(1, MentionSettings{MaxMentionsInWindow: 5, WindowSeconds: 10, IgnoreBots: true, Action: punish.Action{Kind: punish.Kick}}))

	bot := Message{Community: 1, Member: 4, Mentions: 50, IsBot: true, SentAt: t0}
	assert.Nil(d.OnMemberMessage(bot))

	human := Message{Community: 1, Member: 5, Mentions: 50, SentAt: t0}
	assert.NotNil(d.OnMemberMessage(human))

	assert.NoError(d.Install(1, MentionSettings{MaxMentionsInWindow: 5, WindowSeconds: 10, IgnoreBots: false, Action: punish.Action{Kind: punish.Kick}}))
	assert.NotNil(d.OnMemberMessage(bot))
}

func TestMentionValidation(t *testing.T) {
	assert := assert.New(t)
	d := NewMentionDetector()
	assert.ErrorIs(d.Install(1, MentionSettings{MaxMentionsInWindow: 1, WindowSeconds: 10, Action: punish.Action{Kind: punish.Kick}}), protect.ErrInvalidSettings)
	assert.ErrorIs(d.Install(1, MentionSettings{MaxMentionsInWindow: 5, WindowSeconds: 0, Action: punish.Action{Kind: punish.Kick}}), protect.ErrInvalidSettings)
	assert.False(d.Remove(1))
}
