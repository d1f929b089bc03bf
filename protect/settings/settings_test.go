package settings

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/detect"
	"github.com/guardianbot/guardian/protect/punish"
	"github.com/guardianbot/guardian/protect/warn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testStores(t *testing.T) map[string]Store {
	db, err := OpenDatabase("sqlite://:memory:", 1, nil)
	require.NoError(t, err)
	gs := NewGormStore(db)
	require.NoError(t, gs.Migrate())
	return map[string]Store{
		"mem":  NewMemStore(),
		"gorm": gs,
	}
}

func TestProtectionRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			raid := detect.RaidSettings{Threshold: 5, WindowSeconds: 10, Action: punish.Action{Kind: punish.Ban, Duration: time.Hour}}
			spam := detect.SpamSettings{MessageThreshold: 4, BurstResetSeconds: 30, Action: punish.Action{Kind: punish.AddRole, Role: 77}}
			mention := detect.MentionSettings{MaxMentionsInWindow: 10, WindowSeconds: 30, IgnoreBots: true, Action: punish.Action{Kind: punish.Kick}}

			assert.NoError(s.SaveRaid(ctx, 1, raid))
			assert.NoError(s.ReplaceSpam(ctx, 1, spam))
			assert.NoError(s.SetSpamIgnore(ctx, 1, 300, true))
			assert.NoError(s.SetSpamIgnore(ctx, 1, 200, true))
			assert.NoError(s.SetSpamIgnore(ctx, 1, 200, true))
			assert.NoError(s.SaveMention(ctx, 2, mention))

			all, err := s.LoadAll(ctx)
			assert.NoError(err)
			assert.Len(all, 2)
			assert.Equal(protect.CommunityID(1), all[0].Community)
			assert.Equal(raid, *all[0].Raid)
			spam.IgnoredChannels = []protect.ChannelID{200, 300}
			assert.Equal(spam, *all[0].Spam)
			assert.Nil(all[0].Mention)
			assert.Equal(mention, *all[1].Mention)

			// overwrite
			raid.Threshold = 8
			assert.NoError(s.SaveRaid(ctx, 1, raid))
			assert.NoError(s.SetSpamIgnore(ctx, 1, 300, false))
			all, err = s.LoadAll(ctx)
			assert.NoError(err)
			assert.Equal(8, all[0].Raid.Threshold)
			assert.Equal([]protect.ChannelID{200}, all[0].Spam.IgnoredChannels)

			// replacing spam settings also replaces the ignore-list
			spam.MessageThreshold = 6
			spam.IgnoredChannels = []protect.ChannelID{400, 500}
			assert.NoError(s.ReplaceSpam(ctx, 1, spam))
			all, err = s.LoadAll(ctx)
			assert.NoError(err)
			assert.Equal(spam, *all[0].Spam)

			assert.NoError(s.DeleteRaid(ctx, 1))
			assert.NoError(s.DeleteSpam(ctx, 1))
			assert.NoError(s.DeleteMention(ctx, 2))
			all, err = s.LoadAll(ctx)
			assert.NoError(err)
			assert.Empty(all)
		})
	}
}

func TestWarningLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			for i := 0; i < 3; i++ {
				w := &warn.Warning{Community: 1, Member: 5, Moderator: "mod", Reason: fmt.Sprintf("r%d", i), IssuedAt: t0.Add(time.Duration(i) * time.Hour)}
				n, err := s.AddWarning(ctx, w)
				assert.NoError(err)
				assert.Equal(i+1, n)
				assert.NotZero(w.ID)
			}
			// other member is unaffected
			n, err := s.AddWarning(ctx, &warn.Warning{Community: 1, Member: 6, IssuedAt: t0})
			assert.NoError(err)
			assert.Equal(1, n)

			// forgive the second active warning
			changed, err := s.Forgive(ctx, 1, 5, "boss", 2)
			assert.NoError(err)
			assert.Equal(1, changed)
			ws, err := s.Warnings(ctx, 1, 5)
			assert.NoError(err)
			assert.Len(ws, 3)
			assert.False(ws[0].Forgiven)
			assert.True(ws[1].Forgiven)
			assert.Equal("boss", ws[1].ForgivenBy)
			assert.False(ws[2].Forgiven)

			// out of range index is a no-op
			changed, err = s.Forgive(ctx, 1, 5, "boss", 9)
			assert.NoError(err)
			assert.Equal(0, changed)

			n, err = s.AddWarning(ctx, &warn.Warning{Community: 1, Member: 5, IssuedAt: t0.Add(5 * time.Hour)})
			assert.NoError(err)
			assert.Equal(3, n)

			changed, err = s.Forgive(ctx, 1, 5, "boss", 0)
			assert.NoError(err)
			assert.Equal(3, changed)
			n, err = s.AddWarning(ctx, &warn.Warning{Community: 1, Member: 5, IssuedAt: t0.Add(6 * time.Hour)})
			assert.NoError(err)
			assert.Equal(1, n)
		})
	}
}

func TestConcurrentAddWarning(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			var wg sync.WaitGroup
			var lk sync.Mutex
			seen := make(map[int]int)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					n, err := s.AddWarning(ctx, &warn.Warning{Community: 3, Member: 9, IssuedAt: t0})
					assert.NoError(err)
					lk.Lock()
					seen[n]++
					lk.Unlock()
				}()
			}
			wg.Wait()
			assert.Len(seen, 20)
			for i := 1; i <= 20; i++ {
				assert.Equal(1, seen[i], "count %d", i)
			}
		})
	}
}

func TestPunishRulesAndExpiry(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			assert.NoError(s.SetPunishRule(ctx, 1, warn.PunishRule{Count: 5, Action: punish.Action{Kind: punish.Ban}}))
			assert.NoError(s.SetPunishRule(ctx, 1, warn.PunishRule{Count: 2, Action: punish.Action{Kind: punish.Timeout, Duration: time.Hour}}))
			assert.NoError(s.SetPunishRule(ctx, 1, warn.PunishRule{Count: 5, Action: punish.Action{Kind: punish.Kick}}))
			rules, err := s.PunishRules(ctx, 1)
			assert.NoError(err)
			assert.Equal([]warn.PunishRule{
				{Count: 2, Action: punish.Action{Kind: punish.Timeout, Duration: time.Hour}},
				{Count: 5, Action: punish.Action{Kind: punish.Kick}},
			}, rules)

			ok, err := s.DeletePunishRule(ctx, 1, 2)
			assert.NoError(err)
			assert.True(ok)
			ok, err = s.DeletePunishRule(ctx, 1, 2)
			assert.NoError(err)
			assert.False(ok)

			assert.NoError(s.SetWarnExpiry(ctx, warn.ExpirySettings{Community: 1, Hours: 24, Policy: warn.ExpiryClear}))
			assert.NoError(s.SetWarnExpiry(ctx, warn.ExpirySettings{Community: 2, Hours: 48, Policy: warn.ExpiryDelete}))
			assert.NoError(s.SetWarnExpiry(ctx, warn.ExpirySettings{Community: 3, Hours: 0, Policy: warn.ExpiryDelete}))
			exps, err := s.WarnExpiries(ctx)
			assert.NoError(err)
			assert.Len(exps, 2)
			assert.Equal(protect.CommunityID(2), exps[1].Community)
			assert.Equal(warn.ExpiryDelete, exps[1].Policy)

			for _, c := range []protect.CommunityID{1, 2} {
				_, err := s.AddWarning(ctx, &warn.Warning{Community: c, Member: 1, IssuedAt: t0})
				assert.NoError(err)
				_, err = s.AddWarning(ctx, &warn.Warning{Community: c, Member: 1, IssuedAt: t0.Add(47 * time.Hour)})
				assert.NoError(err)
			}

			cutoff := t0.Add(24 * time.Hour)
			n, err := s.ExpireWarnings(ctx, 1, cutoff, warn.ExpiryClear)
			assert.NoError(err)
			assert.Equal(int64(1), n)
			n, err = s.ExpireWarnings(ctx, 1, cutoff, warn.ExpiryClear)
			assert.NoError(err)
			assert.Equal(int64(0), n)
			ws, err := s.Warnings(ctx, 1, 1)
			assert.NoError(err)
			assert.Len(ws, 2)
			assert.True(ws[0].Forgiven)
			assert.Equal(warn.ExpiryModerator, ws[0].ForgivenBy)

			n, err = s.ExpireWarnings(ctx, 2, cutoff, warn.ExpiryDelete)
			assert.NoError(err)
			assert.Equal(int64(1), n)
			ws, err = s.Warnings(ctx, 2, 1)
			assert.NoError(err)
			assert.Len(ws, 1)
			assert.Equal(t0.Add(47*time.Hour), ws[0].IssuedAt.UTC())
		})
	}
}

func TestMemberLockSpread(t *testing.T) {
	assert := assert.New(t)
	db, err := OpenDatabase("sqlite://:memory:", 1, nil)
	require.NoError(t, err)
	s := NewGormStore(db)

	// members whose ID equals their community's must not all share one lock
	used := make(map[*sync.Mutex]bool)
	for i := 1; i <= 1000; i++ {
		used[s.memberLock(protect.CommunityID(i), protect.MemberID(i))] = true
	}
	assert.Greater(len(used), warnLockStripes/2)
	assert.Same(s.memberLock(7, 9), s.memberLock(7, 9))
}
