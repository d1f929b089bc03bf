package warn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/cachestore"
	"github.com/guardianbot/guardian/protect/punish"
	"github.com/guardianbot/guardian/protect/settings"
	"github.com/guardianbot/guardian/protect/warn"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testEscalator() (*warn.Escalator, *settings.MemStore) {
	store := settings.NewMemStore()
	esc := warn.NewEscalator(store, cachestore.NewMemCacheStore[[]warn.PunishRule](100, time.Hour), nil)
	esc.Clock = func() time.Time { return t0 }
	return esc, store
}

func TestWarnRuleFiresOnExactCount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	esc, _ := testEscalator()

	assert.NoError(esc.SetPunishRule(ctx, 1, 3, punish.Action{Kind: punish.Kick}))

	for i := 1; i <= 4; i++ {
		rule, err := esc.Warn(ctx, 1, 5, "mod", "being rude")
		assert.NoError(err)
		if i == 3 {
			if assert.NotNil(rule) {
				assert.Equal(3, rule.Count)
				assert.Equal(punish.Kick, rule.Action.Kind)
			}
		} else {
			assert.Nil(rule, "warning %d", i)
		}
	}

	// rules are per community
	rule, err := esc.Warn(ctx, 2, 5, "mod", "")
	assert.NoError(err)
	assert.Nil(rule)
}

func TestForgiveLowersCount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	esc, _ := testEscalator()

	assert.NoError(esc.SetPunishRule(ctx, 1, 2, punish.Action{Kind: punish.Timeout, Duration: time.Hour}))

	rule, err := esc.Warn(ctx, 1, 5, "mod", "")
	assert.NoError(err)
	assert.Nil(rule)

	n, err := esc.Forgive(ctx, 1, 5, "mod", 0)
	assert.NoError(err)
	assert.Equal(1, n)

	// active count is back to one
	rule, err = esc.Warn(ctx, 1, 5, "mod", "")
	assert.NoError(err)
	assert.Nil(rule)
	rule, err = esc.Warn(ctx, 1, 5, "mod", "")
	assert.NoError(err)
	assert.NotNil(rule)

	_, err = esc.Forgive(ctx, 1, 5, "mod", -1)
	assert.True(errors.Is(err, protect.ErrInvalidSettings))

	ws, err := esc.Warnings(ctx, 1, 5)
	assert.NoError(err)
	assert.Len(ws, 3)
	assert.True(ws[0].Forgiven)
}

func TestPunishRuleValidation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	esc, _ := testEscalator()

	assert.ErrorIs(esc.SetPunishRule(ctx, 1, 0, punish.Action{Kind: punish.Kick}), protect.ErrInvalidSettings)
	assert.ErrorIs(esc.SetPunishRule(ctx, 1, warn.MaxPunishCount+1, punish.Action{Kind: punish.Kick}), protect.ErrInvalidSettings)
	assert.ErrorIs(esc.SetPunishRule(ctx, 1, 2, punish.Action{Kind: punish.Kick, Duration: time.Hour}), protect.ErrInvalidSettings)
	assert.ErrorIs(esc.SetExpiry(ctx, 1, -1, warn.ExpiryClear), protect.ErrInvalidSettings)
	assert.ErrorIs(esc.SetExpiry(ctx, 1, 10, warn.ExpiryPolicy(9)), protect.ErrInvalidSettings)

	rules, err := esc.PunishRules(ctx, 1)
	assert.NoError(err)
	assert.Empty(rules)
}

func TestPunishRuleCachePurged(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	esc, store := testEscalator()

	assert.NoError(esc.SetPunishRule(ctx, 1, 2, punish.Action{Kind: punish.Kick}))
	rules, err := esc.PunishRules(ctx, 1)
	assert.NoError(err)
	assert.Len(rules, 1)

	// writes that bypass the escalator are not visible until the cache is purged
	assert.NoError(store.SetPunishRule(ctx, 1, warn.PunishRule{Count: 4, Action: punish.Action{Kind: punish.Ban}}))
	rules, err = esc.PunishRules(ctx, 1)
	assert.NoError(err)
	assert.Len(rules, 1)

	assert.NoError(esc.SetPunishRule(ctx, 1, 3, punish.Action{Kind: punish.Softban}))
	rules, err = esc.PunishRules(ctx, 1)
	assert.NoError(err)
	assert.Equal([]int{2, 3, 4}, []int{rules[0].Count, rules[1].Count, rules[2].Count})

	ok, err := esc.RemovePunishRule(ctx, 1, 3)
	assert.NoError(err)
	assert.True(ok)
	rules, err = esc.PunishRules(ctx, 1)
	assert.NoError(err)
	assert.Len(rules, 2)
}

func TestSweepIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	esc, store := testEscalator()

	sweeper := warn.NewSweeper(store, nil)
	sweeper.Clock = func() time.Time { return t0.Add(30 * time.Hour) }
	esc.Sweeper = sweeper

	_, err := esc.Warn(ctx, 1, 5, "mod", "old")
	assert.NoError(err)
	esc.Clock = func() time.Time { return t0.Add(20 * time.Hour) }
	_, err = esc.Warn(ctx, 1, 5, "mod", "recent")
	assert.NoError(err)

	assert.NoError(esc.SetExpiry(ctx, 1, 24, warn.ExpiryClear))

	n, err := sweeper.Sweep(ctx)
	assert.NoError(err)
	assert.Equal(int64(1), n)
	n, err = sweeper.Sweep(ctx)
	assert.NoError(err)
	assert.Equal(int64(0), n)

	ws, err := esc.Warnings(ctx, 1, 5)
	assert.NoError(err)
	assert.True(ws[0].Forgiven)
	assert.Equal(warn.ExpiryModerator, ws[0].ForgivenBy)
	assert.False(ws[1].Forgiven)
}

func TestSweeperRunOnTrigger(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	esc, store := testEscalator()

	sweeper := warn.NewSweeper(store, nil)
	sweeper.Clock = func() time.Time { return t0.Add(48 * time.Hour) }
	esc.Sweeper = sweeper

	_, err := esc.Warn(ctx, 1, 5, "mod", "")
	assert.NoError(err)

	done := make(chan error)
	go func() {
		done <- sweeper.Run(ctx, time.Hour)
	}()

	assert.NoError(esc.SetExpiry(ctx, 1, 1, warn.ExpiryDelete))
	assert.Eventually(func() bool {
		ws, err := store.Warnings(ctx, 1, 5)
		return err == nil && len(ws) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(<-done)
}
