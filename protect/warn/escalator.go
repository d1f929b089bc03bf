package warn

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/cachestore"
	"github.com/guardianbot/guardian/protect/punish"
)

// Escalator records warnings and decides which punishment rule, if any, a new warning triggers.
type Escalator struct {
	Store  Store
	Logger *slog.Logger
	// optional cache of punishment rules, keyed by community
	Cache cachestore.CacheStore[[]PunishRule]
	// optional; poked when a community's expiry settings change
	Sweeper *Sweeper
	Clock   func() time.Time
}

func NewEscalator(store Store, cache cachestore.CacheStore[[]PunishRule], logger *slog.Logger) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		Store:  store,
		Cache:  cache,
		Logger: logger.With("system", "warn"),
		Clock:  time.Now,
	}
}

// Warn persists a new warning and returns the punishment rule whose count equals the member's new active warning count, or nil.
func (e *Escalator) Warn(ctx context.Context, c protect.CommunityID, m protect.MemberID, moderator, reason string) (*PunishRule, error) {
	w := &Warning{
		Community: c,
		Member:    m,
		Reason:    reason,
		Moderator: moderator,
		IssuedAt:  e.Clock().UTC(),
	}
	active, err := e.Store.AddWarning(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("persisting warning: %w", err)
	}
	warningsIssued.Inc()

	rules, err := e.PunishRules(ctx, c)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if r.Count == active {
			e.Logger.Info("warning escalated", "community", c, "member", m, "count", active, "action", r.Action.String())
			rule := r
			return &rule, nil
		}
	}
	e.Logger.Debug("warning recorded", "community", c, "member", m, "count", active)
	return nil, nil
}

func (e *Escalator) Warnings(ctx context.Context, c protect.CommunityID, m protect.MemberID) ([]Warning, error) {
	return e.Store.Warnings(ctx, c, m)
}

func (e *Escalator) Forgive(ctx context.Context, c protect.CommunityID, m protect.MemberID, moderator string, index int) (int, error) {
	if index < 0 {
		return 0, fmt.Errorf("%w: negative warning index", protect.ErrInvalidSettings)
	}
	n, err := e.Store.Forgive(ctx, c, m, moderator, index)
	if err != nil {
		return 0, err
	}
	warningsForgiven.Add(float64(n))
	return n, nil
}

// PunishRules returns the community's rules ordered by count, consulting the cache first.
func (e *Escalator) PunishRules(ctx context.Context, c protect.CommunityID) ([]PunishRule, error) {
	if e.Cache != nil {
		rules, ok, err := e.Cache.Get(ctx, c.String())
		if err != nil {
			e.Logger.Warn("punishment rule cache read failed", "community", c, "err", err)
		} else if ok {
			return rules, nil
		}
	}

	rules, err := e.Store.PunishRules(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("loading punishment rules: %w", err)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Count < rules[j].Count })

	if e.Cache != nil {
		if err := e.Cache.Set(ctx, c.String(), rules); err != nil {
			e.Logger.Warn("punishment rule cache write failed", "community", c, "err", err)
		}
	}
	return rules, nil
}

func (e *Escalator) purgeRules(ctx context.Context, c protect.CommunityID) {
	if e.Cache == nil {
		return
	}
	if err := e.Cache.Purge(ctx, c.String()); err != nil {
		e.Logger.Warn("punishment rule cache purge failed", "community", c, "err", err)
	}
}

// SetPunishRule validates and stores a rule, replacing any rule with the same count.
func (e *Escalator) SetPunishRule(ctx context.Context, c protect.CommunityID, count int, a punish.Action) error {
	if count < 1 || count > MaxPunishCount {
		return fmt.Errorf("%w: warning count must be between 1 and %d", protect.ErrInvalidSettings, MaxPunishCount)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := e.Store.SetPunishRule(ctx, c, PunishRule{Count: count, Action: a}); err != nil {
		return err
	}
	e.purgeRules(ctx, c)
	return nil
}

func (e *Escalator) RemovePunishRule(ctx context.Context, c protect.CommunityID, count int) (bool, error) {
	ok, err := e.Store.DeletePunishRule(ctx, c, count)
	if err != nil {
		return false, err
	}
	e.purgeRules(ctx, c)
	return ok, nil
}

// SetExpiry configures warning expiry for the community and schedules an immediate sweep.
func (e *Escalator) SetExpiry(ctx context.Context, c protect.CommunityID, hours int, policy ExpiryPolicy) error {
	if hours < 0 || hours > MaxExpiryHours {
		return fmt.Errorf("%w: expiry must be between 0 and %d hours", protect.ErrInvalidSettings, MaxExpiryHours)
	}
	if policy != ExpiryClear && policy != ExpiryDelete {
		return fmt.Errorf("%w: unknown expiry policy", protect.ErrInvalidSettings)
	}
	if err := e.Store.SetWarnExpiry(ctx, ExpirySettings{Community: c, Hours: hours, Policy: policy}); err != nil {
		return err
	}
	if e.Sweeper != nil && hours > 0 {
		e.Sweeper.Trigger()
	}
	return nil
}
