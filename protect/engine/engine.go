package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/countstore"
	"github.com/guardianbot/guardian/protect/detect"
	"github.com/guardianbot/guardian/protect/punish"
	"github.com/guardianbot/guardian/protect/scheduler"
	"github.com/guardianbot/guardian/protect/settings"
	"github.com/guardianbot/guardian/protect/warn"
)

const (
	DefaultActionTimeout      = 10 * time.Second
	DefaultMaxParallelActions = 8
)

// Coordinates protections for every community: owns the detector registries, routes events to them, and executes and announces the resulting punishments.
//
// Construct with New; the optional fields (Notifier, Counters, Scheduler, Dispatcher) may be nil.
type Engine struct {
	Logger   *slog.Logger
	Settings settings.Store
	Executor punish.Executor
	Notifier Notifier
	Counters countstore.CountStore

	Raid    *detect.RaidDetector
	Spam    *detect.SpamDetector
	Mention *detect.MentionDetector
	Warns   *warn.Escalator

	// when set, Handle* methods process events asynchronously, ordered per detector and community
	Scheduler *scheduler.Scheduler
	// when set, detector violations are punished on this pool, ordered per community, so detection never waits on moderation calls
	Dispatcher *scheduler.Scheduler

	// upper bound on each individual moderation call
	ActionTimeout time.Duration
	// moderation calls in flight for a single violation
	MaxParallelActions int
	// automatic punishments per community per day (circuit breaker); zero disables
	QuotaActionsDay int

	Clock func() time.Time

	// serializes configuration changes so that persisted and installed settings agree
	configLk sync.Mutex
}

func New(store settings.Store, ex punish.Executor, warns *warn.Escalator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Logger:             logger.With("system", "engine"),
		Settings:           store,
		Executor:           ex,
		Raid:               detect.NewRaidDetector(),
		Spam:               detect.NewSpamDetector(),
		Mention:            detect.NewMentionDetector(),
		Warns:              warns,
		ActionTimeout:      DefaultActionTimeout,
		MaxParallelActions: DefaultMaxParallelActions,
		Clock:              time.Now,
	}
}

// Stats is a snapshot of the protections running for one community. Nil members are not running.
type Stats struct {
	Raid    *detect.RaidStats
	Spam    *detect.SpamStats
	Mention *detect.MentionStats
	// violations so far today (UTC), by protection type
	TriggeredToday map[protect.ProtectionType]int
}

func (eng *Engine) StartAntiRaid(ctx context.Context, c protect.CommunityID, s detect.RaidSettings) (*detect.RaidStats, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	eng.configLk.Lock()
	defer eng.configLk.Unlock()
	if err := eng.Settings.SaveRaid(ctx, c, s); err != nil {
		return nil, fmt.Errorf("persisting raid settings: %w", err)
	}
	if err := eng.Raid.Install(c, s); err != nil {
		return nil, err
	}
	eng.Logger.Info("raid protection started", "community", c, "threshold", s.Threshold, "window", s.WindowSeconds, "action", s.Action.String())
	st, _ := eng.Raid.Stats(c, eng.Clock())
	return &st, nil
}

func (eng *Engine) StartAntiSpam(ctx context.Context, c protect.CommunityID, s detect.SpamSettings) (*detect.SpamStats, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	eng.configLk.Lock()
	defer eng.configLk.Unlock()
	// replaces any previously persisted ignore-list
	if err := eng.Settings.ReplaceSpam(ctx, c, s); err != nil {
		return nil, fmt.Errorf("persisting spam settings: %w", err)
	}
	if err := eng.Spam.Install(c, s); err != nil {
		return nil, err
	}
	eng.Logger.Info("spam protection started", "community", c, "threshold", s.MessageThreshold, "action", s.Action.String())
	st, _ := eng.Spam.Stats(c)
	return &st, nil
}

func (eng *Engine) StartAntiMention(ctx context.Context, c protect.CommunityID, s detect.MentionSettings) (*detect.MentionStats, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	eng.configLk.Lock()
	defer eng.configLk.Unlock()
	if err := eng.Settings.SaveMention(ctx, c, s); err != nil {
		return nil, fmt.Errorf("persisting mention settings: %w", err)
	}
	if err := eng.Mention.Install(c, s); err != nil {
		return nil, err
	}
	eng.Logger.Info("mention protection started", "community", c, "max", s.MaxMentionsInWindow, "window", s.WindowSeconds, "action", s.Action.String())
	st, _ := eng.Mention.Stats(c)
	return &st, nil
}

// StopAntiRaid returns false if raid protection was not running for the community.
func (eng *Engine) StopAntiRaid(ctx context.Context, c protect.CommunityID) (bool, error) {
	eng.configLk.Lock()
	defer eng.configLk.Unlock()
	ok := eng.Raid.Remove(c)
	if err := eng.Settings.DeleteRaid(ctx, c); err != nil {
		return ok, fmt.Errorf("deleting raid settings: %w", err)
	}
	if ok {
		eng.Logger.Info("raid protection stopped", "community", c)
	}
	return ok, nil
}

func (eng *Engine) StopAntiSpam(ctx context.Context, c protect.CommunityID) (bool, error) {
	eng.configLk.Lock()
	defer eng.configLk.Unlock()
	ok := eng.Spam.Remove(c)
	if err := eng.Settings.DeleteSpam(ctx, c); err != nil {
		return ok, fmt.Errorf("deleting spam settings: %w", err)
	}
	if ok {
		eng.Logger.Info("spam protection stopped", "community", c)
	}
	return ok, nil
}

func (eng *Engine) StopAntiMention(ctx context.Context, c protect.CommunityID) (bool, error) {
	eng.configLk.Lock()
	defer eng.configLk.Unlock()
	ok := eng.Mention.Remove(c)
	if err := eng.Settings.DeleteMention(ctx, c); err != nil {
		return ok, fmt.Errorf("deleting mention settings: %w", err)
	}
	if ok {
		eng.Logger.Info("mention protection stopped", "community", c)
	}
	return ok, nil
}

func (eng *Engine) stop(ctx context.Context, t protect.ProtectionType, c protect.CommunityID) (bool, error) {
	switch t {
	case protect.Raiding:
		return eng.StopAntiRaid(ctx, c)
	case protect.Spamming:
		return eng.StopAntiSpam(ctx, c)
	case protect.MentionFlood:
		return eng.StopAntiMention(ctx, c)
	default:
		return false, nil
	}
}

// Ignore toggles whether spam protection skips the channel, returning true if the channel is now ignored.
func (eng *Engine) Ignore(ctx context.Context, c protect.CommunityID, ch protect.ChannelID) (bool, error) {
	eng.configLk.Lock()
	defer eng.configLk.Unlock()
	ignored, err := eng.Spam.ToggleIgnore(c, ch)
	if err != nil {
		return false, err
	}
	if err := eng.Settings.SetSpamIgnore(ctx, c, ch, ignored); err != nil {
		// keep the detector consistent with what is persisted
		if restored, rerr := eng.Spam.ToggleIgnore(c, ch); rerr != nil || restored == ignored {
			eng.Logger.Error("ignored channels out of sync with settings store", "community", c, "channel", ch, "ignored", ignored, "err", rerr)
		}
		return false, fmt.Errorf("persisting ignored channel: %w", err)
	}
	return ignored, nil
}

func (eng *Engine) GetStats(ctx context.Context, c protect.CommunityID) Stats {
	var out Stats
	if st, ok := eng.Raid.Stats(c, eng.Clock()); ok {
		out.Raid = &st
	}
	if st, ok := eng.Spam.Stats(c); ok {
		out.Spam = &st
	}
	if st, ok := eng.Mention.Stats(c); ok {
		out.Mention = &st
	}
	if eng.Counters != nil {
		out.TriggeredToday = make(map[protect.ProtectionType]int)
		for _, t := range []protect.ProtectionType{protect.Raiding, protect.Spamming, protect.MentionFlood, protect.Warning} {
			n, err := eng.Counters.GetCount(ctx, triggeredCounterName(t), c, countstore.PeriodDay)
			if err != nil {
				eng.Logger.Warn("reading trigger counter", "community", c, "type", t, "err", err)
				continue
			}
			out.TriggeredToday[t] = n
		}
	}
	return out
}

// Restore installs every persisted protection. Settings which no longer validate are logged and skipped.
func (eng *Engine) Restore(ctx context.Context) (int, error) {
	all, err := eng.Settings.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading protection settings: %w", err)
	}
	n := 0
	for _, p := range all {
		logger := eng.Logger.With("community", p.Community)
		if p.Raid != nil {
			if err := eng.Raid.Install(p.Community, *p.Raid); err != nil {
				logger.Warn("skipping persisted raid settings", "err", err)
			} else {
				n++
			}
		}
		if p.Spam != nil {
			if err := eng.Spam.Install(p.Community, *p.Spam); err != nil {
				logger.Warn("skipping persisted spam settings", "err", err)
			} else {
				n++
			}
		}
		if p.Mention != nil {
			if err := eng.Mention.Install(p.Community, *p.Mention); err != nil {
				logger.Warn("skipping persisted mention settings", "err", err)
			} else {
				n++
			}
		}
	}
	eng.Logger.Info("restored protections", "communities", len(all), "protections", n)
	return n, nil
}

// RunJanitor periodically drops expired window entries and burst counters, until ctx is cancelled.
func (eng *Engine) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		now := eng.Clock()
		raid := eng.Raid.Compact(now)
		spam := eng.Spam.Compact(now)
		mention := eng.Mention.Compact(now)
		if raid+spam+mention > 0 {
			eng.Logger.Debug("compacted detector state", "raid", raid, "spam", spam, "mention", mention)
		}
	}
}
