// Adapter between the engine and Discord: a moderation executor backed by the REST API, and gateway handlers feeding events into the engine.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/punish"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// DefaultMuteRoleName is the role applied by chat mutes, looked up by name in each community.
var DefaultMuteRoleName = "Muted"

// Executor applies punishments through the Discord REST API. Timed punishments are reverted in-process; pending reversals are lost on restart.
type Executor struct {
	Session      *discordgo.Session
	Logger       *slog.Logger
	MuteRoleName string

	limiter *rate.Limiter

	lk     sync.Mutex
	timers map[string]*time.Timer
}

var _ punish.Executor = (*Executor)(nil)

// NewExecutor limits outbound moderation calls to perSecond (with a burst of the same size); zero means unlimited.
func NewExecutor(session *discordgo.Session, perSecond float64, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Executor{
		Session:      session,
		Logger:       logger.With("system", "discord-executor"),
		MuteRoleName: DefaultMuteRoleName,
		limiter:      rate.NewLimiter(limit, burst),
		timers:       make(map[string]*time.Timer),
	}
}

func parseSnowflake(raw string) (uint64, error) {
	return strconv.ParseUint(raw, 10, 64)
}

// opts waits for the rate limiter, then returns request options carrying ctx and the audit log reason.
func (ex *Executor) opts(ctx context.Context, reason string) ([]discordgo.RequestOption, error) {
	if err := ex.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return opts, nil
}

// after schedules a reversal, replacing any pending reversal with the same key.
func (ex *Executor) after(key string, d time.Duration, fn func(ctx context.Context) error) {
	if d <= 0 {
		return
	}
	ex.lk.Lock()
	defer ex.lk.Unlock()
	if t, ok := ex.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		ex.lk.Lock()
		if ex.timers[key] == t {
			delete(ex.timers, key)
		}
		ex.lk.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			ex.Logger.Warn("reverting timed punishment failed", "key", key, "err", err)
		}
	})
	ex.timers[key] = t
}

// Close cancels all pending reversals.
func (ex *Executor) Close() {
	ex.lk.Lock()
	defer ex.lk.Unlock()
	for k, t := range ex.timers {
		t.Stop()
		delete(ex.timers, k)
	}
}

func (ex *Executor) muteRole(ctx context.Context, guild string) (string, error) {
	opts, err := ex.opts(ctx, "")
	if err != nil {
		return "", err
	}
	roles, err := ex.Session.GuildRoles(guild, opts...)
	if err != nil {
		return "", err
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, ex.MuteRoleName) {
			return r.ID, nil
		}
	}
	return "", fmt.Errorf("community %s has no %q role", guild, ex.MuteRoleName)
}

func (ex *Executor) Mute(ctx context.Context, c protect.CommunityID, m protect.MemberID, chat, voice bool, d time.Duration, reason string) error {
	guild, user := c.String(), m.String()
	if chat {
		role, err := ex.muteRole(ctx, guild)
		if err != nil {
			return err
		}
		opts, err := ex.opts(ctx, reason)
		if err != nil {
			return err
		}
		if err := ex.Session.GuildMemberRoleAdd(guild, user, role, opts...); err != nil {
			return fmt.Errorf("adding mute role: %w", err)
		}
		ex.after("mute/"+guild+"/"+user, d, func(ctx context.Context) error {
			opts, err := ex.opts(ctx, "mute expired")
			if err != nil {
				return err
			}
			return ex.Session.GuildMemberRoleRemove(guild, user, role, opts...)
		})
	}
	if voice {
		opts, err := ex.opts(ctx, reason)
		if err != nil {
			return err
		}
		if err := ex.Session.GuildMemberMute(guild, user, true, opts...); err != nil {
			return fmt.Errorf("voice muting: %w", err)
		}
		ex.after("voice/"+guild+"/"+user, d, func(ctx context.Context) error {
			opts, err := ex.opts(ctx, "voice mute expired")
			if err != nil {
				return err
			}
			return ex.Session.GuildMemberMute(guild, user, false, opts...)
		})
	}
	return nil
}

func (ex *Executor) Kick(ctx context.Context, c protect.CommunityID, m protect.MemberID, reason string) error {
	opts, err := ex.opts(ctx, "")
	if err != nil {
		return err
	}
	return ex.Session.GuildMemberDeleteWithReason(c.String(), m.String(), reason, opts...)
}

func (ex *Executor) Ban(ctx context.Context, c protect.CommunityID, m protect.MemberID, pruneDays int, d time.Duration, reason string) error {
	opts, err := ex.opts(ctx, "")
	if err != nil {
		return err
	}
	guild, user := c.String(), m.String()
	if err := ex.Session.GuildBanCreateWithReason(guild, user, reason, pruneDays, opts...); err != nil {
		return err
	}
	ex.after("ban/"+guild+"/"+user, d, func(ctx context.Context) error {
		return ex.Unban(ctx, c, m, "ban expired")
	})
	return nil
}

func (ex *Executor) Unban(ctx context.Context, c protect.CommunityID, m protect.MemberID, reason string) error {
	opts, err := ex.opts(ctx, reason)
	if err != nil {
		return err
	}
	return ex.Session.GuildBanDelete(c.String(), m.String(), opts...)
}

func (ex *Executor) RemoveRoles(ctx context.Context, c protect.CommunityID, m protect.MemberID, reason string) error {
	opts, err := ex.opts(ctx, reason)
	if err != nil {
		return err
	}
	_, err = ex.Session.GuildMemberEdit(c.String(), m.String(), &discordgo.GuildMemberParams{Roles: &[]string{}}, opts...)
	return err
}

func (ex *Executor) AddRole(ctx context.Context, c protect.CommunityID, m protect.MemberID, r protect.RoleID, d time.Duration, reason string) error {
	opts, err := ex.opts(ctx, reason)
	if err != nil {
		return err
	}
	guild, user, role := c.String(), m.String(), r.String()
	if err := ex.Session.GuildMemberRoleAdd(guild, user, role, opts...); err != nil {
		return err
	}
	ex.after("role/"+guild+"/"+user+"/"+role, d, func(ctx context.Context) error {
		opts, err := ex.opts(ctx, "role expired")
		if err != nil {
			return err
		}
		return ex.Session.GuildMemberRoleRemove(guild, user, role, opts...)
	})
	return nil
}

func (ex *Executor) Timeout(ctx context.Context, c protect.CommunityID, m protect.MemberID, d time.Duration, reason string) error {
	opts, err := ex.opts(ctx, reason)
	if err != nil {
		return err
	}
	until := time.Now().Add(d)
	return ex.Session.GuildMemberTimeout(c.String(), m.String(), &until, opts...)
}

func (ex *Executor) RoleExists(ctx context.Context, c protect.CommunityID, r protect.RoleID) (bool, error) {
	if ex.Session.StateEnabled {
		if _, err := ex.Session.State.Role(c.String(), r.String()); err == nil {
			return true, nil
		}
	}
	opts, err := ex.opts(ctx, "")
	if err != nil {
		return false, err
	}
	roles, err := ex.Session.GuildRoles(c.String(), opts...)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.ID == r.String() {
			return true, nil
		}
	}
	return false, nil
}
