package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/detect"
	"github.com/guardianbot/guardian/protect/punish"
	"github.com/guardianbot/guardian/protect/warn"
)

// similar to an HTTP server, we want to recover any panics from event processing
func (eng *Engine) recoverEvent(typ string, c protect.CommunityID) {
	if r := recover(); r != nil {
		eventPanicCount.WithLabelValues(typ).Inc()
		eng.Logger.Error("event processing exception", "err", r, "community", c, "type", typ)
	}
}

func (eng *Engine) ProcessMemberJoined(ctx context.Context, c protect.CommunityID, m protect.MemberID, joinedAt time.Time) {
	defer eng.recoverEvent("member-joined", c)
	eventProcessCount.WithLabelValues("member-joined").Inc()

	if v := eng.Raid.OnMemberJoin(c, m, joinedAt); v != nil {
		eng.handoff(ctx, v)
	}
}

// ProcessMessage runs both the spam and the mention flood detectors on msg.
func (eng *Engine) ProcessMessage(ctx context.Context, msg detect.Message) {
	eng.processSpam(ctx, msg)
	eng.processMention(ctx, msg)
}

func (eng *Engine) processSpam(ctx context.Context, msg detect.Message) {
	defer eng.recoverEvent("message-spam", msg.Community)
	eventProcessCount.WithLabelValues("message-spam").Inc()

	if v := eng.Spam.OnMemberMessage(msg); v != nil {
		eng.handoff(ctx, v)
	}
}

func (eng *Engine) processMention(ctx context.Context, msg detect.Message) {
	defer eng.recoverEvent("message-mention", msg.Community)
	eventProcessCount.WithLabelValues("message-mention").Inc()

	if v := eng.Mention.OnMemberMessage(msg); v != nil {
		eng.handoff(ctx, v)
	}
}

// ProcessRoleRemoved disables every protection whose punishment adds the deleted role.
func (eng *Engine) ProcessRoleRemoved(ctx context.Context, c protect.CommunityID, r protect.RoleID) {
	defer eng.recoverEvent("role-removed", c)
	eventProcessCount.WithLabelValues("role-removed").Inc()

	uses := func(a punish.Action) bool {
		return a.Kind == punish.AddRole && a.Role == r
	}
	var affected []protect.ProtectionType
	if st, ok := eng.Raid.Stats(c, eng.Clock()); ok && uses(st.Settings.Action) {
		affected = append(affected, protect.Raiding)
	}
	if st, ok := eng.Spam.Stats(c); ok && uses(st.Settings.Action) {
		affected = append(affected, protect.Spamming)
	}
	if st, ok := eng.Mention.Stats(c); ok && uses(st.Settings.Action) {
		affected = append(affected, protect.MentionFlood)
	}
	for _, t := range affected {
		eng.autoStop(ctx, t, c, fmt.Sprintf("role %s was deleted", r))
	}
}

// Warn records a warning and executes the punishment rule it escalates to, if any. A rule adding a role which no longer exists is logged and skipped.
func (eng *Engine) Warn(ctx context.Context, c protect.CommunityID, m protect.MemberID, moderator, reason string) (*warn.PunishRule, error) {
	rule, err := eng.Warns.Warn(ctx, c, m, moderator, reason)
	if err != nil || rule == nil {
		return rule, err
	}
	v := &detect.Violation{
		Community: c,
		Type:      protect.Warning,
		Members:   []protect.MemberID{m},
		Action:    rule.Action,
		Reason:    fmt.Sprintf("reached %d warnings", rule.Count),
	}
	eng.dispatch(ctx, v)
	return rule, nil
}

func (eng *Engine) Forgive(ctx context.Context, c protect.CommunityID, m protect.MemberID, moderator string, index int) (int, error) {
	return eng.Warns.Forgive(ctx, c, m, moderator, index)
}

func (eng *Engine) enqueue(ctx context.Context, typ, key string, fn func(ctx context.Context)) error {
	if eng.Scheduler == nil {
		fn(ctx)
		return nil
	}
	err := eng.Scheduler.AddWork(ctx, key, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
	if err != nil {
		eventDropCount.WithLabelValues(typ).Inc()
		eng.Logger.Warn("dropping event", "type", typ, "key", key, "err", err)
	}
	return err
}

// HandleMemberJoined queues the join for raid detection without waiting for it to be processed.
func (eng *Engine) HandleMemberJoined(ctx context.Context, c protect.CommunityID, m protect.MemberID, joinedAt time.Time) error {
	return eng.enqueue(ctx, "member-joined", "raid/"+c.String(), func(ctx context.Context) {
		eng.ProcessMemberJoined(ctx, c, m, joinedAt)
	})
}

// HandleMessage queues the message for the spam and mention detectors, which run independently of each other.
func (eng *Engine) HandleMessage(ctx context.Context, msg detect.Message) error {
	err := eng.enqueue(ctx, "message-spam", "spam/"+msg.Community.String(), func(ctx context.Context) {
		eng.processSpam(ctx, msg)
	})
	if msg.Mentions == 0 {
		return err
	}
	if merr := eng.enqueue(ctx, "message-mention", "mention/"+msg.Community.String(), func(ctx context.Context) {
		eng.processMention(ctx, msg)
	}); merr != nil {
		return merr
	}
	return err
}

func (eng *Engine) HandleRoleRemoved(ctx context.Context, c protect.CommunityID, r protect.RoleID) error {
	return eng.enqueue(ctx, "role-removed", "config/"+c.String(), func(ctx context.Context) {
		eng.ProcessRoleRemoved(ctx, c, r)
	})
}

func (eng *Engine) HandleWarn(ctx context.Context, c protect.CommunityID, m protect.MemberID, moderator, reason string) error {
	return eng.enqueue(ctx, "warn", "warn/"+c.String(), func(ctx context.Context) {
		defer eng.recoverEvent("warn", c)
		if _, err := eng.Warn(ctx, c, m, moderator, reason); err != nil {
			eng.Logger.Error("warning failed", "community", c, "member", m, "err", err)
		}
	})
}
