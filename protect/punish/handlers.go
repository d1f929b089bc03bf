package punish

import (
	"context"
	"fmt"

	"github.com/guardianbot/guardian/protect"
)

// days of message history purged by a softban
const SoftbanPruneDays = 7

type Target struct {
	Community protect.CommunityID
	Member    protect.MemberID
	Reason    string
}

type handler interface {
	apply(ctx context.Context, ex Executor, a Action, t Target) error
}

type handlerFunc func(ctx context.Context, ex Executor, a Action, t Target) error

func (f handlerFunc) apply(ctx context.Context, ex Executor, a Action, t Target) error {
	return f(ctx, ex, a, t)
}

func muteHandler(chat, voice bool) handler {
	return handlerFunc(func(ctx context.Context, ex Executor, a Action, t Target) error {
		return ex.Mute(ctx, t.Community, t.Member, chat, voice, a.Duration, t.Reason)
	})
}

var handlers = map[Kind]handler{
	Mute:      muteHandler(true, true),
	VoiceMute: muteHandler(false, true),
	ChatMute:  muteHandler(true, false),
	Kick: handlerFunc(func(ctx context.Context, ex Executor, a Action, t Target) error {
		return ex.Kick(ctx, t.Community, t.Member, t.Reason)
	}),
	Ban: handlerFunc(func(ctx context.Context, ex Executor, a Action, t Target) error {
		return ex.Ban(ctx, t.Community, t.Member, 0, a.Duration, t.Reason)
	}),
	Softban: handlerFunc(func(ctx context.Context, ex Executor, a Action, t Target) error {
		if err := ex.Ban(ctx, t.Community, t.Member, SoftbanPruneDays, 0, t.Reason); err != nil {
			return err
		}
		return ex.Unban(ctx, t.Community, t.Member, "softban")
	}),
	RemoveRoles: handlerFunc(func(ctx context.Context, ex Executor, a Action, t Target) error {
		return ex.RemoveRoles(ctx, t.Community, t.Member, t.Reason)
	}),
	AddRole: handlerFunc(func(ctx context.Context, ex Executor, a Action, t Target) error {
		ok, err := ex.RoleExists(ctx, t.Community, a.Role)
		if err != nil {
			return fmt.Errorf("checking role %s: %w", a.Role, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", protect.ErrRoleNotFound, a.Role)
		}
		return ex.AddRole(ctx, t.Community, t.Member, a.Role, a.Duration, t.Reason)
	}),
	Timeout: handlerFunc(func(ctx context.Context, ex Executor, a Action, t Target) error {
		return ex.Timeout(ctx, t.Community, t.Member, a.Duration, t.Reason)
	}),
}

// Apply executes the action against a single member.
func (a Action) Apply(ctx context.Context, ex Executor, t Target) error {
	h, ok := handlers[a.Kind]
	if !ok {
		return fmt.Errorf("no handler for punishment %s", a.Kind)
	}
	return h.apply(ctx, ex, a, t)
}
