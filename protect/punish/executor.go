package punish

import (
	"context"
	"time"

	"github.com/guardianbot/guardian/protect"
)

// Executor performs moderation operations against the chat platform.
//
// A zero duration means "indefinite"; implementations are responsible for reverting timed punishments.
type Executor interface {
	// apply the community's mute role (chat) and/or server voice mute
	Mute(ctx context.Context, c protect.CommunityID, m protect.MemberID, chat, voice bool, d time.Duration, reason string) error
	Kick(ctx context.Context, c protect.CommunityID, m protect.MemberID, reason string) error
	Ban(ctx context.Context, c protect.CommunityID, m protect.MemberID, pruneDays int, d time.Duration, reason string) error
	Unban(ctx context.Context, c protect.CommunityID, m protect.MemberID, reason string) error
	RemoveRoles(ctx context.Context, c protect.CommunityID, m protect.MemberID, reason string) error
	AddRole(ctx context.Context, c protect.CommunityID, m protect.MemberID, r protect.RoleID, d time.Duration, reason string) error
	Timeout(ctx context.Context, c protect.CommunityID, m protect.MemberID, d time.Duration, reason string) error
	RoleExists(ctx context.Context, c protect.CommunityID, r protect.RoleID) (bool, error)
}
