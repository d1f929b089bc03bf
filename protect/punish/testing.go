package punish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect"
)

// Call is one operation observed by RecordingExecutor.
type Call struct {
	Op        string
	Community protect.CommunityID
	Member    protect.MemberID
	Role      protect.RoleID
	Duration  time.Duration
	Reason    string
}

// RecordingExecutor is an in-memory Executor for tests. Intentionally exported, for use in other packages.
type RecordingExecutor struct {
	lk    sync.Mutex
	calls []Call

	// members for which every operation fails
	FailMembers map[protect.MemberID]bool
	// roles reported as present by RoleExists; nil means every role exists
	Roles map[protect.RoleID]bool
	// optional artificial latency per call
	Delay time.Duration
}

var _ Executor = (*RecordingExecutor)(nil)

func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{
		FailMembers: make(map[protect.MemberID]bool),
	}
}

func (r *RecordingExecutor) Calls() []Call {
	r.lk.Lock()
	defer r.lk.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *RecordingExecutor) record(ctx context.Context, c Call) error {
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.FailMembers[c.Member] {
		return fmt.Errorf("%s failed for member %s", c.Op, c.Member)
	}
	r.calls = append(r.calls, c)
	return nil
}

func (r *RecordingExecutor) Mute(ctx context.Context, c protect.CommunityID, m protect.MemberID, chat, voice bool, d time.Duration, reason string) error {
	op := "mute"
	if !chat {
		op = "voice-mute"
	} else if !voice {
		op = "chat-mute"
	}
	return r.record(ctx, Call{Op: op, Community: c, Member: m, Duration: d, Reason: reason})
}

func (r *RecordingExecutor) Kick(ctx context.Context, c protect.CommunityID, m protect.MemberID, reason string) error {
	return r.record(ctx, Call{Op: "kick", Community: c, Member: m, Reason: reason})
}

func (r *RecordingExecutor) Ban(ctx context.Context, c protect.CommunityID, m protect.MemberID, pruneDays int, d time.Duration, reason string) error {
	return r.record(ctx, Call{Op: "ban", Community: c, Member: m, Duration: d, Reason: reason})
}

func (r *RecordingExecutor) Unban(ctx context.Context, c protect.CommunityID, m protect.MemberID, reason string) error {
	return r.record(ctx, Call{Op: "unban", Community: c, Member: m, Reason: reason})
}

func (r *RecordingExecutor) RemoveRoles(ctx context.Context, c protect.CommunityID, m protect.MemberID, reason string) error {
	return r.record(ctx, Call{Op: "remove-roles", Community: c, Member: m, Reason: reason})
}

func (r *RecordingExecutor) AddRole(ctx context.Context, c protect.CommunityID, m protect.MemberID, role protect.RoleID, d time.Duration, reason string) error {
	return r.record(ctx, Call{Op: "add-role", Community: c, Member: m, Role: role, Duration: d, Reason: reason})
}

func (r *RecordingExecutor) Timeout(ctx context.Context, c protect.CommunityID, m protect.MemberID, d time.Duration, reason string) error {
	return r.record(ctx, Call{Op: "timeout", Community: c, Member: m, Duration: d, Reason: reason})
}

func (r *RecordingExecutor) RoleExists(ctx context.Context, c protect.CommunityID, role protect.RoleID) (bool, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.Roles == nil {
		return true, nil
	}
	return r.Roles[role], nil
}
