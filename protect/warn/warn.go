// Warning bookkeeping and automatic punishment escalation.
//
// Warnings are append-only records. Forgiving a warning is a soft mutation; only an expiry policy of "delete" removes rows. A community maps warning counts to punishment rules: a rule fires when a member's active (non-forgiven) warning count becomes exactly the rule's count.
package warn

import (
	"context"
	"fmt"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/punish"
)

type Warning struct {
	ID         uint64
	Community  protect.CommunityID
	Member     protect.MemberID
	Reason     string
	Moderator  string
	Forgiven   bool
	ForgivenBy string
	IssuedAt   time.Time
}

type PunishRule struct {
	Count  int
	Action punish.Action
}

type ExpiryPolicy uint8

const (
	// mark expired warnings as forgiven
	ExpiryClear ExpiryPolicy = iota + 1
	// hard delete expired warnings
	ExpiryDelete
)

func (p ExpiryPolicy) String() string {
	switch p {
	case ExpiryClear:
		return "clear"
	case ExpiryDelete:
		return "delete"
	default:
		return "unknown"
	}
}

func ParseExpiryPolicy(raw string) (ExpiryPolicy, error) {
	switch raw {
	case "clear":
		return ExpiryClear, nil
	case "delete":
		return ExpiryDelete, nil
	default:
		return 0, fmt.Errorf("%w: unknown expiry policy %q", protect.ErrInvalidSettings, raw)
	}
}

type ExpirySettings struct {
	Community protect.CommunityID
	// zero disables expiry
	Hours  int
	Policy ExpiryPolicy
}

const (
	MaxPunishCount = 100
	MaxExpiryHours = 24 * 366
	// ForgivenBy value recorded by the expiry sweeper
	ExpiryModerator = "expiry"
)

// Store persists warnings, punishment rules, and expiry settings.
type Store interface {
	// AddWarning appends w (assigning ID) and returns the member's active warning count including w. The add and the count are atomic with respect to other calls for the same member.
	AddWarning(ctx context.Context, w *Warning) (int, error)
	// oldest first
	Warnings(ctx context.Context, c protect.CommunityID, m protect.MemberID) ([]Warning, error)
	// Forgive marks warnings forgiven: index 0 forgives all active warnings, otherwise the index-th active warning (1-based, oldest first). Returns the number of warnings changed.
	Forgive(ctx context.Context, c protect.CommunityID, m protect.MemberID, moderator string, index int) (int, error)

	PunishRules(ctx context.Context, c protect.CommunityID) ([]PunishRule, error)
	SetPunishRule(ctx context.Context, c protect.CommunityID, r PunishRule) error
	DeletePunishRule(ctx context.Context, c protect.CommunityID, count int) (bool, error)

	SetWarnExpiry(ctx context.Context, s ExpirySettings) error
	// only communities with Hours > 0
	WarnExpiries(ctx context.Context) ([]ExpirySettings, error)
	// ExpireWarnings applies policy to active warnings issued before cutoff, returning the number affected. Already forgiven or deleted warnings are never touched.
	ExpireWarnings(ctx context.Context, c protect.CommunityID, cutoff time.Time, policy ExpiryPolicy) (int64, error)
}
