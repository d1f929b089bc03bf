package engine

import (
	"context"
	"log/slog"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/punish"
)

// Notification announces one triggered violation, sent once regardless of how many members were punished successfully.
type Notification struct {
	Community protect.CommunityID
	Type      protect.ProtectionType
	Action    punish.Action
	Members   []protect.MemberID
	// subset of Members for which the punishment failed
	Failed []protect.MemberID
	// true if the daily action quota suppressed execution
	Suppressed bool
	Reason     string
}

// Interface for a type that can handle sending notifications
type Notifier interface {
	SendViolation(ctx context.Context, n *Notification) error
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) SendViolation(ctx context.Context, v *Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("violation triggered",
		"community", v.Community,
		"type", v.Type.String(),
		"action", v.Action.String(),
		"members", len(v.Members),
		"failed", len(v.Failed),
		"suppressed", v.Suppressed,
	)
	return nil
}

// MultiNotifier fans out to every wrapped notifier, returning the first error.
type MultiNotifier []Notifier

func (m MultiNotifier) SendViolation(ctx context.Context, v *Notification) error {
	var first error
	for _, n := range m {
		if err := n.SendViolation(ctx, v); err != nil && first == nil {
			first = err
		}
	}
	return first
}
