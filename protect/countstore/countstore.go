// Per-community counters of violations and automatic actions, bucketed by UTC hour and day.
//
// The daily bucket also backs the automatic-action quota: Take reserves quota atomically, so concurrent violations in one community can never overshoot the limit together.
package countstore

import (
	"context"
	"fmt"
	"time"

	"github.com/guardianbot/guardian/protect"
)

type Period uint8

const (
	PeriodTotal Period = iota
	PeriodDay
	PeriodHour
)

var periods = []Period{PeriodTotal, PeriodDay, PeriodHour}

func (p Period) String() string {
	switch p {
	case PeriodTotal:
		return "total"
	case PeriodDay:
		return "day"
	case PeriodHour:
		return "hour"
	default:
		return fmt.Sprintf("period(%d)", uint8(p))
	}
}

// retention of a bucket once it stops being current; zero is forever
func (p Period) retention() time.Duration {
	switch p {
	case PeriodDay:
		return 48 * time.Hour
	case PeriodHour:
		return 2 * time.Hour
	default:
		return 0
	}
}

// bucketKey names the bucket of counter name for community c which is current at now.
func bucketKey(name string, c protect.CommunityID, p Period, now time.Time) string {
	now = now.UTC()
	switch p {
	case PeriodDay:
		return fmt.Sprintf("%s/%s/%s", name, c, now.Format(time.DateOnly))
	case PeriodHour:
		return fmt.Sprintf("%s/%s/%s", name, c, now.Format("2006-01-02T15"))
	default:
		return fmt.Sprintf("%s/%s", name, c)
	}
}

type CountStore interface {
	GetCount(ctx context.Context, name string, c protect.CommunityID, p Period) (int, error)
	// Add adds n to the current bucket of every period.
	Add(ctx context.Context, name string, c protect.CommunityID, n int) error
	// Take adds n to today's bucket only if the result stays within limit. Returns whether it did, and today's count afterwards.
	Take(ctx context.Context, name string, c protect.CommunityID, n, limit int) (bool, int, error)
}
