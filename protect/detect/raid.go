package detect

import (
	"fmt"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/punish"
	"github.com/guardianbot/guardian/protect/window"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	RaidMinThreshold      = 2
	RaidMaxThreshold      = 30
	RaidMinSeconds        = 2
	RaidMaxSeconds        = 300
	RaidMaxPunishDuration = 24 * time.Hour
)

type RaidSettings struct {
	Threshold     int
	WindowSeconds int
	Action        punish.Action
}

func (s RaidSettings) Validate() error {
	if s.Threshold < RaidMinThreshold || s.Threshold > RaidMaxThreshold {
		return fmt.Errorf("%w: raid threshold must be between %d and %d", protect.ErrInvalidSettings, RaidMinThreshold, RaidMaxThreshold)
	}
	if s.WindowSeconds < RaidMinSeconds || s.WindowSeconds > RaidMaxSeconds {
		return fmt.Errorf("%w: raid window must be between %d and %d seconds", protect.ErrInvalidSettings, RaidMinSeconds, RaidMaxSeconds)
	}
	if s.Action.Duration > RaidMaxPunishDuration {
		return fmt.Errorf("%w: raid punishment can last at most %s", protect.ErrInvalidSettings, RaidMaxPunishDuration)
	}
	return s.Action.Validate()
}

type RaidStats struct {
	Settings RaidSettings
	// members currently inside the join window
	Pending int
}

type raidState struct {
	lk       sync.Mutex
	settings RaidSettings
	pending  *window.Window[protect.MemberID]
	removed  bool
}

// RaidDetector tracks bursts of member joins per community.
type RaidDetector struct {
	states *xsync.MapOf[protect.CommunityID, *raidState]
}

func NewRaidDetector() *RaidDetector {
	return &RaidDetector{
		states: xsync.NewMapOf[protect.CommunityID, *raidState](),
	}
}

// Install validates settings and (re)creates the community's state, discarding any pending joins.
func (d *RaidDetector) Install(c protect.CommunityID, s RaidSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st := &raidState{
		settings: s,
		pending:  window.New[protect.MemberID](seconds(s.WindowSeconds)),
	}
	if old, loaded := d.states.LoadAndStore(c, st); loaded {
		old.retire()
	}
	return nil
}

// Remove discards the community's state. Returns false if raid protection was not installed.
func (d *RaidDetector) Remove(c protect.CommunityID) bool {
	old, ok := d.states.LoadAndDelete(c)
	if ok {
		old.retire()
	}
	return ok
}

func (st *raidState) retire() {
	st.lk.Lock()
	st.removed = true
	st.pending.Drain()
	st.lk.Unlock()
}

func (d *RaidDetector) Stats(c protect.CommunityID, now time.Time) (RaidStats, bool) {
	st, ok := d.states.Load(c)
	if !ok {
		return RaidStats{}, false
	}
	st.lk.Lock()
	defer st.lk.Unlock()
	return RaidStats{Settings: st.settings, Pending: st.pending.Len(now)}, true
}

// OnMemberJoin records a join and returns a violation containing every pending member once the threshold is reached.
//
// Duplicate joins of a member still inside the window are ignored. Count, drain, and reset happen under the community lock, so concurrent joins can trigger at most once per batch.
func (d *RaidDetector) OnMemberJoin(c protect.CommunityID, m protect.MemberID, now time.Time) *Violation {
	st, ok := d.states.Load(c)
	if !ok {
		return nil
	}

	st.lk.Lock()
	defer st.lk.Unlock()
	if st.removed {
		return nil
	}
	if !st.pending.Add(m, now) {
		return nil
	}
	if st.pending.Len(now) < st.settings.Threshold {
		return nil
	}
	return &Violation{
		Community: c,
		Type:      protect.Raiding,
		Members:   st.pending.Drain(),
		Action:    st.settings.Action,
		Reason:    "raid protection",
	}
}

// Compact drops expired joins across all communities, returning the number dropped.
func (d *RaidDetector) Compact(now time.Time) int {
	n := 0
	d.states.Range(func(c protect.CommunityID, st *raidState) bool {
		st.lk.Lock()
		n += st.pending.Compact(now)
		st.lk.Unlock()
		return true
	})
	return n
}
