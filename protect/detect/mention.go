package detect

import (
	"fmt"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/punish"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	MentionMinThreshold      = 2
	MentionMaxThreshold      = 100
	MentionMinSeconds        = 2
	MentionMaxSeconds        = 300
	MentionMaxPunishDuration = 180 * 24 * time.Hour
)

type MentionSettings struct {
	MaxMentionsInWindow int
	WindowSeconds       int
	IgnoreBots          bool
	Action              punish.Action
}

func (s MentionSettings) Validate() error {
	if s.MaxMentionsInWindow < MentionMinThreshold || s.MaxMentionsInWindow > MentionMaxThreshold {
		return fmt.Errorf("%w: mention threshold must be between %d and %d", protect.ErrInvalidSettings, MentionMinThreshold, MentionMaxThreshold)
	}
	if s.WindowSeconds < MentionMinSeconds || s.WindowSeconds > MentionMaxSeconds {
		return fmt.Errorf("%w: mention window must be between %d and %d seconds", protect.ErrInvalidSettings, MentionMinSeconds, MentionMaxSeconds)
	}
	if s.Action.Duration > MentionMaxPunishDuration {
		return fmt.Errorf("%w: mention punishment can last at most %s", protect.ErrInvalidSettings, MentionMaxPunishDuration)
	}
	return s.Action.Validate()
}

type MentionStats struct {
	Settings MentionSettings
	Tracked  int
}

type mentionState struct {
	lk       sync.RWMutex
	settings MentionSettings
	tracker  *burstTracker
	removed  bool
}

// MentionDetector tracks per-member mention counts within a rolling window, per community.
//
// A member's window opens at their first counted mention and lasts WindowSeconds; mentions after it closes start a new window.
type MentionDetector struct {
	states *xsync.MapOf[protect.CommunityID, *mentionState]
}

func NewMentionDetector() *MentionDetector {
	return &MentionDetector{
		states: xsync.NewMapOf[protect.CommunityID, *mentionState](),
	}
}

func (d *MentionDetector) Install(c protect.CommunityID, s MentionSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	span := seconds(s.WindowSeconds)
	st := &mentionState{
		settings: s,
		tracker: newBurstTracker(func(bc burstCounter, now time.Time) bool {
			return now.Sub(bc.first) >= span
		}),
	}
	if old, loaded := d.states.LoadAndStore(c, st); loaded {
		old.retire()
	}
	return nil
}

func (d *MentionDetector) Remove(c protect.CommunityID) bool {
	old, ok := d.states.LoadAndDelete(c)
	if ok {
		old.retire()
	}
	return ok
}

func (st *mentionState) retire() {
	st.lk.Lock()
	st.removed = true
	st.lk.Unlock()
}

func (d *MentionDetector) Stats(c protect.CommunityID) (MentionStats, bool) {
	st, ok := d.states.Load(c)
	if !ok {
		return MentionStats{}, false
	}
	st.lk.RLock()
	defer st.lk.RUnlock()
	return MentionStats{Settings: st.settings, Tracked: st.tracker.size()}, true
}

func (d *MentionDetector) Count(c protect.CommunityID, m protect.MemberID, now time.Time) int {
	st, ok := d.states.Load(c)
	if !ok {
		return 0
	}
	return st.tracker.count(m, now)
}

func (d *MentionDetector) OnMemberMessage(msg Message) *Violation {
	if msg.Bypass || msg.Mentions <= 0 {
		return nil
	}
	st, ok := d.states.Load(msg.Community)
	if !ok {
		return nil
	}

	st.lk.RLock()
	defer st.lk.RUnlock()
	if st.removed || (msg.IsBot && st.settings.IgnoreBots) {
		return nil
	}
	if _, triggered := st.tracker.hit(msg.Member, msg.Mentions, st.settings.MaxMentionsInWindow, msg.SentAt); !triggered {
		return nil
	}
	return &Violation{
		Community: msg.Community,
		Type:      protect.MentionFlood,
		Members:   []protect.MemberID{msg.Member},
		Action:    st.settings.Action,
		Reason:    "mention flood protection",
	}
}

func (d *MentionDetector) Compact(now time.Time) int {
	n := 0
	d.states.Range(func(c protect.CommunityID, st *mentionState) bool {
		n += st.tracker.compact(now)
		return true
	})
	return n
}
