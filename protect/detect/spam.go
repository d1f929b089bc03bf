package detect

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/punish"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	SpamMinThreshold      = 2
	SpamMaxThreshold      = 10
	SpamMinResetSeconds   = 1
	SpamMaxResetSeconds   = 3600
	DefaultSpamResetSecs  = 30
	SpamMaxPunishDuration = 180 * 24 * time.Hour
)

type SpamSettings struct {
	MessageThreshold int
	// a member's count restarts at 1 when more than this many seconds pass between two of their messages; zero means DefaultSpamResetSecs
	BurstResetSeconds int
	Action            punish.Action
	IgnoredChannels   []protect.ChannelID
}

func (s SpamSettings) resetAfter() time.Duration {
	if s.BurstResetSeconds == 0 {
		return seconds(DefaultSpamResetSecs)
	}
	return seconds(s.BurstResetSeconds)
}

func (s SpamSettings) Validate() error {
	if s.MessageThreshold < SpamMinThreshold || s.MessageThreshold > SpamMaxThreshold {
		return fmt.Errorf("%w: spam threshold must be between %d and %d", protect.ErrInvalidSettings, SpamMinThreshold, SpamMaxThreshold)
	}
	if s.BurstResetSeconds != 0 && (s.BurstResetSeconds < SpamMinResetSeconds || s.BurstResetSeconds > SpamMaxResetSeconds) {
		return fmt.Errorf("%w: spam burst reset must be between %d and %d seconds", protect.ErrInvalidSettings, SpamMinResetSeconds, SpamMaxResetSeconds)
	}
	if s.Action.Duration > SpamMaxPunishDuration {
		return fmt.Errorf("%w: spam punishment can last at most %s", protect.ErrInvalidSettings, SpamMaxPunishDuration)
	}
	return s.Action.Validate()
}

type SpamStats struct {
	Settings SpamSettings
	// members with a live message counter
	Tracked int
}

type spamState struct {
	// read-locked by message processing; write-locked to toggle ignored channels or retire the state
	lk       sync.RWMutex
	settings SpamSettings
	ignored  map[protect.ChannelID]bool
	tracker  *burstTracker
	removed  bool
}

func (st *spamState) snapshot() SpamSettings {
	s := st.settings
	s.IgnoredChannels = make([]protect.ChannelID, 0, len(st.ignored))
	for ch := range st.ignored {
		s.IgnoredChannels = append(s.IgnoredChannels, ch)
	}
	sort.Slice(s.IgnoredChannels, func(i, j int) bool { return s.IgnoredChannels[i] < s.IgnoredChannels[j] })
	return s
}

// SpamDetector tracks per-member message bursts per community.
type SpamDetector struct {
	states *xsync.MapOf[protect.CommunityID, *spamState]
}

func NewSpamDetector() *SpamDetector {
	return &SpamDetector{
		states: xsync.NewMapOf[protect.CommunityID, *spamState](),
	}
}

func (d *SpamDetector) Install(c protect.CommunityID, s SpamSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	reset := s.resetAfter()
	st := &spamState{
		settings: s,
		ignored:  make(map[protect.ChannelID]bool, len(s.IgnoredChannels)),
		tracker: newBurstTracker(func(bc burstCounter, now time.Time) bool {
			return now.Sub(bc.last) > reset
		}),
	}
	for _, ch := range s.IgnoredChannels {
		st.ignored[ch] = true
	}
	st.settings.IgnoredChannels = nil
	if old, loaded := d.states.LoadAndStore(c, st); loaded {
		old.retire()
	}
	return nil
}

func (d *SpamDetector) Remove(c protect.CommunityID) bool {
	old, ok := d.states.LoadAndDelete(c)
	if ok {
		old.retire()
	}
	return ok
}

func (st *spamState) retire() {
	st.lk.Lock()
	st.removed = true
	st.lk.Unlock()
}

// ToggleIgnore flips whether messages in the channel are ignored. Returns the new ignored state, or ErrNotRunning.
func (d *SpamDetector) ToggleIgnore(c protect.CommunityID, ch protect.ChannelID) (bool, error) {
	st, ok := d.states.Load(c)
	if !ok {
		return false, protect.ErrNotRunning
	}
	st.lk.Lock()
	defer st.lk.Unlock()
	if st.removed {
		return false, protect.ErrNotRunning
	}
	if st.ignored[ch] {
		delete(st.ignored, ch)
		return false, nil
	}
	st.ignored[ch] = true
	return true, nil
}

func (d *SpamDetector) Stats(c protect.CommunityID) (SpamStats, bool) {
	st, ok := d.states.Load(c)
	if !ok {
		return SpamStats{}, false
	}
	st.lk.RLock()
	defer st.lk.RUnlock()
	return SpamStats{Settings: st.snapshot(), Tracked: st.tracker.size()}, true
}

// Count is the member's current burst count (zero if none, or if the burst has lapsed).
func (d *SpamDetector) Count(c protect.CommunityID, m protect.MemberID, now time.Time) int {
	st, ok := d.states.Load(c)
	if !ok {
		return 0
	}
	return st.tracker.count(m, now)
}

// OnMemberMessage counts a message towards the author's burst, returning a single-member violation when the threshold is reached.
func (d *SpamDetector) OnMemberMessage(msg Message) *Violation {
	if msg.Bypass {
		return nil
	}
	st, ok := d.states.Load(msg.Community)
	if !ok {
		return nil
	}

	st.lk.RLock()
	defer st.lk.RUnlock()
	if st.removed || st.ignored[msg.Channel] {
		return nil
	}
	if _, triggered := st.tracker.hit(msg.Member, 1, st.settings.MessageThreshold, msg.SentAt); !triggered {
		return nil
	}
	return &Violation{
		Community: msg.Community,
		Type:      protect.Spamming,
		Members:   []protect.MemberID{msg.Member},
		Action:    st.settings.Action,
		Reason:    "spam protection",
	}
}

func (d *SpamDetector) Compact(now time.Time) int {
	n := 0
	d.states.Range(func(c protect.CommunityID, st *spamState) bool {
		n += st.tracker.compact(now)
		return true
	})
	return n
}
