package settings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/detect"
	"github.com/guardianbot/guardian/protect/warn"
)

type memberKey struct {
	c protect.CommunityID
	m protect.MemberID
}

// MemStore keeps everything in process memory. Used in tests and for ephemeral deployments.
type MemStore struct {
	lk       sync.Mutex
	raid     map[protect.CommunityID]detect.RaidSettings
	spam     map[protect.CommunityID]detect.SpamSettings
	ignored  map[protect.CommunityID]map[protect.ChannelID]bool
	mention  map[protect.CommunityID]detect.MentionSettings
	warnings map[memberKey][]warn.Warning
	rules    map[protect.CommunityID]map[int]warn.PunishRule
	expiry   map[protect.CommunityID]warn.ExpirySettings
	nextID   uint64
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		raid:     make(map[protect.CommunityID]detect.RaidSettings),
		spam:     make(map[protect.CommunityID]detect.SpamSettings),
		ignored:  make(map[protect.CommunityID]map[protect.ChannelID]bool),
		mention:  make(map[protect.CommunityID]detect.MentionSettings),
		warnings: make(map[memberKey][]warn.Warning),
		rules:    make(map[protect.CommunityID]map[int]warn.PunishRule),
		expiry:   make(map[protect.CommunityID]warn.ExpirySettings),
	}
}

func (s *MemStore) SaveRaid(ctx context.Context, c protect.CommunityID, rs detect.RaidSettings) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.raid[c] = rs
	return nil
}

func (s *MemStore) DeleteRaid(ctx context.Context, c protect.CommunityID) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.raid, c)
	return nil
}

func (s *MemStore) ReplaceSpam(ctx context.Context, c protect.CommunityID, ss detect.SpamSettings) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	set := make(map[protect.ChannelID]bool, len(ss.IgnoredChannels))
	for _, ch := range ss.IgnoredChannels {
		set[ch] = true
	}
	ss.IgnoredChannels = nil
	s.spam[c] = ss
	s.ignored[c] = set
	return nil
}

func (s *MemStore) DeleteSpam(ctx context.Context, c protect.CommunityID) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.spam, c)
	delete(s.ignored, c)
	return nil
}

func (s *MemStore) SetSpamIgnore(ctx context.Context, c protect.CommunityID, ch protect.ChannelID, ignored bool) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	set, ok := s.ignored[c]
	if !ok {
		set = make(map[protect.ChannelID]bool)
		s.ignored[c] = set
	}
	if ignored {
		set[ch] = true
	} else {
		delete(set, ch)
	}
	return nil
}

func (s *MemStore) SaveMention(ctx context.Context, c protect.CommunityID, ms detect.MentionSettings) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.mention[c] = ms
	return nil
}

func (s *MemStore) DeleteMention(ctx context.Context, c protect.CommunityID) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.mention, c)
	return nil
}

func (s *MemStore) LoadAll(ctx context.Context) ([]Protection, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	byCommunity := make(map[protect.CommunityID]*Protection)
	get := func(c protect.CommunityID) *Protection {
		p, ok := byCommunity[c]
		if !ok {
			p = &Protection{Community: c}
			byCommunity[c] = p
		}
		return p
	}
	for c, rs := range s.raid {
		rs := rs
		get(c).Raid = &rs
	}
	for c, ss := range s.spam {
		ss := ss
		for ch := range s.ignored[c] {
			ss.IgnoredChannels = append(ss.IgnoredChannels, ch)
		}
		sort.Slice(ss.IgnoredChannels, func(i, j int) bool { return ss.IgnoredChannels[i] < ss.IgnoredChannels[j] })
		get(c).Spam = &ss
	}
	for c, ms := range s.mention {
		ms := ms
		get(c).Mention = &ms
	}
	out := make([]Protection, 0, len(byCommunity))
	for _, p := range byCommunity {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Community < out[j].Community })
	return out, nil
}

func activeCount(ws []warn.Warning) int {
	n := 0
	for _, w := range ws {
		if !w.Forgiven {
			n++
		}
	}
	return n
}

func (s *MemStore) AddWarning(ctx context.Context, w *warn.Warning) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.nextID++
	w.ID = s.nextID
	k := memberKey{w.Community, w.Member}
	s.warnings[k] = append(s.warnings[k], *w)
	return activeCount(s.warnings[k]), nil
}

func (s *MemStore) Warnings(ctx context.Context, c protect.CommunityID, m protect.MemberID) ([]warn.Warning, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	ws := s.warnings[memberKey{c, m}]
	out := make([]warn.Warning, len(ws))
	copy(out, ws)
	return out, nil
}

func (s *MemStore) Forgive(ctx context.Context, c protect.CommunityID, m protect.MemberID, moderator string, index int) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	ws := s.warnings[memberKey{c, m}]
	n := 0
	active := 0
	for i := range ws {
		if ws[i].Forgiven {
			continue
		}
		active++
		if index == 0 || active == index {
			ws[i].Forgiven = true
			ws[i].ForgivenBy = moderator
			n++
		}
	}
	return n, nil
}

func (s *MemStore) PunishRules(ctx context.Context, c protect.CommunityID) ([]warn.PunishRule, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := []warn.PunishRule{}
	for _, r := range s.rules[c] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count < out[j].Count })
	return out, nil
}

func (s *MemStore) SetPunishRule(ctx context.Context, c protect.CommunityID, r warn.PunishRule) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	rules, ok := s.rules[c]
	if !ok {
		rules = make(map[int]warn.PunishRule)
		s.rules[c] = rules
	}
	rules[r.Count] = r
	return nil
}

func (s *MemStore) DeletePunishRule(ctx context.Context, c protect.CommunityID, count int) (bool, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if _, ok := s.rules[c][count]; !ok {
		return false, nil
	}
	delete(s.rules[c], count)
	return true, nil
}

func (s *MemStore) SetWarnExpiry(ctx context.Context, e warn.ExpirySettings) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.expiry[e.Community] = e
	return nil
}

func (s *MemStore) WarnExpiries(ctx context.Context) ([]warn.ExpirySettings, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := []warn.ExpirySettings{}
	for _, e := range s.expiry {
		if e.Hours > 0 {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Community < out[j].Community })
	return out, nil
}

func (s *MemStore) ExpireWarnings(ctx context.Context, c protect.CommunityID, cutoff time.Time, policy warn.ExpiryPolicy) (int64, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	var n int64
	for k, ws := range s.warnings {
		if k.c != c {
			continue
		}
		kept := ws[:0]
		for _, w := range ws {
			if w.Forgiven || !w.IssuedAt.Before(cutoff) {
				kept = append(kept, w)
				continue
			}
			n++
			if policy == warn.ExpiryClear {
				w.Forgiven = true
				w.ForgivenBy = warn.ExpiryModerator
				kept = append(kept, w)
			}
		}
		s.warnings[k] = kept
	}
	return n, nil
}
