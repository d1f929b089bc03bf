package settings

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/detect"
	"github.com/guardianbot/guardian/protect/punish"
	"github.com/guardianbot/guardian/protect/warn"

	"github.com/spaolacci/murmur3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RaidConfig struct {
	CommunityID     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Threshold       int
	WindowSeconds   int
	Action          uint8
	DurationMinutes int
	RoleID          uint64
	UpdatedAt       time.Time
}

type SpamConfig struct {
	CommunityID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	MessageThreshold  int
	BurstResetSeconds int
	Action            uint8
	DurationMinutes   int
	RoleID            uint64
	UpdatedAt         time.Time
}

type SpamIgnoredChannel struct {
	CommunityID uint64 `gorm:"primaryKey;autoIncrement:false"`
	ChannelID   uint64 `gorm:"primaryKey;autoIncrement:false"`
}

type MentionConfig struct {
	CommunityID         uint64 `gorm:"primaryKey;autoIncrement:false"`
	MaxMentionsInWindow int
	WindowSeconds       int
	IgnoreBots          bool
	Action              uint8
	DurationMinutes     int
	RoleID              uint64
	UpdatedAt           time.Time
}

type WarningRecord struct {
	ID          uint64 `gorm:"primaryKey"`
	CommunityID uint64 `gorm:"index:idx_warning_member"`
	MemberID    uint64 `gorm:"index:idx_warning_member"`
	Reason      string
	Moderator   string
	Forgiven    bool
	ForgivenBy  string
	IssuedAt    time.Time `gorm:"index"`
}

type PunishRuleRecord struct {
	CommunityID     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Count           int    `gorm:"primaryKey;autoIncrement:false"`
	Action          uint8
	DurationMinutes int
	RoleID          uint64
}

type WarnExpiryRecord struct {
	CommunityID uint64 `gorm:"primaryKey;autoIncrement:false"`
	Hours       int
	Policy      uint8
}

func action(kind uint8, minutes int, role uint64) punish.Action {
	return punish.Action{
		Kind:     punish.Kind(kind),
		Duration: time.Duration(minutes) * time.Minute,
		Role:     protect.RoleID(role),
	}
}

// number of lock stripes serializing warning writes per member
const warnLockStripes = 64

// GormStore is a gorm-backed implementation of Store.
type GormStore struct {
	db *gorm.DB
	// the count returned by AddWarning must include concurrent writes for the same member exactly once
	warnLocks [warnLockStripes]sync.Mutex
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&RaidConfig{},
		&SpamConfig{},
		&SpamIgnoredChannel{},
		&MentionConfig{},
		&WarningRecord{},
		&PunishRuleRecord{},
		&WarnExpiryRecord{},
	)
}

func (s *GormStore) memberLock(c protect.CommunityID, m protect.MemberID) *sync.Mutex {
	var key [16]byte
	binary.BigEndian.PutUint64(key[:8], uint64(c))
	binary.BigEndian.PutUint64(key[8:], uint64(m))
	return &s.warnLocks[murmur3.Sum64(key[:])%warnLockStripes]
}

func upsert(ctx context.Context, db *gorm.DB, rec any) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

func (s *GormStore) SaveRaid(ctx context.Context, c protect.CommunityID, rs detect.RaidSettings) error {
	return upsert(ctx, s.db, &RaidConfig{
		CommunityID:     uint64(c),
		Threshold:       rs.Threshold,
		WindowSeconds:   rs.WindowSeconds,
		Action:          uint8(rs.Action.Kind),
		DurationMinutes: rs.Action.DurationMinutes(),
		RoleID:          uint64(rs.Action.Role),
	})
}

func (s *GormStore) DeleteRaid(ctx context.Context, c protect.CommunityID) error {
	return s.db.WithContext(ctx).Delete(&RaidConfig{}, "community_id = ?", uint64(c)).Error
}

func (s *GormStore) ReplaceSpam(ctx context.Context, c protect.CommunityID, ss detect.SpamSettings) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := upsert(ctx, tx, &SpamConfig{
			CommunityID:       uint64(c),
			MessageThreshold:  ss.MessageThreshold,
			BurstResetSeconds: ss.BurstResetSeconds,
			Action:            uint8(ss.Action.Kind),
			DurationMinutes:   ss.Action.DurationMinutes(),
			RoleID:            uint64(ss.Action.Role),
		})
		if err != nil {
			return err
		}
		if err := tx.Delete(&SpamIgnoredChannel{}, "community_id = ?", uint64(c)).Error; err != nil {
			return err
		}
		if len(ss.IgnoredChannels) == 0 {
			return nil
		}
		recs := make([]SpamIgnoredChannel, 0, len(ss.IgnoredChannels))
		for _, ch := range ss.IgnoredChannels {
			recs = append(recs, SpamIgnoredChannel{CommunityID: uint64(c), ChannelID: uint64(ch)})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&recs).Error
	})
}

func (s *GormStore) DeleteSpam(ctx context.Context, c protect.CommunityID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SpamConfig{}, "community_id = ?", uint64(c)).Error; err != nil {
			return err
		}
		return tx.Delete(&SpamIgnoredChannel{}, "community_id = ?", uint64(c)).Error
	})
}

func (s *GormStore) SetSpamIgnore(ctx context.Context, c protect.CommunityID, ch protect.ChannelID, ignored bool) error {
	rec := SpamIgnoredChannel{CommunityID: uint64(c), ChannelID: uint64(ch)}
	if !ignored {
		return s.db.WithContext(ctx).Delete(&rec).Error
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

func (s *GormStore) SaveMention(ctx context.Context, c protect.CommunityID, ms detect.MentionSettings) error {
	return upsert(ctx, s.db, &MentionConfig{
		CommunityID:         uint64(c),
		MaxMentionsInWindow: ms.MaxMentionsInWindow,
		WindowSeconds:       ms.WindowSeconds,
		IgnoreBots:          ms.IgnoreBots,
		Action:              uint8(ms.Action.Kind),
		DurationMinutes:     ms.Action.DurationMinutes(),
		RoleID:              uint64(ms.Action.Role),
	})
}

func (s *GormStore) DeleteMention(ctx context.Context, c protect.CommunityID) error {
	return s.db.WithContext(ctx).Delete(&MentionConfig{}, "community_id = ?", uint64(c)).Error
}

func (s *GormStore) LoadAll(ctx context.Context) ([]Protection, error) {
	db := s.db.WithContext(ctx)
	byCommunity := make(map[protect.CommunityID]*Protection)
	get := func(c uint64) *Protection {
		p, ok := byCommunity[protect.CommunityID(c)]
		if !ok {
			p = &Protection{Community: protect.CommunityID(c)}
			byCommunity[protect.CommunityID(c)] = p
		}
		return p
	}

	var raids []RaidConfig
	if err := db.Find(&raids).Error; err != nil {
		return nil, fmt.Errorf("loading raid settings: %w", err)
	}
	for _, r := range raids {
		get(r.CommunityID).Raid = &detect.RaidSettings{
			Threshold:     r.Threshold,
			WindowSeconds: r.WindowSeconds,
			Action:        action(r.Action, r.DurationMinutes, r.RoleID),
		}
	}

	var spams []SpamConfig
	if err := db.Find(&spams).Error; err != nil {
		return nil, fmt.Errorf("loading spam settings: %w", err)
	}
	var ignored []SpamIgnoredChannel
	if err := db.Order("channel_id").Find(&ignored).Error; err != nil {
		return nil, fmt.Errorf("loading ignored channels: %w", err)
	}
	ignoredBy := make(map[uint64][]protect.ChannelID)
	for _, ic := range ignored {
		ignoredBy[ic.CommunityID] = append(ignoredBy[ic.CommunityID], protect.ChannelID(ic.ChannelID))
	}
	for _, r := range spams {
		get(r.CommunityID).Spam = &detect.SpamSettings{
			MessageThreshold:  r.MessageThreshold,
			BurstResetSeconds: r.BurstResetSeconds,
			Action:            action(r.Action, r.DurationMinutes, r.RoleID),
			IgnoredChannels:   ignoredBy[r.CommunityID],
		}
	}

	var mentions []MentionConfig
	if err := db.Find(&mentions).Error; err != nil {
		return nil, fmt.Errorf("loading mention settings: %w", err)
	}
	for _, r := range mentions {
		get(r.CommunityID).Mention = &detect.MentionSettings{
			MaxMentionsInWindow: r.MaxMentionsInWindow,
			WindowSeconds:       r.WindowSeconds,
			IgnoreBots:          r.IgnoreBots,
			Action:              action(r.Action, r.DurationMinutes, r.RoleID),
		}
	}

	out := make([]Protection, 0, len(byCommunity))
	for _, p := range byCommunity {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Community < out[j].Community })
	return out, nil
}

func (s *GormStore) AddWarning(ctx context.Context, w *warn.Warning) (int, error) {
	lk := s.memberLock(w.Community, w.Member)
	lk.Lock()
	defer lk.Unlock()

	rec := WarningRecord{
		CommunityID: uint64(w.Community),
		MemberID:    uint64(w.Member),
		Reason:      w.Reason,
		Moderator:   w.Moderator,
		IssuedAt:    w.IssuedAt,
	}
	var active int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return tx.Model(&WarningRecord{}).
			Where("community_id = ? AND member_id = ? AND forgiven = ?", rec.CommunityID, rec.MemberID, false).
			Count(&active).Error
	})
	if err != nil {
		return 0, err
	}
	w.ID = rec.ID
	return int(active), nil
}

func (s *GormStore) Warnings(ctx context.Context, c protect.CommunityID, m protect.MemberID) ([]warn.Warning, error) {
	var recs []WarningRecord
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND member_id = ?", uint64(c), uint64(m)).
		Order("issued_at, id").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]warn.Warning, 0, len(recs))
	for _, r := range recs {
		out = append(out, warn.Warning{
			ID:         r.ID,
			Community:  protect.CommunityID(r.CommunityID),
			Member:     protect.MemberID(r.MemberID),
			Reason:     r.Reason,
			Moderator:  r.Moderator,
			Forgiven:   r.Forgiven,
			ForgivenBy: r.ForgivenBy,
			IssuedAt:   r.IssuedAt,
		})
	}
	return out, nil
}

func (s *GormStore) Forgive(ctx context.Context, c protect.CommunityID, m protect.MemberID, moderator string, index int) (int, error) {
	lk := s.memberLock(c, m)
	lk.Lock()
	defer lk.Unlock()

	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&WarningRecord{}).Where("community_id = ? AND member_id = ? AND forgiven = ?", uint64(c), uint64(m), false)
		if index > 0 {
			var active []WarningRecord
			if err := q.Session(&gorm.Session{}).Order("issued_at, id").Find(&active).Error; err != nil {
				return err
			}
			if index > len(active) {
				return nil
			}
			q = tx.Model(&WarningRecord{}).Where("id = ?", active[index-1].ID)
		}
		res := q.Updates(map[string]any{"forgiven": true, "forgiven_by": moderator})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *GormStore) PunishRules(ctx context.Context, c protect.CommunityID) ([]warn.PunishRule, error) {
	var recs []PunishRuleRecord
	if err := s.db.WithContext(ctx).Where("community_id = ?", uint64(c)).Order("count").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]warn.PunishRule, 0, len(recs))
	for _, r := range recs {
		out = append(out, warn.PunishRule{Count: r.Count, Action: action(r.Action, r.DurationMinutes, r.RoleID)})
	}
	return out, nil
}

func (s *GormStore) SetPunishRule(ctx context.Context, c protect.CommunityID, r warn.PunishRule) error {
	return upsert(ctx, s.db, &PunishRuleRecord{
		CommunityID:     uint64(c),
		Count:           r.Count,
		Action:          uint8(r.Action.Kind),
		DurationMinutes: r.Action.DurationMinutes(),
		RoleID:          uint64(r.Action.Role),
	})
}

func (s *GormStore) DeletePunishRule(ctx context.Context, c protect.CommunityID, count int) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&PunishRuleRecord{}, "community_id = ? AND count = ?", uint64(c), count)
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) SetWarnExpiry(ctx context.Context, e warn.ExpirySettings) error {
	return upsert(ctx, s.db, &WarnExpiryRecord{
		CommunityID: uint64(e.Community),
		Hours:       e.Hours,
		Policy:      uint8(e.Policy),
	})
}

func (s *GormStore) WarnExpiries(ctx context.Context) ([]warn.ExpirySettings, error) {
	var recs []WarnExpiryRecord
	if err := s.db.WithContext(ctx).Where("hours > 0").Order("community_id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]warn.ExpirySettings, 0, len(recs))
	for _, r := range recs {
		out = append(out, warn.ExpirySettings{
			Community: protect.CommunityID(r.CommunityID),
			Hours:     r.Hours,
			Policy:    warn.ExpiryPolicy(r.Policy),
		})
	}
	return out, nil
}

func (s *GormStore) ExpireWarnings(ctx context.Context, c protect.CommunityID, cutoff time.Time, policy warn.ExpiryPolicy) (int64, error) {
	q := s.db.WithContext(ctx).
		Model(&WarningRecord{}).
		Where("community_id = ? AND forgiven = ? AND issued_at < ?", uint64(c), false, cutoff)
	var res *gorm.DB
	switch policy {
	case warn.ExpiryClear:
		res = q.Updates(map[string]any{"forgiven": true, "forgiven_by": warn.ExpiryModerator})
	case warn.ExpiryDelete:
		res = q.Delete(&WarningRecord{})
	default:
		return 0, fmt.Errorf("unknown expiry policy %d", policy)
	}
	return res.RowsAffected, res.Error
}
