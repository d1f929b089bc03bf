// Persistence of per-community protection settings and warnings.
//
// Includes an interface and implementations using an SQL database (via gorm) and in-process memory.
package settings

import (
	"context"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/detect"
	"github.com/guardianbot/guardian/protect/warn"
)

// Protection is every detector setting persisted for one community. Nil means the detector is disabled.
type Protection struct {
	Community protect.CommunityID
	Raid      *detect.RaidSettings
	Spam      *detect.SpamSettings
	Mention   *detect.MentionSettings
}

type ProtectionStore interface {
	SaveRaid(ctx context.Context, c protect.CommunityID, s detect.RaidSettings) error
	DeleteRaid(ctx context.Context, c protect.CommunityID) error
	// ReplaceSpam writes s, including its ignored channels, as one change replacing any earlier spam settings.
	ReplaceSpam(ctx context.Context, c protect.CommunityID, s detect.SpamSettings) error
	DeleteSpam(ctx context.Context, c protect.CommunityID) error
	SetSpamIgnore(ctx context.Context, c protect.CommunityID, ch protect.ChannelID, ignored bool) error
	SaveMention(ctx context.Context, c protect.CommunityID, s detect.MentionSettings) error
	DeleteMention(ctx context.Context, c protect.CommunityID) error
	LoadAll(ctx context.Context) ([]Protection, error)
}

// Store is the complete settings store consumed by the engine.
type Store interface {
	ProtectionStore
	warn.Store
}
