// Per-community detectors for join raids, message spam, and mention floods.
//
// Detectors keep all of their state in memory, partitioned by community. A community has state only while protection of that kind is installed; events for other communities are no-ops. Detectors evaluate thresholds and return a Violation, but never execute punishments themselves: that is left to the caller (see `protect/engine`), so no detector lock is held during I/O.
package detect

import (
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/punish"
)

// Violation is produced when a detector threshold is crossed. The Members slice is owned by the receiver.
type Violation struct {
	Community protect.CommunityID
	Type      protect.ProtectionType
	Members   []protect.MemberID
	Action    punish.Action
	Reason    string
}

// Message is the subset of a platform message event the detectors need.
type Message struct {
	Community protect.CommunityID
	Member    protect.MemberID
	Channel   protect.ChannelID
	Mentions  int
	IsBot     bool
	// author holds moderation authority (eg, can mute members) and is never punished
	Bypass bool
	SentAt time.Time
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
