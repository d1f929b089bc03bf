package protect

import (
	"errors"
	"strconv"
)

// Opaque platform snowflake for a community (guild). All protection state is partitioned by this value.
type CommunityID uint64

// Member identifier, scoped within a CommunityID.
type MemberID uint64

type ChannelID uint64

type RoleID uint64

func (c CommunityID) String() string { return strconv.FormatUint(uint64(c), 10) }
func (m MemberID) String() string    { return strconv.FormatUint(uint64(m), 10) }
func (c ChannelID) String() string   { return strconv.FormatUint(uint64(c), 10) }
func (r RoleID) String() string      { return strconv.FormatUint(uint64(r), 10) }

// Kind of abuse which caused a punishment.
type ProtectionType uint8

const (
	Raiding ProtectionType = iota + 1
	Spamming
	MentionFlood
	Warning
)

func (t ProtectionType) String() string {
	switch t {
	case Raiding:
		return "raid"
	case Spamming:
		return "spam"
	case MentionFlood:
		return "mention"
	case Warning:
		return "warn"
	default:
		return "unknown"
	}
}

var (
	// settings rejected at configuration time; no state was changed
	ErrInvalidSettings = errors.New("invalid protection settings")
	// protection of the requested kind is not running for the community
	ErrNotRunning = errors.New("protection not running")
	// the role referenced by a punishment no longer exists in the community
	ErrRoleNotFound = errors.New("role not found")
)
