package punish

import (
	"fmt"
	"strings"
	"time"

	"github.com/guardianbot/guardian/protect"
)

// Kind is the closed set of punishments the engine can apply.
type Kind uint8

const (
	Mute Kind = iota + 1
	VoiceMute
	ChatMute
	Kick
	Ban
	Softban
	RemoveRoles
	AddRole
	Timeout
)

var kindNames = map[Kind]string{
	Mute:        "mute",
	VoiceMute:   "voice-mute",
	ChatMute:    "chat-mute",
	Kick:        "kick",
	Ban:         "ban",
	Softban:     "softban",
	RemoveRoles: "remove-roles",
	AddRole:     "add-role",
	Timeout:     "timeout",
}

// longest timeout the platform accepts
const MaxTimeout = 28 * 24 * time.Hour

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// AllowsDuration is false for punishments which are instantaneous and can't be reverted on a timer.
func (k Kind) AllowsDuration() bool {
	switch k {
	case Kick, Softban, RemoveRoles:
		return false
	default:
		return true
	}
}

func ParseKind(raw string) (Kind, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	raw = strings.ReplaceAll(raw, "_", "-")
	for k, n := range kindNames {
		if n == raw || strings.ReplaceAll(n, "-", "") == raw {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown punishment %q", protect.ErrInvalidSettings, raw)
}

// Action is a validated punishment: construct with NewAction.
type Action struct {
	Kind     Kind
	Duration time.Duration
	// only meaningful for AddRole
	Role protect.RoleID
}

func NewAction(kind Kind, duration time.Duration, role protect.RoleID) (Action, error) {
	a := Action{Kind: kind, Duration: duration, Role: role}
	if err := a.Validate(); err != nil {
		return Action{}, err
	}
	return a, nil
}

func (a Action) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: unknown punishment %d", protect.ErrInvalidSettings, a.Kind)
	}
	if a.Duration < 0 {
		return fmt.Errorf("%w: negative duration", protect.ErrInvalidSettings)
	}
	if a.Duration > 0 && !a.Kind.AllowsDuration() {
		return fmt.Errorf("%w: %s can not have a duration", protect.ErrInvalidSettings, a.Kind)
	}
	switch a.Kind {
	case Timeout:
		if a.Duration < time.Minute || a.Duration > MaxTimeout {
			return fmt.Errorf("%w: timeout requires a duration between 1 minute and %s", protect.ErrInvalidSettings, MaxTimeout)
		}
	case AddRole:
		if a.Role == 0 {
			return fmt.Errorf("%w: add-role requires a role", protect.ErrInvalidSettings)
		}
	}
	return nil
}

// DurationMinutes is the duration in whole minutes, as persisted.
func (a Action) DurationMinutes() int {
	return int(a.Duration / time.Minute)
}

func (a Action) String() string {
	s := a.Kind.String()
	if a.Kind == AddRole {
		s += ":" + a.Role.String()
	}
	if a.Duration > 0 {
		s += fmt.Sprintf(" (%s)", a.Duration)
	}
	return s
}
