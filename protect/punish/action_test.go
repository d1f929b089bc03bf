package punish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guardianbot/guardian/protect"

	"github.com/stretchr/testify/assert"
)

func TestActionValidate(t *testing.T) {
	assert := assert.New(t)

	testCases := []struct {
		kind     Kind
		duration time.Duration
		role     protect.RoleID
		valid    bool
	}{
		{Mute, 0, 0, true},
		{Mute, 30 * time.Minute, 0, true},
		{Ban, 24 * time.Hour, 0, true},
		{Kick, 0, 0, true},
		{Kick, time.Minute, 0, false},
		{Softban, time.Minute, 0, false},
		{RemoveRoles, time.Hour, 0, false},
		{Timeout, 0, 0, false},
		{Timeout, 10 * time.Minute, 0, true},
		{Timeout, MaxTimeout + time.Minute, 0, false},
		{AddRole, 0, 0, false},
		{AddRole, 0, 123, true},
		{ChatMute, -time.Minute, 0, false},
		{Kind(0), 0, 0, false},
		{Kind(42), 0, 0, false},
	}

	for _, tc := range testCases {
		_, err := NewAction(tc.kind, tc.duration, tc.role)
		if tc.valid {
			assert.NoError(err, "%s %s", tc.kind, tc.duration)
		} else {
			assert.ErrorIs(err, protect.ErrInvalidSettings, "%s %s", tc.kind, tc.duration)
		}
	}
}

func TestParseKind(t *testing.T) {
	assert := assert.New(t)

	for k, name := range kindNames {
		parsed, err := ParseKind(name)
		assert.NoError(err)
		assert.Equal(k, parsed)
	}
	k, err := ParseKind("VoiceMute")
	assert.NoError(err)
	assert.Equal(VoiceMute, k)
	k, err = ParseKind("remove_roles")
	assert.NoError(err)
	assert.Equal(RemoveRoles, k)
	_, err = ParseKind("explode")
	assert.Error(err)
}

func TestApplyHandlers(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	target := Target{Community: 1, Member: 2, Reason: "test"}

	ex := NewRecordingExecutor()
	for _, a := range []Action{
		{Kind: Mute},
		{Kind: VoiceMute},
		{Kind: ChatMute, Duration: time.Hour},
		{Kind: Kick},
		{Kind: Ban},
		{Kind: Softban},
		{Kind: RemoveRoles},
		{Kind: AddRole, Role: 9},
		{Kind: Timeout, Duration: time.Hour},
	} {
		assert.NoError(a.Apply(ctx, ex, target))
	}

	ops := []string{}
	for _, c := range ex.Calls() {
		ops = append(ops, c.Op)
	}
	assert.Equal([]string{"mute", "voice-mute", "chat-mute", "kick", "ban", "ban", "unban", "remove-roles", "add-role", "timeout"}, ops)
}

func TestApplyMissingRole(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ex := NewRecordingExecutor()
	ex.Roles = map[protect.RoleID]bool{5: true}

	err := Action{Kind: AddRole, Role: 6}.Apply(ctx, ex, Target{Community: 1, Member: 2})
	assert.True(errors.Is(err, protect.ErrRoleNotFound))
	assert.Empty(ex.Calls())

	assert.NoError(Action{Kind: AddRole, Role: 5}.Apply(ctx, ex, Target{Community: 1, Member: 2}))
	assert.Len(ex.Calls(), 1)
}
