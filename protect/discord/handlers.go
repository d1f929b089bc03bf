package discord

import (
	"context"
	"log/slog"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/detect"

	"github.com/bwmarrin/discordgo"
)

// Sink receives translated gateway events. Implemented by *engine.Engine.
type Sink interface {
	HandleMemberJoined(ctx context.Context, c protect.CommunityID, m protect.MemberID, joinedAt time.Time) error
	HandleMessage(ctx context.Context, msg detect.Message) error
	HandleRoleRemoved(ctx context.Context, c protect.CommunityID, r protect.RoleID) error
}

// members holding any of these permissions in a channel are never punished for messages there
const bypassPermissions = discordgo.PermissionAdministrator | discordgo.PermissionModerateMembers | discordgo.PermissionManageMessages

// Bind registers gateway handlers on session which feed sink. The returned func removes them.
func Bind(ctx context.Context, session *discordgo.Session, sink Sink, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", "discord-events")

	removers := []func(){
		session.AddHandler(func(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
			c, m, ok := memberIDs(e.Member)
			if !ok {
				return
			}
			joinedAt := e.JoinedAt
			if joinedAt.IsZero() {
				joinedAt = time.Now()
			}
			if err := sink.HandleMemberJoined(ctx, c, m, joinedAt); err != nil {
				logger.Debug("member join not handled", "community", c, "member", m, "err", err)
			}
		}),
		session.AddHandler(func(s *discordgo.Session, e *discordgo.MessageCreate) {
			var self string
			if s.State != nil && s.State.User != nil {
				self = s.State.User.ID
			}
			msg, ok := translateMessage(e.Message, self, func(user, channel string) (int64, error) {
				return s.State.UserChannelPermissions(user, channel)
			})
			if !ok {
				return
			}
			if err := sink.HandleMessage(ctx, msg); err != nil {
				logger.Debug("message not handled", "community", msg.Community, "member", msg.Member, "err", err)
			}
		}),
		session.AddHandler(func(s *discordgo.Session, e *discordgo.GuildRoleDelete) {
			c, err := parseSnowflake(e.GuildID)
			if err != nil {
				return
			}
			r, err := parseSnowflake(e.RoleID)
			if err != nil {
				return
			}
			if err := sink.HandleRoleRemoved(ctx, protect.CommunityID(c), protect.RoleID(r)); err != nil {
				logger.Warn("role deletion not handled", "community", c, "role", r, "err", err)
			}
		}),
	}
	return func() {
		for _, rm := range removers {
			rm()
		}
	}
}

func memberIDs(m *discordgo.Member) (protect.CommunityID, protect.MemberID, bool) {
	if m == nil || m.User == nil {
		return 0, 0, false
	}
	c, err := parseSnowflake(m.GuildID)
	if err != nil {
		return 0, 0, false
	}
	u, err := parseSnowflake(m.User.ID)
	if err != nil {
		return 0, 0, false
	}
	return protect.CommunityID(c), protect.MemberID(u), true
}

type permissionsFunc func(user, channel string) (int64, error)

// translateMessage converts a guild message into a detector message. Direct messages, our own messages, and webhook posts are skipped.
func translateMessage(m *discordgo.Message, self string, perms permissionsFunc) (detect.Message, bool) {
	if m == nil || m.GuildID == "" || m.Author == nil || m.WebhookID != "" {
		return detect.Message{}, false
	}
	if self != "" && m.Author.ID == self {
		return detect.Message{}, false
	}
	c, err := parseSnowflake(m.GuildID)
	if err != nil {
		return detect.Message{}, false
	}
	u, err := parseSnowflake(m.Author.ID)
	if err != nil {
		return detect.Message{}, false
	}
	ch, _ := parseSnowflake(m.ChannelID)

	bypass := false
	if perms != nil {
		// unknown permissions (eg, member not cached) are treated as no bypass
		if p, err := perms(m.Author.ID, m.ChannelID); err == nil {
			bypass = p&bypassPermissions != 0
		}
	}

	mentions := len(m.Mentions) + len(m.MentionRoles)
	if m.MentionEveryone {
		mentions++
	}
	sentAt := m.Timestamp
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	return detect.Message{
		Community: protect.CommunityID(c),
		Member:    protect.MemberID(u),
		Channel:   protect.ChannelID(ch),
		Mentions:  mentions,
		IsBot:     m.Author.Bot,
		Bypass:    bypass,
		SentAt:    sentAt,
	}, true
}
