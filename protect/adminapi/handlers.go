package adminapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/detect"
	"github.com/guardianbot/guardian/protect/punish"
	"github.com/guardianbot/guardian/protect/warn"

	"github.com/labstack/echo/v4"
)

// ActionBody is the wire form of a punishment.
type ActionBody struct {
	Action          string `json:"action"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	RoleID          string `json:"role_id,omitempty"`
}

// longest punishment accepted over the API; keeps the minute count well clear of time.Duration overflow
const maxDurationMinutes = 366 * 24 * 60

func (b ActionBody) toAction() (punish.Action, error) {
	if b.DurationMinutes < 0 || b.DurationMinutes > maxDurationMinutes {
		return punish.Action{}, fmt.Errorf("%w: duration_minutes must be between 0 and %d", protect.ErrInvalidSettings, maxDurationMinutes)
	}
	kind, err := punish.ParseKind(b.Action)
	if err != nil {
		return punish.Action{}, err
	}
	var role uint64
	if b.RoleID != "" {
		role, err = strconv.ParseUint(b.RoleID, 10, 64)
		if err != nil {
			return punish.Action{}, fmt.Errorf("%w: invalid role id", protect.ErrInvalidSettings)
		}
	}
	return punish.NewAction(kind, time.Duration(b.DurationMinutes)*time.Minute, protect.RoleID(role))
}

func actionBody(a punish.Action) ActionBody {
	b := ActionBody{Action: a.Kind.String(), DurationMinutes: a.DurationMinutes()}
	if a.Role != 0 {
		b.RoleID = a.Role.String()
	}
	return b
}

type RaidBody struct {
	ActionBody
	Threshold     int `json:"threshold"`
	WindowSeconds int `json:"window_seconds"`
}

type SpamBody struct {
	ActionBody
	MessageThreshold  int      `json:"message_threshold"`
	BurstResetSeconds int      `json:"burst_reset_seconds,omitempty"`
	IgnoredChannels   []string `json:"ignored_channels,omitempty"`
}

type MentionBody struct {
	ActionBody
	MaxMentionsInWindow int  `json:"max_mentions_in_window"`
	WindowSeconds       int  `json:"window_seconds"`
	IgnoreBots          bool `json:"ignore_bots"`
}

type StatsResponse struct {
	Raid           *RaidStatsBody    `json:"raid,omitempty"`
	Spam           *SpamStatsBody    `json:"spam,omitempty"`
	Mention        *MentionStatsBody `json:"mention,omitempty"`
	TriggeredToday map[string]int    `json:"triggered_today,omitempty"`
}

type RaidStatsBody struct {
	RaidBody
	Pending int `json:"pending"`
}

type SpamStatsBody struct {
	SpamBody
	Tracked int `json:"tracked"`
}

type MentionStatsBody struct {
	MentionBody
	Tracked int `json:"tracked"`
}

type WarningBody struct {
	ID         uint64    `json:"id"`
	Reason     string    `json:"reason"`
	Moderator  string    `json:"moderator"`
	Forgiven   bool      `json:"forgiven"`
	ForgivenBy string    `json:"forgiven_by,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
}

type WarnRequest struct {
	Moderator string `json:"moderator"`
	Reason    string `json:"reason"`
}

type WarnResponse struct {
	Rule *PunishRuleBody `json:"rule,omitempty"`
}

type ForgiveRequest struct {
	Moderator string `json:"moderator"`
	// zero forgives every active warning
	Index int `json:"index"`
}

type ForgiveResponse struct {
	Forgiven int `json:"forgiven"`
}

type PunishRuleBody struct {
	ActionBody
	Count int `json:"count"`
}

type ExpiryBody struct {
	Hours  int    `json:"hours"`
	Policy string `json:"policy"`
}

type IgnoreResponse struct {
	Ignored bool `json:"ignored"`
}

type StoppedResponse struct {
	Stopped bool `json:"stopped"`
}

func idParam(c echo.Context, name string) (uint64, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
	}
	return v, nil
}

func communityParam(c echo.Context) (protect.CommunityID, error) {
	v, err := idParam(c, "community")
	return protect.CommunityID(v), err
}

func memberParams(c echo.Context) (protect.CommunityID, protect.MemberID, error) {
	comm, err := communityParam(c)
	if err != nil {
		return 0, 0, err
	}
	m, err := idParam(c, "member")
	return comm, protect.MemberID(m), err
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

func raidBody(s detect.RaidSettings) RaidBody {
	return RaidBody{ActionBody: actionBody(s.Action), Threshold: s.Threshold, WindowSeconds: s.WindowSeconds}
}

func spamBody(s detect.SpamSettings) SpamBody {
	b := SpamBody{ActionBody: actionBody(s.Action), MessageThreshold: s.MessageThreshold, BurstResetSeconds: s.BurstResetSeconds}
	for _, ch := range s.IgnoredChannels {
		b.IgnoredChannels = append(b.IgnoredChannels, ch.String())
	}
	return b
}

func mentionBody(s detect.MentionSettings) MentionBody {
	return MentionBody{ActionBody: actionBody(s.Action), MaxMentionsInWindow: s.MaxMentionsInWindow, WindowSeconds: s.WindowSeconds, IgnoreBots: s.IgnoreBots}
}

func (srv *Server) HandleGetStats(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	st := srv.engine.GetStats(c.Request().Context(), comm)
	var out StatsResponse
	if st.Raid != nil {
		out.Raid = &RaidStatsBody{RaidBody: raidBody(st.Raid.Settings), Pending: st.Raid.Pending}
	}
	if st.Spam != nil {
		out.Spam = &SpamStatsBody{SpamBody: spamBody(st.Spam.Settings), Tracked: st.Spam.Tracked}
	}
	if st.Mention != nil {
		out.Mention = &MentionStatsBody{MentionBody: mentionBody(st.Mention.Settings), Tracked: st.Mention.Tracked}
	}
	if len(st.TriggeredToday) > 0 {
		out.TriggeredToday = make(map[string]int)
		for t, n := range st.TriggeredToday {
			out.TriggeredToday[t.String()] = n
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleStartRaid(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	var body RaidBody
	if err := bind(c, &body); err != nil {
		return err
	}
	action, err := body.toAction()
	if err != nil {
		return err
	}
	st, err := srv.engine.StartAntiRaid(c.Request().Context(), comm, detect.RaidSettings{
		Threshold:     body.Threshold,
		WindowSeconds: body.WindowSeconds,
		Action:        action,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RaidStatsBody{RaidBody: raidBody(st.Settings), Pending: st.Pending})
}

func (srv *Server) HandleStartSpam(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	var body SpamBody
	if err := bind(c, &body); err != nil {
		return err
	}
	action, err := body.toAction()
	if err != nil {
		return err
	}
	settings := detect.SpamSettings{
		MessageThreshold:  body.MessageThreshold,
		BurstResetSeconds: body.BurstResetSeconds,
		Action:            action,
	}
	for _, raw := range body.IgnoredChannels {
		ch, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid channel id")
		}
		settings.IgnoredChannels = append(settings.IgnoredChannels, protect.ChannelID(ch))
	}
	st, err := srv.engine.StartAntiSpam(c.Request().Context(), comm, settings)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SpamStatsBody{SpamBody: spamBody(st.Settings), Tracked: st.Tracked})
}

func (srv *Server) HandleStartMention(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	var body MentionBody
	if err := bind(c, &body); err != nil {
		return err
	}
	action, err := body.toAction()
	if err != nil {
		return err
	}
	st, err := srv.engine.StartAntiMention(c.Request().Context(), comm, detect.MentionSettings{
		MaxMentionsInWindow: body.MaxMentionsInWindow,
		WindowSeconds:       body.WindowSeconds,
		IgnoreBots:          body.IgnoreBots,
		Action:              action,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MentionStatsBody{MentionBody: mentionBody(st.Settings), Tracked: st.Tracked})
}

func (srv *Server) HandleStopRaid(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	ok, err := srv.engine.StopAntiRaid(c.Request().Context(), comm)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StoppedResponse{Stopped: ok})
}

func (srv *Server) HandleStopSpam(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	ok, err := srv.engine.StopAntiSpam(c.Request().Context(), comm)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StoppedResponse{Stopped: ok})
}

func (srv *Server) HandleStopMention(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	ok, err := srv.engine.StopAntiMention(c.Request().Context(), comm)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StoppedResponse{Stopped: ok})
}

func (srv *Server) HandleIgnore(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	ch, err := idParam(c, "channel")
	if err != nil {
		return err
	}
	ignored, err := srv.engine.Ignore(c.Request().Context(), comm, protect.ChannelID(ch))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, IgnoreResponse{Ignored: ignored})
}

func (srv *Server) HandleListWarnings(c echo.Context) error {
	comm, m, err := memberParams(c)
	if err != nil {
		return err
	}
	ws, err := srv.engine.Warns.Warnings(c.Request().Context(), comm, m)
	if err != nil {
		return err
	}
	out := make([]WarningBody, 0, len(ws))
	for _, w := range ws {
		out = append(out, WarningBody{
			ID:         w.ID,
			Reason:     w.Reason,
			Moderator:  w.Moderator,
			Forgiven:   w.Forgiven,
			ForgivenBy: w.ForgivenBy,
			IssuedAt:   w.IssuedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleWarn(c echo.Context) error {
	comm, m, err := memberParams(c)
	if err != nil {
		return err
	}
	var body WarnRequest
	if err := bind(c, &body); err != nil {
		return err
	}
	if body.Moderator == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "moderator is required")
	}
	rule, err := srv.engine.Warn(c.Request().Context(), comm, m, body.Moderator, body.Reason)
	if err != nil {
		return err
	}
	var out WarnResponse
	if rule != nil {
		out.Rule = &PunishRuleBody{ActionBody: actionBody(rule.Action), Count: rule.Count}
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleForgive(c echo.Context) error {
	comm, m, err := memberParams(c)
	if err != nil {
		return err
	}
	var body ForgiveRequest
	if err := bind(c, &body); err != nil {
		return err
	}
	if body.Moderator == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "moderator is required")
	}
	n, err := srv.engine.Forgive(c.Request().Context(), comm, m, body.Moderator, body.Index)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ForgiveResponse{Forgiven: n})
}

func (srv *Server) HandleListPunishRules(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	rules, err := srv.engine.Warns.PunishRules(c.Request().Context(), comm)
	if err != nil {
		return err
	}
	out := make([]PunishRuleBody, 0, len(rules))
	for _, r := range rules {
		out = append(out, PunishRuleBody{ActionBody: actionBody(r.Action), Count: r.Count})
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleSetPunishRule(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(c.Param("count"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid count")
	}
	var body ActionBody
	if err := bind(c, &body); err != nil {
		return err
	}
	action, err := body.toAction()
	if err != nil {
		return err
	}
	if err := srv.engine.Warns.SetPunishRule(c.Request().Context(), comm, count, action); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PunishRuleBody{ActionBody: actionBody(action), Count: count})
}

func (srv *Server) HandleDeletePunishRule(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(c.Param("count"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid count")
	}
	ok, err := srv.engine.Warns.RemovePunishRule(c.Request().Context(), comm, count)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no rule for that count")
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleSetWarnExpiry(c echo.Context) error {
	comm, err := communityParam(c)
	if err != nil {
		return err
	}
	var body ExpiryBody
	if err := bind(c, &body); err != nil {
		return err
	}
	policy := warn.ExpiryClear
	if body.Policy != "" {
		policy, err = warn.ParseExpiryPolicy(body.Policy)
		if err != nil {
			return err
		}
	}
	if err := srv.engine.Warns.SetExpiry(c.Request().Context(), comm, body.Hours, policy); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ExpiryBody{Hours: body.Hours, Policy: policy.String()})
}
