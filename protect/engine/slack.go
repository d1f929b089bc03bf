package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SlackNotifier posts a summary of every triggered protection to a Slack "incoming webhook".
type SlackNotifier struct {
	SlackWebhookURL string
	// nil means http.DefaultClient
	HTTPClient *http.Client
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) SendViolation(ctx context.Context, v *Notification) error {
	payload, err := json.Marshal(SlackWebhookBody{Text: slackBody(v)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s notification to slack: %w", v.Type, err)
	}
	defer resp.Body.Close()

	// slack answers a bare "ok" on success
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK || string(reply) != "ok" {
		return fmt.Errorf("slack webhook rejected %s notification: status=%d body=%q", v.Type, resp.StatusCode, reply)
	}
	return nil
}

// members listed individually up to this many
const slackMaxMembers = 25

func slackBody(v *Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Guardian %s protection triggered ⚠️\n", v.Type)
	fmt.Fprintf(&b, "Community: `%s` / Action: `%s`\n", v.Community, v.Action)
	if v.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", v.Reason)
	}
	ids := make([]string, 0, min(len(v.Members), slackMaxMembers+1))
	for i, m := range v.Members {
		if i == slackMaxMembers {
			ids = append(ids, fmt.Sprintf("+%d more", len(v.Members)-slackMaxMembers))
			break
		}
		ids = append(ids, fmt.Sprintf("<@%s>", m))
	}
	fmt.Fprintf(&b, "Members (%d): %s\n", len(v.Members), strings.Join(ids, ", "))
	if len(v.Failed) > 0 {
		fmt.Fprintf(&b, "Failed for %d member(s)\n", len(v.Failed))
	}
	if v.Suppressed {
		b.WriteString("CIRCUIT BREAKER: daily action quota exhausted, no action taken\n")
	}
	return b.String()
}
