// Package slack sends closed-case notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/dogtor/internal/cases"
)

const (
	maxSummaryLen = 3000
	maxListItems  = 5
	httpTimeout   = 10 * time.Second
)

// Notifier sends triage results to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts a closed case's triage summary to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, c *cases.Case) error {
	if n.webhookURL == "" || c == nil {
		return nil
	}

	body, err := json.Marshal(buildMessage(c))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "case_id", c.ID)
	return nil
}

func buildMessage(c *cases.Case) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(c),
			{"type": "divider"},
			fieldsBlock(c),
			{"type": "divider"},
			summaryBlock(c),
			{"type": "divider"},
			contextBlock(c),
		},
	}
}

func degraded(c *cases.Case) bool {
	return c.TriageSummary != nil && c.TriageSummary.Meta != nil && c.TriageSummary.Meta.Error
}

func urgencyOf(c *cases.Case) cases.Urgency {
	if c.TriageSummary == nil {
		return ""
	}
	return c.TriageSummary.UrgencyLevel
}

func headerBlock(c *cases.Case) map[string]any {
	emoji := urgencyEmoji(urgencyOf(c), degraded(c))
	title := "Triage Complete"
	if degraded(c) {
		title = "Triage Unavailable"
	}
	text := fmt.Sprintf("%s %s: %s urgency", emoji, title, orDash(string(urgencyOf(c))))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(c *cases.Case) map[string]any {
	var obs cases.Observations
	if c.Observations != nil {
		obs = c.Observations.Observations
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", c.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Urgency:* %s", orDash(string(urgencyOf(c)))),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Consistency:* %s", orDash(obs.Consistency)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Color:* %s", orDash(obs.Color)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Blood:* %s", orDash(obs.Blood)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Mucus:* %t", obs.Mucus),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(c *cases.Case) map[string]any {
	var b strings.Builder
	b.WriteString("*Summary*\n\n")

	s := c.TriageSummary
	if s == nil || s.Summary == "" {
		b.WriteString("_No summary available._")
	} else {
		b.WriteString(s.Summary)
		writeList(&b, "Possible causes", s.PossibleCauses)
		writeList(&b, "Recommended actions", s.RecommendedActions)
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": truncate(b.String(), maxSummaryLen),
		},
	}
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n*%s*", title)
	for i, it := range items {
		if i == maxListItems {
			fmt.Fprintf(b, "\n• _and %d more_", len(items)-maxListItems)
			break
		}
		b.WriteString("\n• " + it)
	}
}

func contextBlock(c *cases.Case) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("dogtor • case %s • %s", c.ID, c.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}
	if c.ImageURL != "" {
		elements = append(elements, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("<%s|image>", c.ImageURL),
		})
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func urgencyEmoji(u cases.Urgency, failed bool) string {
	if failed {
		return "⚪" // white circle
	}
	switch u {
	case cases.UrgencyHigh:
		return "\U0001f534" // red circle
	case cases.UrgencyModerate:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
