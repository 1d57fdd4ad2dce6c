package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DiscordSender sends alerts to Discord via webhook
type DiscordSender struct {
	webhookURL string
	httpClient *http.Client
}

// NewDiscordSender creates a new Discord sender
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification as a single embed
func (s *DiscordSender) Send(ctx context.Context, n *Notification) error {
	webhookPayload := map[string]interface{}{
		"embeds": []interface{}{s.buildEmbed(n)},
	}

	body, err := json.Marshal(webhookPayload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *DiscordSender) buildEmbed(n *Notification) map[string]interface{} {
	var color int
	switch n.Severity {
	case SeverityAlert:
		color = 0xFF0000
	case SeverityWarn:
		color = 0xFFA500
	default:
		color = 0x0099FF
	}

	fields := []map[string]interface{}{
		{"name": "Round", "value": fmt.Sprintf("%d", n.RoundID), "inline": true},
		{"name": "From", "value": string(n.FromPhase), "inline": true},
		{"name": "To", "value": string(n.ToPhase), "inline": true},
	}
	if n.HighestScore != nil {
		fields = append(fields, map[string]interface{}{
			"name": "Highest Score", "value": fmt.Sprintf("**%d/10**", *n.HighestScore), "inline": true,
		})
	}
	if len(n.ActualOutcomes) > 0 {
		fields = append(fields, map[string]interface{}{
			"name": "Outcomes", "value": outcomeArrows(n.ActualOutcomes), "inline": false,
		})
	}

	return map[string]interface{}{
		"title":       truncate(n.Title(), 256),
		"description": truncate(strings.Join(n.Details(), "\n"), 1000),
		"color":       color,
		"fields":      fields,
		"footer": map[string]interface{}{
			"text": fmt.Sprintf("roundwatch • %s • %s", n.Environment, n.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")),
		},
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}
}
