package notify

import (
	"context"
	"fmt"
	"time"
)

// Embed accent per severity.
var discordColors = map[Severity]int{
	SeverityInfo:     0x3498DB,
	SeverityWarning:  0xE67E22,
	SeverityCritical: 0xE74C3C,
}

// DiscordSender posts alerts to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
}

// NewDiscordSender creates a DiscordSender.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL}
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts a as one embed. Discord answers 204.
func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	err := postJSON(ctx, d.webhookURL, discordPayload{
		Username: "levfarm",
		Embeds: []discordEmbed{{
			Title:       a.Title,
			Description: a.Body,
			Color:       discordColors[a.Severity],
			Timestamp:   a.At.UTC().Format(time.RFC3339),
			Footer:      &discordFooter{Text: a.Severity.String()},
		}},
	}, "discord webhook")
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name implements Sender.
func (d *DiscordSender) Name() string { return "discord" }
