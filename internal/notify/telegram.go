package notify

import (
	"context"
	"fmt"
	"strings"
)

// TelegramSender posts alerts through the Bot API sendMessage call.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
}

// NewTelegramSender creates a TelegramSender for a bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{apiBase: "https://api.telegram.org", token: token, chatID: chatID}
}

// WithAPIBase points the sender at another Bot API host.
func (t *TelegramSender) WithAPIBase(base string) *TelegramSender {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

// Send posts a as plain text; WAD values and reasons would trip Markdown
// parsing. Non-info alerts lead with their severity.
func (t *TelegramSender) Send(ctx context.Context, a Alert) error {
	text := a.Title + "\n" + a.Body
	if a.Severity != SeverityInfo {
		text = "[" + a.Severity.String() + "] " + text
	}
	url := t.apiBase + "/bot" + t.token + "/sendMessage"
	// The URL embeds the bot token, so transport errors are redacted.
	err := postJSON(ctx, url, map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}, "telegram sendMessage")
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name implements Sender.
func (t *TelegramSender) Name() string { return "telegram" }
