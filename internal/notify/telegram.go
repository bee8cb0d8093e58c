package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"perfmonitor/channel"
	"perfmonitor/internal/report"
	"perfmonitor/profile"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// TelegramChannel posts alert summaries to a Telegram chat via Bot API.
// Params: bot token, chat id, and optional API base from settings.
// Returns: Telegram delivery channel.
type TelegramChannel struct {
	client  *tgbot.Bot
	chatID  any
	initErr error
}

// NewTelegramChannel creates the Telegram channel.
// Params: settings with "bot_token", "chat_id", and optional "api_base".
// Returns: initialized channel; configuration problems surface from
// ValidateConfig and Send rather than the constructor.
func NewTelegramChannel(settings channel.Settings) *TelegramChannel {
	botToken := strings.TrimSpace(settings.String("bot_token"))
	chatID := strings.TrimSpace(settings.String("chat_id"))

	tgc := &TelegramChannel{
		chatID: normalizeChatID(chatID),
	}
	if botToken == "" {
		tgc.initErr = errors.New("telegram channel requires a bot_token")
		return tgc
	}
	if chatID == "" {
		tgc.initErr = errors.New("telegram channel requires a chat_id")
		return tgc
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if apiBase := strings.TrimSpace(settings.String("api_base")); apiBase != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(apiBase, "/")))
	}
	botClient, err := tgbot.New(botToken, options...)
	if err != nil {
		tgc.initErr = fmt.Errorf("init telegram bot: %w", err)
		return tgc
	}
	tgc.client = botClient
	return tgc
}

// Type returns the channel tag.
// Params: none.
// Returns: static channel key.
func (c *TelegramChannel) Type() string {
	return channel.TypeTelegram
}

// ValidateConfig checks the channel settings at startup.
// Params: none.
// Returns: constructor error when token or chat id is missing.
func (c *TelegramChannel) ValidateConfig() error {
	return c.initErr
}

// Send posts one alert summary message to the configured chat.
// Params: context, captured profile, and report format.
// Returns: initialization or Bot API error.
func (c *TelegramChannel) Send(ctx context.Context, p profile.Profile, _ profile.Format) error {
	if c.initErr != nil {
		return c.initErr
	}
	if c.client == nil {
		return errors.New("telegram client is not initialized")
	}

	var text strings.Builder
	text.WriteString("⚠️ <b>Performance Alert</b>\n")
	fmt.Fprintf(&text, "<code>%s</code>\n", html.EscapeString(p.OperationKey))
	fmt.Fprintf(&text, "Duration: <b>%s</b>\n", report.FormatSeconds(p))
	fmt.Fprintf(&text, "Captured: %s", p.CapturedAt.Format("2006-01-02 15:04:05 MST"))

	sent, err := c.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    c.chatID,
		Text:      text.String(),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
// Params: configured chat ID value.
// Returns: Bot API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
