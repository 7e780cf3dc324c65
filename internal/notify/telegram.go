package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramMaxMessageLen = 4000 // Telegram limit is 4096; leave margin

// botSender is the subset of tgbotapi.BotAPI used to deliver notifications,
// allowing tests to supply a fake without a live connection.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers notifications to one chat via a bot.
type Telegram struct {
	bot    botSender
	chatID int64
}

// NewTelegram connects the bot and returns a notifier for the given chat.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func newTelegramWithSender(bot botSender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, formatTelegramText(n))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

func formatTelegramText(n Notification) string {
	var sb strings.Builder
	if n.Title != "" {
		sb.WriteString(n.Title)
	}
	if n.Subtitle != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(n.Subtitle)
	}
	if n.Message != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(n.Message)
	}
	return truncateRunes(sb.String(), telegramMaxMessageLen)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
