package alerts

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

// telegramAPI is the part of the bot client used for sending
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender posts notifications to a chat through a bot
type TelegramSender struct {
	bot    telegramAPI
	chatID int64
}

// NewTelegramSender authenticates the bot token and targets chatID
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot, chatID: chatID}, nil
}

// Send posts the notification as a Markdown message
func (s *TelegramSender) Send(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(s.chatID, s.buildMessage(n))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func (s *TelegramSender) buildMessage(n *Notification) string {
	icon := "ℹ️"
	switch n.Severity {
	case SeverityAlert:
		icon = "🚨"
	case SeverityWarn:
		icon = "⚠️"
	}
	return fmt.Sprintf("%s *%s*\n%s", icon, n.Title(), strings.Join(n.Details(), "\n"))
}
