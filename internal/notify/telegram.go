package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// messageSender is the part of *tgbotapi.BotAPI used here.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts new, moved and cancelled bookings to the staff chat.
// Reminders and review requests are patient-only and skipped.
type Telegram struct {
	bot       messageSender
	chatID    int64
	templates Templates
}

// NewTelegram connects to the Bot API with token.
func NewTelegram(token string, chatID int64, templates Templates) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, templates: templates}, nil
}

// Notify implements Notifier. It never returns a handle.
func (t *Telegram) Notify(ctx context.Context, msg Message) (Handle, error) {
	if msg.Kind != KindConfirmation && msg.Kind != KindAmendment {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := tgbotapi.NewMessage(t.chatID, t.templates.RenderStaff(msg))
	out.DisableWebPagePreview = true
	if _, err := t.bot.Send(out); err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return "", nil
}
