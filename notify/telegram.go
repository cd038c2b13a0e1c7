// Package notify pushes operator-facing event messages. Telegram is
// the only sink; without a configured token every event is a no-op.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gridflow/logger"
)

// Telegram sends events to a single chat. A nil *Telegram is valid
// and silently discards events.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram connects the bot; returns nil (no error) when token is
// empty so callers can wire the result unconditionally.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	logger.Infof("Telegram notifier connected as @%s", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Eventf formats and sends one message, fire-and-forget
func (t *Telegram) Eventf(format string, args ...interface{}) {
	if t == nil {
		return
	}
	text := fmt.Sprintf(format, args...)
	go func() {
		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
			logger.Warnf("Telegram send failed: %v", err)
		}
	}()
}
