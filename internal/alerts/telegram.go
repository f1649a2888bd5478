package alerts

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier delivers alerts to a Telegram chat. Each message
// opens a one-off bot session, which keeps the engine free of
// long-lived connection state.
type TelegramNotifier struct {
	token  string
	chatID int64
}

// NewTelegramNotifier returns nil when token or chat are unset, which
// disables delivery without special-casing callers.
func NewTelegramNotifier(token string, chatID int64) *TelegramNotifier {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 {
		return nil
	}
	return &TelegramNotifier{token: token, chatID: chatID}
}

// Notify sends one Markdown message.
func (t *TelegramNotifier) Notify(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
