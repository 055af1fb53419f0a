package alert

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Sender delivers one alert message to the operations channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type telegramSender struct {
	bot      *tele.Bot
	chatID   int64
	threadID int
}

// NewTelegramSender builds a send-only telegram client for the ops chat.
func NewTelegramSender(cfg TelegramConfig) (Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b, chatID: cfg.ChatID, threadID: cfg.ThreadID}, nil
}

func (t *telegramSender) Send(ctx context.Context, text string) error {
	_ = ctx // telebot v4 manages its own request timeouts
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if t.threadID != 0 {
		opts.ThreadID = t.threadID
	}
	_, err := t.bot.Send(tele.ChatID(t.chatID), text, opts)
	return err
}
