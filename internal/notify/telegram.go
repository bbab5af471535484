package notify

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"
)

// TelegramSender delivers through an existing telebot instance. The
// address is the chat id as a decimal string.
type TelegramSender struct {
	bot *tele.Bot
}

func NewTelegram(bot *tele.Bot) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (t *TelegramSender) Send(ctx context.Context, address, body string) error {
	chatID, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram address %q: %w", address, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = t.bot.Send(tele.ChatID(chatID), body, tele.ModeMarkdown)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
