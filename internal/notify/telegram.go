package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v4"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram posts announcements to a single chat.
type Telegram struct {
	bot    sender
	chatID int64
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatID: cfg.ChatID}, nil
}

func telegramTime(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
}

func (t *Telegram) Notify(ctx context.Context, kind models.NotificationKind, ev *models.Event, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := Render(kind, ev, p, telegramTime)
	if err != nil {
		return err
	}
	// Telegram Markdown marks bold with a single asterisk.
	text := strings.ReplaceAll(msg.PlainText(), "**", "*")
	if _, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, &tele.SendOptions{ParseMode: tele.ModeMarkdown}); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	log.Debug().Int64("event_id", ev.ID).Str("notification_type", string(kind)).Msg("Telegram notification sent")
	return nil
}
