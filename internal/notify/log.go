package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

// Log writes announcements to the application log. Used when no channel is configured.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (l *Log) Notify(_ context.Context, kind models.NotificationKind, ev *models.Event, p Payload) error {
	msg, err := Render(kind, ev, p, func(t time.Time) string { return t.UTC().Format(time.RFC1123) })
	if err != nil {
		return err
	}
	log.Info().
		Int64("event_id", ev.ID).
		Str("notification_type", string(kind)).
		Str("message", msg.PlainText()).
		Msg("Notification")
	return nil
}
