// Package notify delivers event announcements to the community channel.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

// Payload carries the results of a finished event.
type Payload struct {
	Winners []string
	Score   int
}

// Notifier sends one announcement. Callers log failures and move on.
type Notifier interface {
	Notify(ctx context.Context, kind models.NotificationKind, ev *models.Event, p Payload) error
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a rendered announcement. Text-only messages leave Title empty.
type Message struct {
	Text        string
	Title       string
	Description string
	Color       int
	Fields      []Field
}

const (
	colorUpcoming = 0x3498db
	colorStarted  = 0x2ecc71
	colorEnded    = 0xf1c40f
)

// Render builds the announcement for kind. formatTime controls how start and
// end instants appear in the target channel.
func Render(kind models.NotificationKind, ev *models.Event, p Payload, formatTime func(time.Time) string) (Message, error) {
	when := []Field{
		{Name: "Starts", Value: formatTime(ev.StartTime), Inline: true},
		{Name: "Ends", Value: formatTime(ev.EndTime), Inline: true},
	}

	switch kind {
	case models.Notification24h:
		return Message{
			Title:       ev.Name,
			Description: withDescription(ev, "📅 This event will start in **24 hours**!"),
			Color:       colorUpcoming,
			Fields:      when,
		}, nil
	case models.Notification30m:
		return Message{Text: fmt.Sprintf("⏰ Reminder: **%s** will begin in 30 minutes!", ev.Name)}, nil
	case models.NotificationStart:
		return Message{
			Title:       ev.Name,
			Description: withDescription(ev, "✅ This event has **started**!"),
			Color:       colorStarted,
			Fields:      when,
		}, nil
	case models.NotificationEnd:
		msg := Message{Title: ev.Name, Description: "⏹ This event has ended!", Color: colorEnded}
		if noParticipants(p.Winners) {
			msg.Fields = []Field{{Name: "🏆 Winners", Value: "❌ There are no winners. Nobody participated in the event :("}}
			return msg, nil
		}
		msg.Fields = []Field{{Name: "🏆 Winners", Value: strings.Join(p.Winners, "\n")}}
		if p.Score > 0 {
			msg.Fields = append(msg.Fields, Field{Name: "Score", Value: fmt.Sprintf("%d", p.Score)})
		}
		return msg, nil
	}
	return Message{}, fmt.Errorf("unknown notification kind %q", kind)
}

func withDescription(ev *models.Event, line string) string {
	if ev.Description == "" {
		return line
	}
	return ev.Description + "\n\n" + line
}

func noParticipants(winners []string) bool {
	return len(winners) == 0 || (len(winners) == 1 && winners[0] == models.NoParticipants)
}

// PlainText flattens a message for channels without rich embeds.
func (m Message) PlainText() string {
	if m.Title == "" {
		return m.Text
	}
	var b strings.Builder
	b.WriteString("**" + m.Title + "**\n")
	if m.Description != "" {
		b.WriteString(m.Description + "\n")
	}
	for _, f := range m.Fields {
		b.WriteString("\n**" + f.Name + "**\n" + f.Value + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// New builds the notifier selected by cfg.Driver, rate limited when
// cfg.RatePerSec is positive.
func New(cfg config.NotifyConfig) (Notifier, error) {
	var n Notifier
	switch cfg.Driver {
	case "", "log":
		n = NewLog()
	case "telegram":
		t, err := NewTelegram(cfg.Telegram)
		if err != nil {
			return nil, err
		}
		n = t
	case "webhook":
		n = NewWebhook(cfg.Webhook)
	default:
		return nil, fmt.Errorf("unknown notify driver %q", cfg.Driver)
	}
	if cfg.RatePerSec > 0 {
		n = NewRateLimited(n, cfg.RatePerSec)
	}
	return n, nil
}
