package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

func testEvent() *models.Event {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	return &models.Event{
		ID:          3,
		Name:        "Mining Madness",
		Description: "Mine as many blocks as you can!",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
	}
}

func TestRenderKinds(t *testing.T) {
	ev := testEvent()

	msg, err := Render(models.Notification24h, ev, Payload{}, discordTime)
	require.NoError(t, err)
	assert.Equal(t, "Mining Madness", msg.Title)
	assert.Equal(t, "Mine as many blocks as you can!\n\n📅 This event will start in **24 hours**!", msg.Description)
	require.Len(t, msg.Fields, 2)
	assert.Equal(t, "<t:1748808000:F>\n<t:1748808000:R>", msg.Fields[0].Value)

	msg, err = Render(models.Notification30m, ev, Payload{}, discordTime)
	require.NoError(t, err)
	assert.Equal(t, "⏰ Reminder: **Mining Madness** will begin in 30 minutes!", msg.Text)
	assert.Empty(t, msg.Title)

	msg, err = Render(models.NotificationStart, ev, Payload{}, discordTime)
	require.NoError(t, err)
	assert.Contains(t, msg.Description, "✅ This event has **started**!")

	_, err = Render("weekly", ev, Payload{}, discordTime)
	assert.Error(t, err)
}

func TestRenderResults(t *testing.T) {
	ev := testEvent()

	msg, err := Render(models.NotificationEnd, ev, Payload{Winners: []string{models.NoParticipants}}, discordTime)
	require.NoError(t, err)
	assert.Equal(t, "⏹ This event has ended!", msg.Description)
	require.Len(t, msg.Fields, 1)
	assert.Equal(t, "❌ There are no winners. Nobody participated in the event :(", msg.Fields[0].Value)

	msg, err = Render(models.NotificationEnd, ev, Payload{Winners: []string{"Steve", "Alex"}, Score: 30}, discordTime)
	require.NoError(t, err)
	require.Len(t, msg.Fields, 2)
	assert.Equal(t, "Steve\nAlex", msg.Fields[0].Value)
	assert.Equal(t, "30", msg.Fields[1].Value)
}

func TestWebhookPostsEmbed(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(config.WebhookConfig{URL: srv.URL, MaxRetries: 3, TimeoutSeconds: 2})
	require.NoError(t, wh.Notify(context.Background(), models.NotificationStart, testEvent(), Payload{}))

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Mining Madness", got.Embeds[0].Title)
	assert.Equal(t, colorStarted, got.Embeds[0].Color)
	assert.Len(t, got.Embeds[0].Fields, 2)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(config.WebhookConfig{URL: srv.URL, MaxRetries: 3})
	require.NoError(t, wh.Notify(context.Background(), models.Notification30m, testEvent(), Payload{}))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(config.WebhookConfig{URL: srv.URL, MaxRetries: 5})
	err := wh.Notify(context.Background(), models.Notification30m, testEvent(), Payload{})
	assert.ErrorContains(t, err, "400")
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWebhookRetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(config.WebhookConfig{URL: srv.URL, MaxRetries: 3})
	require.NoError(t, wh.Notify(context.Background(), models.Notification30m, testEvent(), Payload{}))
	assert.EqualValues(t, 2, calls.Load())
}

type fakeSender struct {
	to   tele.Recipient
	text string
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.to = to
	f.text, _ = what.(string)
	return &tele.Message{}, nil
}

func TestTelegramSendsToChat(t *testing.T) {
	fs := &fakeSender{}
	tg := &Telegram{bot: fs, chatID: -100123}

	require.NoError(t, tg.Notify(context.Background(), models.Notification30m, testEvent(), Payload{}))
	assert.Equal(t, "-100123", fs.to.Recipient())
	assert.Equal(t, "⏰ Reminder: *Mining Madness* will begin in 30 minutes!", fs.text)

	fs.err = errors.New("flood wait")
	assert.ErrorContains(t, tg.Notify(context.Background(), models.NotificationStart, testEvent(), Payload{}), "flood wait")
}

type countingNotifier struct{ calls int }

func (c *countingNotifier) Notify(context.Context, models.NotificationKind, *models.Event, Payload) error {
	c.calls++
	return nil
}

func TestRateLimitedHonoursContext(t *testing.T) {
	inner := &countingNotifier{}
	rl := NewRateLimited(inner, 1)

	require.NoError(t, rl.Notify(context.Background(), models.Notification30m, testEvent(), Payload{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Notify(ctx, models.Notification30m, testEvent(), Payload{}))
	assert.Equal(t, 1, inner.calls)
}

func TestNewSelectsDriver(t *testing.T) {
	n, err := New(config.NotifyConfig{Driver: "log"})
	require.NoError(t, err)
	assert.IsType(t, &Log{}, n)

	n, err = New(config.NotifyConfig{Driver: "webhook", RatePerSec: 2, Webhook: config.WebhookConfig{URL: "http://localhost"}})
	require.NoError(t, err)
	assert.IsType(t, &RateLimited{}, n)

	_, err = New(config.NotifyConfig{Driver: "telegram"})
	assert.Error(t, err)

	_, err = New(config.NotifyConfig{Driver: "pigeon"})
	assert.Error(t, err)

	assert.NoError(t, NewLog().Notify(context.Background(), models.NotificationEnd, testEvent(), Payload{Winners: []string{"Steve"}, Score: 4}))
}
