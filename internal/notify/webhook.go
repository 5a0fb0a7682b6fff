package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

// Webhook posts Discord-compatible embeds to an HTTP endpoint.
type Webhook struct {
	url        string
	maxRetries int
	client     *http.Client
}

func NewWebhook(cfg config.WebhookConfig) *Webhook {
	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: cfg.URL, maxRetries: retries, client: &http.Client{Timeout: timeout}}
}

type webhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type webhookEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []webhookField `json:"fields,omitempty"`
}

type webhookBody struct {
	Content string         `json:"content,omitempty"`
	Embeds  []webhookEmbed `json:"embeds,omitempty"`
}

// discordTime renders an instant as a full date plus a relative countdown.
func discordTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:F>\n<t:%d:R>", t.Unix(), t.Unix())
}

func buildWebhookBody(msg Message) webhookBody {
	if msg.Title == "" {
		return webhookBody{Content: msg.Text}
	}
	embed := webhookEmbed{Title: msg.Title, Description: msg.Description, Color: msg.Color}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, webhookField(f))
	}
	return webhookBody{Embeds: []webhookEmbed{embed}}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

func (w *Webhook) Notify(ctx context.Context, kind models.NotificationKind, ev *models.Event, p Payload) error {
	msg, err := Render(kind, ev, p, discordTime)
	if err != nil {
		return err
	}
	body, err := json.Marshal(buildWebhookBody(msg))
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	var finalErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		finalErr = w.post(ctx, body)
		if finalErr == nil {
			log.Debug().Int64("event_id", ev.ID).Str("notification_type", string(kind)).
				Int("attempt", attempt).Msg("Webhook notification sent")
			return nil
		}
		var se *statusError
		if errors.As(finalErr, &se) && !se.retryable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(finalErr).Int("attempt", attempt).Int64("event_id", ev.ID).Msg("Webhook delivery failed")
	}
	return fmt.Errorf("webhook delivery failed: %w", finalErr)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("post %s: %w", req.URL.Redacted(), &statusError{code: resp.StatusCode, body: string(snippet)})
}
