package notify

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

// RateLimited spaces out deliveries so bursts of due reminders do not trip
// the channel's flood limits.
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
}

func NewRateLimited(next Notifier, perSec int) *RateLimited {
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (r *RateLimited) Notify(ctx context.Context, kind models.NotificationKind, ev *models.Event, p Payload) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Notify(ctx, kind, ev, p)
}
