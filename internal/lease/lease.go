// Package lease keeps a single scheduler instance active by holding a
// Redis key with an expiry. Only the holder of the key runs the loop.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrHeld = errors.New("lease held by another instance")
	ErrLost = errors.New("lease lost")
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func New(client *redis.Client, key string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

// Token identifies this holder in the lease key.
func (l *Lease) Token() string { return l.token }

func (l *Lease) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, l.key).Result()
		return fmt.Errorf("%w: %s (holder %s)", ErrHeld, l.key, holder)
	}
	log.Info().Str("lease_key", l.key).Str("token", l.token).Dur("ttl", l.ttl).Msg("Lease acquired")
	return nil
}

// WaitAcquire retries Acquire every interval until it succeeds or ctx ends.
func (l *Lease) WaitAcquire(ctx context.Context, interval time.Duration) error {
	for {
		err := l.Acquire(ctx)
		if err == nil || !errors.Is(err, ErrHeld) {
			return err
		}
		log.Info().Err(err).Dur("retry_in", interval).Msg("Waiting for lease")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLost, l.key)
	}
	return nil
}

// Release deletes the key if this instance still holds it.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	if n == 0 {
		log.Warn().Str("lease_key", l.key).Msg("Lease was not held at release")
		return nil
	}
	log.Info().Str("lease_key", l.key).Msg("Lease released")
	return nil
}

// KeepAlive renews the lease at a third of its TTL until ctx ends. It
// returns ErrLost when another instance took over.
func (l *Lease) KeepAlive(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Renew(ctx); err != nil {
				if errors.Is(err, ErrLost) {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				log.Warn().Err(err).Str("lease_key", l.key).Msg("Lease renewal failed, retrying")
			}
		}
	}
}
