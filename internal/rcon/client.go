// Package rcon sends console commands to the game server over the Source
// RCON protocol.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorcon/rcon"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
)

var ErrEmptyResponse = errors.New("rcon: empty response")

type conn interface {
	Execute(command string) (string, error)
	Close() error
}

type dialFunc func(addr, password string) (conn, error)

// Client opens one connection per batch of commands. Batches are serialized
// so interleaved actions never share a socket.
type Client struct {
	addr     string
	password string
	dial     dialFunc

	mu sync.Mutex
}

func NewClient(cfg config.RCONConfig) *Client {
	dialTimeout := time.Duration(cfg.DialTimeoutSeconds) * time.Second
	deadline := time.Duration(cfg.DeadlineSeconds) * time.Second
	return &Client{
		addr:     cfg.Addr(),
		password: cfg.Password,
		dial: func(addr, password string) (conn, error) {
			return rcon.Dial(addr, password, rcon.SetDialTimeout(dialTimeout), rcon.SetDeadline(deadline))
		},
	}
}

// Execute runs commands in order and returns their responses.
func (c *Client) Execute(ctx context.Context, commands []string) ([]string, error) {
	if len(commands) == 0 {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := c.dial(c.addr, c.password)
	if err != nil {
		return nil, fmt.Errorf("rcon dial %s: %w", c.addr, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close rcon connection")
		}
	}()

	out := make([]string, 0, len(commands))
	for _, cmd := range commands {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		resp, err := rc.Execute(cmd)
		if err != nil {
			return out, fmt.Errorf("rcon execute %q: %w", cmd, err)
		}
		log.Trace().Str("command", cmd).Str("response", resp).Msg("rcon")
		out = append(out, resp)
	}
	return out, nil
}

// Health verifies the server answers the player list query.
func (c *Client) Health(ctx context.Context) error {
	out, err := c.Execute(ctx, []string{"list"})
	if err != nil {
		return err
	}
	if len(out) == 0 || strings.TrimSpace(out[0]) == "" {
		return ErrEmptyResponse
	}
	return nil
}
