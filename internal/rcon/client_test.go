package rcon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
)

type fakeConn struct {
	responses map[string]string
	fail      string
	sent      []string
	closed    bool
}

func (f *fakeConn) Execute(command string) (string, error) {
	if command == f.fail {
		return "", errors.New("broken pipe")
	}
	f.sent = append(f.sent, command)
	return f.responses[command], nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func newTestClient(fc *fakeConn, dialErr error) (*Client, *int) {
	dials := 0
	c := NewClient(config.RCONConfig{Host: "mc.local", Port: 25575, Password: "secret"})
	c.dial = func(addr, password string) (conn, error) {
		dials++
		if dialErr != nil {
			return nil, dialErr
		}
		return fc, nil
	}
	return c, &dials
}

func TestExecuteRunsBatchOnOneConnection(t *testing.T) {
	fc := &fakeConn{responses: map[string]string{"list": "There are 0 of a max of 20 players online: "}}
	c, dials := newTestClient(fc, nil)

	out, err := c.Execute(context.Background(), []string{"say hi", "list"})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "There are 0 of a max of 20 players online: "}, out)
	assert.Equal(t, []string{"say hi", "list"}, fc.sent)
	assert.Equal(t, 1, *dials)
	assert.True(t, fc.closed)
}

func TestExecuteErrors(t *testing.T) {
	_, err := func() ([]string, error) {
		c, _ := newTestClient(nil, errors.New("connection refused"))
		return c.Execute(context.Background(), []string{"list"})
	}()
	assert.ErrorContains(t, err, "connection refused")

	fc := &fakeConn{fail: "boom"}
	c, _ := newTestClient(fc, nil)
	out, err := c.Execute(context.Background(), []string{"say a", "boom", "say b"})
	assert.Error(t, err)
	assert.Len(t, out, 1)
	assert.True(t, fc.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, dials := newTestClient(&fakeConn{}, nil)
	_, err = c.Execute(ctx, []string{"list"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *dials)
}

func TestHealth(t *testing.T) {
	c, _ := newTestClient(&fakeConn{responses: map[string]string{"list": "There are 1 of a max of 20 players online: Steve"}}, nil)
	assert.NoError(t, c.Health(context.Background()))

	c, _ = newTestClient(&fakeConn{}, nil)
	assert.ErrorIs(t, c.Health(context.Background()), ErrEmptyResponse)
}
