package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/message-wall/backend/internal/service/broadcast"
)

// stableConnection is how long a stream must last before its drop no longer
// counts towards the reconnect backoff.
const stableConnection = 30 * time.Second

// Subscribe streams realtime events into out until ctx is done, reconnecting
// when the connection drops. Reconnects back off exponentially while streams
// keep dying quickly. It gives up after MaxRetries consecutive failed dials.
// out is never closed by Subscribe.
func (c *Client) Subscribe(ctx context.Context, out chan<- broadcast.Event) error {
	drops := 0
	for {
		conn, err := c.connectWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		opened := time.Now()
		err = c.readEvents(ctx, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(opened) >= stableConnection {
			drops = 0
		}
		delay := c.reconnectDelay(drops)
		drops++
		c.log.Warn("[client] event stream interrupted, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// reconnectDelay doubles ReconnectDelay per consecutive quick drop, capped at
// MaxReconnectDelay.
func (c *Client) reconnectDelay(drops int) time.Duration {
	delay := c.opts.ReconnectDelay
	for i := 0; i < drops && delay < c.opts.MaxReconnectDelay; i++ {
		delay *= 2
	}
	if delay > c.opts.MaxReconnectDelay {
		delay = c.opts.MaxReconnectDelay
	}
	return delay
}

func (c *Client) websocketURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/ws"
	return u.String()
}

func (c *Client) connectWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error

	for i := 0; i < c.opts.MaxRetries; i++ {
		conn, err := c.connect(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		retryDelay := time.Duration(i+1) * time.Second
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("failed to connect after %d retries, last error: %w", c.opts.MaxRetries, lastErr)
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: c.opts.Timeout}

	conn, _, err := dialer.DialContext(ctx, c.websocketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})
	return conn, nil
}

func (c *Client) readEvents(ctx context.Context, conn *websocket.Conn, out chan<- broadcast.Event) error {
	// Unblock ReadMessage when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		var evt broadcast.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.log.Warn("[client] skipping undecodable event", "error", err)
			continue
		}

		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
