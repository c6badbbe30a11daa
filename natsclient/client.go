// Package natsclient wraps the NATS connection used by the optional broker
// ingress: connect with retry, reconnect logging, and graceful drain.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/pkg/retry"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultReconnectWait  = 2 * time.Second
	defaultDrainTimeout   = 10 * time.Second
)

// Client owns a single NATS connection.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	conn *nats.Conn
	subs []*nats.Subscription
	mu   sync.Mutex
}

// New creates a client for the given server URL. The name identifies this
// process on the server side.
func New(url, name string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		name:   name,
		logger: logger.With("component", "nats-client"),
	}
}

// URL returns the configured server URL.
func (c *Client) URL() string { return c.url }

// Connect dials the server, retrying transient failures with backoff until
// the context is cancelled or attempts run out.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"nats-client", "Connect", "connection check")
	}

	opts := []nats.Option{
		nats.Name(c.name),
		nats.Timeout(defaultConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(defaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("nats connection closed")
		}),
	}

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}, func() error {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			return err
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "nats-client", "Connect", "server dial")
	}

	c.logger.Info("nats connected", "url", c.conn.ConnectedUrl())
	return nil
}

// Subscribe registers a handler for a subject and tracks the subscription
// for drain at close.
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection,
			"nats-client", "Subscribe", "connection check")
	}

	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, errors.WrapTransient(err, "nats-client", "Subscribe",
			"subject subscription")
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// Publish sends a message on a subject.
func (c *Client) Publish(subject string, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.WrapInvalid(errors.ErrNoConnection,
			"nats-client", "Publish", "connection check")
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "nats-client", "Publish", "message publish")
	}
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains subscriptions and closes the connection. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.subs = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			conn.Close()
			return errors.WrapTransient(err, "nats-client", "Close", "drain")
		}
	case <-time.After(defaultDrainTimeout):
		conn.Close()
		return errors.WrapTransient(errors.ErrTimeout,
			"nats-client", "Close", "drain timeout")
	}
	return nil
}
