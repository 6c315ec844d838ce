package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

var ErrNotConnected = errors.New("not connected")

// Client wraps a NATS connection for publishing
type Client struct {
	conn       *nats.Conn
	reconnects atomic.Int64
	connected  atomic.Bool
}

// Config holds NATS configuration
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DefaultConfig returns reconnect settings suitable for a plant network.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Name:           "blasttap",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewClient connects to NATS
func NewClient(cfg Config) (*Client, error) {
	client := &Client{}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectHandler(func(*nats.Conn) {
			client.reconnects.Add(1)
			client.connected.Store(true)
		}),
		nats.DisconnectErrHandler(func(*nats.Conn, error) {
			client.connected.Store(false)
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	client.conn = conn
	client.connected.Store(true)
	return client, nil
}

// Publish marshals data as JSON and publishes it to subject
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.conn != nil && c.conn.IsConnected()
}

// Reconnects returns number of reconnections
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// Close flushes pending messages and closes the connection
func (c *Client) Close() error {
	c.connected.Store(false)
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to drain connection: %w", err)
	}
	return nil
}
