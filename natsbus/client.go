package natsbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Client is a thin wrapper around a NATS connection.
type Client struct {
	conn *nats.Conn
}

// NewClient connects to an embedded bus.
func NewClient(bus *Bus) (*Client, error) {
	return NewClientFromURL(bus.ClientURL())
}

// NewClientFromURL connects to the server at url.
func NewClientFromURL(url string, opts ...nats.Option) (*Client, error) {
	conn, err := nats.Connect(url, append([]nats.Option{nats.Name("conclave")}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(subject, data)
}

// QueueSubscribe registers handler in queue group queue, so that several
// serve nodes share the load of a subject.
func (c *Client) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.QueueSubscribe(subject, queue, handler)
}

// Request sends data and waits for a single reply until ctx is done.
func (c *Client) Request(ctx context.Context, subject string, data []byte) (*nats.Msg, error) {
	return c.conn.RequestWithContext(ctx, subject, data)
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close drains pending replies and closes the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
