package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dreamware/herd/internal/codec"
	"github.com/dreamware/herd/internal/protocol"
)

// writeTimeout bounds a single envelope write.
const writeTimeout = 10 * time.Second

// Client is the resource side of the stream: one connection, many
// envelopes.
type Client struct {
	conn net.Conn
	enc  *codec.Encoder
	mu   sync.Mutex
}

// Dial connects to a coordinator at address (tcp://host:port or host:port).
func Dial(ctx context.Context, address string) (*Client, error) {
	hostport, err := HostPort(address)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("dialing coordinator %s: %w", hostport, err)
	}
	return &Client{conn: conn, enc: codec.NewEncoder(conn)}, nil
}

// Send encodes env onto the stream.
func (c *Client) Send(_ context.Context, env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := protocol.Encode(c.enc, env); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}

// SendRaw writes pre-encoded bytes. Intended for tests that exercise
// malformed input.
func (c *Client) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
