package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultClientTimeout bounds a whole round trip when the context has no deadline.
const DefaultClientTimeout = 5 * time.Second

// maxResponseBytes bounds a single encoded response line.
const maxResponseBytes = 16 << 10

// ErrUnexpectedResponse is returned when the daemon answers with something
// other than a session response.
var ErrUnexpectedResponse = errors.New("unexpected response from daemon")

// Client talks to a running daemon over its control socket. Each call
// opens its own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: DefaultClientTimeout}
}

// SetTimeout replaces DefaultClientTimeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Status asks the daemon for the current session summary.
func (c *Client) Status(ctx context.Context) (*SessionResponse, error) {
	return c.roundTrip(ctx, &Request{Type: MessageTypeStatusRequest})
}

// SubmitFragment hands a redirect fragment to the daemon, which derives and
// publishes a session from it the same way the browser redirect route does.
func (c *Client) SubmitFragment(ctx context.Context, fragment string) (*SessionResponse, error) {
	return c.roundTrip(ctx, &Request{Type: MessageTypeFragmentRequest, Fragment: fragment})
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*SessionResponse, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", req.Type, err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Type, err)
	}

	reply, err := bufio.NewReader(io.LimitReader(conn, maxResponseBytes)).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(reply) > 0) {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp SessionResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if resp.Type != MessageTypeSessionResponse {
		return nil, fmt.Errorf("%w: type %q", ErrUnexpectedResponse, resp.Type)
	}

	return &resp, nil
}
