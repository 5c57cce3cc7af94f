package host

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/notegraph/internal/engine"
)

// Channel carries requests to a host process.
type Channel interface {
	// Call sends req and waits for its response. A failed response is
	// returned as an *engine.Error carrying the host's code.
	Call(ctx context.Context, req Request) (Response, error)

	// Close releases the channel. Calling Close twice is a no-op.
	Close() error
}

// Client is a Channel over a Unix domain socket.
//
// Calls are serialized: one request is in flight per connection.
type Client struct {
	socketPath string
	conn       net.Conn
	reader     *bufio.Reader
	mu         sync.Mutex // serializes request/response pairs
	reqID      atomic.Int64
	closed     atomic.Bool
}

var _ Channel = (*Client)(nil)

// Dial connects to the host process at socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, engine.Wrap(engine.ErrCodeInitFailed, "dial "+socketPath, err)
	}
	return &Client{
		socketPath: socketPath,
		conn:       conn,
		reader:     bufio.NewReader(conn),
	}, nil
}

// Call sends a request and reads the response.
// The context deadline, if any, bounds the round trip.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return Response{}, engine.Errorf(engine.ErrCodeClosed, req.Method, "host connection is closed")
	}
	if err := ctx.Err(); err != nil {
		return Response{}, engine.Wrap(engine.ErrCodeQueryFailed, req.Method, err)
	}

	req.ID = strconv.FormatInt(c.reqID.Add(1), 10)

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Response{}, c.transportErr(req.Method, err)
	}
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			c.conn.SetDeadline(time.Unix(1, 0))
		})
		defer stop()
	}

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, engine.Wrap(engine.ErrCodeQueryFailed, req.Method, fmt.Errorf("marshal request: %w", err))
	}

	if _, err := fmt.Fprintf(c.conn, "%s\n", data); err != nil {
		return Response{}, c.transportErr(req.Method, fmt.Errorf("send request: %w", err))
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return Response{}, c.transportErr(req.Method, fmt.Errorf("read response: %w", err))
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, engine.Wrap(engine.ErrCodeQueryFailed, req.Method, fmt.Errorf("unmarshal response: %w", err))
	}
	if resp.ID != req.ID {
		return Response{}, engine.Errorf(engine.ErrCodeQueryFailed, req.Method, "response id %q does not match request %q", resp.ID, req.ID)
	}
	return resp, resp.Err()
}

// transportErr drops the connection: after a failed read or write the
// request/response stream can no longer be trusted.
func (c *Client) transportErr(op string, err error) error {
	if c.closed.Swap(true) {
		return &engine.Error{Code: engine.ErrCodeClosed, Op: op, Message: "host connection is closed", Err: err}
	}
	c.conn.Close()
	return engine.Wrap(engine.ErrCodeQueryFailed, op, err)
}

// Ping checks that the host is answering.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, Request{Method: MethodPing})
	return err
}

// Close disconnects from the host. It does not wait for an in-flight call;
// closing the connection unblocks it.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
