package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// defaultTimeout bounds a single call when the context has no deadline.
const defaultTimeout = 10 * time.Second

// jsonrpcVersion is the protocol version sent with every request.
const jsonrpcVersion = "2.0"

// Client issues JSON-RPC 2.0 calls against a lightningd unix socket.
//
// Each call opens its own connection, so a Client is safe for concurrent use
// and never holds a descriptor between calls.
type Client struct {
	socketPath string
	timeout    time.Duration
	nextID     atomic.Uint64
}

// NewClient creates a client for the socket at socketPath.
// A zero timeout selects the default of 10 seconds.
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{socketPath: socketPath, timeout: timeout}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Call invokes method with params and decodes the result into result.
//
// Parameters:
//   - ctx: bounds dialing and the round trip
//   - method: RPC method name (e.g. "getinfo")
//   - params: request parameters; nil sends an empty object
//   - result: pointer to decode into; nil discards the result
//
// Returns:
//   - error: ErrUnavailable if the socket cannot be reached, *Error for
//     daemon-side failures, or a wrapped transport/decoding error
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	if params == nil {
		params = struct{}{}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	var dialer net.Dialer
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, c.socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}

	// Unblock reads if ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now()) //nolint:errcheck // best effort
	})
	defer stop()

	req := request{
		JSONRPC: jsonrpcVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("sending %s: %w", method, c.ctxErr(ctx, err))
	}

	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("reading %s response: %w", method, c.ctxErr(ctx, err))
	}

	if resp.ID != req.ID {
		return fmt.Errorf("%w: id %d, want %d", ErrMismatchedID, resp.ID, req.ID)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// ctxErr prefers the context error when ctx caused the failure.
func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}
