package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the RPC socket cannot be dialed.
	ErrUnavailable = errors.New("rpc: socket unavailable")

	// ErrMismatchedID is returned when a response answers a different request.
	ErrMismatchedID = errors.New("rpc: response id mismatch")
)

// Error is a JSON-RPC error object returned by the daemon.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
