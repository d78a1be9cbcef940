package rpc

import (
	"context"
	"errors"
	"fmt"
)

// Address is one entry of the getinfo address or binding lists.
type Address struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
	Port    int    `json:"port,omitempty"`
	Socket  string `json:"socket,omitempty"`
}

// Info is the subset of the getinfo result the harness relies on.
type Info struct {
	ID           string    `json:"id"`
	Alias        string    `json:"alias"`
	Color        string    `json:"color"`
	NumPeers     int       `json:"num_peers"`
	Version      string    `json:"version"`
	BlockHeight  int       `json:"blockheight"`
	Network      string    `json:"network"`
	LightningDir string    `json:"lightning-dir"`
	Binding      []Address `json:"binding"`
	Address      []Address `json:"address"`
}

// BindsPort reports whether the node listens on port.
func (i *Info) BindsPort(port int) bool {
	for _, b := range i.Binding {
		if b.Port == port {
			return true
		}
	}
	return false
}

// GetInfo returns the node's identity and bindings.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.Call(ctx, "getinfo", nil, &info); err != nil {
		return nil, fmt.Errorf("getinfo: %w", err)
	}
	return &info, nil
}

// Stop asks the daemon to shut down. The daemon may close the connection
// before answering, so only a failure to deliver the request is reported.
func (c *Client) Stop(ctx context.Context) error {
	err := c.Call(ctx, "stop", nil, nil)
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) || errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}
