// Package rpc is a minimal JSON-RPC 2.0 client for the lightningd unix socket.
//
// Only the calls the harness needs are wrapped (getinfo and stop); anything
// else can go through Client.Call.
package rpc
