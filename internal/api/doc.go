// Package api implements the control API served by `lnharness run`.
//
// Endpoints (all JSON unless noted):
//
//	GET  /api/v1/health               harness and integration health
//	GET  /api/v1/metrics              Go runtime statistics
//	GET  /api/v1/node                 node snapshot (state, ports, getinfo)
//	GET  /api/v1/node/logs/{stream}   tail of stdout or stderr (text/plain)
//	POST /api/v1/node/stop            stop the node and release its resources
//
// There is no authentication. The listener defaults to 127.0.0.1 and is
// meant for the machine running the tests.
//
// The server follows the same lifecycle as the other infrastructure
// components:
//
//	server, err := api.New(deps)
//	if err := server.Start(ctx); err != nil { ... }
//	defer server.Close()
package api
