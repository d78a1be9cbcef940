package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the harness.
const (
	MeasurementLifecycle = "lightningd_lifecycle"
	MeasurementLaunch    = "lightningd_launch"
	MeasurementFetch     = "lightningd_fetch"
)

// WriteLifecycleEvent records one node lifecycle event.
//
// Parameters:
//   - nodeID: Node identifier (tag)
//   - event: Event type, e.g. "ready" or "stopped" (tag)
//   - pid: Daemon process ID
//   - at: When the event happened
func (c *Client) WriteLifecycleEvent(nodeID, event string, pid int, at time.Time) {
	c.WritePointWithTime(MeasurementLifecycle,
		map[string]string{"node_id": nodeID, "event": event},
		map[string]any{"pid": pid},
		at,
	)
}

// WriteLaunch records how a launch ended and how long it took.
//
// Parameters:
//   - nodeID: Node identifier (tag)
//   - outcome: "ready", "timed_out", "exited_early" or "failed" (tag)
//   - elapsed: Time from spawn to the outcome
//   - rpcPort, peerPort: Ports the node was configured with
func (c *Client) WriteLaunch(nodeID, outcome string, elapsed time.Duration, rpcPort, peerPort int) {
	c.WritePoint(MeasurementLaunch,
		map[string]string{"node_id": nodeID, "outcome": outcome},
		map[string]any{
			"elapsed_ms": elapsed.Milliseconds(),
			"rpc_port":   rpcPort,
			"peer_port":  peerPort,
		},
	)
}

// WriteFetch records a release fetch.
//
// Parameters:
//   - version: lightningd version (tag)
//   - source: Where the archive came from
//   - cached: Whether the cache already held the version
//   - elapsed: Time spent
func (c *Client) WriteFetch(version, source string, cached bool, elapsed time.Duration) {
	c.WritePoint(MeasurementFetch,
		map[string]string{"version": version},
		map[string]any{
			"source":     source,
			"cached":     cached,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	)
}

// WritePoint writes a point stamped now. Dropped when not connected.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
// Dropped when not connected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
