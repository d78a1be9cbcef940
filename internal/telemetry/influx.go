package telemetry

import (
	"time"

	"github.com/nerrad567/lightningd-harness/internal/lightningd"
)

// PointWriter is the subset of influxdb.Client the InfluxDB exporter needs.
type PointWriter interface {
	WriteLifecycleEvent(nodeID, event string, pid int, at time.Time)
	WriteLaunch(nodeID, outcome string, elapsed time.Duration, rpcPort, peerPort int)
}

// InfluxObserver records lifecycle events and launch timings in InfluxDB.
//
// Every event becomes a lifecycle point. Events that end a launch (ready,
// timed out, exited early, failed) also produce a launch point carrying
// the time from spawn.
type InfluxObserver struct {
	w      PointWriter
	q      *queue
	logger Logger
}

// NewInfluxObserver starts an exporter writing through w.
func NewInfluxObserver(w PointWriter) *InfluxObserver {
	o := &InfluxObserver{w: w, logger: noopLogger{}}
	o.q = newQueue(defaultQueueSize, o.write)
	return o
}

// SetLogger sets the logger for dropped events. Call before the first event.
func (o *InfluxObserver) SetLogger(logger Logger) {
	o.logger = logger
}

// OnEvent implements lightningd.Observer.
func (o *InfluxObserver) OnEvent(e lightningd.Event) {
	if !o.q.push(e) {
		o.logger.Warn("lifecycle event dropped", "exporter", "influxdb", "node_id", e.NodeID, "event", e.Type)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (o *InfluxObserver) Dropped() uint64 {
	return o.q.dropped.Load()
}

// Close writes any queued events and stops the exporter.
func (o *InfluxObserver) Close() {
	o.q.close()
}

func (o *InfluxObserver) write(e lightningd.Event) {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	o.w.WriteLifecycleEvent(e.NodeID, string(e.Type), e.PID, at)

	if isLaunchOutcome(e.Type) {
		o.w.WriteLaunch(e.NodeID, string(e.Type), e.Elapsed, e.RPCPort, e.PeerPort)
	}
}

func isLaunchOutcome(t lightningd.EventType) bool {
	switch t {
	case lightningd.EventReady, lightningd.EventTimedOut, lightningd.EventExitedEarly, lightningd.EventFailed:
		return true
	default:
		return false
	}
}
