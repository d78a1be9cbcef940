package telemetry

import (
	"sync"
	"time"

	"github.com/nerrad567/lightningd-harness/internal/infrastructure/mqtt"
	"github.com/nerrad567/lightningd-harness/internal/lightningd"
)

// Publisher is the subset of mqtt.Client the MQTT exporter needs.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Topics() mqtt.Topics
}

// LifecycleMessage is published on <prefix>/node/<id>/lifecycle for every
// event and, retained, on <prefix>/node/<id>/state.
type LifecycleMessage struct {
	Event     string    `json:"event"`
	NodeID    string    `json:"node_id"`
	PID       int       `json:"pid"`
	WorkDir   string    `json:"work_dir"`
	RPCPort   int       `json:"rpc_port"`
	PeerPort  int       `json:"peer_port"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLifecycleMessage converts a launcher event to its MQTT payload.
func NewLifecycleMessage(e lightningd.Event) LifecycleMessage {
	msg := LifecycleMessage{
		Event:     string(e.Type),
		NodeID:    e.NodeID,
		PID:       e.PID,
		WorkDir:   e.WorkDir,
		RPCPort:   e.RPCPort,
		PeerPort:  e.PeerPort,
		ElapsedMS: e.Elapsed.Milliseconds(),
		Timestamp: e.Time.UTC(),
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// MQTTObserver publishes lifecycle events over MQTT.
type MQTTObserver struct {
	pub    Publisher
	q      *queue
	logger Logger

	// states holds the latest message per node for Republish.
	states   map[string]LifecycleMessage
	statesMu sync.Mutex
}

// NewMQTTObserver starts an exporter publishing through pub.
// Close it to flush queued events.
func NewMQTTObserver(pub Publisher) *MQTTObserver {
	o := &MQTTObserver{
		pub:    pub,
		logger: noopLogger{},
		states: make(map[string]LifecycleMessage),
	}
	o.q = newQueue(defaultQueueSize, o.publish)
	return o
}

// SetLogger sets the logger for publish failures. Call before the first event.
func (o *MQTTObserver) SetLogger(logger Logger) {
	o.logger = logger
}

// OnEvent implements lightningd.Observer.
func (o *MQTTObserver) OnEvent(e lightningd.Event) {
	if !o.q.push(e) {
		o.logger.Warn("lifecycle event dropped", "exporter", "mqtt", "node_id", e.NodeID, "event", e.Type)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (o *MQTTObserver) Dropped() uint64 {
	return o.q.dropped.Load()
}

// Close publishes any queued events and stops the exporter.
func (o *MQTTObserver) Close() {
	o.q.close()
}

func (o *MQTTObserver) publish(e lightningd.Event) {
	topics := o.pub.Topics()
	msg := NewLifecycleMessage(e)

	o.statesMu.Lock()
	o.states[e.NodeID] = msg
	o.statesMu.Unlock()

	if err := o.pub.PublishJSON(topics.NodeLifecycle(e.NodeID), msg, false); err != nil {
		o.logger.Warn("publishing lifecycle event failed", "node_id", e.NodeID, "event", e.Type, "error", err)
	}
	if err := o.pub.PublishJSON(topics.NodeState(e.NodeID), msg, true); err != nil {
		o.logger.Warn("publishing node state failed", "node_id", e.NodeID, "error", err)
	}
}

// Republish sends the latest retained state of every node again. It is
// meant for the client's reconnect hook: a state change published while
// the broker was unreachable is otherwise lost.
func (o *MQTTObserver) Republish() {
	o.statesMu.Lock()
	msgs := make([]LifecycleMessage, 0, len(o.states))
	for _, msg := range o.states {
		msgs = append(msgs, msg)
	}
	o.statesMu.Unlock()

	topics := o.pub.Topics()
	for _, msg := range msgs {
		if err := o.pub.PublishJSON(topics.NodeState(msg.NodeID), msg, true); err != nil {
			o.logger.Warn("republishing node state failed", "node_id", msg.NodeID, "error", err)
		}
	}
}
