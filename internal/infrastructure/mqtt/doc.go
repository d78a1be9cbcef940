// Package mqtt publishes lnharness lifecycle events to an MQTT broker and
// receives remote commands.
//
// Every node launched by `lnharness run` gets its own topics under the
// configured prefix (see Topics). Lifecycle events are published as JSON,
// the node's current state is retained, and a "stop" message on the node's
// command topic asks the harness to shut the node down. The harness's own
// online/offline status is retained on <prefix>/system/status, with a Last
// Will so an abrupt exit is still visible to subscribers.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.NodeCommand(node.ID()), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(payload)
//	    })
//
// Use TLS (broker.tls) whenever the broker is not on localhost.
package mqtt
