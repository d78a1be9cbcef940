package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix roots every topic when no prefix is configured.
const DefaultTopicPrefix = "lnharness"

// Topics builds lnharness topic names under a prefix:
//
//	<prefix>/node/<node-id>/lifecycle   launch and stop events
//	<prefix>/node/<node-id>/state       retained current state
//	<prefix>/node/<node-id>/command     commands to the harness ("stop")
//	<prefix>/system/status              retained harness online/offline
type Topics struct {
	Prefix string
}

// NewTopics returns builders for prefix, or DefaultTopicPrefix if empty.
// Trailing slashes are dropped.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// NodeLifecycle returns the lifecycle event topic for a node.
//
// Example: lnharness/node/6f1c.../lifecycle
func (t Topics) NodeLifecycle(nodeID string) string {
	return fmt.Sprintf("%s/node/%s/lifecycle", t.prefix(), nodeID)
}

// NodeState returns the retained state topic for a node.
func (t Topics) NodeState(nodeID string) string {
	return fmt.Sprintf("%s/node/%s/state", t.prefix(), nodeID)
}

// NodeCommand returns the command topic for a node.
func (t Topics) NodeCommand(nodeID string) string {
	return fmt.Sprintf("%s/node/%s/command", t.prefix(), nodeID)
}

// SystemStatus returns the harness status topic used for the LWT.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// AllNodeLifecycle matches lifecycle events of every node.
func (t Topics) AllNodeLifecycle() string {
	return t.prefix() + "/node/+/lifecycle"
}

// AllNodeCommands matches commands for every node.
func (t Topics) AllNodeCommands() string {
	return t.prefix() + "/node/+/command"
}

// All matches every harness topic.
func (t Topics) All() string {
	return t.prefix() + "/#"
}

// NodeIDFromTopic extracts the node ID from a node topic, reporting false
// for topics outside <prefix>/node/<id>/...
func (t Topics) NodeIDFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/node/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
