//go:build integration

package mqtt

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/lightningd-harness/internal/infrastructure/config"
)

// These tests need a broker at 127.0.0.1:1883.
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:     true,
		Broker:      config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: clientID},
		QoS:         1,
		TopicPrefix: "lnharness-it",
		Reconnect:   config.MQTTReconnectConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second},
	}
}

func TestIntegration_CommandRoundtrip(t *testing.T) {
	client, err := Connect(integrationConfig("lnharness-it-roundtrip"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := client.Topics()
	received := make(chan string, 1)
	var calls atomic.Int32

	if err := client.Subscribe(topics.AllNodeCommands(), 1, func(topic string, payload []byte) error {
		calls.Add(1)
		id, _ := topics.NodeIDFromTopic(topic)
		received <- id + ":" + string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topics.AllNodeCommands()) {
		t.Error("subscription not tracked")
	}

	if err := client.Publish(topics.NodeCommand("n1"), []byte("stop"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "n1:stop" {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(topics.AllNodeCommands()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d", client.SubscriptionCount())
	}
}
