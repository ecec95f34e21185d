//go:build integration

package mqtt

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// Broker tests. They need a Mosquitto broker at 127.0.0.1:1883:
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func connectTest(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", clientID, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_RPCRoundtrip(t *testing.T) {
	proxy := connectTest(t, "graylogic-int-proxy")
	bridge := connectTest(t, "graylogic-int-bridge")
	topics := Topics{}

	// The proxy answers every request on the response topic.
	err := proxy.Subscribe(topics.RPCRequest("lamp"), 1, func(_ string, payload []byte) error {
		var req struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		return proxy.PublishJSON(topics.RPCResponse("lamp"), map[string]any{"id": req.ID, "result": []string{"on"}}, false)
	})
	if err != nil {
		t.Fatalf("proxy Subscribe() error = %v", err)
	}

	replies := make(chan []byte, 1)
	if err := bridge.Subscribe(topics.RPCResponse("lamp"), 1, func(_ string, payload []byte) error {
		replies <- payload
		return nil
	}); err != nil {
		t.Fatalf("bridge Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := bridge.Publish(topics.RPCRequest("lamp"), []byte(`{"id":7,"method":"get_prop","params":["power"]}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-replies:
		if string(payload) != `{"id":7,"result":["on"]}` {
			t.Errorf("reply = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reply")
	}
}

func TestIntegration_WildcardCommands(t *testing.T) {
	host := connectTest(t, "graylogic-int-host")
	bridge := connectTest(t, "graylogic-int-cmd")
	topics := Topics{}

	var mu sync.Mutex
	seen := map[string]bool{}
	if err := bridge.Subscribe(topics.AllBridgeCommands("miio"), 1, func(topic string, _ []byte) error {
		mu.Lock()
		seen[topic] = true
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	devices := []string{"lamp", "fan", "purifier"}
	for _, d := range devices {
		if err := host.Publish(topics.BridgeCommand("miio", d), []byte(`{"channel":"power","command":"ON"}`), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", d, err)
		}
	}
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, d := range devices {
		if !seen[topics.BridgeCommand("miio", d)] {
			t.Errorf("no command received for %s", d)
		}
	}
}

func TestIntegration_OnlineStatusRetained(t *testing.T) {
	connectTest(t, "graylogic-int-status")
	watcher := connectTest(t, "graylogic-int-watcher")

	statuses := make(chan statusMessage, 4)
	if err := watcher.Subscribe(Topics{}.SystemStatus(), 1, func(_ string, payload []byte) error {
		var msg statusMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}
		statuses <- msg
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case msg := <-statuses:
		if msg.Status != StatusOnline {
			t.Errorf("retained status = %+v, want online", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no retained status")
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connectTest(t, "graylogic-int-track")
	handler := func(string, []byte) error { return nil }

	for _, d := range []string{"a", "b", "c"} {
		if err := client.Subscribe(Topics{}.RPCResponse(d), 1, handler); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}
	if client.SubscriptionCount() != 3 {
		t.Errorf("SubscriptionCount() = %d, want 3", client.SubscriptionCount())
	}

	if err := client.Unsubscribe(Topics{}.RPCResponse("b")); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(Topics{}.RPCResponse("b")) {
		t.Error("HasSubscription() = true after Unsubscribe()")
	}

	// Restoring re-subscribes the remaining topics without changing tracking.
	client.restoreSubscriptions()
	if client.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", client.SubscriptionCount())
	}
}
