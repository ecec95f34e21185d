package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/config"
)

const (
	// defaultConnectTimeout bounds the initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds publish, subscribe and unsubscribe acknowledgements.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Status values published on the system status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// statusMessage is the retained payload on the system status topic.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// buildClientOptions maps the MQTT config section onto paho options.
//
// The broker URL is tcp:// or ssl:// depending on cfg.Broker.TLS. Sessions
// are clean; the RPC tunnel re-subscribes on reconnect so no broker-side
// session state is needed.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	// Command handlers publish RPC requests and wait for their acks, so
	// handlers must not run on paho's ack-processing goroutine.
	opts.SetOrderMatters(false)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT registers the retained offline message the broker publishes
// when the bridge disappears without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetWill(Topics{}.SystemStatus(), string(statusPayload(StatusOffline, clientID, "unexpected_disconnect")), 1, true)
}

// statusPayload encodes a system status message stamped with the current time.
func statusPayload(status, clientID, reason string) []byte {
	data, err := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// A struct of strings always marshals.
		return []byte(`{"status":"` + status + `"}`)
	}
	return data
}
