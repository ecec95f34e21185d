// Package mqtt provides the broker connection shared by the miio bridge.
//
// One client carries both sides of the bridge:
//
//	host (graylogic/command|ack|state/miio/<device>) ↔ bridge ↔ miio/rpc/<device>/* ↔ network proxy
//
// The network proxy owns the UDP sockets to the devices and relays miio
// JSON-RPC requests and replies over the miio/rpc topics.
//
// # Behaviour
//
//   - Auto-reconnect with the configured backoff bounds
//   - Tracked subscriptions restored after every reconnect
//   - Retained online status on connect, offline on Close, offline LWT on crash
//   - Handler panics recovered and logged
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on the same host
//   - The RPC tunnel can drive any device; restrict miio/rpc/#
//     with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeCommands("miio"), 1,
//	    func(topic string, payload []byte) error {
//	        return bridge.handleCommand(topic, payload)
//	    })
package mqtt
