package mqtt

import "fmt"

// Topic prefixes.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{device}.
// RPC tunnel topics carry raw miio requests between the bridge and the
// network proxy that owns the device sockets.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "graylogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"

	// TopicPrefixRPC is the base for the miio RPC tunnel.
	TopicPrefixRPC = "miio/rpc"
)

// Topics provides builders for MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("miio", "lamp-living")
//	// Returns: "graylogic/state/miio/lamp-living"
type Topics struct{}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: graylogic/state/miio/lamp-living
func (Topics) BridgeState(protocol, device string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, device)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: graylogic/command/miio/lamp-living
func (Topics) BridgeCommand(protocol, device string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, device)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: graylogic/ack/miio/lamp-living
func (Topics) BridgeAck(protocol, device string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, device)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/miio
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// AllBridgeCommands returns a wildcard for every device command of a protocol.
//
// Example: graylogic/command/miio/+
func (Topics) AllBridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// =============================================================================
// RPC Tunnel Topics
// =============================================================================

// RPCRequest returns the topic requests to a device are published on.
//
// Example: miio/rpc/lamp-living/request
func (Topics) RPCRequest(device string) string {
	return fmt.Sprintf("%s/%s/request", TopicPrefixRPC, device)
}

// RPCResponse returns the topic the proxy publishes device replies on.
//
// Example: miio/rpc/lamp-living/response
func (Topics) RPCResponse(device string) string {
	return fmt.Sprintf("%s/%s/response", TopicPrefixRPC, device)
}

// RPCPing returns the topic liveness pings are published on.
//
// Example: miio/rpc/lamp-living/ping
func (Topics) RPCPing(device string) string {
	return fmt.Sprintf("%s/%s/ping", TopicPrefixRPC, device)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the topic for the bridge process's online status.
// This is also the LWT topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
