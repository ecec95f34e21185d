// Package miio is the host side of the miio bridge.
//
// It owns one miio.Handler per configured device and connects the engine
// to the rest of the system:
//
//	┌──────────────┐  graylogic/*  ┌──────────────┐  miio/rpc/*  ┌─────────────┐
//	│  Gray Logic  │◄─────────────►│ miio bridge  │◄────────────►│ miio proxy  │◄──► devices
//	│     Core     │     MQTT      │  (this pkg)  │     MQTT     │  (UDP/LAN)  │
//	└──────────────┘               └──────────────┘              └─────────────┘
//
// # Responsibilities
//
//   - Route graylogic/command/miio/<device> messages to the device handler
//     and acknowledge them on graylogic/ack/miio/<device>
//   - Keep each device's channel set in SQLite (miio_channels) so it
//     survives restarts
//   - Persist the last RPC request id per device; devices ignore requests
//     that reuse an id they have already answered
//   - Publish channel state (retained, only on change), write numeric
//     values to InfluxDB and count everything in Prometheus
//   - Report bridge health on graylogic/health/miio
//   - Rebuild a device's channels when its schema document changes on disk
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package miio
