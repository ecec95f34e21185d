// Package rpc implements the miio Transport over an MQTT tunnel.
//
// The bridge does not speak the encrypted miio UDP protocol itself. A proxy
// on the device network owns the sockets and relays plain JSON-RPC over
// MQTT:
//
//	bridge ── miio/rpc/<device>/request  ──▶ proxy ──▶ device
//	bridge ◀── miio/rpc/<device>/response ── proxy ◀── device
//
// Requests are {"id":N,"method":M,"params":P}. Replies carry the same id
// with either "result" or "error". Ids increase monotonically and continue
// after the last id of a previous connection, because devices drop
// requests whose id they have already seen.
//
// # Correlation
//
// Each queued request is kept until its reply arrives or it times out. The
// reply is delivered to the registered listener with the originating method
// and params attached, which is what lets the engine map positional
// property results back to channels. A timed-out request is delivered as an
// error response so listeners can release anything they hold for it.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The listener is called from the
// MQTT client's delivery goroutines and from the expiry sweeper.
package rpc
