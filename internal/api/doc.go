// Package api implements the HTTP REST API and WebSocket server of the miio
// bridge.
//
// This package provides:
//   - REST endpoints to list devices and channels, send channel commands and
//     request refreshes
//   - WebSocket hub broadcasting channel changes as they are published
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus exposition on /metrics
//
// # Authentication
//
// Tokens are HS256 JWTs signed with security.jwt.secret and issued by the
// site's identity service; the bridge only verifies them. An empty secret
// disables authentication, which is intended for development only.
// WebSocket connections authenticate with a single-use ticket from
// POST /api/v1/auth/ws-ticket so the token never appears in a URL.
//
// # Graceful Degradation
//
// Reads keep working while MQTT is down. Commands are accepted and queued
// on the device handler; they fail at the transport and show up in logs
// and metrics.
package api
