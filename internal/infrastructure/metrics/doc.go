// Package metrics exposes Prometheus metrics for the miio bridge.
//
// Metrics live on a private registry so tests can create independent
// instances. Handler serves the registry in the Prometheus text format and
// is mounted by the API at /api/v1/metrics.
//
// # Metrics
//
//	miio_commands_total{device,result}          commands sent to devices
//	miio_responses_total{device,kind}           replies by kind (property, info, raw, error)
//	miio_channel_updates_total{device}          channel values published
//	miio_request_duration_seconds{device}       request to reply latency
//	miio_devices{state}                         devices by state (configured, online, identified)
package metrics
