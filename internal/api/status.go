package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStatus is the response of GET /api/v1/status.
type SystemStatus struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	SchemaVersion string         `json:"schema_version,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Devices       DeviceMetrics  `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics counts devices by state.
type DeviceMetrics struct {
	Total      int `json:"total"`
	Online     int `json:"online"`
	Identified int `json:"identified"`
	Channels   int `json:"channels"`
}

// handleStatus returns a runtime and device summary.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		SchemaVersion: s.schema,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	if s.mqtt != nil {
		status.MQTT.Connected = s.mqtt.IsConnected()
	}

	for _, dev := range s.bridge.Devices() {
		status.Devices.Total++
		status.Devices.Channels += dev.Channels
		if dev.Online {
			status.Devices.Online++
		}
		if dev.Identified {
			status.Devices.Identified++
		}
	}

	writeJSON(w, http.StatusOK, status)
}
