package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementChannel = "miio_channel"
	MeasurementNetwork = "miio_network"
)

// ChannelPoint builds the point for one numeric channel value.
//
// Tags: device_id, model, channel. Field: value.
func ChannelPoint(deviceID, model, channel string, value float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementChannel,
		map[string]string{
			"device_id": deviceID,
			"model":     model,
			"channel":   channel,
		},
		map[string]any{
			"value": value,
		},
		ts,
	)
}

// NetworkPoint builds the point for a device's Wi-Fi signal report.
func NetworkPoint(deviceID, ssid string, rssi int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementNetwork,
		map[string]string{
			"device_id": deviceID,
			"ssid":      ssid,
		},
		map[string]any{
			"rssi": rssi,
		},
		ts,
	)
}

// WriteChannelState records a channel value.
//
// Only numeric values are stored; switches are recorded as 0 or 1 by the
// caller. The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteChannelState("humidifier-hall", "zhimi.humidifier.v1", "humidity", 48)
func (c *Client) WriteChannelState(deviceID, model, channel string, value float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ChannelPoint(deviceID, model, channel, value, time.Now()))
}

// WriteNetworkQuality records a device's RSSI.
func (c *Client) WriteNetworkQuality(deviceID, ssid string, rssi int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NetworkPoint(deviceID, ssid, rssi, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
