package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command results.
const (
	ResultSent    = "sent"
	ResultDropped = "dropped"
	ResultFailed  = "failed"
)

// Response kinds.
const (
	KindProperty = "property"
	KindInfo     = "info"
	KindRaw      = "raw"
	KindError    = "error"
)

// Device states.
const (
	StateConfigured = "configured"
	StateOnline     = "online"
	StateIdentified = "identified"
)

// Metrics holds the bridge's collectors.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	commands        *prometheus.CounterVec
	responses       *prometheus.CounterVec
	channelUpdates  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	devices         *prometheus.GaugeVec
}

// New creates a Metrics instance on its own registry. Go runtime and process
// collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "miio_commands_total",
			Help: "Commands handled per device, by result.",
		}, []string{"device", "result"}),

		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "miio_responses_total",
			Help: "Device replies received, by kind.",
		}, []string{"device", "kind"}),

		channelUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "miio_channel_updates_total",
			Help: "Channel values published.",
		}, []string{"device"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "miio_request_duration_seconds",
			Help:    "Time from request to reply.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"device"}),

		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "miio_devices",
			Help: "Devices by state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.commands,
		m.responses,
		m.channelUpdates,
		m.requestDuration,
		m.devices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CommandHandled counts a command for device with the given result.
func (m *Metrics) CommandHandled(device, result string) {
	m.commands.WithLabelValues(device, result).Inc()
}

// ResponseReceived counts a reply and records its latency when known.
func (m *Metrics) ResponseReceived(device, kind string, latency time.Duration) {
	m.responses.WithLabelValues(device, kind).Inc()
	if latency > 0 {
		m.requestDuration.WithLabelValues(device).Observe(latency.Seconds())
	}
}

// ChannelUpdated counts a published channel value.
func (m *Metrics) ChannelUpdated(device string) {
	m.channelUpdates.WithLabelValues(device).Inc()
}

// SetDevices sets the device gauges.
func (m *Metrics) SetDevices(configured, online, identified int) {
	m.devices.WithLabelValues(StateConfigured).Set(float64(configured))
	m.devices.WithLabelValues(StateOnline).Set(float64(online))
	m.devices.WithLabelValues(StateIdentified).Set(float64(identified))
}

// ForgetDevice removes every series labelled with device.
func (m *Metrics) ForgetDevice(device string) {
	labels := prometheus.Labels{"device": device}
	m.commands.DeletePartialMatch(labels)
	m.responses.DeletePartialMatch(labels)
	m.channelUpdates.DeletePartialMatch(labels)
	m.requestDuration.DeletePartialMatch(labels)
}
