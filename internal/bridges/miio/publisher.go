package miio

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-miio/internal/miio"
)

// InfluxWriter records time-series points. *influxdb.Client satisfies it.
type InfluxWriter interface {
	WriteChannelState(deviceID, model, channel string, value float64)
	WriteNetworkQuality(deviceID, ssid string, rssi int)
}

// statePublisher fans decoded channel state out to MQTT, InfluxDB, metrics
// and the API event stream.
//
// Every numeric value is written to InfluxDB. The retained MQTT state
// message is only republished when a value changes.
type statePublisher struct {
	deviceID string
	model    func() string
	client   MQTTClient
	qos      byte
	influx   InfluxWriter
	metrics  *metrics.Metrics
	events   func(StateEvent)
	now      func() time.Time

	mu     sync.RWMutex
	values map[string]any

	logger Logger
}

// Publish implements miio.StatePublisher.
func (p *statePublisher) Publish(id miio.ChannelID, state miio.State) {
	channel := string(id)
	if !finite(state) {
		// JSON cannot carry NaN or Inf; keeping one would break every later
		// state message.
		p.logWarn("dropping non-finite value", "channel", channel)
		return
	}
	value := state.Value()
	now := p.now()

	p.mu.Lock()
	prev, seen := p.values[channel]
	changed := !seen || prev != value
	p.values[channel] = value
	var snapshot map[string]any
	if changed {
		snapshot = make(map[string]any, len(p.values))
		for k, v := range p.values {
			snapshot[k] = v
		}
	}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.ChannelUpdated(p.deviceID)
	}
	if v, ok := numericValue(state); ok && p.influx != nil {
		p.influx.WriteChannelState(p.deviceID, p.model(), channel, v)
	}
	if !changed {
		return
	}

	p.publishState(snapshot, now)
	if p.events != nil {
		p.events(StateEvent{DeviceID: p.deviceID, Channel: channel, Value: value, Timestamp: now})
	}
}

func (p *statePublisher) publishState(state map[string]any, ts time.Time) {
	if p.client == nil {
		return
	}
	payload, err := json.Marshal(StateMessage{
		DeviceID:  p.deviceID,
		Timestamp: ts.UTC(),
		Model:     p.model(),
		State:     state,
		Protocol:  Protocol,
	})
	if err != nil {
		p.logWarn("encoding state failed", "error", err)
		return
	}
	topic := mqtt.Topics{}.BridgeState(Protocol, p.deviceID)
	if err := p.client.Publish(topic, payload, p.qos, true); err != nil {
		p.logWarn("publishing state failed", "topic", topic, "error", err)
	}
}

// Values returns the last published value of every channel.
func (p *statePublisher) Values() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// finite reports whether every number in a state is finite.
func finite(s miio.State) bool {
	ok := func(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
	switch v := s.(type) {
	case miio.DecimalState:
		return ok(float64(v))
	case miio.HSBState:
		return ok(v.Hue) && ok(v.Saturation) && ok(v.Brightness)
	default:
		return true
	}
}

func (p *statePublisher) logWarn(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, append([]any{"device", p.deviceID}, keysAndValues...)...)
	}
}
