package miio

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-miio/internal/miio"
)

// publishedMessage records one Publish call.
type publishedMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// mockMQTT is an in-memory MQTTClient. When respond is set it plays the
// device side of the RPC tunnel: every request gets the returned result
// on the response topic.
type mockMQTT struct {
	mu         sync.Mutex
	connected  bool
	published  []publishedMessage
	handlers   map[string]mqtt.MessageHandler
	publishErr error

	respond func(method string, params json.RawMessage) (result string, ok bool)
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, publishedMessage{topic, append([]byte(nil), payload...), qos, retained})
	respond := m.respond
	m.mu.Unlock()

	if respond != nil && strings.HasSuffix(topic, "/request") {
		var req struct {
			ID     int             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(payload, &req); err == nil {
			if result, ok := respond(req.Method, req.Params); ok {
				device := strings.TrimSuffix(strings.TrimPrefix(topic, "miio/rpc/"), "/request")
				reply := []byte(`{"id":` + itoa(req.ID) + `,"result":` + result + `}`)
				// The caller may hold locks the reply path needs.
				go m.deliver(mqtt.Topics{}.RPCResponse(device), reply)
			}
		}
	}
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	m.handlers[topic] = handler
	m.mu.Unlock()
	return nil
}

func (m *mockMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	delete(m.handlers, topic)
	m.mu.Unlock()
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// deliver hands payload to the handler subscribed to topic, matching
// single-level wildcards.
func (m *mockMQTT) deliver(topic string, payload []byte) error {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range m.handlers {
		if topicMatches(filter, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler == nil {
		return nil
	}
	return handler(topic, payload)
}

func (m *mockMQTT) subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

// messages returns the published messages on topic.
func (m *mockMQTT) messages(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// requests returns the decoded RPC requests sent to device.
func (m *mockMQTT) requests(device string) []rpcRequest {
	var out []rpcRequest
	for _, p := range m.messages(mqtt.Topics{}.RPCRequest(device)) {
		var r rpcRequest
		if err := json.Unmarshal(p.Payload, &r); err == nil {
			out = append(out, r)
		}
	}
	return out
}

type rpcRequest struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

func itoa(i int) string {
	b, _ := json.Marshal(i) //nolint:errcheck // ints always marshal
	return string(b)
}

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	devices  map[string]*DeviceRecord
	channels map[string][]miio.ChannelSpec
	commits  int
}

func newMemStore() *memStore {
	return &memStore{
		devices:  make(map[string]*DeviceRecord),
		channels: make(map[string][]miio.ChannelSpec),
	}
}

func (s *memStore) EnsureDevice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		s.devices[id] = &DeviceRecord{ID: id, UpdatedAt: time.Now()}
	}
	return nil
}

func (s *memStore) GetDevice(_ context.Context, id string) (*DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) SaveIdentity(_ context.Context, id string, info miio.DeviceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(id)
	rec.Model = info.Model
	rec.Firmware = info.FirmwareVersion
	rec.MAC = info.MAC
	now := time.Now()
	rec.IdentifiedAt = &now
	return nil
}

func (s *memStore) SaveLastRequestID(_ context.Context, id string, lastID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(id).LastRequestID = lastID
	return nil
}

func (s *memStore) Channels(_ context.Context, id string) ([]miio.ChannelSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]miio.ChannelSpec(nil), s.channels[id]...), nil
}

func (s *memStore) ReplaceChannels(_ context.Context, id string, specs []miio.ChannelSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[id] = append([]miio.ChannelSpec(nil), specs...)
	s.commits++
	return nil
}

// record must be called with mu held.
func (s *memStore) record(id string) *DeviceRecord {
	rec, ok := s.devices[id]
	if !ok {
		rec = &DeviceRecord{ID: id}
		s.devices[id] = rec
	}
	return rec
}

// influxPoint records one InfluxWriter call.
type influxPoint struct {
	Device  string
	Model   string
	Channel string
	Value   float64
	SSID    string
	RSSI    int
}

type mockInflux struct {
	mu      sync.Mutex
	states  []influxPoint
	network []influxPoint
}

func (m *mockInflux) WriteChannelState(deviceID, model, channel string, value float64) {
	m.mu.Lock()
	m.states = append(m.states, influxPoint{Device: deviceID, Model: model, Channel: channel, Value: value})
	m.mu.Unlock()
}

func (m *mockInflux) WriteNetworkQuality(deviceID, ssid string, rssi int) {
	m.mu.Lock()
	m.network = append(m.network, influxPoint{Device: deviceID, SSID: ssid, RSSI: rssi})
	m.mu.Unlock()
}

func (m *mockInflux) stateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// mockLogger records messages by level.
type mockLogger struct {
	mu       sync.Mutex
	messages map[string][]string
}

func newMockLogger() *mockLogger {
	return &mockLogger{messages: make(map[string][]string)}
}

func (l *mockLogger) log(level, msg string) {
	l.mu.Lock()
	l.messages[level] = append(l.messages[level], msg)
	l.mu.Unlock()
}

func (l *mockLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *mockLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *mockLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *mockLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *mockLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages[level] {
		if m == msg {
			return true
		}
	}
	return false
}

// fakeTransport is a miio.Transport that records queued commands.
type fakeTransport struct {
	mu        sync.Mutex
	queued    []string
	listeners []func(miio.Response)
	lastID    int
}

func (f *fakeTransport) StartReceiver(context.Context) error    { return nil }
func (f *fakeTransport) SendPing(context.Context, string) error { return nil }
func (f *fakeTransport) Close() error                           { return nil }

func (f *fakeTransport) QueueCommand(method, params string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastID++
	f.queued = append(f.queued, method+params)
	return f.lastID, nil
}

func (f *fakeTransport) RegisterListener(fn func(miio.Response)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *fakeTransport) LastID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastID
}

func (f *fakeTransport) emit(resp miio.Response) {
	f.mu.Lock()
	listeners := append([]func(miio.Response){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(resp)
	}
}

func (f *fakeTransport) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queued...)
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// assertMetric compares the named metric family with its text exposition.
func assertMetric(t *testing.T, m *metrics.Metrics, name, expected string) {
	t.Helper()
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), name); err != nil {
		t.Errorf("metric %s: %v", name, err)
	}
}
