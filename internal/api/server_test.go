package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	miiobridge "github.com/nerrad567/gray-logic-miio/internal/bridges/miio"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-miio/internal/miio"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// mockBridge is a test implementation of Bridge.
type mockBridge struct {
	mu       sync.Mutex
	devices  []miiobridge.DeviceStatus
	channels map[string][]miiobridge.ChannelView
	sent     []sentCommand
	refresh  []string
	listener func(miiobridge.StateEvent)

	// Error injection
	sendErr    error
	refreshErr error
}

type sentCommand struct {
	device  string
	channel string
	cmd     miio.Command
}

func newMockBridge() *mockBridge {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &mockBridge{
		devices: []miiobridge.DeviceStatus{
			{ID: "lamp", Host: "192.168.1.20", Model: "philips.light.bulb", Identified: true, Online: true, LastSeen: &now, Channels: 2},
			{ID: "fan", Host: "192.168.1.21", Channels: 0},
		},
		channels: map[string][]miiobridge.ChannelView{
			"lamp": {
				{ChannelSpec: miio.ChannelSpec{ID: "brightness", Type: "Dimmer", Label: "Brightness"}, Value: 80.0, Commandable: true},
				{ChannelSpec: miio.ChannelSpec{ID: "power", Type: "Switch", Label: "Power"}, Value: true, Commandable: true},
			},
			"fan": {},
		},
	}
}

func (m *mockBridge) Devices() []miiobridge.DeviceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]miiobridge.DeviceStatus(nil), m.devices...)
}

func (m *mockBridge) Device(id string) (miiobridge.DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return miiobridge.DeviceStatus{}, fmt.Errorf("%w: %s", miiobridge.ErrDeviceNotFound, id)
}

func (m *mockBridge) Channels(id string) ([]miiobridge.ChannelView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", miiobridge.ErrDeviceNotFound, id)
	}
	return ch, nil
}

func (m *mockBridge) SendCommand(device, channel string, cmd miio.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentCommand{device: device, channel: channel, cmd: cmd})
	return nil
}

func (m *mockBridge) Refresh(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshErr != nil {
		return m.refreshErr
	}
	m.refresh = append(m.refresh, id)
	return nil
}

func (m *mockBridge) SetStateListener(fn func(miiobridge.StateEvent)) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

func (m *mockBridge) emit(ev miiobridge.StateEvent) {
	m.mu.Lock()
	fn := m.listener
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (m *mockBridge) commands() []sentCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentCommand(nil), m.sent...)
}

type mockConn struct{ connected bool }

func (c mockConn) IsConnected() bool { return c.connected }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server around a mock bridge. An empty secret
// disables authentication.
func testServer(t *testing.T, secret string) (*Server, *mockBridge) {
	t.Helper()

	bridge := newMockBridge()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: secret, Issuer: "graylogic"},
		},
		Logger:  testLogger(),
		Bridge:  bridge,
		MQTT:    mockConn{connected: true},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "# metrics") }),
		Version: "test",

		SchemaVersion: "20260301_120000",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, bridge
}

func signToken(t *testing.T, secret, issuer string, expires time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "panel-1",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return token
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{Bridge: newMockBridge()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without bridge should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode(t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	w := do(t, srv.buildRouter(), http.MethodGet, "/metrics", "")

	if w.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "# metrics") {
		t.Errorf("metrics body = %q", w.Body.String())
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _ := testServer(t, "")
	srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nonexistent", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Device Tests ──────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode(t, w)
	if resp["count"] != float64(2) {
		t.Errorf("count = %v, want 2", resp["count"])
	}
	devices, ok := resp["devices"].([]any)
	if !ok || len(devices) != 2 {
		t.Fatalf("devices = %v", resp["devices"])
	}
	first, _ := devices[0].(map[string]any) //nolint:errcheck // checked via field access
	if first["model"] != "philips.light.bulb" {
		t.Errorf("first device = %v", first)
	}
}

func TestGetDevice(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	tests := []struct {
		name string
		path string
		want int
	}{
		{"known", "/api/v1/devices/lamp", http.StatusOK},
		{"unknown", "/api/v1/devices/toaster", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, tt.path, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestListChannels(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices/lamp/channels", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode(t, w)
	if resp["device_id"] != "lamp" || resp["count"] != float64(2) {
		t.Errorf("channels response = %v", resp)
	}
	channels, _ := resp["channels"].([]any) //nolint:errcheck // length checked below
	if len(channels) != 2 {
		t.Fatalf("channels = %v", resp["channels"])
	}
	power, _ := channels[1].(map[string]any) //nolint:errcheck // checked via field access
	if power["id"] != "power" || power["value"] != true || power["commandable"] != true {
		t.Errorf("power channel = %v", power)
	}
}

func TestChannelCommand(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		sendErr error
		want    int
		wantCmd miio.Command
	}{
		{"on", "/api/v1/devices/lamp/channels/power", `{"command":"on"}`, nil, http.StatusAccepted, miio.OnOffCommand(true)},
		{"set value", "/api/v1/devices/lamp/channels/power", `{"value":false}`, nil, http.StatusAccepted, miio.OnOffCommand(false)},
		{"refresh without body", "/api/v1/devices/lamp/channels/power", `{"command":"refresh"}`, nil, http.StatusAccepted, miio.Refresh{}},
		{"invalid json", "/api/v1/devices/lamp/channels/power", `{`, nil, http.StatusBadRequest, nil},
		{"missing value", "/api/v1/devices/lamp/channels/power", `{}`, nil, http.StatusBadRequest, nil},
		{"unknown command", "/api/v1/devices/lamp/channels/power", `{"command":"explode"}`, nil, http.StatusBadRequest, nil},
		{"unknown device", "/api/v1/devices/toaster/channels/power", `{"command":"on"}`, miiobridge.ErrDeviceNotFound, http.StatusNotFound, nil},
		{"unknown channel", "/api/v1/devices/lamp/channels/nope", `{"command":"on"}`, miiobridge.ErrUnknownChannel, http.StatusNotFound, nil},
		{"not running", "/api/v1/devices/lamp/channels/power", `{"command":"on"}`, miiobridge.ErrNotRunning, http.StatusServiceUnavailable, nil},
		{"other error", "/api/v1/devices/lamp/channels/power", `{"command":"on"}`, fmt.Errorf("boom"), http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, bridge := testServer(t, "")
			bridge.sendErr = tt.sendErr

			w := do(t, srv.buildRouter(), http.MethodPost, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}

			sent := bridge.commands()
			if tt.wantCmd == nil {
				if len(sent) != 0 {
					t.Errorf("commands sent = %v, want none", sent)
				}
				return
			}
			if len(sent) != 1 {
				t.Fatalf("commands sent = %d, want 1", len(sent))
			}
			if sent[0].device != "lamp" || sent[0].channel != "power" || sent[0].cmd != tt.wantCmd {
				t.Errorf("sent = %+v, want %v on lamp/power", sent[0], tt.wantCmd)
			}
			resp := decode(t, w)
			if resp["status"] != string(miiobridge.AckAccepted) || resp["command_id"] == "" {
				t.Errorf("response = %v", resp)
			}
		})
	}
}

func TestRefreshDevice(t *testing.T) {
	srv, bridge := testServer(t, "")
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/devices/lamp/refresh", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if len(bridge.refresh) != 1 || bridge.refresh[0] != "lamp" {
		t.Errorf("refreshed = %v, want [lamp]", bridge.refresh)
	}

	bridge.refreshErr = miiobridge.ErrDeviceNotFound
	w = do(t, router, http.MethodPost, "/api/v1/devices/toaster/refresh", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestStatus(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/status", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var status SystemStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := DeviceMetrics{Total: 2, Online: 1, Identified: 1, Channels: 2}
	if status.Devices != want {
		t.Errorf("devices = %+v, want %+v", status.Devices, want)
	}
	if !status.MQTT.Connected {
		t.Error("mqtt.connected = false, want true")
	}
	if status.Version != "test" {
		t.Errorf("version = %q, want test", status.Version)
	}
	if status.SchemaVersion != "20260301_120000" {
		t.Errorf("schema_version = %q, want 20260301_120000", status.SchemaVersion)
	}
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	router := srv.buildRouter()
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, "graylogic", future), http.StatusOK},
		{"expired", "Bearer " + signToken(t, testSecret, "graylogic", time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signToken(t, testSecret, "someone-else", future), http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "another-secret-that-is-also-32-chars!!", "graylogic", future), http.StatusUnauthorized},
		{"garbage", "Bearer not.a.token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuth_HealthIsPublic(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/ws-ticket", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "graylogic", time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode(t, w)
	ticket, ok := resp["ticket"].(string)
	if !ok || ticket == "" {
		t.Fatal("expected ticket to be a non-empty string")
	}

	entry, ok := srv.tickets.consume(ticket, time.Now())
	if !ok {
		t.Fatal("ticket should be valid on first use")
	}
	if entry.subject != "panel-1" {
		t.Errorf("subject = %q, want panel-1", entry.subject)
	}
	if _, ok := srv.tickets.consume(ticket, time.Now()); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	ts := newTicketStore()
	now := time.Now()
	ticket := ts.issue("panel-1", now)

	if _, ok := ts.consume(ticket, now.Add(ticketTTL+time.Second)); ok {
		t.Error("expired ticket should not be valid")
	}
}

func TestWSTicket_Clean(t *testing.T) {
	ts := newTicketStore()
	now := time.Now()
	old := ts.issue("a", now.Add(-2*ticketTTL))
	fresh := ts.issue("b", now)

	ts.clean(now)

	if _, ok := ts.tickets[old]; ok {
		t.Error("expired ticket should be cleaned")
	}
	if _, ok := ts.tickets[fresh]; !ok {
		t.Error("fresh ticket should survive clean")
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{EventChannelState: {}},
	}
	hub.Register(client)

	hub.Broadcast(EventChannelState, miiobridge.StateEvent{DeviceID: "lamp", Channel: "power", Value: true})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != EventChannelState {
			t.Errorf("message = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"other": {}},
	}
	hub.Register(client)

	hub.Broadcast(EventChannelState, map[string]any{"device_id": "lamp"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}

	// A second unregister must not close the send channel twice.
	hub.Unregister(client)
}

func TestWSClient_HandleMessage(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	next := func() WSMessage {
		t.Helper()
		select {
		case data := <-client.send:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			return msg
		case <-time.After(time.Second):
			t.Fatal("no reply")
			return WSMessage{}
		}
	}

	client.handleMessage([]byte(`{"type":"subscribe","id":"1","payload":{"channels":["channel.state_changed"]}}`))
	if msg := next(); msg.Type != WSTypeResponse || msg.ID != "1" {
		t.Errorf("subscribe reply = %+v", msg)
	}
	if !client.isSubscribed(EventChannelState) {
		t.Error("client should be subscribed")
	}

	client.handleMessage([]byte(`{"type":"ping","id":"2"}`))
	if msg := next(); msg.Type != WSTypePong || msg.ID != "2" {
		t.Errorf("ping reply = %+v", msg)
	}

	client.handleMessage([]byte(`{"type":"unsubscribe","id":"3","payload":{"channels":["channel.state_changed"]}}`))
	next()
	if client.isSubscribed(EventChannelState) {
		t.Error("client should be unsubscribed")
	}

	client.handleMessage([]byte(`{"type":"dance","id":"4"}`))
	if msg := next(); msg.Type != WSTypeError {
		t.Errorf("unknown type reply = %+v", msg)
	}

	client.handleMessage([]byte(`not json`))
	if msg := next(); msg.Type != WSTypeError {
		t.Errorf("invalid JSON reply = %+v", msg)
	}
}

// ─── WebSocket Integration Tests ───────────────────────────────────

func wsURL(ts *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func TestWebSocket_StateBroadcast(t *testing.T) {
	srv, bridge := testServer(t, "")
	bridge.SetStateListener(srv.broadcastState)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()

	sub := WSMessage{Type: WSTypeSubscribe, ID: "s1", Payload: WSSubscribePayload{Channels: []string{EventChannelState}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write: %v", err)
	}

	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply WSMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read subscribe reply: %v", err)
	}
	if reply.Type != WSTypeResponse {
		t.Fatalf("reply = %+v", reply)
	}

	bridge.emit(miiobridge.StateEvent{DeviceID: "lamp", Channel: "brightness", Value: 42.0, Timestamp: time.Now()})

	var event struct {
		Type      string                `json:"type"`
		EventType string                `json:"event_type"`
		Payload   miiobridge.StateEvent `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.EventType != EventChannelState || event.Payload.DeviceID != "lamp" || event.Payload.Channel != "brightness" {
		t.Errorf("event = %+v", event)
	}
	if event.Payload.Value != 42.0 {
		t.Errorf("value = %v, want 42", event.Payload.Value)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	tests := []struct {
		name  string
		query string
	}{
		{"missing ticket", ""},
		{"unknown ticket", "ticket=nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, tt.query), nil)
			if err == nil {
				conn.Close()
				t.Fatal("dial should fail without a valid ticket")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("response = %v, want 401", resp)
			}
			if resp != nil {
				resp.Body.Close()
			}
		})
	}

	ticket := srv.tickets.issue("panel-1", time.Now())
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "ticket="+ticket), nil)
	if err != nil {
		t.Fatalf("dial with ticket: %v", err)
	}
	resp.Body.Close()
	conn.Close()
}

func TestServer_StartAndClose(t *testing.T) {
	srv, bridge := testServer(t, "")
	srv.cfg.Port = 19180

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	bridge.mu.Lock()
	hasListener := bridge.listener != nil
	bridge.mu.Unlock()
	if !hasListener {
		t.Error("Start() should register a state listener")
	}

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://127.0.0.1:19180/api/v1/health")
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	bridge.mu.Lock()
	hasListener = bridge.listener != nil
	bridge.mu.Unlock()
	if hasListener {
		t.Error("Close() should clear the state listener")
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	srv, _ := testServer(t, "")
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
}
