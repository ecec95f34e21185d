package miio

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-miio/internal/miio"
)

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestHost(clock *fakeClock) *deviceHost {
	return &deviceHost{
		deviceID:        "lamp",
		connected:       func() bool { return true },
		networkInterval: 10 * time.Minute,
		onlineWindow:    90 * time.Second,
		now:             clock.now,
	}
}

func testInfo() miio.DeviceInfo {
	var info miio.DeviceInfo
	info.Model = "philips.light.bulb"
	info.FirmwareVersion = "2.0.6"
	info.MAC = "04:CF:8C:00:00:01"
	info.AP.SSID = "home"
	info.AP.RSSI = -52
	return info
}

func TestDeviceHostSkipUpdate(t *testing.T) {
	connected := true
	h := &deviceHost{connected: func() bool { return connected }}

	if h.SkipUpdate() {
		t.Error("SkipUpdate() = true while connected")
	}
	connected = false
	if !h.SkipUpdate() {
		t.Error("SkipUpdate() = false while disconnected")
	}
	if (&deviceHost{}).SkipUpdate() {
		t.Error("SkipUpdate() without a connection check should be false")
	}
}

func TestDeviceHostIdentified(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()
	influx := &mockInflux{}
	logger := newMockLogger()
	h := newTestHost(clock)
	h.store = store
	h.influx = influx
	h.logger = logger

	h.Identified(testInfo())

	if info := h.Info(); info == nil || info.FirmwareVersion != "2.0.6" {
		t.Errorf("Info() = %+v", info)
	}
	rec, err := store.GetDevice(context.Background(), "lamp")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if rec.Model != "philips.light.bulb" || rec.MAC != "04:CF:8C:00:00:01" {
		t.Errorf("stored identity = %+v", rec)
	}
	if len(influx.network) != 1 || influx.network[0].SSID != "home" || influx.network[0].RSSI != -52 {
		t.Errorf("network points = %+v", influx.network)
	}
	if !logger.has("info", "device identified") {
		t.Error("first identification should be logged")
	}
}

func TestDeviceHostRefreshNetwork(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := newTestHost(clock)
	tr := &fakeTransport{}
	h.attach(tr)
	ctx := context.Background()

	if err := h.RefreshNetwork(ctx); err != nil {
		t.Fatalf("RefreshNetwork() error = %v", err)
	}
	if n := len(tr.commands()); n != 0 {
		t.Fatalf("queued %d commands before identification, want 0", n)
	}

	h.Identified(testInfo())
	clock.advance(5 * time.Minute)
	if err := h.RefreshNetwork(ctx); err != nil {
		t.Fatalf("RefreshNetwork() error = %v", err)
	}
	if n := len(tr.commands()); n != 0 {
		t.Fatalf("queued %d commands inside the interval, want 0", n)
	}

	clock.advance(6 * time.Minute)
	if err := h.RefreshNetwork(ctx); err != nil {
		t.Fatalf("RefreshNetwork() error = %v", err)
	}
	if err := h.RefreshNetwork(ctx); err != nil {
		t.Fatalf("RefreshNetwork() error = %v", err)
	}
	cmds := tr.commands()
	if len(cmds) != 1 || cmds[0] != miio.MethodInfo+"[]" {
		t.Errorf("queued = %v, want one %s", cmds, miio.MethodInfo)
	}
}

func TestDeviceHostOnlineTracking(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := metrics.New()
	h := newTestHost(clock)
	h.metrics = m
	tr := &fakeTransport{}
	h.attach(tr)

	if h.Online() {
		t.Fatal("Online() before any reply")
	}

	tr.emit(miio.Response{
		ID:      1,
		Method:  miio.MethodGetProperty,
		Result:  json.RawMessage(`["on"]`),
		Elapsed: 120 * time.Millisecond,
	})
	if !h.Online() {
		t.Error("Online() = false after a reply")
	}
	if !h.LastSeen().Equal(clock.t) {
		t.Errorf("LastSeen() = %v, want %v", h.LastSeen(), clock.t)
	}

	clock.advance(time.Minute)
	tr.emit(miio.Response{ID: 2, Method: "set_power", Error: json.RawMessage(`{"code":-30001}`)})
	clock.advance(time.Minute)
	if h.Online() {
		t.Error("error replies must not keep the device online")
	}

	assertMetric(t, m, "miio_responses_total", `
# HELP miio_responses_total Device replies received, by kind.
# TYPE miio_responses_total counter
miio_responses_total{device="lamp",kind="error"} 1
miio_responses_total{device="lamp",kind="property"} 1
`)
}

func TestResponseKind(t *testing.T) {
	tests := []struct {
		resp miio.Response
		want string
	}{
		{miio.Response{Method: miio.MethodInfo, Result: json.RawMessage(`{}`)}, metrics.KindInfo},
		{miio.Response{Method: miio.MethodGetProperty, Result: json.RawMessage(`[]`)}, metrics.KindProperty},
		{miio.Response{Method: miio.MethodGetValue, Result: json.RawMessage(`[]`)}, metrics.KindProperty},
		{miio.Response{Method: "set_power", Result: json.RawMessage(`["ok"]`)}, metrics.KindRaw},
		{miio.Response{Method: miio.MethodInfo, Error: json.RawMessage(`{"code":-1}`)}, metrics.KindError},
	}
	for _, tt := range tests {
		if got := responseKind(tt.resp); got != tt.want {
			t.Errorf("responseKind(%s) = %q, want %q", tt.resp.Method, got, tt.want)
		}
	}
}
