package miio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-miio/internal/miio"
)

// identityTimeout bounds the identity write after miIO.info.
const identityTimeout = 5 * time.Second

// deviceHost implements miio.Host for one device and tracks what the bridge
// knows about it: identity, network quality and when it last answered.
type deviceHost struct {
	deviceID        string
	connected       func() bool
	store           Store
	influx          InfluxWriter
	metrics         *metrics.Metrics
	networkInterval time.Duration
	onlineWindow    time.Duration
	now             func() time.Time

	mu           sync.RWMutex
	transport    miio.Transport
	info         *miio.DeviceInfo
	identifiedAt time.Time
	lastNetwork  time.Time
	lastSeen     time.Time

	logger Logger
}

// SkipUpdate skips refresh cycles while the broker connection is down;
// requests would only time out.
func (h *deviceHost) SkipUpdate() bool {
	return h.connected != nil && !h.connected()
}

// RefreshNetwork re-reads miIO.info once per network interval. The reply is
// handled like the first identification and lands in Identified.
func (h *deviceHost) RefreshNetwork(_ context.Context) error {
	h.mu.Lock()
	t := h.transport
	due := h.networkInterval > 0 && h.info != nil && t != nil &&
		h.now().Sub(h.lastNetwork) >= h.networkInterval
	if due {
		h.lastNetwork = h.now()
	}
	h.mu.Unlock()

	if !due {
		return nil
	}
	if _, err := t.QueueCommand(miio.MethodInfo, "[]"); err != nil {
		return fmt.Errorf("requesting network info: %w", err)
	}
	return nil
}

// Identified records the device identity and its Wi-Fi signal.
func (h *deviceHost) Identified(info miio.DeviceInfo) {
	h.mu.Lock()
	first := h.info == nil
	h.info = &info
	now := h.now()
	h.identifiedAt = now
	h.lastNetwork = now
	h.mu.Unlock()

	if h.influx != nil && info.AP.SSID != "" {
		h.influx.WriteNetworkQuality(h.deviceID, info.AP.SSID, info.AP.RSSI)
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), identityTimeout)
		defer cancel()
		if err := h.store.SaveIdentity(ctx, h.deviceID, info); err != nil && h.logger != nil {
			h.logger.Warn("saving device identity failed", "device", h.deviceID, "error", err)
		}
	}
	if first && h.logger != nil {
		h.logger.Info("device identified",
			"device", h.deviceID,
			"model", info.Model,
			"firmware", info.FirmwareVersion,
			"rssi", info.AP.RSSI,
		)
	}
}

// attach records the live transport so network refreshes can use it, and
// observes its replies.
func (h *deviceHost) attach(t miio.Transport) {
	h.mu.Lock()
	h.transport = t
	h.mu.Unlock()
	t.RegisterListener(h.observe)
}

// observe tracks liveness and counts replies.
func (h *deviceHost) observe(resp miio.Response) {
	if !resp.IsError() {
		h.mu.Lock()
		h.lastSeen = h.now()
		h.mu.Unlock()
	}
	if h.metrics != nil {
		h.metrics.ResponseReceived(h.deviceID, responseKind(resp), resp.Elapsed)
	}
}

func responseKind(resp miio.Response) string {
	switch {
	case resp.IsError():
		return metrics.KindError
	case resp.Method == miio.MethodInfo:
		return metrics.KindInfo
	case resp.Method == miio.MethodGetProperty || resp.Method == miio.MethodGetValue:
		return metrics.KindProperty
	default:
		return metrics.KindRaw
	}
}

// Online reports whether the device answered within the online window.
func (h *deviceHost) Online() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.lastSeen.IsZero() && h.now().Sub(h.lastSeen) <= h.onlineWindow
}

// LastSeen returns when the device last answered without error.
func (h *deviceHost) LastSeen() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastSeen
}

// Info returns the last miIO.info result, or nil before identification.
func (h *deviceHost) Info() *miio.DeviceInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.info == nil {
		return nil
	}
	info := *h.info
	return &info
}
