package miio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/mqtt"
)

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Counts returns the current device counts. Optional.
	Counts func() DeviceCounts
}

// HealthReporter publishes periodic retained health messages on
// graylogic/health/miio.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	counts    func() DeviceCounts

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	counts := cfg.Counts
	if counts == nil {
		counts = func() DeviceCounts { return DeviceCounts{} }
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		counts:    counts,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus is degraded when the broker is unreachable or when
// devices are configured but none of them answers.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	c := h.counts()
	if c.Configured > 0 && c.Online == 0 {
		return HealthDegraded, "no device responding"
	}
	if c.Online < c.Configured {
		return HealthHealthy, fmt.Sprintf("%d of %d devices offline", c.Configured-c.Online, c.Configured)
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	return HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Devices:       h.counts(),
		Reason:        reason,
	}
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return fmt.Errorf("encoding health: %w", err)
	}
	return h.publisher.Publish(mqtt.Topics{}.BridgeHealth(Protocol), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
