package miio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-miio/internal/miio"
	"github.com/nerrad567/gray-logic-miio/internal/miio/rpc"
	"github.com/nerrad567/gray-logic-miio/internal/miio/schema"
	"github.com/nerrad567/gray-logic-miio/internal/miio/transform"
)

const (
	// storeTimeout bounds store calls made while starting or stopping a device.
	storeTimeout = 5 * time.Second

	// onlineFactor times the refresh interval is how long a device counts
	// as online after its last reply.
	onlineFactor = 3

	commandQoS byte = 1
)

// MQTTClient is the subset of the MQTT client the bridge needs.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger is the logging interface used by the bridge.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions holds the dependencies for a Bridge.
type BridgeOptions struct {
	// Config is the bridge configuration. Required.
	Config *Config

	// MQTT carries bridge topics and the RPC tunnel. Required.
	MQTT MQTTClient

	// Store persists channels, identity and request ids. Optional; without
	// it channels are rebuilt from the schema on every start.
	Store Store

	// Influx records numeric channel values. Optional.
	Influx InfluxWriter

	// Metrics counts commands, replies and updates. Optional.
	Metrics *metrics.Metrics

	// Version is reported in health messages.
	Version string

	Logger Logger
}

// DeviceStatus summarises one device for the API.
type DeviceStatus struct {
	ID         string     `json:"id"`
	Host       string     `json:"host,omitempty"`
	Model      string     `json:"model,omitempty"`
	Firmware   string     `json:"firmware,omitempty"`
	Identified bool       `json:"identified"`
	Online     bool       `json:"online"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	Channels   int        `json:"channels"`
}

// ChannelView is a channel with its last known value.
type ChannelView struct {
	miio.ChannelSpec
	Value       any  `json:"value,omitempty"`
	Commandable bool `json:"commandable"`
}

// device groups the per-device components.
type device struct {
	cfg       DeviceConfig
	handler   *miio.Handler
	registry  *channelRegistry
	publisher *statePublisher
	host      *deviceHost
}

// Bridge runs the channel engine for every configured device and connects
// it to MQTT, SQLite, InfluxDB and Prometheus.
type Bridge struct {
	cfg     *Config
	mqtt    MQTTClient
	store   Store
	influx  InfluxWriter
	metrics *metrics.Metrics

	loader   *schema.Loader
	dirStore *schema.FSStore
	eval     *transform.Evaluator
	cron     *cron.Cron
	health   *HealthReporter

	mu      sync.RWMutex
	devices map[string]*device
	order   []string
	running bool

	eventsMu sync.RWMutex
	events   func(StateEvent)

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Devices are created and connected by Start.
//
// Parameters:
//   - opts: Bridge dependencies; Config and MQTT are required
//
// Returns:
//   - *Bridge: Ready to start
//   - error: If a required dependency is missing
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}

	stores := schema.ChainStore{}
	var dirStore *schema.FSStore
	if opts.Config.Schemas.Dir != "" {
		dirStore = schema.NewDirStore(opts.Config.Schemas.Dir)
		stores = append(stores, dirStore)
	}
	stores = append(stores, schema.Embedded())

	b := &Bridge{
		cfg:      opts.Config,
		mqtt:     opts.MQTT,
		store:    opts.Store,
		influx:   opts.Influx,
		metrics:  opts.Metrics,
		loader:   schema.NewLoader(stores),
		dirStore: dirStore,
		eval:     transform.NewEvaluator(),
		cron:     cron.New(),
		devices:  make(map[string]*device),
		logger:   opts.Logger,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   opts.Version,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTT,
		Counts:    b.deviceCounts,
	})
	if opts.Logger != nil {
		b.loader.SetLogger(opts.Logger)
		b.health.SetLogger(opts.Logger)
	}
	return b, nil
}

// Start creates a handler per device, subscribes to commands and starts
// health reporting and the schema watcher.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	if err := b.health.PublishStarting(); err != nil {
		b.logWarn("publishing starting health failed", "error", err)
	}

	for _, dc := range b.cfg.Devices {
		dev, err := b.newDevice(dc)
		if err != nil {
			b.disposeDevices()
			b.cancel()
			return fmt.Errorf("creating device %s: %w", dc.ID, err)
		}
		b.mu.Lock()
		b.devices[dc.ID] = dev
		b.order = append(b.order, dc.ID)
		b.mu.Unlock()

		if err := dev.handler.Start(b.ctx); err != nil {
			b.disposeDevices()
			b.cancel()
			return fmt.Errorf("starting device %s: %w", dc.ID, err)
		}
	}

	b.cron.Start()

	if err := b.mqtt.Subscribe(mqtt.Topics{}.AllBridgeCommands(Protocol), commandQoS, b.handleMQTTMessage); err != nil {
		b.disposeDevices()
		<-b.cron.Stop().Done()
		b.cancel()
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	b.health.Start(b.ctx)

	if b.dirStore != nil && b.cfg.Schemas.Watch {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.loader.Watch(b.ctx, b.cfg.Schemas.Dir, b.dirStore.Reindex, b.onSchemasChanged); err != nil {
				b.logWarn("schema watcher stopped", "error", err)
			}
		}()
	}

	b.mu.Lock()
	b.running = true
	b.mu.Unlock()

	b.logInfo("miio bridge started", "devices", len(b.cfg.Devices), "schema_dir", b.cfg.Schemas.Dir)
	return nil
}

// Stop disposes every handler, persists their last request ids and stops
// background work. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		wasRunning := b.running
		b.running = false
		b.mu.Unlock()
		if !wasRunning {
			return
		}

		if err := b.mqtt.Unsubscribe(mqtt.Topics{}.AllBridgeCommands(Protocol)); err != nil {
			b.logDebug("unsubscribing commands failed", "error", err)
		}
		b.health.Stop()
		b.disposeDevices()
		<-b.cron.Stop().Done()
		b.cancel()
		b.wg.Wait()

		b.logInfo("miio bridge stopped")
	})
}

// newDevice wires the engine components for one configured device. Stored
// state (model, channels, last request id) is restored first.
func (b *Bridge) newDevice(dc DeviceConfig) (*device, error) {
	model := dc.Model
	lastID := 0
	var channels []miio.ChannelSpec

	if b.store != nil {
		ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
		defer cancel()

		if err := b.store.EnsureDevice(ctx, dc.ID); err != nil {
			return nil, err
		}
		rec, err := b.store.GetDevice(ctx, dc.ID)
		if err != nil {
			return nil, err
		}
		lastID = rec.LastRequestID
		if model == "" {
			model = rec.Model
		}
		if channels, err = b.store.Channels(ctx, dc.ID); err != nil {
			return nil, err
		}
	}

	interval := b.cfg.RefreshInterval(dc)
	logger := b.getLogger()

	dev := &device{cfg: dc}
	dev.registry = newChannelRegistry(dc.ID, b.store, channels)
	dev.host = &deviceHost{
		deviceID:        dc.ID,
		connected:       b.mqtt.IsConnected,
		store:           b.store,
		influx:          b.influx,
		metrics:         b.metrics,
		networkInterval: b.cfg.GetNetworkInterval(),
		onlineWindow:    onlineFactor * interval,
		now:             time.Now,
		logger:          logger,
	}
	dev.publisher = &statePublisher{
		deviceID: dc.ID,
		model:    func() string { return dev.handler.Model() },
		client:   b.mqtt,
		qos:      commandQoS,
		influx:   b.influx,
		metrics:  b.metrics,
		events:   b.emit,
		now:      time.Now,
		values:   make(map[string]any),
		logger:   logger,
	}

	base := rpc.Dialer(b.mqtt, dc.ID, b.cfg.GetTransportTimeout(), logger)
	dial := func(ctx context.Context, last int) (miio.Transport, error) {
		t, err := base(ctx, last)
		if err != nil {
			return nil, err
		}
		dev.host.attach(t)
		return t, nil
	}

	handler, err := miio.NewHandler(miio.HandlerOptions{
		DeviceID:        dc.ID,
		Address:         dc.Host,
		Model:           model,
		Dial:            dial,
		Schemas:         b.loader,
		Registry:        dev.registry,
		Publisher:       dev.publisher,
		Host:            dev.host,
		Evaluator:       b.eval,
		Cron:            b.cron,
		RefreshInterval: interval,
		CacheExpiry:     b.cfg.GetDebounce(),
		LastRequestID:   lastID,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	dev.handler = handler
	return dev, nil
}

// disposeDevices stops every handler and records its last request id.
func (b *Bridge) disposeDevices() {
	b.mu.RLock()
	devs := make([]*device, 0, len(b.devices))
	for _, id := range b.order {
		devs = append(devs, b.devices[id])
	}
	b.mu.RUnlock()

	for _, dev := range devs {
		lastID := dev.handler.Dispose()
		if b.store == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := b.store.SaveLastRequestID(ctx, dev.cfg.ID, lastID); err != nil {
			b.logWarn("saving last request id failed", "device", dev.cfg.ID, "error", err)
		}
		cancel()
	}
}

// onSchemasChanged rebuilds the channels of every device using a changed model.
func (b *Bridge) onSchemasChanged(models []string) {
	changed := make(map[string]bool, len(models))
	for _, m := range models {
		changed[m] = true
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, dev := range b.devices {
		if model := dev.handler.Model(); changed[model] {
			b.logInfo("schema changed, rebuilding channels", "device", dev.cfg.ID, "model", model)
			dev.handler.OnModelKnown(model)
		}
	}
}

// handleMQTTMessage handles graylogic/command/miio/{device}.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	deviceID := topic[strings.LastIndex(topic, "/")+1:]

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishAck(deviceID, NewAckError(deviceID, msg, ErrCodeInvalidCommand, "malformed command payload"))
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	cmd, err := msg.ToCommand()
	if err == nil {
		err = b.SendCommand(deviceID, msg.Channel, cmd)
	}

	switch {
	case err == nil:
		b.publishAck(deviceID, NewAckMessage(deviceID, msg, AckAccepted))
	case errors.Is(err, ErrInvalidCommand):
		b.publishAck(deviceID, NewAckError(deviceID, msg, ErrCodeInvalidCommand, err.Error()))
	case errors.Is(err, ErrUnknownChannel):
		b.publishAck(deviceID, NewAckError(deviceID, msg, ErrCodeUnknownChannel, err.Error()))
	case errors.Is(err, ErrDeviceNotFound):
		b.publishAck(deviceID, NewAckError(deviceID, msg, ErrCodeNotConfigured, err.Error()))
	default:
		b.publishAck(deviceID, NewAckError(deviceID, msg, ErrCodeInvalidCommand, err.Error()))
	}

	b.logDebug("command received",
		"device", deviceID,
		"command_id", msg.ID,
		"channel", msg.Channel,
		"source", msg.Source,
		"error", err,
	)
	return nil
}

func (b *Bridge) publishAck(deviceID string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logWarn("encoding ack failed", "error", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.BridgeAck(Protocol, deviceID), payload, commandQoS, false); err != nil {
		b.logWarn("publishing ack failed", "device", deviceID, "error", err)
	}
}

// SendCommand hands a command to a device's handler.
//
// Refresh and raw commands on the "commands" channel are always accepted.
// Any other channel must be mapped to an action by the device's schema.
//
// Returns:
//   - error: ErrDeviceNotFound, ErrUnknownChannel or ErrNotRunning
func (b *Bridge) SendCommand(deviceID, channel string, cmd miio.Command) error {
	dev, err := b.device(deviceID)
	if err != nil {
		return err
	}

	id := miio.ChannelID(channel)
	if _, refresh := cmd.(miio.Refresh); !refresh && id != miio.CommandsChannel {
		if _, ok := dev.handler.Snapshot().Action(id); !ok {
			b.countCommand(deviceID, metrics.ResultDropped)
			return fmt.Errorf("%w: %s has no action for %q", ErrUnknownChannel, deviceID, channel)
		}
	}

	dev.handler.HandleCommand(id, cmd)
	b.countCommand(deviceID, metrics.ResultSent)
	return nil
}

// Refresh requests an immediate, debounced refresh of a device.
func (b *Bridge) Refresh(deviceID string) error {
	dev, err := b.device(deviceID)
	if err != nil {
		return err
	}
	dev.handler.RefreshNow()
	return nil
}

// Devices returns the status of every device in configuration order.
func (b *Bridge) Devices() []DeviceStatus {
	b.mu.RLock()
	devs := make([]*device, 0, len(b.order))
	for _, id := range b.order {
		devs = append(devs, b.devices[id])
	}
	b.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(devs))
	for _, dev := range devs {
		out = append(out, dev.status())
	}
	return out
}

// Device returns the status of one device.
func (b *Bridge) Device(deviceID string) (DeviceStatus, error) {
	dev, err := b.device(deviceID)
	if err != nil {
		return DeviceStatus{}, err
	}
	return dev.status(), nil
}

// Channels returns a device's channels with their last known values,
// ordered by channel id.
func (b *Bridge) Channels(deviceID string) ([]ChannelView, error) {
	dev, err := b.device(deviceID)
	if err != nil {
		return nil, err
	}

	snap := dev.handler.Snapshot()
	values := dev.publisher.Values()
	specs := dev.registry.List()

	views := make([]ChannelView, 0, len(specs))
	for _, spec := range specs {
		_, hasAction := snap.Action(spec.ID)
		views = append(views, ChannelView{
			ChannelSpec: spec,
			Value:       values[string(spec.ID)],
			Commandable: hasAction || spec.ID == miio.CommandsChannel,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views, nil
}

// SetStateListener registers fn to receive every channel change.
func (b *Bridge) SetStateListener(fn func(StateEvent)) {
	b.eventsMu.Lock()
	b.events = fn
	b.eventsMu.Unlock()
}

func (b *Bridge) emit(ev StateEvent) {
	b.eventsMu.RLock()
	fn := b.events
	b.eventsMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (b *Bridge) device(deviceID string) (*device, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return nil, ErrNotRunning
	}
	dev, ok := b.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return dev, nil
}

// deviceCounts feeds the health reporter and the device gauges.
func (b *Bridge) deviceCounts() DeviceCounts {
	b.mu.RLock()
	c := DeviceCounts{Configured: len(b.cfg.Devices)}
	for _, dev := range b.devices {
		if dev.host.Online() {
			c.Online++
		}
		if dev.handler.Identified() {
			c.Identified++
		}
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.SetDevices(c.Configured, c.Online, c.Identified)
	}
	return c
}

func (b *Bridge) countCommand(deviceID, result string) {
	if b.metrics != nil {
		b.metrics.CommandHandled(deviceID, result)
	}
}

func (d *device) status() DeviceStatus {
	st := DeviceStatus{
		ID:         d.cfg.ID,
		Host:       d.cfg.Host,
		Model:      d.handler.Model(),
		Identified: d.handler.Identified(),
		Online:     d.host.Online(),
		Channels:   len(d.registry.List()),
	}
	if info := d.host.Info(); info != nil {
		st.Firmware = info.FirmwareVersion
	}
	if seen := d.host.LastSeen(); !seen.IsZero() {
		st.LastSeen = &seen
	}
	return st
}

// SetLogger sets the logger for the bridge. Call before Start so device
// handlers pick it up.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.loader.SetLogger(logger)
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
