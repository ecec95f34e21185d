package miio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/gray-logic-miio/internal/miio/transform"
)

// Handler defaults.
const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultCacheExpiry     = 5 * time.Second
)

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// DeviceID identifies the device in logs. Required.
	DeviceID string

	// Address is the device's network address, used for liveness pings.
	Address string

	// Model is the device model if already known.
	Model string

	// Dial creates the transport on first use. Required.
	Dial Dialer

	// Schemas resolves models to schemas. Required.
	Schemas SchemaLoader

	// Registry is the host channel set for this device. Required.
	Registry ChannelRegistry

	// Publisher receives decoded state. Required.
	Publisher StatePublisher

	// Host supplies skip decisions and network refresh. Optional.
	Host Host

	// Evaluator applies channel transformations. A private one is created
	// when nil.
	Evaluator *transform.Evaluator

	// Cron schedules the periodic refresh. When nil the handler runs its
	// own ticker.
	Cron *cron.Cron

	// RefreshInterval is the polling period. Default: 30s.
	RefreshInterval time.Duration

	// CacheExpiry is the debounce window for refresh requests. Default: 5s.
	CacheExpiry time.Duration

	// LastRequestID is the last id used on a previous connection.
	LastRequestID int

	Logger Logger
}

// Handler runs the channel engine for one device instance.
//
// Create with NewHandler, call Start, and Dispose when done. Dispose
// returns the last request id, which the owner should pass back as
// HandlerOptions.LastRequestID on reconnect.
type Handler struct {
	deviceID  string
	address   string
	dial      Dialer
	schemas   SchemaLoader
	registry  ChannelRegistry
	publisher StatePublisher
	host      Host
	eval      *transform.Evaluator
	cron      *cron.Cron
	interval  time.Duration

	snap       atomic.Pointer[Snapshot]
	identified atomic.Bool
	disposed   atomic.Bool

	// mu guards model, transport, lastID and rawPending.
	mu         sync.Mutex
	model      string
	transport  Transport
	lastID     int
	rawPending map[int]string

	debounce  *expiringTrigger
	signal    chan struct{}
	cronEntry cron.EntryID
	hasEntry  bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHandler creates a Handler. It does not touch the network until Start.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if opts.Dial == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if opts.Schemas == nil {
		return nil, fmt.Errorf("schema loader is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("channel registry is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("state publisher is required")
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.CacheExpiry <= 0 {
		opts.CacheExpiry = DefaultCacheExpiry
	}
	if opts.Evaluator == nil {
		opts.Evaluator = transform.NewEvaluator()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		deviceID:   opts.DeviceID,
		address:    opts.Address,
		dial:       opts.Dial,
		schemas:    opts.Schemas,
		registry:   opts.Registry,
		publisher:  opts.Publisher,
		host:       opts.Host,
		eval:       opts.Evaluator,
		cron:       opts.Cron,
		interval:   opts.RefreshInterval,
		model:      strings.TrimSpace(opts.Model),
		lastID:     opts.LastRequestID,
		rawPending: make(map[int]string),
		signal:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		logger:     opts.Logger,
	}
	h.snap.Store(emptySnapshot)
	h.debounce = newExpiringTrigger(opts.CacheExpiry, h.schedule)
	return h, nil
}

// Start launches the refresh worker and the periodic trigger, and schedules
// an initial refresh. The handler stops when ctx is cancelled or Dispose is
// called.
func (h *Handler) Start(ctx context.Context) error {
	var err error
	h.startOnce.Do(func() {
		context.AfterFunc(ctx, h.cancel)

		var tick <-chan time.Time
		if h.cron != nil {
			spec := "@every " + h.interval.String()
			h.cronEntry, err = h.cron.AddFunc(spec, h.schedule)
			if err != nil {
				err = fmt.Errorf("scheduling refresh %q: %w", spec, err)
				return
			}
			h.hasEntry = true
		} else {
			ticker := time.NewTicker(h.interval)
			tick = ticker.C
			context.AfterFunc(h.ctx, func() { ticker.Stop() })
		}

		h.wg.Add(1)
		go h.run(tick)

		h.logInfo("device handler started",
			"model", h.Model(),
			"refresh_interval", h.interval.String(),
		)
		h.schedule()
	})
	return err
}

// run is the refresh worker. Cycles never overlap.
func (h *Handler) run(tick <-chan time.Time) {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.signal:
			h.refreshCycle(h.ctx)
		case <-tick:
			h.refreshCycle(h.ctx)
		}
	}
}

// schedule queues a refresh cycle on the worker. A cycle already queued
// absorbs the request.
func (h *Handler) schedule() {
	select {
	case h.signal <- struct{}{}:
	default:
	}
}

// RefreshNow requests a refresh. Requests inside the debounce window are
// coalesced into the one already scheduled.
func (h *Handler) RefreshNow() {
	if !h.debounce.Trigger() {
		h.logDebug("refresh skipped, already refreshing")
	}
}

// OnModelKnown records the device model and schedules a rebuild of the
// channel structure. Calling it again with the same model forces a rebuild,
// which is how schema changes are picked up.
func (h *Handler) OnModelKnown(model string) {
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}

	h.mu.Lock()
	h.model = model
	h.mu.Unlock()

	for {
		old := h.snap.Load()
		if h.snap.CompareAndSwap(old, old.stale(model)) {
			break
		}
	}
	h.logDebug("model known, channel structure scheduled", "model", model)
	h.schedule()
}

// HandleCommand encodes cmd for the channel's action and sends it.
//
// Unmapped channels and values the action cannot encode are logged and
// dropped. A successful send expires the debounce window and requests a
// refresh so the new state is read back.
func (h *Handler) HandleCommand(id ChannelID, cmd Command) {
	defer h.recoverPanic("command", "channel", id)

	if _, ok := cmd.(Refresh); ok {
		h.RefreshNow()
		return
	}

	if id == CommandsChannel {
		if err := h.send(cmd.String(), true); err != nil {
			h.logWarn("raw command failed", "command", cmd.String(), "error", err)
			return
		}
		h.afterSend()
		return
	}

	snap := h.snap.Load()
	if len(snap.Actions) == 0 {
		h.logDebug("actions not loaded yet", "channel", id)
		return
	}
	action, ok := snap.Action(id)
	if !ok {
		h.logDebug("channel not in action index", "channel", id, "command", cmd.String())
		return
	}

	wire, err := Encode(action, cmd)
	if err != nil {
		h.logWarn("command not encodable", "channel", id, "command", cmd.String(), "error", err)
		return
	}

	h.logDebug("sending command", "channel", id, "wire", wire)
	if err := h.send(wire, false); err != nil {
		h.logWarn("command send failed", "channel", id, "wire", wire, "error", err)
		return
	}
	h.afterSend()
}

func (h *Handler) afterSend() {
	h.debounce.Invalidate()
	h.debounce.Trigger()
}

// send queues a wire command. Raw commands are remembered so their
// response can be published on CommandsChannel.
func (h *Handler) send(wire string, raw bool) error {
	tr, err := h.connection(h.ctx)
	if err != nil {
		return err
	}
	method, params := SplitWireCommand(wire)

	// Holding mu until the id is recorded keeps a fast response from
	// racing past the rawPending lookup.
	h.mu.Lock()
	defer h.mu.Unlock()
	id, err := tr.QueueCommand(method, params)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if raw {
		h.rawPending[id] = wire
	}
	return nil
}

// connection returns the transport, dialling it on first use.
func (h *Handler) connection(ctx context.Context) (Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.transport != nil {
		return h.transport, nil
	}
	if h.disposed.Load() {
		return nil, fmt.Errorf("%w: handler disposed", ErrTransport)
	}

	tr, err := h.dial(ctx, h.lastID)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}
	tr.RegisterListener(h.HandleResponse)
	h.transport = tr
	return tr, nil
}

// Dispose stops the periodic trigger and worker, closes the transport, and
// returns the last request id. Safe to call more than once.
func (h *Handler) Dispose() int {
	h.stopOnce.Do(func() {
		h.disposed.Store(true)
		if h.hasEntry {
			h.cron.Remove(h.cronEntry)
		}
		h.cancel()
		h.wg.Wait()

		// Close waits for the transport's goroutines, which may be inside
		// HandleResponse waiting for mu.
		h.mu.Lock()
		tr := h.transport
		h.transport = nil
		h.mu.Unlock()

		if tr != nil {
			lastID := tr.LastID()
			if err := tr.Close(); err != nil {
				h.logWarn("closing transport", "error", err)
			}
			h.mu.Lock()
			h.lastID = lastID
			h.mu.Unlock()
		}

		h.logInfo("device handler disposed", "last_request_id", h.LastRequestID())
	})
	return h.LastRequestID()
}

// LastRequestID returns the most recent request id used.
func (h *Handler) LastRequestID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transport != nil {
		return h.transport.LastID()
	}
	return h.lastID
}

// DeviceID returns the device identifier.
func (h *Handler) DeviceID() string { return h.deviceID }

// Model returns the known model, or "".
func (h *Handler) Model() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model
}

// Identified reports whether a miIO.info response has been received.
func (h *Handler) Identified() bool { return h.identified.Load() }

// Snapshot returns the current materialized view. It must not be modified.
func (h *Handler) Snapshot() *Snapshot { return h.snap.Load() }

// SetLogger sets the logger.
func (h *Handler) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *Handler) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

func (h *Handler) logDebug(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Debug(msg, append([]any{"device", h.deviceID}, keysAndValues...)...)
	}
}

func (h *Handler) logInfo(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Info(msg, append([]any{"device", h.deviceID}, keysAndValues...)...)
	}
}

func (h *Handler) logWarn(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Warn(msg, append([]any{"device", h.deviceID}, keysAndValues...)...)
	}
}

func (h *Handler) logError(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"device", h.deviceID}, keysAndValues...)...)
	}
}

// recoverPanic logs a recovered panic. Deferred at every entry point so a
// faulty collaborator cannot take down the host.
func (h *Handler) recoverPanic(op string, keysAndValues ...any) {
	if r := recover(); r != nil {
		h.logError("panic recovered", append([]any{"op", op, "panic", r}, keysAndValues...)...)
	}
}
