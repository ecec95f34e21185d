package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-miio/internal/miio"
)

// Defaults.
const (
	// DefaultTimeout is how long a request waits for its reply.
	DefaultTimeout = 5 * time.Second

	// DefaultQoS is the QoS used for requests and the response subscription.
	DefaultQoS byte = 1

	// timeoutErrorCode is the error code of synthesized timeout replies.
	timeoutErrorCode = -30001

	// maxRequestID is where ids wrap back to 1.
	maxRequestID = 1<<31 - 1
)

// MQTTClient is the subset of the MQTT client the transport needs.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by the transport.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Options configures a Transport.
type Options struct {
	// DeviceID selects the tunnel topics. Required.
	DeviceID string

	// Client is the connected MQTT client. Required.
	Client MQTTClient

	// LastID is the last request id used; new ids continue after it.
	LastID int

	// Timeout bounds how long a request waits for its reply.
	// Default: DefaultTimeout.
	Timeout time.Duration

	// QoS for requests and responses. Default: DefaultQoS.
	QoS byte

	Logger Logger
}

// request is the wire form of an outgoing call.
type request struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// reply is the wire form of a proxy response.
type reply struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type pending struct {
	method string
	params json.RawMessage
	sent   time.Time
}

// Transport is a miio.Transport over the MQTT RPC tunnel.
type Transport struct {
	device  string
	client  MQTTClient
	timeout time.Duration
	qos     byte
	topics  mqtt.Topics
	now     func() time.Time

	mu         sync.Mutex
	lastID     int
	pending    map[int]pending
	listeners  []func(miio.Response)
	subscribed bool
	closed     bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger Logger
}

// New creates a Transport. No MQTT traffic happens until StartReceiver or
// QueueCommand.
func New(opts Options) (*Transport, error) {
	if strings.TrimSpace(opts.DeviceID) == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.QoS == 0 {
		opts.QoS = DefaultQoS
	}
	return &Transport{
		device:  opts.DeviceID,
		client:  opts.Client,
		timeout: opts.Timeout,
		qos:     opts.QoS,
		now:     time.Now,
		lastID:  opts.LastID,
		pending: make(map[int]pending),
		logger:  opts.Logger,
	}, nil
}

// Dialer returns a miio.Dialer that creates tunnel transports for a device.
func Dialer(client MQTTClient, deviceID string, timeout time.Duration, logger Logger) miio.Dialer {
	return func(_ context.Context, lastID int) (miio.Transport, error) {
		return New(Options{
			DeviceID: deviceID,
			Client:   client,
			LastID:   lastID,
			Timeout:  timeout,
			Logger:   logger,
		})
	}
}

// StartReceiver subscribes to the response topic and starts the expiry
// sweeper. Calling it again while running is a no-op.
func (t *Transport) StartReceiver(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.subscribed {
		return nil
	}

	if err := t.client.Subscribe(t.topics.RPCResponse(t.device), t.qos, t.handleMessage); err != nil {
		return fmt.Errorf("subscribing to responses: %w", err)
	}
	t.subscribed = true

	sweepCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.sweepLoop(sweepCtx)
	return nil
}

// SendPing publishes a liveness ping for host.
func (t *Transport) SendPing(_ context.Context, host string) error {
	if t.isClosed() {
		return ErrClosed
	}
	payload, err := json.Marshal(map[string]any{
		"host":      host,
		"timestamp": t.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding ping: %w", err)
	}
	if err := t.client.Publish(t.topics.RPCPing(t.device), payload, 0, false); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrPublishFailed, err)
	}
	return nil
}

// QueueCommand publishes a request and returns its id. The reply arrives
// on the registered listeners.
func (t *Transport) QueueCommand(method, params string) (int, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return 0, fmt.Errorf("%w: empty method", ErrInvalidRequest)
	}
	params = strings.TrimSpace(params)
	if params == "" {
		params = "[]"
	}
	if !json.Valid([]byte(params)) {
		return 0, fmt.Errorf("%w: params %s are not valid JSON", ErrInvalidRequest, params)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	t.lastID++
	if t.lastID > maxRequestID {
		t.lastID = 1
	}
	id := t.lastID
	raw := json.RawMessage(params)
	t.pending[id] = pending{method: method, params: raw, sent: t.now()}
	t.mu.Unlock()

	payload, err := json.Marshal(request{ID: id, Method: method, Params: raw})
	if err != nil {
		t.forget(id)
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := t.client.Publish(t.topics.RPCRequest(t.device), payload, t.qos, false); err != nil {
		t.forget(id)
		return 0, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	t.logDebug("request queued", "id", id, "method", method)
	return id, nil
}

// RegisterListener adds a callback for replies.
func (t *Transport) RegisterListener(fn func(miio.Response)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// LastID returns the most recently used request id.
func (t *Transport) LastID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastID
}

// Pending returns the number of requests awaiting a reply.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close unsubscribes, stops the sweeper and drops pending requests.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subscribed := t.subscribed
	t.subscribed = false
	cancel := t.cancel
	t.pending = make(map[int]pending)
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	if subscribed {
		if err := t.client.Unsubscribe(t.topics.RPCResponse(t.device)); err != nil {
			return fmt.Errorf("unsubscribing from responses: %w", err)
		}
	}
	return nil
}

// handleMessage correlates a proxy reply with its request.
func (t *Transport) handleMessage(_ string, payload []byte) error {
	var r reply
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	t.mu.Lock()
	p, ok := t.pending[r.ID]
	if ok {
		delete(t.pending, r.ID)
	}
	t.mu.Unlock()

	if !ok {
		t.logDebug("reply for unknown request", "id", r.ID)
		return nil
	}

	t.deliver(miio.Response{
		ID:      r.ID,
		Method:  p.method,
		Params:  p.params,
		Result:  r.Result,
		Error:   r.Error,
		Elapsed: t.now().Sub(p.sent),
	})
	return nil
}

func (t *Transport) deliver(resp miio.Response) {
	t.mu.Lock()
	listeners := append([]func(miio.Response){}, t.listeners...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(resp)
	}
}

func (t *Transport) sweepLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.expire()
		}
	}
}

// expire removes requests older than the timeout and delivers a timeout
// error for each.
func (t *Transport) expire() {
	now := t.now()
	cutoff := now.Add(-t.timeout)

	var expired []miio.Response
	t.mu.Lock()
	for id, p := range t.pending {
		if p.sent.Before(cutoff) {
			delete(t.pending, id)
			expired = append(expired, miio.Response{
				ID:      id,
				Method:  p.method,
				Params:  p.params,
				Error:   timeoutError(),
				Elapsed: now.Sub(p.sent),
			})
		}
	}
	t.mu.Unlock()

	for _, resp := range expired {
		t.logWarn("request timed out", "id", resp.ID, "method", resp.Method, "timeout", t.timeout.String())
		t.deliver(resp)
	}
}

func timeoutError() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"code":%d,"message":"request timed out"}`, timeoutErrorCode))
}

func (t *Transport) forget(id int) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) logDebug(msg string, keysAndValues ...any) {
	if t.logger != nil {
		t.logger.Debug(msg, append([]any{"device", t.device}, keysAndValues...)...)
	}
}

func (t *Transport) logWarn(msg string, keysAndValues ...any) {
	if t.logger != nil {
		t.logger.Warn(msg, append([]any{"device", t.device}, keysAndValues...)...)
	}
}
