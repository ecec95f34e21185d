package miio

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Well-known RPC methods.
const (
	MethodInfo        = "miIO.info"
	MethodGetProperty = "get_prop"
	MethodGetValue    = "get_value"
)

// Response is a device reply correlated with the request that caused it.
type Response struct {
	// ID is the request id.
	ID int

	// Method and Params are copied from the originating request.
	Method string
	Params json.RawMessage

	// Result holds the device result; Error is set instead on failure.
	Result json.RawMessage
	Error  json.RawMessage

	// Elapsed is the time from request to reply, zero when unknown.
	Elapsed time.Duration
}

// IsError reports whether the device answered with an error.
func (r Response) IsError() bool {
	e := bytes.TrimSpace(r.Error)
	return len(e) > 0 && !bytes.Equal(e, []byte("null"))
}

// Transport is the asynchronous RPC channel to one device.
//
// QueueCommand enqueues a request and returns its id; the response arrives
// later on the registered listener, from the transport's own goroutine.
// Request timeouts and retries are the transport's responsibility.
type Transport interface {
	StartReceiver(ctx context.Context) error
	SendPing(ctx context.Context, host string) error
	QueueCommand(method, params string) (int, error)
	RegisterListener(fn func(Response))
	LastID() int
	Close() error
}

// Dialer creates a Transport whose request ids continue after lastID.
type Dialer func(ctx context.Context, lastID int) (Transport, error)

// SchemaLoader resolves a model to its schema.
type SchemaLoader interface {
	Load(model string) (*DeviceSchema, error)
}

// ChannelRegistry is the host's set of exposed channels for one device.
type ChannelRegistry interface {
	// Channels returns a copy of the current channel set.
	Channels() map[ChannelID]ChannelSpec
	Add(spec ChannelSpec)
	Remove(id ChannelID)

	// Commit persists the current set.
	Commit() error
}

// StatePublisher receives decoded channel state.
type StatePublisher interface {
	Publish(id ChannelID, state State)
}

// Host supplies device-level decisions and side tasks the engine delegates.
type Host interface {
	// SkipUpdate reports that refresh cycles should be skipped for now.
	SkipUpdate() bool

	// RefreshNetwork refreshes network quality information.
	RefreshNetwork(ctx context.Context) error

	// Identified is called with the device's miIO.info result.
	Identified(info DeviceInfo)
}

// DeviceInfo is the decoded miIO.info result.
type DeviceInfo struct {
	Model           string `json:"model"`
	FirmwareVersion string `json:"fw_ver"`
	HardwareVersion string `json:"hw_ver"`
	MAC             string `json:"mac"`
	AP              struct {
		SSID  string `json:"ssid"`
		BSSID string `json:"bssid"`
		RSSI  int    `json:"rssi"`
	} `json:"ap"`
}

// Logger is the logging interface used by the engine.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
