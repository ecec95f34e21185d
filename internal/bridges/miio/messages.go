package miio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/miio"
)

// Protocol is the protocol segment in bridge topics.
const Protocol = "miio"

// CommandMessage is sent from Core to the bridge to operate a channel.
// Topic: graylogic/command/miio/{device}
//
// Command selects the kind of value:
//
//	refresh                   re-poll the device
//	on | off                  switch
//	set (or empty)            value decides: bool, number, string or
//	                          {"hue":..,"saturation":..,"brightness":..}
type CommandMessage struct {
	// ID correlates the acknowledgement. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Channel is the target channel id, or "commands" for raw wire commands.
	Channel string `json:"channel"`

	Command string          `json:"command"`
	Value   json.RawMessage `json:"value,omitempty"`

	// Source indicates where the command originated (api, automation, scene).
	Source string `json:"source,omitempty"`
}

// hsbValue is the JSON form of a colour value.
type hsbValue struct {
	Hue        *float64 `json:"hue"`
	Saturation *float64 `json:"saturation"`
	Brightness *float64 `json:"brightness"`
}

// ToCommand converts the message into an engine command.
//
// Returns:
//   - miio.Command: the command to hand to the device handler
//   - error: wrapping ErrInvalidCommand when the command or value is not understood
func (m CommandMessage) ToCommand() (miio.Command, error) {
	switch strings.ToLower(strings.TrimSpace(m.Command)) {
	case "refresh":
		return miio.Refresh{}, nil
	case "on":
		return miio.OnOffCommand(true), nil
	case "off":
		return miio.OnOffCommand(false), nil
	case "", "set":
		return ParseValue(m.Value)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, m.Command)
	}
}

// ParseValue infers an engine command from a JSON value.
func ParseValue(raw json.RawMessage) (miio.Command, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidCommand)
	}

	switch raw[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		return miio.OnOffCommand(b), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		return miio.StringCommand(s), nil
	case '{':
		var v hsbValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		if v.Hue == nil || v.Saturation == nil || v.Brightness == nil {
			return nil, fmt.Errorf("%w: colour needs hue, saturation and brightness", ErrInvalidCommand)
		}
		return miio.HSBCommand{Hue: *v.Hue, Saturation: *v.Saturation, Brightness: *v.Brightness}, nil
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: unsupported value %s", ErrInvalidCommand, raw)
		}
		return miio.DecimalCommand(f), nil
	}
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was handed to the device handler.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeUnknownChannel = "UNKNOWN_CHANNEL"
	ErrCodeNotConfigured  = "NOT_CONFIGURED"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/miio/{device}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Channel   string    `json:"channel,omitempty"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage creates an acknowledgment for cmd.
func NewAckMessage(deviceID string, cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Channel:   cmd.Channel,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(deviceID string, cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(deviceID, cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// StateMessage carries every known channel value of a device.
// Topic: graylogic/state/miio/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Model     string         `json:"model,omitempty"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
}

// StateEvent is one channel change, as streamed to API clients.
type StateEvent struct {
	DeviceID  string    `json:"device_id"`
	Channel   string    `json:"channel"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// numericValue returns the value to record as a time-series point.
// Strings and colours are not recorded.
func numericValue(s miio.State) (float64, bool) {
	switch v := s.(type) {
	case miio.DecimalState:
		return float64(v), true
	case miio.OnOffState:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/miio
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Devices       DeviceCounts `json:"devices"`
	Reason        string       `json:"reason,omitempty"`
}

// DeviceCounts summarises device states for health reports.
type DeviceCounts struct {
	Configured int `json:"configured"`
	Online     int `json:"online"`
	Identified int `json:"identified"`
}
