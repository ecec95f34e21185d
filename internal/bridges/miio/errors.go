package miio

import "errors"

// Domain errors for the miio bridge package.
var (
	// ErrDeviceNotFound is returned for an id that is not configured.
	ErrDeviceNotFound = errors.New("miio bridge: device not found")

	// ErrUnknownChannel is returned when a command targets a channel the
	// device's schema does not map to an action.
	ErrUnknownChannel = errors.New("miio bridge: unknown channel")

	// ErrInvalidCommand is returned for command payloads that cannot be
	// turned into an engine command.
	ErrInvalidCommand = errors.New("miio bridge: invalid command")

	// ErrNotRunning is returned by operations that need a started bridge.
	ErrNotRunning = errors.New("miio bridge: not running")
)
