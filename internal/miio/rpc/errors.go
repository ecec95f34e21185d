package rpc

import "errors"

// Domain-specific errors for the RPC tunnel.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("rpc: transport closed")

	// ErrInvalidRequest is returned when a method is empty or params are
	// not a JSON value.
	ErrInvalidRequest = errors.New("rpc: invalid request")

	// ErrInvalidResponse is returned for a reply that cannot be decoded.
	ErrInvalidResponse = errors.New("rpc: invalid response")

	// ErrPublishFailed is returned when a request cannot be published.
	ErrPublishFailed = errors.New("rpc: publish failed")
)
