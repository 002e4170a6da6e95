// Package errors holds the sentinel errors shared by the registry, the
// transports and the egress validator. Callers match them with errors.Is.
package errors

import "errors"

var (
	// ErrChannelNotFound is returned when no handler is bound to a channel.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrInvalidURL is the outward-facing error for every egress validation
	// failure other than a private address match.
	ErrInvalidURL = errors.New("invalid URL or hostname resolution failed")
	// ErrPrivateAddress is returned when a URL resolves to a private,
	// loopback or link-local address.
	ErrPrivateAddress = errors.New("private or local IP addresses are not allowed")
	// ErrConnectionClosed is returned when writing to a push connection that
	// is no longer open.
	ErrConnectionClosed = errors.New("connection closed")
)
