// Package protocol implements the wire format spoken by Besmart-family
// WiFi thermostats: the outer UDP frame, the per-message wrapper, and
// the registry of known message bodies.
package protocol

import "errors"

// Sentinel errors describing why a frame or message could not be decoded.
// Callers use errors.Is against these; none of them carry dynamic state.
var (
	// ErrMalformedFrame means the outer UDP frame failed a structural
	// check: bad magic, a length that doesn't match the buffer, or a
	// CRC mismatch.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrMalformedMessage means the frame decoded cleanly but its
	// payload was too short for the wrapper header or the message
	// body it claims to carry.
	ErrMalformedMessage = errors.New("protocol: malformed message")

	// ErrUnknownMessageType means the wrapper's message type byte did
	// not match any entry in the message registry.
	ErrUnknownMessageType = errors.New("protocol: unknown message type")

	// ErrDeviceRejected means the device cleared the wrapper's valid
	// bit, meaning it does not recognize or accept this message type.
	ErrDeviceRejected = errors.New("protocol: device rejected message type")
)
