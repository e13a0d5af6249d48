// Package channel abstracts the byte stream between the gateway and the
// web-facing tunnel client. The protocol codec only depends on this
// interface, so transports (TCP, websocket, in-memory pipes in tests) are
// interchangeable.
package channel

import (
	"errors"
	"time"
)

// ErrTimeout reports that a bounded-wait read elapsed before any data
// arrived. It is not a transport failure; callers poll again.
var ErrTimeout = errors.New("channel: read timed out")

// Channel is a bidirectional byte stream with bounded-wait reads.
type Channel interface {
	// Read blocks until at least one byte is available or the stream fails.
	Read(p []byte) (int, error)

	// ReadWithTimeout reads like Read but returns ErrTimeout if no bytes
	// arrive within wait.
	ReadWithTimeout(p []byte, wait time.Duration) (int, error)

	// Write sends p in full.
	Write(p []byte) error

	Close() error
}
