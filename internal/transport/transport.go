// internal/transport/transport.go
package transport

import (
	"context"
	"errors"
	"time"
)

// Transport-level failures. The driver and scheduler decide retry policy;
// this layer only classifies.
var (
	// ErrTimeout: no response arrived within the configured timeout.
	ErrTimeout = errors.New("transport: receive timeout")

	// ErrDisconnected: the underlying channel dropped.
	ErrDisconnected = errors.New("transport: disconnected")

	// ErrFraming: a response could not be delimited before the timeout.
	ErrFraming = errors.New("transport: response not delimited")
)

// Transport is a byte/line channel to exactly one instrument.
// Implementations carry no retry logic.
type Transport interface {
	Open() error
	Close() error

	// Send writes one complete command to the channel.
	Send(p []byte) error

	// Receive reads until the configured terminator or the timeout,
	// whichever comes first. The terminator is included in the result.
	// Honors ctx cancellation.
	Receive(ctx context.Context) ([]byte, error)

	// Drain discards any pending input so the channel can resync
	// after a bad frame.
	Drain()
}

// Framing describes how responses on a channel are delimited.
type Framing struct {
	Terminator []byte
	Timeout    time.Duration
}
