// internal/protocol/protocol.go
package protocol

import "fmt"

// Error reports a malformed, corrupt, or unexpected instrument response:
// bad checksum, wrong length, a field set that does not match the declared
// header under a strict query, or an error code reported by the device.
// It is local to one poll cycle; the driver resyncs the channel and the
// scheduler counts it toward degraded status.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "protocol: " + e.Reason }

// Errorf builds an *Error from a format string.
func Errorf(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}
