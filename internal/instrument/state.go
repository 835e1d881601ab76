// internal/instrument/state.go
package instrument

import "time"

// OperatingState is the calibration-cycle state of one instrument.
// Instruments without calibration support are permanently Ambient.
type OperatingState int

const (
	Ambient OperatingState = iota
	Zero
	Span
)

func (s OperatingState) String() string {
	switch s {
	case Ambient:
		return "ambient"
	case Zero:
		return "zero"
	case Span:
		return "span"
	}
	return "unknown"
}

// Operation tracks the current state together with when it was entered and
// how long it is expected to last. Owned exclusively by the instrument's
// worker.
type Operation struct {
	State     OperatingState
	EnteredAt time.Time
	Expected  time.Duration
}
