// internal/instrument/driver.go
package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotSupported marks an operation an instrument family cannot perform
// (e.g. a device-side log on a probe without one).
var ErrNotSupported = errors.New("instrument: operation not supported")

// StateTransitionError reports a calibration command that was issued but
// whose target state was not confirmed within the timeout. The state is
// left as last observed; the caller decides whether to retry.
type StateTransitionError struct {
	Instrument string
	Want       OperatingState
	Last       OperatingState
	Reason     string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("instrument %s: transition to %s not confirmed (last observed %s): %s",
		e.Instrument, e.Want, e.Last, e.Reason)
}

// Driver is the uniform query/command surface over any instrument family.
// Implementations own their Transport and operating state exclusively and
// serialize commands internally: one outstanding request per connection.
type Driver interface {
	// ID is the configured instrument id.
	ID() string

	// Identity returns the device's self-reported identity string.
	Identity(ctx context.Context) (string, error)

	// Config returns the current device configuration.
	Config(ctx context.Context) (map[string]string, error)

	// CurrentData returns one snapshot. With strict set, the response must
	// match the instrument's declared response format exactly; a partial
	// response fails instead of being returned.
	CurrentData(ctx context.Context, strict bool) (*Reading, error)

	// Values queries an explicit parameter subset, preserving the
	// requested order where the protocol does.
	Values(ctx context.Context, params []Code) (*Reading, error)

	// NewData returns readings accumulated since the previous call.
	// A crash loses only the unflushed delta, never duplicates data
	// already handed out.
	NewData(ctx context.Context) ([]*Reading, error)

	// AllData returns everything the device currently buffers internally,
	// independent of prior calls.
	AllData(ctx context.Context) ([]*Reading, error)

	// LoggedData returns the device-internal log filtered to [start, end],
	// ascending by timestamp, without duplicates.
	LoggedData(ctx context.Context, start, end time.Time) ([]*Reading, error)

	// CurrentOperation reports the calibration-cycle state.
	CurrentOperation(ctx context.Context) (OperatingState, error)

	// SetCurrentOperation issues the transition command, then polls
	// CurrentOperation until the requested state is confirmed or a bounded
	// timeout elapses, returning *StateTransitionError on timeout.
	SetCurrentOperation(ctx context.Context, s OperatingState) error

	// SupportsCalibration reports whether the instrument has a
	// calibration cycle at all.
	SupportsCalibration() bool

	Close() error
}

// awaitState polls get until it reports want, at the given interval, for at
// most timeout. Returns the last observed state and whether want was seen.
func awaitState(ctx context.Context, get func(context.Context) (OperatingState, error),
	want OperatingState, every, timeout time.Duration) (OperatingState, bool) {

	last := Ambient
	deadline := time.Now().Add(timeout)
	for {
		s, err := get(ctx)
		if err == nil {
			last = s
			if s == want {
				return s, true
			}
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return last, false
		}
		select {
		case <-ctx.Done():
			return last, false
		case <-time.After(every):
		}
	}
}

// dedupeAscending sorts readings by timestamp and drops duplicate
// timestamps, keeping the first occurrence. Shared by the drivers that
// implement LoggedData on top of bulk fetches.
func dedupeAscending(rs []*Reading) []*Reading {
	if len(rs) < 2 {
		return rs
	}
	// insertion sort: device logs arrive nearly ordered
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j].Timestamp.Before(rs[j-1].Timestamp); j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
	out := rs[:1]
	for _, r := range rs[1:] {
		if !r.Timestamp.Equal(out[len(out)-1].Timestamp) {
			out = append(out, r)
		}
	}
	return out
}

// filterRange keeps readings with timestamps in [start, end].
func filterRange(rs []*Reading, start, end time.Time) []*Reading {
	var out []*Reading
	for _, r := range rs {
		if r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}
