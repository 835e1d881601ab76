// internal/protocol/acoem/legacy.go
package acoem

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meteolab/stationdaq/internal/protocol"
)

// The legacy "aurora" dialect addresses the same physical quantities as the
// binary variant through small voltage-input numbers. Commands are ASCII
// lines terminated with CR; responses end with CRLF.

// Well-known legacy input numbers.
const (
	LegacyDateFormat  = 64
	LegacyState       = 71
	LegacyDate        = 80
	LegacyTime        = 81
	LegacyStatusWord  = 88
	LegacyCurrentData = 99
)

// DefaultLegacyMap maps legacy input numbers to the binary variant's
// parameter ids for logically identical quantities. The mapping is asserted
// by configuration; this table is the default. Undocumented inputs stay
// unmapped and their values are passed through opaquely.
func DefaultLegacyMap() map[int]int32 {
	return map[int]int32{
		30: 1635000, // scattering, red, full
		2:  1525000, // scattering, green, full
		31: 1450000, // scattering, blue, full
		3:  1635090, // backscatter, red
		32: 1525090, // backscatter, green
		17: 1450090, // backscatter, blue
		18: 5001,    // sample temperature
		16: 5004,    // enclosure temperature
		19: 5003,    // relative humidity
		0:  5002,    // sample pressure
		90: ParamMajorState,
		71: ParamOperatingState,
	}
}

// LegacyCurrentOrder is the input-number order of the one-line
// current-data response (input 99), after the leading timestamp field.
// Callers translate input numbers to parameter ids through the
// configured legacy map.
var LegacyCurrentOrder = []int{
	30, 2, 31, // scattering red, green, blue
	3, 32, 17, // backscatter red, green, blue
	18, 16, 19, 0, // sample temp, enclosure temp, RH, pressure
	90, 71, // major state, operating state
}

// LegacyID builds the identification command.
func LegacyID(serialID int) []byte {
	return []byte(fmt.Sprintf("ID%d\r", serialID))
}

// LegacyVI builds a voltage-input query.
func LegacyVI(serialID, input int) []byte {
	return []byte(fmt.Sprintf("VI%d%02d\r", serialID, input))
}

// LegacyDump requests all unread records from the device data logger.
func LegacyDump() []byte { return []byte("***D\r") }

// LegacyRewind resets the data-logger read pointer so the next dump
// replays the whole device log. The device sends no response.
func LegacyRewind() []byte { return []byte("***R\r") }

// CleanLegacy strips the terminal-negotiation preamble some firmware
// revisions prepend, plus surrounding whitespace.
func CleanLegacy(raw []byte) string {
	s := strings.ReplaceAll(string(raw), "\xff\xfb\x01\xff\xfe\x01\xff\xfb\x03", "")
	return strings.TrimSpace(s)
}

// ParseLegacyState decodes an input 71 response into an operating-state
// value (StateAmbient, StateZero, StateSpan).
func ParseLegacyState(resp string) (int, error) {
	switch strings.TrimSpace(resp) {
	case "000":
		return StateAmbient, nil
	case "032":
		return StateZero, nil
	case "016":
		return StateSpan, nil
	}
	return 0, protocol.Errorf("acoem: unrecognized state response %q", resp)
}

// ParseLegacyCurrent decodes the one-line current-data response: a
// timestamp field followed by one float per entry of LegacyCurrentOrder.
// Fewer fields than expected is always an error; extra fields are dropped
// unless strict is set.
func ParseLegacyCurrent(line string, strict bool) (time.Time, []float64, error) {
	line = strings.ReplaceAll(line, ", ", ",")
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 1+len(LegacyCurrentOrder) {
		return time.Time{}, nil, protocol.Errorf("acoem: current-data response has %d fields, want %d",
			len(fields), 1+len(LegacyCurrentOrder))
	}
	if strict && len(fields) != 1+len(LegacyCurrentOrder) {
		return time.Time{}, nil, protocol.Errorf("acoem: current-data response has %d fields, want exactly %d",
			len(fields), 1+len(LegacyCurrentOrder))
	}

	ts, err := time.ParseInLocation("02/01/2006 15:04:05", fields[0], time.UTC)
	if err != nil {
		return time.Time{}, nil, protocol.Errorf("acoem: bad timestamp %q", fields[0])
	}

	vals := make([]float64, len(LegacyCurrentOrder))
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return time.Time{}, nil, protocol.Errorf("acoem: bad value %q at field %d", fields[i+1], i+1)
		}
		vals[i] = v
	}
	return ts, vals, nil
}
