// internal/protocol/acoem/frame.go

// Package acoem implements the binary parameter-coded protocol spoken by
// Acoem/Ecotech nephelometers (NE-300, Aurora family). Two variants exist:
// the binary "acoem" framing implemented here and the older ASCII "legacy"
// dialect in legacy.go. The two address logically identical quantities
// through disjoint parameter-id spaces.
package acoem

import (
	"encoding/binary"

	"github.com/meteolab/stationdaq/internal/protocol"
)

// Frame markers.
const (
	stx = 0x02
	etx = 0x03
	eot = 0x04
)

// Command codes.
const (
	CmdInstrumentType = 1
	CmdVersion        = 2
	CmdReset          = 3
	CmdGetValues      = 4
	CmdSetValue       = 5
	CmdLogConfig      = 6
	CmdLoggedData     = 7
)

// Frame is one decoded protocol frame: addressing plus message data.
// A command response reuses the same layout as a request.
type Frame struct {
	SerialID byte
	Command  byte
	Data     []byte
}

// Checksum XORs all bytes of a frame except the checksum and EOT.
func Checksum(b []byte) byte {
	var cs byte
	for _, x := range b {
		cs ^= x
	}
	return cs
}

// Encode builds the wire form of a frame:
//
//	STX SID CMD ETX len(2,BE) data checksum EOT
func Encode(f Frame) []byte {
	msg := make([]byte, 0, 8+len(f.Data))
	msg = append(msg, stx, f.SerialID, f.Command, etx)
	msg = binary.BigEndian.AppendUint16(msg, uint16(len(f.Data)))
	msg = append(msg, f.Data...)
	return append(msg, Checksum(msg), eot)
}

// Decode validates markers, length and checksum and returns the frame.
// A device error response (command byte 0) is surfaced as a protocol error
// carrying the device's reason. Decode never panics on short input.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < 8 {
		return Frame{}, protocol.Errorf("acoem: frame too short (%d bytes)", len(raw))
	}
	if raw[0] != stx || raw[3] != etx {
		return Frame{}, protocol.Errorf("acoem: bad frame markers")
	}
	if raw[len(raw)-1] != eot {
		return Frame{}, protocol.Errorf("acoem: missing EOT")
	}

	n := int(binary.BigEndian.Uint16(raw[4:6]))
	if len(raw) != 6+n+2 {
		return Frame{}, protocol.Errorf("acoem: length field %d does not match frame size %d", n, len(raw))
	}
	if cs := Checksum(raw[:len(raw)-2]); cs != raw[len(raw)-2] {
		return Frame{}, protocol.Errorf("acoem: checksum mismatch: got %#02x want %#02x", raw[len(raw)-2], cs)
	}

	f := Frame{
		SerialID: raw[1],
		Command:  raw[2],
		Data:     raw[6 : 6+n],
	}
	if f.Command == 0 {
		code := byte(0xff)
		if len(f.Data) >= 2 {
			code = f.Data[1]
		}
		return Frame{}, protocol.Errorf("acoem: device error: %s", errorText(code))
	}
	return f, nil
}

// errorText maps device error codes (manual A.3.1 table 21) to text.
func errorText(code byte) string {
	switch code {
	case 0:
		return "checksum failed"
	case 1:
		return "invalid command byte"
	case 2:
		return "invalid parameter"
	case 3:
		return "invalid message length"
	case 8:
		return "media not connected"
	case 9:
		return "media busy"
	default:
		return "unknown error code"
	}
}
