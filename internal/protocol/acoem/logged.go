// internal/protocol/acoem/logged.go
package acoem

import (
	"encoding/binary"

	"github.com/meteolab/stationdaq/internal/protocol"
)

// Log record type flags (first byte of the record).
const (
	recData   = 0
	recHeader = 1
)

// LogRecord is one decoded entry of the device-internal data log.
// Params and Values are aligned; Params come from the most recent header
// record in the stream.
type LogRecord struct {
	Time     int64 // packed instrument timestamp, use DecodeTimestamp
	Interval int32 // logging interval in seconds
	Params   []int32
	Values   []ParamValue
}

// DecodeLoggedData parses a command 7 response payload into records.
// The payload is a sequence of fixed-size records; header records (type 1)
// carry the parameter ids for the data records (type 0) that follow.
func DecodeLoggedData(data []byte) ([]LogRecord, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 16 {
		return nil, protocol.Errorf("acoem: logged-data payload too short (%d bytes)", len(data))
	}

	// All records in one response share the field count announced by the
	// first record (word 3).
	nfields := int(binary.BigEndian.Uint32(data[12:16]))
	if nfields < 0 || nfields > 500 {
		return nil, protocol.Errorf("acoem: implausible field count %d", nfields)
	}
	recLen := (4 + nfields) * 4

	var (
		keys []int32
		out  []LogRecord
	)
	for pos := 0; pos+recLen <= len(data); pos += recLen {
		rec := data[pos : pos+recLen]
		n := int(binary.BigEndian.Uint32(rec[12:16]))
		if n != nfields {
			return nil, protocol.Errorf("acoem: field count changed mid-response (%d != %d)", n, nfields)
		}

		switch rec[0] {
		case recHeader:
			keys = make([]int32, nfields)
			for j := 0; j < nfields; j++ {
				keys[j] = int32(binary.BigEndian.Uint32(rec[16+4*j : 20+4*j]))
			}

		case recData:
			if keys == nil {
				return nil, protocol.Errorf("acoem: data record before any header record")
			}
			lr := LogRecord{
				Time:     int64(binary.BigEndian.Uint32(rec[4:8])),
				Interval: int32(binary.BigEndian.Uint32(rec[8:12])),
				Params:   keys,
				Values:   make([]ParamValue, nfields),
			}
			for j := 0; j < nfields; j++ {
				word := binary.BigEndian.Uint32(rec[16+4*j : 20+4*j])
				lr.Values[j] = decodeWord(keys[j], word)
			}
			out = append(out, lr)

		default:
			// Reserved record types are passed over, not guessed at.
		}
	}
	return out, nil
}
