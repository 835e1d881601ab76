// internal/protocol/acoem/values.go
package acoem

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/meteolab/stationdaq/internal/protocol"
)

// Well-known parameter ids.
const (
	ParamTime           int32 = 1
	ParamLogTime        int32 = 2201
	ParamLogInterval    int32 = 2002
	ParamOperatingState int32 = 4035
	ParamMajorState     int32 = 4036
	ParamSampleTemp     int32 = 5001
	ParamSamplePressure int32 = 5002
	ParamRelHumidity    int32 = 5003
	ParamEnclosureTemp  int32 = 5004
)

// Operating-state values carried by ParamOperatingState.
const (
	StateAmbient = 0
	StateZero    = 1
	StateSpan    = 2
)

// ParamID constructs a measurement parameter id:
// base*1_000_000 + wavelength*1_000 + angle. Angle 0 is full scatter,
// 90 is backscatter.
func ParamID(base, wavelength, angle int32) int32 {
	return base*1000000 + wavelength*1000 + angle
}

// Kind discriminates decoded parameter values.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindTime
)

// ParamValue is one decoded 4-byte parameter value.
type ParamValue struct {
	Kind  Kind
	Float float64
	Int   int32
	Time  time.Time
}

// EncodeTimestamp packs a time into the instrument's 4-byte format:
// year-2000, month, day, hour, minute, second in 6/4/5/5/6/6 bit fields.
func EncodeTimestamp(t time.Time) []byte {
	v := uint32(t.Year()-2000)<<26 |
		uint32(t.Month())<<22 |
		uint32(t.Day())<<17 |
		uint32(t.Hour())<<12 |
		uint32(t.Minute())<<6 |
		uint32(t.Second())
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, v)
	return out
}

// DecodeTimestamp unpacks the instrument's 4-byte timestamp format.
func DecodeTimestamp(v uint32) time.Time {
	sec := int(v % 64)
	v /= 64
	min := int(v % 64)
	v /= 64
	hour := int(v % 32)
	v /= 32
	day := int(v % 32)
	v /= 32
	month := time.Month(v % 16)
	year := int(v/16) + 2000
	return time.Date(year, month, day, hour, min, sec, 0, time.UTC)
}

// EncodeGetValues builds a command 4 frame requesting the given parameters.
func EncodeGetValues(serialID byte, params []int32) []byte {
	data := make([]byte, 0, 4*len(params))
	for _, p := range params {
		data = binary.BigEndian.AppendUint32(data, uint32(p))
	}
	return Encode(Frame{SerialID: serialID, Command: CmdGetValues, Data: data})
}

// EncodeSetValue builds a command 5 frame setting one parameter.
func EncodeSetValue(serialID byte, param, value int32) []byte {
	data := make([]byte, 0, 8)
	data = binary.BigEndian.AppendUint32(data, uint32(param))
	data = binary.BigEndian.AppendUint32(data, uint32(value))
	return Encode(Frame{SerialID: serialID, Command: CmdSetValue, Data: data})
}

// EncodeLoggedData builds a command 7 frame requesting the device log
// between start and end.
func EncodeLoggedData(serialID byte, start, end time.Time) []byte {
	data := append(EncodeTimestamp(start), EncodeTimestamp(end)...)
	return Encode(Frame{SerialID: serialID, Command: CmdLoggedData, Data: data})
}

// DecodeValues pairs a command 4 response with the requested parameter
// list and decodes each 4-byte word by its parameter's type. With strict
// set, a response carrying fewer or more values than requested fails;
// otherwise as many values as the response carries are paired in order.
func DecodeValues(params []int32, data []byte, strict bool) ([]ParamValue, error) {
	if len(data)%4 != 0 {
		return nil, protocol.Errorf("acoem: value payload length %d not a multiple of 4", len(data))
	}
	n := len(data) / 4
	if strict && n != len(params) {
		return nil, protocol.Errorf("acoem: got %d values for %d requested parameters", n, len(params))
	}
	if n > len(params) {
		n = len(params)
	}

	out := make([]ParamValue, n)
	for i := 0; i < n; i++ {
		word := binary.BigEndian.Uint32(data[4*i : 4*i+4])
		out[i] = decodeWord(params[i], word)
	}
	return out, nil
}

// DecodeInts decodes a response whose words are all plain integers
// (instrument type, version, log config).
func DecodeInts(data []byte) ([]int32, error) {
	if len(data)%4 != 0 {
		return nil, protocol.Errorf("acoem: payload length %d not a multiple of 4", len(data))
	}
	out := make([]int32, len(data)/4)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(data[4*i : 4*i+4]))
	}
	return out, nil
}

func decodeWord(param int32, word uint32) ParamValue {
	switch {
	case param == ParamTime || param == ParamLogTime:
		return ParamValue{Kind: KindTime, Time: DecodeTimestamp(word)}
	case isIntParam(param):
		return ParamValue{Kind: KindInt, Int: int32(word)}
	default:
		return ParamValue{Kind: KindFloat, Float: float64(math.Float32frombits(word))}
	}
}

// isIntParam mirrors the parameter-id ranges the manual declares as
// integer-typed; everything else is IEEE-754 float.
func isIntParam(p int32) bool {
	switch {
	case p > 1000 && p < 5000:
		return true
	case p > 12000000 && p < 13000000:
		return true
	case p > 14000000 && p < 15000000:
		return true
	case p > 16000000 && p < 17000000:
		return true
	case p > 27000000 && p < 2027000000:
		return true
	}
	return false
}
