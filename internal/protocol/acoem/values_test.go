// internal/protocol/acoem/values_test.go
package acoem

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestTimestamp_Roundtrip(t *testing.T) {
	want := time.Date(2023, 10, 5, 14, 31, 57, 0, time.UTC)

	packed := EncodeTimestamp(want)
	got := DecodeTimestamp(binary.BigEndian.Uint32(packed))
	if !got.Equal(want) {
		t.Fatalf("roundtrip mismatch: got %v want %v", got, want)
	}
}

func valueWords(t *testing.T, params []int32, floats map[int32]float64, ts time.Time) []byte {
	t.Helper()
	var data []byte
	for _, p := range params {
		switch {
		case p == ParamTime:
			data = append(data, EncodeTimestamp(ts)...)
		case isIntParam(p):
			data = binary.BigEndian.AppendUint32(data, uint32(int32(floats[p])))
		default:
			data = binary.BigEndian.AppendUint32(data, math.Float32bits(float32(floats[p])))
		}
	}
	return data
}

func TestDecodeValues_TypedByParam(t *testing.T) {
	params := []int32{ParamTime, 1635000, 1525000, ParamSampleTemp, ParamSamplePressure, ParamOperatingState}
	floats := map[int32]float64{
		1635000:             -0.029429,
		1525000:             -0.428739,
		ParamSampleTemp:     28.27,
		ParamSamplePressure: 954.1,
		ParamOperatingState: 1,
	}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	vals, err := DecodeValues(params, valueWords(t, params, floats, ts), true)
	if err != nil {
		t.Fatalf("DecodeValues() err=%v", err)
	}
	if len(vals) != len(params) {
		t.Fatalf("got %d values, want %d", len(vals), len(params))
	}
	if vals[0].Kind != KindTime || !vals[0].Time.Equal(ts) {
		t.Fatalf("time parameter: got %+v", vals[0])
	}
	if vals[1].Kind != KindFloat || math.Abs(vals[1].Float-(-0.029429)) > 1e-6 {
		t.Fatalf("scatter parameter: got %+v", vals[1])
	}
	if vals[5].Kind != KindInt || vals[5].Int != 1 {
		t.Fatalf("state parameter should decode as int 1, got %+v", vals[5])
	}
}

func TestDecodeValues_StrictCountMismatch(t *testing.T) {
	params := []int32{ParamSampleTemp, ParamSamplePressure}
	data := make([]byte, 4) // one value for two requested

	if _, err := DecodeValues(params, data, true); err == nil {
		t.Fatal("expected strict count error")
	}

	vals, err := DecodeValues(params, data, false)
	if err != nil {
		t.Fatalf("non-strict should pair what it can: %v", err)
	}
	if len(vals) != 1 {
		t.Fatalf("got %d values, want 1", len(vals))
	}
}

func TestDecodeValues_RaggedPayload(t *testing.T) {
	if _, err := DecodeValues([]int32{ParamSampleTemp}, []byte{1, 2, 3}, false); err == nil {
		t.Fatal("expected error on payload not a multiple of 4")
	}
}

func TestParamID(t *testing.T) {
	if got := ParamID(1, 635, 90); got != 1635090 {
		t.Fatalf("ParamID = %d, want 1635090", got)
	}
}

func TestIsIntParam_Ranges(t *testing.T) {
	cases := []struct {
		p    int32
		want bool
	}{
		{ParamOperatingState, true},
		{ParamLogInterval, true},
		{1635000, false},
		{ParamSampleTemp, false},
		{12500000, true},
		{30000000, true},
	}
	for _, c := range cases {
		if got := isIntParam(c.p); got != c.want {
			t.Fatalf("isIntParam(%d) = %v, want %v", c.p, got, c.want)
		}
	}
}
