// internal/protocol/acoem/logged_test.go
package acoem

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func logRecord(typ byte, ts time.Time, interval int32, words []uint32) []byte {
	rec := make([]byte, 0, (4+len(words))*4)
	rec = append(rec, typ, 0, 0, 0)
	rec = append(rec, EncodeTimestamp(ts)...)
	rec = binary.BigEndian.AppendUint32(rec, uint32(interval))
	rec = binary.BigEndian.AppendUint32(rec, uint32(len(words)))
	for _, w := range words {
		rec = binary.BigEndian.AppendUint32(rec, w)
	}
	return rec
}

func TestDecodeLoggedData(t *testing.T) {
	ts := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	params := []uint32{1635000, uint32(ParamSampleTemp)}

	payload := logRecord(recHeader, ts, 300, params)
	payload = append(payload, logRecord(recData, ts, 300, []uint32{
		math.Float32bits(0.125),
		math.Float32bits(21.5),
	})...)
	payload = append(payload, logRecord(recData, ts.Add(5*time.Minute), 300, []uint32{
		math.Float32bits(0.130),
		math.Float32bits(21.6),
	})...)

	recs, err := DecodeLoggedData(payload)
	if err != nil {
		t.Fatalf("DecodeLoggedData() err=%v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Params[0] != 1635000 {
		t.Fatalf("params not taken from header: %v", recs[0].Params)
	}
	if got := DecodeTimestamp(uint32(recs[1].Time)); !got.Equal(ts.Add(5 * time.Minute)) {
		t.Fatalf("second record timestamp: got %v", got)
	}
	if math.Abs(recs[0].Values[1].Float-21.5) > 1e-6 {
		t.Fatalf("value decode: got %+v", recs[0].Values[1])
	}
}

func TestDecodeLoggedData_DataBeforeHeader(t *testing.T) {
	ts := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	payload := logRecord(recData, ts, 300, []uint32{0})

	if _, err := DecodeLoggedData(payload); err == nil {
		t.Fatal("expected error on data record before header")
	}
}

func TestDecodeLoggedData_Empty(t *testing.T) {
	recs, err := DecodeLoggedData(nil)
	if err != nil || recs != nil {
		t.Fatalf("empty payload: recs=%v err=%v", recs, err)
	}
}
