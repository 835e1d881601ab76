// internal/instrument/thermo_test.go
package instrument

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/meteolab/stationdaq/internal/protocol/asciirec"
)

// thermoDevice simulates an ASCII gas monitor with a record log and a
// gas-mode switch. Responses echo the command, as the hardware does.
type thermoDevice struct {
	unitID  int
	records []string
	mode    string
}

func (d *thermoDevice) respond(req []byte) ([]byte, error) {
	if d.unitID > 0 {
		if len(req) == 0 || req[0] != byte(d.unitID+128) {
			return nil, errors.New("fake device: missing unit prefix")
		}
		req = req[1:]
	}
	cmd := strings.TrimSuffix(string(req), "\r")

	reply := func(body string) ([]byte, error) {
		return []byte(cmd + "\n" + body + "\r\n"), nil
	}

	switch {
	case cmd == "instr name":
		return reply("49i")
	case cmd == "o3":
		return reply("o3 32.174")
	case cmd == "gas mode":
		return reply(d.mode)
	case cmd == "set zero gas":
		d.mode = "zero"
		return reply("set zero gas ok")
	case cmd == "set sample gas":
		d.mode = "sample"
		return reply("set sample gas ok")
	case cmd == "no of lrec":
		return reply(fmt.Sprintf("no of lrec %d", len(d.records)))
	case cmd == "lrec":
		return reply(d.records[len(d.records)-1])
	case strings.HasPrefix(cmd, "lrec "):
		var start, n int
		if _, err := fmt.Sscanf(cmd, "lrec %d %d", &start, &n); err != nil {
			return nil, err
		}
		var lines []string
		for i := start; i < start+n && i <= len(d.records); i++ {
			lines = append(lines, d.records[i-1])
		}
		return []byte(cmd + "\n" + strings.Join(lines, "\r\n") + "\r\n"), nil
	}
	return nil, errors.New("fake device: unknown command " + cmd)
}

func newTestThermo(t *testing.T, dev *thermoDevice) *Thermo {
	t.Helper()
	tr := &fakeTransport{respond: dev.respond}
	th, err := NewThermo(ThermoConfig{
		ID:     "tei49",
		UnitID: dev.unitID,
		Header: asciirec.Header{"o3", "flags"},
		Style:  asciirec.Pairs,
		Commands: map[string]string{
			"identity": "instr name",
			"current":  "lrec",
			"count":    "no of lrec",
			"fetch":    "lrec %d %d",
		},
		ModeQuery: "gas mode",
		ModeSet: map[OperatingState]string{
			Ambient: "set sample gas",
			Zero:    "set zero gas",
		},
		ConfirmEvery:   time.Millisecond,
		ConfirmTimeout: 50 * time.Millisecond,
	}, tr)
	if err != nil {
		t.Fatalf("NewThermo() err=%v", err)
	}
	return th
}

func TestThermoCurrentData(t *testing.T) {
	dev := &thermoDevice{
		unitID:  49,
		mode:    "sample",
		records: []string{"14:31 10-05-23 o3 32.174 flags 0C100000"},
	}
	th := newTestThermo(t, dev)

	r, err := th.CurrentData(context.Background(), true)
	if err != nil {
		t.Fatalf("CurrentData() err=%v", err)
	}
	want := time.Date(2023, 10, 5, 14, 31, 0, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Fatalf("timestamp: got %v want %v", r.Timestamp, want)
	}
	if v := r.Values[Code("o3")]; !v.Numeric || v.Num != 32.174 {
		t.Fatalf("o3 value: %+v", v)
	}
}

func TestThermoNewData_CountCursor(t *testing.T) {
	dev := &thermoDevice{
		unitID: 49,
		mode:   "sample",
		records: []string{
			"14:29 10-05-23 o3 30.0 flags 0C100000",
			"14:30 10-05-23 o3 31.0 flags 0C100000",
		},
	}
	th := newTestThermo(t, dev)
	ctx := context.Background()

	// first call primes the cursor: history is not re-delivered
	rs, err := th.NewData(ctx)
	if err != nil {
		t.Fatalf("NewData() err=%v", err)
	}
	if len(rs) != 0 {
		t.Fatalf("first call should deliver nothing, got %d", len(rs))
	}

	dev.records = append(dev.records,
		"14:31 10-05-23 o3 32.0 flags 0C100000",
		"14:32 10-05-23 o3 33.0 flags 0C100000",
	)

	rs, err = th.NewData(ctx)
	if err != nil {
		t.Fatalf("NewData() err=%v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("got %d new readings, want 2", len(rs))
	}
	if rs[0].Timestamp.After(rs[1].Timestamp) {
		t.Fatal("readings not ascending")
	}

	// nothing new: nothing delivered
	rs, err = th.NewData(ctx)
	if err != nil || len(rs) != 0 {
		t.Fatalf("repeat call: rs=%d err=%v", len(rs), err)
	}
}

func TestThermoLoggedData_Range(t *testing.T) {
	dev := &thermoDevice{
		unitID: 49,
		mode:   "sample",
		records: []string{
			"14:29 10-05-23 o3 30.0 flags 0C100000",
			"14:30 10-05-23 o3 31.0 flags 0C100000",
			"14:30 10-05-23 o3 31.0 flags 0C100000", // duplicate timestamp
			"14:31 10-05-23 o3 32.0 flags 0C100000",
		},
	}
	th := newTestThermo(t, dev)

	start := time.Date(2023, 10, 5, 14, 30, 0, 0, time.UTC)
	end := time.Date(2023, 10, 5, 14, 30, 59, 0, time.UTC)
	rs, err := th.LoggedData(context.Background(), start, end)
	if err != nil {
		t.Fatalf("LoggedData() err=%v", err)
	}
	if len(rs) != 1 {
		t.Fatalf("got %d readings in range, want 1 (deduped)", len(rs))
	}
	if !rs[0].Timestamp.Equal(start) {
		t.Fatalf("timestamp: got %v", rs[0].Timestamp)
	}
}

func TestThermoSetCurrentOperation(t *testing.T) {
	dev := &thermoDevice{unitID: 49, mode: "sample"}
	th := newTestThermo(t, dev)
	ctx := context.Background()

	s, err := th.CurrentOperation(ctx)
	if err != nil || s != Ambient {
		t.Fatalf("initial state: s=%v err=%v", s, err)
	}
	if err := th.SetCurrentOperation(ctx, Zero); err != nil {
		t.Fatalf("SetCurrentOperation() err=%v", err)
	}
	if s, _ := th.CurrentOperation(ctx); s != Zero {
		t.Fatalf("state after set: %v", s)
	}
	// span was never configured for this unit
	if err := th.SetCurrentOperation(ctx, Span); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported for span, got %v", err)
	}
}

func TestThermoIdentity_PrefixByte(t *testing.T) {
	dev := &thermoDevice{unitID: 49, mode: "sample"}
	tr := &fakeTransport{respond: dev.respond}
	th, err := NewThermo(ThermoConfig{
		ID: "tei49", UnitID: 49,
		Commands: map[string]string{"identity": "instr name", "current": "lrec"},
	}, tr)
	if err != nil {
		t.Fatalf("NewThermo() err=%v", err)
	}

	id, err := th.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() err=%v", err)
	}
	if id != "49i" {
		t.Fatalf("identity: got %q", id)
	}
	if tr.sent[0][0] != byte(49+128) {
		t.Fatalf("unit prefix byte: got %#02x", tr.sent[0][0])
	}
}
