// internal/instrument/thermo.go
package instrument

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meteolab/stationdaq/internal/protocol"
	"github.com/meteolab/stationdaq/internal/protocol/asciirec"
	"github.com/meteolab/stationdaq/internal/transport"
)

// ThermoConfig is the immutable policy of one ASCII line-protocol
// instrument (Thermo-style gas monitors, tape samplers, aethalometers).
type ThermoConfig struct {
	ID     string
	UnitID int // bus unit number; 0 disables the address prefix byte

	Header asciirec.Header
	Style  asciirec.Style

	// Command vocabulary. Required keys: "identity", "current".
	// "count" and "fetch" (a format string taking start index and count)
	// enable the device-side log; without them NewData falls back to one
	// current snapshot per call.
	Commands map[string]string

	// ConfigQueries are issued verbatim by Config.
	ConfigQueries []string

	// ModeQuery reads the calibration state; ModeSet maps a target state
	// to the command that requests it. Both empty means no calibration.
	ModeQuery string
	ModeSet   map[OperatingState]string

	// FetchChunk bounds one log-fetch request.
	FetchChunk int

	ConfirmEvery   time.Duration
	ConfirmTimeout time.Duration
}

// Thermo drives one ASCII line-protocol instrument. Commands are plain
// text lines; multi-unit buses address a unit with a single id+128 prefix
// byte before each command.
type Thermo struct {
	cfg ThermoConfig
	tr  transport.Transport

	mu         sync.Mutex // one outstanding request per connection
	transition atomic.Bool

	seen  int  // device log record count at the last NewData
	prime bool // seen has been initialized
}

// NewThermo builds the driver and opens its transport.
func NewThermo(cfg ThermoConfig, tr transport.Transport) (*Thermo, error) {
	if cfg.ID == "" {
		return nil, errors.New("instrument: id required")
	}
	for _, key := range []string{"identity", "current"} {
		if cfg.Commands[key] == "" {
			return nil, fmt.Errorf("instrument %s: command %q not configured", cfg.ID, key)
		}
	}
	if cfg.FetchChunk <= 0 {
		cfg.FetchChunk = 10
	}
	if cfg.ConfirmEvery <= 0 {
		cfg.ConfirmEvery = 2 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if err := tr.Open(); err != nil {
		return nil, err
	}
	return &Thermo{cfg: cfg, tr: tr}, nil
}

func (t *Thermo) ID() string { return t.cfg.ID }

func (t *Thermo) Close() error { return t.tr.Close() }

func (t *Thermo) SupportsCalibration() bool {
	return t.cfg.ModeQuery != "" && len(t.cfg.ModeSet) > 0
}

// command runs one round trip and returns the cleaned single-line
// response.
func (t *Thermo) command(ctx context.Context, cmd string) (string, error) {
	raw, err := t.exchange(ctx, cmd)
	if err != nil {
		return "", err
	}
	return asciirec.Clean(raw), nil
}

// commandLines runs one round trip and returns the response split into
// cleaned record lines (echo stripped once, checksum trailers per line).
func (t *Thermo) commandLines(ctx context.Context, cmd string) ([]string, error) {
	raw, err := t.exchange(ctx, cmd)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // command echo
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if i := strings.IndexByte(line, '*'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(strings.Trim(line, "\r\x00"))
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func (t *Thermo) exchange(ctx context.Context, cmd string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := []byte(cmd + "\r")
	if t.cfg.UnitID > 0 {
		msg = append([]byte{byte(t.cfg.UnitID + 128)}, msg...)
	}
	if err := t.tr.Send(msg); err != nil {
		return nil, err
	}
	return t.tr.Receive(ctx)
}

func (t *Thermo) Identity(ctx context.Context) (string, error) {
	return t.command(ctx, t.cfg.Commands["identity"])
}

func (t *Thermo) Config(ctx context.Context) (map[string]string, error) {
	cfg := make(map[string]string, len(t.cfg.ConfigQueries))
	for _, q := range t.cfg.ConfigQueries {
		resp, err := t.command(ctx, q)
		if err != nil {
			return nil, err
		}
		cfg[q] = resp
	}
	return cfg, nil
}

func (t *Thermo) CurrentData(ctx context.Context, strict bool) (*Reading, error) {
	line, err := t.command(ctx, t.cfg.Commands["current"])
	if err != nil {
		return nil, err
	}
	rec, err := asciirec.DecodeRecord(line, t.cfg.Header, t.cfg.Style, strict)
	if err != nil {
		return nil, err
	}
	return recordToReading(rec)
}

func (t *Thermo) Values(ctx context.Context, params []Code) (*Reading, error) {
	r := NewReading(time.Now().UTC())
	for _, c := range params {
		resp, err := t.command(ctx, string(c))
		if err != nil {
			return nil, err
		}
		// responses echo the field name: take the last token as the value
		tokens := strings.Fields(resp)
		if len(tokens) == 0 {
			return nil, protocol.Errorf("empty response to %q", c)
		}
		value := tokens[len(tokens)-1]
		var add error
		if v, perr := strconv.ParseFloat(value, 64); perr == nil {
			add = r.Add(c, Num(v))
		} else {
			add = r.Add(c, Text(resp))
		}
		if add != nil {
			return nil, add
		}
	}
	return r, nil
}

func (t *Thermo) NewData(ctx context.Context) ([]*Reading, error) {
	if t.cfg.Commands["count"] == "" || t.cfg.Commands["fetch"] == "" {
		// no device-side log: one snapshot per call
		r, err := t.CurrentData(ctx, false)
		if err != nil {
			return nil, err
		}
		return []*Reading{r}, nil
	}

	count, err := t.recordCount(ctx)
	if err != nil {
		return nil, err
	}
	if !t.prime {
		// first call after start: only data logged from here on is new
		t.seen, t.prime = count, true
		return nil, nil
	}
	if count < t.seen {
		// device log rolled over or was cleared
		t.seen = 0
	}
	rs, err := t.fetchRange(ctx, t.seen+1, count-t.seen)
	if err != nil {
		return nil, err
	}
	t.seen = count
	return rs, nil
}

func (t *Thermo) AllData(ctx context.Context) ([]*Reading, error) {
	if t.cfg.Commands["count"] == "" || t.cfg.Commands["fetch"] == "" {
		return nil, ErrNotSupported
	}
	count, err := t.recordCount(ctx)
	if err != nil {
		return nil, err
	}
	return t.fetchRange(ctx, 1, count)
}

func (t *Thermo) LoggedData(ctx context.Context, start, end time.Time) ([]*Reading, error) {
	all, err := t.AllData(ctx)
	if err != nil {
		return nil, err
	}
	return dedupeAscending(filterRange(all, start, end)), nil
}

func (t *Thermo) recordCount(ctx context.Context) (int, error) {
	resp, err := t.command(ctx, t.cfg.Commands["count"])
	if err != nil {
		return 0, err
	}
	tokens := strings.Fields(resp)
	if len(tokens) == 0 {
		return 0, protocol.Errorf("empty record-count response")
	}
	n, err := strconv.Atoi(tokens[len(tokens)-1])
	if err != nil || n < 0 {
		return 0, protocol.Errorf("bad record count %q", resp)
	}
	return n, nil
}

// fetchRange pulls n records starting at index start, in bounded chunks.
func (t *Thermo) fetchRange(ctx context.Context, start, n int) ([]*Reading, error) {
	var out []*Reading
	for n > 0 {
		chunk := n
		if chunk > t.cfg.FetchChunk {
			chunk = t.cfg.FetchChunk
		}
		lines, err := t.commandLines(ctx, fmt.Sprintf(t.cfg.Commands["fetch"], start, chunk))
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			rec, err := asciirec.DecodeRecord(line, t.cfg.Header, t.cfg.Style, false)
			if err != nil {
				continue // torn record in the dump, skip
			}
			r, err := recordToReading(rec)
			if err != nil {
				continue
			}
			out = append(out, r)
		}
		start += chunk
		n -= chunk
	}
	return dedupeAscending(out), nil
}

func (t *Thermo) CurrentOperation(ctx context.Context) (OperatingState, error) {
	if t.cfg.ModeQuery == "" {
		return Ambient, nil
	}
	resp, err := t.command(ctx, t.cfg.ModeQuery)
	if err != nil {
		return Ambient, err
	}
	switch {
	case strings.Contains(resp, "zero"):
		return Zero, nil
	case strings.Contains(resp, "span"):
		return Span, nil
	}
	// sample, ozone, and anything else is regular measurement
	return Ambient, nil
}

func (t *Thermo) SetCurrentOperation(ctx context.Context, want OperatingState) error {
	if !t.SupportsCalibration() {
		return ErrNotSupported
	}
	cmd, ok := t.cfg.ModeSet[want]
	if !ok {
		return ErrNotSupported
	}
	if !t.transition.CompareAndSwap(false, true) {
		return &StateTransitionError{
			Instrument: t.cfg.ID, Want: want,
			Reason: "another transition is in flight",
		}
	}
	defer t.transition.Store(false)

	if _, err := t.command(ctx, cmd); err != nil {
		return err
	}
	last, ok := awaitState(ctx, t.CurrentOperation, want, t.cfg.ConfirmEvery, t.cfg.ConfirmTimeout)
	if !ok {
		return &StateTransitionError{
			Instrument: t.cfg.ID, Want: want, Last: last,
			Reason: "not confirmed within " + t.cfg.ConfirmTimeout.String(),
		}
	}
	return nil
}

func recordToReading(rec asciirec.Record) (*Reading, error) {
	r := NewReading(rec.Time)
	for _, f := range rec.Fields {
		v := Text(f.Text)
		if f.Numeric {
			v = Num(f.Num)
		}
		if err := r.Add(Code(f.Name), v); err != nil {
			return nil, err
		}
	}
	if !r.Valid() {
		return nil, protocol.Errorf("record carries no data fields")
	}
	return r, nil
}

var _ Driver = (*Thermo)(nil)
