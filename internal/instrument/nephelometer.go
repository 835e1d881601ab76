// internal/instrument/nephelometer.go
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
	"github.com/meteolab/stationdaq/internal/protocol/acoem"
	"github.com/meteolab/stationdaq/internal/transport"
)

// Nephelometer protocol variants.
const (
	VariantAcoem  = "acoem"
	VariantLegacy = "legacy"
)

// defaultCurrentParams is the one-snapshot parameter set of the
// nephelometer family: timestamp, full scatter and backscatter at three
// wavelengths, sample conditions, and the two state words.
var defaultCurrentParams = []int32{
	acoem.ParamTime,
	1635000, 1525000, 1450000,
	1635090, 1525090, 1450090,
	acoem.ParamSampleTemp, acoem.ParamEnclosureTemp,
	acoem.ParamRelHumidity, acoem.ParamSamplePressure,
	acoem.ParamMajorState, acoem.ParamOperatingState,
}

// NephConfig is the immutable per-instrument policy of one nephelometer.
type NephConfig struct {
	ID       string
	SerialID int
	Variant  string // VariantAcoem or VariantLegacy

	// ExtraParams extends the current-data parameter set.
	ExtraParams []int32

	// LegacyMap overrides the default legacy→acoem parameter mapping.
	LegacyMap map[int]int32

	// Confirmed-transition polling.
	ConfirmEvery   time.Duration
	ConfirmTimeout time.Duration
}

// Neph drives one Acoem/Ecotech nephelometer over either protocol variant.
type Neph struct {
	cfg       NephConfig
	tr        transport.Transport
	legacyMap map[int]int32

	mu         sync.Mutex // one outstanding request per connection
	transition atomic.Bool

	cursor time.Time // delta cursor for NewData
}

// NewNeph builds the driver and opens its transport.
func NewNeph(cfg NephConfig, tr transport.Transport) (*Neph, error) {
	if cfg.ID == "" {
		return nil, errors.New("instrument: id required")
	}
	if cfg.Variant != VariantAcoem && cfg.Variant != VariantLegacy {
		return nil, fmt.Errorf("instrument %s: unknown protocol variant %q", cfg.ID, cfg.Variant)
	}
	if cfg.ConfirmEvery <= 0 {
		cfg.ConfirmEvery = 500 * time.Millisecond
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	lm := cfg.LegacyMap
	if lm == nil {
		lm = acoem.DefaultLegacyMap()
	}
	if err := tr.Open(); err != nil {
		return nil, err
	}
	return &Neph{
		cfg:       cfg,
		tr:        tr,
		legacyMap: lm,
		cursor:    time.Now().UTC().Truncate(time.Minute),
	}, nil
}

func (n *Neph) ID() string { return n.cfg.ID }

func (n *Neph) Close() error { return n.tr.Close() }

func (n *Neph) SupportsCalibration() bool { return n.cfg.Variant == VariantAcoem }

// exchange performs one binary request/response round trip. On a decode
// failure the channel is drained so a torn frame cannot desynchronize the
// next exchange.
func (n *Neph) exchange(ctx context.Context, req []byte) (acoem.Frame, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.tr.Send(req); err != nil {
		return acoem.Frame{}, err
	}
	raw, err := n.tr.Receive(ctx)
	if err != nil {
		return acoem.Frame{}, err
	}
	f, err := acoem.Decode(raw)
	if err != nil {
		var pe *protocol.Error
		if errors.As(err, &pe) {
			n.tr.Drain()
		}
		return acoem.Frame{}, err
	}
	return f, nil
}

// sendOnly issues a command the device does not acknowledge (set value).
func (n *Neph) sendOnly(req []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tr.Send(req)
}

// exchangeLine performs one legacy-dialect round trip.
func (n *Neph) exchangeLine(ctx context.Context, req []byte) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.tr.Send(req); err != nil {
		return "", err
	}
	raw, err := n.tr.Receive(ctx)
	if err != nil {
		return "", err
	}
	return acoem.CleanLegacy(raw), nil
}

func (n *Neph) Identity(ctx context.Context) (string, error) {
	if n.cfg.Variant == VariantLegacy {
		return n.exchangeLine(ctx, acoem.LegacyID(n.cfg.SerialID))
	}

	f, err := n.exchange(ctx, acoem.Encode(acoem.Frame{
		SerialID: byte(n.cfg.SerialID), Command: acoem.CmdInstrumentType,
	}))
	if err != nil {
		return "", err
	}
	typ, err := acoem.DecodeInts(f.Data)
	if err != nil || len(typ) < 4 {
		return "", protocol.Errorf("acoem: short instrument-type response")
	}

	f, err = n.exchange(ctx, acoem.Encode(acoem.Frame{
		SerialID: byte(n.cfg.SerialID), Command: acoem.CmdVersion,
	}))
	if err != nil {
		return "", err
	}
	ver, err := acoem.DecodeInts(f.Data)
	if err != nil || len(ver) < 2 {
		return "", protocol.Errorf("acoem: short version response")
	}

	return fmt.Sprintf("%s %s sub-type %d range %d build %d branch %d",
		modelName(typ[0]), variantName(typ[1]), typ[2], typ[3], ver[0], ver[1]), nil
}

func modelName(m int32) string {
	if m == 158 {
		return "Acoem Aurora"
	}
	return fmt.Sprintf("model %d", m)
}

func variantName(v int32) string {
	if v == 300 {
		return "NE-300"
	}
	return fmt.Sprintf("variant %d", v)
}

func (n *Neph) Config(ctx context.Context) (map[string]string, error) {
	cfg := make(map[string]string)

	if n.cfg.Variant == VariantLegacy {
		fmtResp, err := n.exchangeLine(ctx, acoem.LegacyVI(n.cfg.SerialID, acoem.LegacyDateFormat))
		if err != nil {
			return nil, err
		}
		cfg["date_format"] = fmtResp
		status, err := n.exchangeLine(ctx, acoem.LegacyVI(n.cfg.SerialID, acoem.LegacyStatusWord))
		if err != nil {
			return nil, err
		}
		cfg["status_word"] = status
		return cfg, nil
	}

	f, err := n.exchange(ctx, acoem.Encode(acoem.Frame{
		SerialID: byte(n.cfg.SerialID), Command: acoem.CmdLogConfig,
	}))
	if err != nil {
		return nil, err
	}
	ids, err := acoem.DecodeInts(f.Data)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		// first word is the field count, the rest are parameter ids
		parts := make([]string, 0, len(ids)-1)
		for _, id := range ids[1:] {
			parts = append(parts, strconv.FormatInt(int64(id), 10))
		}
		cfg["log_parameters"] = strings.Join(parts, ",")
	}

	r, err := n.Values(ctx, []Code{NumCode(acoem.ParamLogInterval)})
	if err != nil {
		return nil, err
	}
	if v, ok := r.Values[NumCode(acoem.ParamLogInterval)]; ok {
		cfg["datalog_interval"] = strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return cfg, nil
}

func (n *Neph) CurrentData(ctx context.Context, strict bool) (*Reading, error) {
	params := append(append([]int32{}, defaultCurrentParams...), n.cfg.ExtraParams...)

	if n.cfg.Variant == VariantLegacy {
		line, err := n.exchangeLine(ctx, acoem.LegacyVI(n.cfg.SerialID, acoem.LegacyCurrentData))
		if err != nil {
			return nil, err
		}
		ts, vals, err := acoem.ParseLegacyCurrent(line, strict)
		if err != nil {
			return nil, err
		}
		r := NewReading(ts)
		for i, input := range acoem.LegacyCurrentOrder {
			if err := r.Add(n.legacyCode(input), Num(vals[i])); err != nil {
				return nil, err
			}
		}
		return r, nil
	}

	return n.queryValues(ctx, params, strict)
}

func (n *Neph) Values(ctx context.Context, params []Code) (*Reading, error) {
	if n.cfg.Variant == VariantLegacy {
		r := NewReading(time.Now().UTC())
		for _, c := range params {
			id, ok := c.Int()
			if !ok || id < 0 || id > 99 {
				// legacy inputs are two-digit codes; anything else is opaque
				if err := r.Add(c, Text("")); err != nil {
					return nil, err
				}
				continue
			}
			line, err := n.exchangeLine(ctx, acoem.LegacyVI(n.cfg.SerialID, int(id)))
			if err != nil {
				return nil, err
			}
			code := n.legacyCode(int(id))
			if v, perr := strconv.ParseFloat(line, 64); perr == nil {
				err = r.Add(code, Num(v))
			} else {
				err = r.Add(code, Text(line))
			}
			if err != nil {
				return nil, err
			}
		}
		return r, nil
	}

	ids := make([]int32, len(params))
	for i, c := range params {
		id, ok := c.Int()
		if !ok {
			return nil, protocol.Errorf("acoem: non-numeric parameter code %q", c)
		}
		ids[i] = id
	}
	return n.queryValues(ctx, ids, true)
}

// queryValues runs one command 4 round trip and converts the result.
func (n *Neph) queryValues(ctx context.Context, params []int32, strict bool) (*Reading, error) {
	f, err := n.exchange(ctx, acoem.EncodeGetValues(byte(n.cfg.SerialID), params))
	if err != nil {
		return nil, err
	}
	vals, err := acoem.DecodeValues(params, f.Data, strict)
	if err != nil {
		return nil, err
	}

	r := NewReading(time.Now().UTC())
	for i, v := range vals {
		code := NumCode(params[i])
		switch v.Kind {
		case acoem.KindTime:
			r.Timestamp = v.Time
			err = r.Add(code, Text(v.Time.Format(time.RFC3339)))
		case acoem.KindInt:
			err = r.Add(code, Num(float64(v.Int)))
		default:
			err = r.Add(code, Num(v.Float))
		}
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (n *Neph) NewData(ctx context.Context) ([]*Reading, error) {
	if n.cfg.Variant == VariantLegacy {
		line, err := n.exchangeLine(ctx, acoem.LegacyDump())
		if err != nil {
			return nil, err
		}
		return n.parseLegacyDump(line), nil
	}

	start := n.cursor
	end := time.Now().UTC().Truncate(time.Minute)
	if !end.After(start) {
		return nil, nil
	}
	rs, err := n.LoggedData(ctx, start, end)
	if err != nil {
		return nil, err
	}
	// advance only after a successful fetch: a crash loses the unflushed
	// delta, it never duplicates what was already handed out
	n.cursor = end.Add(time.Second)
	return rs, nil
}

func (n *Neph) AllData(ctx context.Context) ([]*Reading, error) {
	if n.cfg.Variant == VariantLegacy {
		// rewind the device log cursor (no acknowledgement), then dump
		if err := n.sendOnly(acoem.LegacyRewind()); err != nil {
			return nil, err
		}
		line, err := n.exchangeLine(ctx, acoem.LegacyDump())
		if err != nil {
			return nil, err
		}
		return n.parseLegacyDump(line), nil
	}

	end := time.Now().UTC()
	return n.LoggedData(ctx, end.Add(-24*time.Hour), end)
}

func (n *Neph) LoggedData(ctx context.Context, start, end time.Time) ([]*Reading, error) {
	if n.cfg.Variant == VariantLegacy {
		all, err := n.AllData(ctx)
		if err != nil {
			return nil, err
		}
		return dedupeAscending(filterRange(all, start, end)), nil
	}

	f, err := n.exchange(ctx, acoem.EncodeLoggedData(byte(n.cfg.SerialID), start, end))
	if err != nil {
		return nil, err
	}
	recs, err := acoem.DecodeLoggedData(f.Data)
	if err != nil {
		return nil, err
	}

	out := make([]*Reading, 0, len(recs))
	for _, rec := range recs {
		r := NewReading(acoem.DecodeTimestamp(uint32(rec.Time)))
		for i, p := range rec.Params {
			v := rec.Values[i]
			var add error
			switch v.Kind {
			case acoem.KindTime:
				add = r.Add(NumCode(p), Text(v.Time.Format(time.RFC3339)))
			case acoem.KindInt:
				add = r.Add(NumCode(p), Num(float64(v.Int)))
			default:
				add = r.Add(NumCode(p), Num(v.Float))
			}
			if add != nil {
				return nil, add
			}
		}
		out = append(out, r)
	}
	return dedupeAscending(filterRange(out, start, end)), nil
}

// legacyCode translates a legacy input number to its reading code. Mapped
// inputs report under the binary dialect's parameter id; unmapped inputs
// pass through under the raw input number.
func (n *Neph) legacyCode(input int) Code {
	if id, ok := n.legacyMap[input]; ok {
		return NumCode(id)
	}
	return Code(strconv.Itoa(input))
}

func (n *Neph) parseLegacyDump(dump string) []*Reading {
	var out []*Reading
	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ts, vals, err := acoem.ParseLegacyCurrent(line, false)
		if err != nil {
			continue // torn record in the dump, skip
		}
		r := NewReading(ts)
		for i, input := range acoem.LegacyCurrentOrder {
			if r.Add(n.legacyCode(input), Num(vals[i])) != nil {
				break
			}
		}
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

func (n *Neph) CurrentOperation(ctx context.Context) (OperatingState, error) {
	if n.cfg.Variant == VariantLegacy {
		line, err := n.exchangeLine(ctx, acoem.LegacyVI(n.cfg.SerialID, acoem.LegacyState))
		if err != nil {
			return Ambient, err
		}
		v, err := acoem.ParseLegacyState(line)
		if err != nil {
			return Ambient, err
		}
		return stateFromWire(v)
	}

	r, err := n.queryValues(ctx, []int32{acoem.ParamOperatingState}, true)
	if err != nil {
		return Ambient, err
	}
	v, ok := r.Values[NumCode(acoem.ParamOperatingState)]
	if !ok {
		return Ambient, protocol.Errorf("acoem: state parameter missing from response")
	}
	return stateFromWire(int(v.Num))
}

func (n *Neph) SetCurrentOperation(ctx context.Context, want OperatingState) error {
	if !n.SupportsCalibration() {
		return ErrNotSupported
	}
	if !n.transition.CompareAndSwap(false, true) {
		return &StateTransitionError{
			Instrument: n.cfg.ID, Want: want,
			Reason: "another transition is in flight",
		}
	}
	defer n.transition.Store(false)

	// the set-value command is not acknowledged; confirmation comes from
	// polling the state parameter
	msg := acoem.EncodeSetValue(byte(n.cfg.SerialID), acoem.ParamOperatingState, int32(wireFromState(want)))
	if err := n.sendOnly(msg); err != nil {
		return err
	}

	last, ok := awaitState(ctx, n.CurrentOperation, want, n.cfg.ConfirmEvery, n.cfg.ConfirmTimeout)
	if !ok {
		return &StateTransitionError{
			Instrument: n.cfg.ID, Want: want, Last: last,
			Reason: "not confirmed within " + n.cfg.ConfirmTimeout.String(),
		}
	}
	return nil
}

func stateFromWire(v int) (OperatingState, error) {
	switch v {
	case acoem.StateAmbient:
		return Ambient, nil
	case acoem.StateZero:
		return Zero, nil
	case acoem.StateSpan:
		return Span, nil
	}
	return Ambient, protocol.Errorf("acoem: unknown operating state %d", v)
}

func wireFromState(s OperatingState) int {
	switch s {
	case Zero:
		return acoem.StateZero
	case Span:
		return acoem.StateSpan
	}
	return acoem.StateAmbient
}

var _ Driver = (*Neph)(nil)
