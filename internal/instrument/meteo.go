// internal/instrument/meteo.go
package instrument

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/meteolab/stationdaq/internal/protocol"
)

// RegisterSpec maps one measured quantity onto a holding-register pair.
// Values are float32 in Modicon word order (low word first).
type RegisterSpec struct {
	Code    Code
	Address uint16
}

// MeteoConfig is the immutable policy of one register-map instrument
// (Vaisala-style humidity/temperature probes on an RS-485 bus, directly
// or behind a Modbus TCP gateway).
type MeteoConfig struct {
	ID      string
	Device  string // serial device path (RTU)
	Address string // host:port (TCP gateway); takes precedence over Device
	UnitID  byte
	Baud    int
	Timeout time.Duration

	Registers []RegisterSpec
}

// modbusClient is the slice of the modbus API the driver exercises.
// Kept small so tests can fake the bus.
type modbusClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// busHandler is the lifecycle slice shared by the goburrow RTU and TCP
// handlers.
type busHandler interface {
	Connect() error
	Close() error
}

// Meteo drives one Modbus register-map instrument. The probe has no
// device-side log and no calibration cycle; it answers register reads and
// nothing else.
type Meteo struct {
	cfg     MeteoConfig
	handler busHandler
	client  modbusClient

	mu sync.Mutex // one outstanding request per bus
}

// NewMeteo builds the driver and connects the bus handler.
func NewMeteo(cfg MeteoConfig) (*Meteo, error) {
	if cfg.ID == "" {
		return nil, errors.New("instrument: id required")
	}
	if cfg.Device == "" && cfg.Address == "" {
		return nil, fmt.Errorf("instrument %s: serial device or tcp address required", cfg.ID)
	}
	if len(cfg.Registers) == 0 {
		return nil, fmt.Errorf("instrument %s: no registers configured", cfg.ID)
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 19200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}

	var h busHandler
	if cfg.Address != "" {
		th := modbus.NewTCPClientHandler(cfg.Address)
		th.SlaveId = cfg.UnitID
		th.Timeout = cfg.Timeout
		h = th
		if err := th.Connect(); err != nil {
			return nil, err
		}
		return &Meteo{cfg: cfg, handler: h, client: modbus.NewClient(th)}, nil
	}

	rh := modbus.NewRTUClientHandler(cfg.Device)
	rh.BaudRate = cfg.Baud
	rh.DataBits = 8
	rh.Parity = "N"
	rh.StopBits = 2
	rh.SlaveId = cfg.UnitID
	rh.Timeout = cfg.Timeout

	if err := rh.Connect(); err != nil {
		return nil, err
	}
	return &Meteo{cfg: cfg, handler: rh, client: modbus.NewClient(rh)}, nil
}

func (m *Meteo) ID() string { return m.cfg.ID }

func (m *Meteo) Close() error {
	if m.handler == nil {
		return nil
	}
	return m.handler.Close()
}

func (m *Meteo) SupportsCalibration() bool { return false }

func (m *Meteo) Identity(ctx context.Context) (string, error) {
	if m.cfg.Address != "" {
		return fmt.Sprintf("modbus tcp unit %d at %s", m.cfg.UnitID, m.cfg.Address), nil
	}
	return fmt.Sprintf("modbus rtu unit %d on %s", m.cfg.UnitID, m.cfg.Device), nil
}

func (m *Meteo) Config(ctx context.Context) (map[string]string, error) {
	cfg := make(map[string]string, len(m.cfg.Registers))
	for _, reg := range m.cfg.Registers {
		cfg[string(reg.Code)] = fmt.Sprintf("holding register %d", reg.Address)
	}
	return cfg, nil
}

func (m *Meteo) CurrentData(ctx context.Context, strict bool) (*Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := NewReading(time.Now().UTC())
	for _, reg := range m.cfg.Registers {
		raw, err := m.client.ReadHoldingRegisters(reg.Address, 2)
		if err != nil {
			if strict {
				return nil, err
			}
			continue
		}
		v, err := decodeModiconFloat(raw)
		if err != nil {
			return nil, err
		}
		if err := r.Add(reg.Code, Num(v)); err != nil {
			return nil, err
		}
	}
	if !r.Valid() {
		return nil, protocol.Errorf("modbus: no register answered")
	}
	return r, nil
}

func (m *Meteo) Values(ctx context.Context, params []Code) (*Reading, error) {
	specs := make([]RegisterSpec, 0, len(params))
	for _, c := range params {
		found := false
		for _, reg := range m.cfg.Registers {
			if reg.Code == c {
				specs = append(specs, reg)
				found = true
				break
			}
		}
		if !found {
			return nil, protocol.Errorf("modbus: code %q maps to no register", c)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r := NewReading(time.Now().UTC())
	for _, reg := range specs {
		raw, err := m.client.ReadHoldingRegisters(reg.Address, 2)
		if err != nil {
			return nil, err
		}
		v, err := decodeModiconFloat(raw)
		if err != nil {
			return nil, err
		}
		if err := r.Add(reg.Code, Num(v)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// The probe buffers nothing: NewData is one snapshot per call.
func (m *Meteo) NewData(ctx context.Context) ([]*Reading, error) {
	r, err := m.CurrentData(ctx, false)
	if err != nil {
		return nil, err
	}
	return []*Reading{r}, nil
}

func (m *Meteo) AllData(ctx context.Context) ([]*Reading, error) {
	return nil, ErrNotSupported
}

func (m *Meteo) LoggedData(ctx context.Context, start, end time.Time) ([]*Reading, error) {
	return nil, ErrNotSupported
}

func (m *Meteo) CurrentOperation(ctx context.Context) (OperatingState, error) {
	return Ambient, nil
}

func (m *Meteo) SetCurrentOperation(ctx context.Context, s OperatingState) error {
	return ErrNotSupported
}

// decodeModiconFloat decodes a float32 register pair with the low word
// transmitted first.
func decodeModiconFloat(raw []byte) (float64, error) {
	if len(raw) != 4 {
		return 0, protocol.Errorf("modbus: register read returned %d bytes, want 4", len(raw))
	}
	lo := binary.BigEndian.Uint16(raw[0:2])
	hi := binary.BigEndian.Uint16(raw[2:4])
	bits := uint32(hi)<<16 | uint32(lo)
	return float64(math.Float32frombits(bits)), nil
}

var _ Driver = (*Meteo)(nil)
