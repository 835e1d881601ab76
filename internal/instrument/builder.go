// internal/instrument/builder.go
package instrument

import (
	"fmt"
	"time"

	cfg "github.com/meteolab/stationdaq/internal/config"
	"github.com/meteolab/stationdaq/internal/protocol/asciirec"
	"github.com/meteolab/stationdaq/internal/transport"
)

// Build constructs the driver for one configured instrument and wires its
// transport lifecycle. The returned closer shuts the connection down.
func Build(in cfg.InstrumentConfig) (Driver, func() error, error) {
	switch in.Family {
	case "neph":
		tr, err := buildTransport(in.Transport)
		if err != nil {
			return nil, nil, fmt.Errorf("instrument %s: %w", in.ID, err)
		}
		d, err := NewNeph(NephConfig{
			ID:          in.ID,
			SerialID:    in.SerialID,
			Variant:     in.Variant,
			ExtraParams: in.ExtraParams,
			LegacyMap:   legacyMap(in.LegacyMap),
		}, tr)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil

	case "thermo":
		tr, err := buildTransport(in.Transport)
		if err != nil {
			return nil, nil, fmt.Errorf("instrument %s: %w", in.ID, err)
		}
		style := asciirec.Pairs
		if in.RecordStyle == "columns" {
			style = asciirec.Columns
		}
		tc := ThermoConfig{
			ID:            in.ID,
			UnitID:        in.UnitID,
			Header:        asciirec.Header(in.Header),
			Style:         style,
			Commands:      in.Commands,
			ConfigQueries: in.ConfigQueries,
			FetchChunk:    in.FetchChunk,
		}
		if c := in.Calibration; c != nil {
			tc.ModeQuery = c.ModeQuery
			tc.ModeSet = modeSet(c.ModeSet)
		}
		d, err := NewThermo(tc, tr)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil

	case "meteo":
		regs := make([]RegisterSpec, 0, len(in.Registers))
		for _, r := range in.Registers {
			regs = append(regs, RegisterSpec{Code: Code(r.Code), Address: r.Address})
		}
		d, err := NewMeteo(MeteoConfig{
			ID:        in.ID,
			Device:    in.Transport.Device,
			Address:   in.Transport.Address,
			UnitID:    byte(in.UnitID),
			Baud:      in.Transport.Baud,
			Timeout:   time.Duration(in.Transport.TimeoutMs) * time.Millisecond,
			Registers: regs,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}

	return nil, nil, fmt.Errorf("instrument %s: unknown family %q", in.ID, in.Family)
}

func buildTransport(tc cfg.TransportConfig) (transport.Transport, error) {
	framing := transport.Framing{
		Terminator: []byte(tc.Terminator),
		Timeout:    time.Duration(tc.TimeoutMs) * time.Millisecond,
	}
	switch tc.Kind {
	case "tcp":
		return transport.NewTCP(tc.Address, framing)
	case "serial":
		return transport.NewSerial(transport.SerialConfig{
			Address:  tc.Device,
			BaudRate: tc.Baud,
			DataBits: tc.DataBits,
			StopBits: tc.StopBits,
			Parity:   tc.Parity,
		}, framing)
	}
	return nil, fmt.Errorf("unknown transport kind %q", tc.Kind)
}

func legacyMap(m map[int]int32) map[int]int32 {
	if len(m) == 0 {
		return nil // driver falls back to the built-in table
	}
	out := make(map[int]int32, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func modeSet(m map[string]string) map[OperatingState]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[OperatingState]string, len(m))
	for mode, cmd := range m {
		switch mode {
		case "ambient":
			out[Ambient] = cmd
		case "zero":
			out[Zero] = cmd
		case "span":
			out[Span] = cmd
		}
	}
	return out
}
