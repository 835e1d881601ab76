// internal/config/validate.go
package config

import (
	"fmt"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg.Station.StagingDir == "" {
		return fmt.Errorf("station: staging_dir required")
	}

	seen := make(map[string]bool, len(cfg.Station.Instruments))

	for _, in := range cfg.Station.Instruments {
		if in.ID == "" {
			return fmt.Errorf("instrument with empty id")
		}
		if seen[in.ID] {
			return fmt.Errorf("instrument %q: duplicate id", in.ID)
		}
		seen[in.ID] = true

		// ------------------------------------------------------------
		// FAMILY-SPECIFIC REQUIREMENTS
		// ------------------------------------------------------------

		switch in.Family {
		case "neph":
			if in.Variant != "acoem" && in.Variant != "legacy" {
				return fmt.Errorf("instrument %q: variant must be acoem or legacy, got %q", in.ID, in.Variant)
			}
			if in.SerialID < 0 || in.SerialID > 255 {
				return fmt.Errorf("instrument %q: serial_id out of range", in.ID)
			}
		case "thermo":
			if in.Commands["identity"] == "" || in.Commands["current"] == "" {
				return fmt.Errorf("instrument %q: commands.identity and commands.current required", in.ID)
			}
			if in.RecordStyle != "" && in.RecordStyle != "pairs" && in.RecordStyle != "columns" {
				return fmt.Errorf("instrument %q: record_style must be pairs or columns, got %q", in.ID, in.RecordStyle)
			}
		case "meteo":
			if len(in.Registers) == 0 {
				return fmt.Errorf("instrument %q: registers required", in.ID)
			}
			if in.UnitID < 1 || in.UnitID > 255 {
				return fmt.Errorf("instrument %q: unit_id out of range", in.ID)
			}
			regs := make(map[string]bool, len(in.Registers))
			for _, r := range in.Registers {
				if r.Code == "" {
					return fmt.Errorf("instrument %q: register with empty code", in.ID)
				}
				if regs[r.Code] {
					return fmt.Errorf("instrument %q: duplicate register code %q", in.ID, r.Code)
				}
				regs[r.Code] = true
			}
		default:
			return fmt.Errorf("instrument %q: unknown family %q", in.ID, in.Family)
		}

		// ------------------------------------------------------------
		// TRANSPORT
		// ------------------------------------------------------------

		switch in.Transport.Kind {
		case "tcp":
			if in.Transport.Address == "" {
				return fmt.Errorf("instrument %q: transport.address required for tcp", in.ID)
			}
		case "serial":
			if in.Transport.Device == "" {
				return fmt.Errorf("instrument %q: transport.device required for serial", in.ID)
			}
		case "":
			if in.Family != "meteo" {
				return fmt.Errorf("instrument %q: transport.kind required", in.ID)
			}
			// meteo owns its bus handler; only the device path is needed
			if in.Transport.Device == "" {
				return fmt.Errorf("instrument %q: transport.device required", in.ID)
			}
		default:
			return fmt.Errorf("instrument %q: unknown transport kind %q", in.ID, in.Transport.Kind)
		}

		// ------------------------------------------------------------
		// POLL CADENCE
		// ------------------------------------------------------------

		if in.Poll.SamplingS < 0 || in.Poll.ReportingS < 0 {
			return fmt.Errorf("instrument %q: negative poll interval", in.ID)
		}
		if in.Poll.SamplingS > 0 && in.Poll.ReportingS > 0 &&
			in.Poll.ReportingS%in.Poll.SamplingS != 0 {
			return fmt.Errorf(
				"instrument %q: reporting_s=%d not a multiple of sampling_s=%d",
				in.ID, in.Poll.ReportingS, in.Poll.SamplingS,
			)
		}

		// ------------------------------------------------------------
		// CALIBRATION
		// ------------------------------------------------------------

		if c := in.Calibration; c != nil {
			if in.Family == "meteo" {
				return fmt.Errorf("instrument %q: meteo family has no calibration cycle", in.ID)
			}
			if c.IntervalH <= 0 {
				return fmt.Errorf("instrument %q: calibration.interval_h must be positive", in.ID)
			}
			if c.ZeroS <= 0 {
				return fmt.Errorf("instrument %q: calibration.zero_s must be positive", in.ID)
			}
			if c.Span && c.SpanS <= 0 {
				return fmt.Errorf("instrument %q: calibration.span_s must be positive when span is enabled", in.ID)
			}
			for mode := range c.ModeSet {
				if mode != "ambient" && mode != "zero" && mode != "span" {
					return fmt.Errorf("instrument %q: unknown calibration mode %q", in.ID, mode)
				}
			}
		}
	}

	return nil
}
