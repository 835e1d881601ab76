// internal/config/normalize.go
package config

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	s := &cfg.Station

	if s.Transfer.BackoffBaseS <= 0 {
		s.Transfer.BackoffBaseS = 5
	}
	if s.Transfer.BackoffMaxS <= 0 {
		s.Transfer.BackoffMaxS = 300
	}

	for i := range s.Instruments {
		in := &s.Instruments[i]

		if in.Poll.SamplingS <= 0 {
			in.Poll.SamplingS = 60
		}
		if in.Poll.ReportingS <= 0 {
			in.Poll.ReportingS = 600
		}
		if in.Poll.FailThreshold <= 0 {
			in.Poll.FailThreshold = 5
		}
		if in.Poll.BackoffMaxS <= 0 {
			in.Poll.BackoffMaxS = 600
		}
		if in.Poll.DegradedMult <= 0 {
			in.Poll.DegradedMult = 10
		}

		if in.Transport.TimeoutMs <= 0 {
			in.Transport.TimeoutMs = 5000
		}
		if in.Transport.Terminator == "" {
			// the binary dialect ends frames with EOT, the line dialects
			// with CRLF
			if in.Family == "neph" && in.Variant == "acoem" {
				in.Transport.Terminator = "\x04"
			} else {
				in.Transport.Terminator = "\r\n"
			}
		}

		if in.Family == "thermo" && in.RecordStyle == "" {
			in.RecordStyle = "pairs"
		}
	}
}
