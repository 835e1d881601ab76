// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Station StationConfig `yaml:"station"`
}

type StationConfig struct {
	// StagingDir is the root of the durable staging area.
	StagingDir string `yaml:"staging_dir"`

	Transfer    TransferConfig     `yaml:"transfer"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Instruments []InstrumentConfig `yaml:"instruments"`
}

// ---- INSTRUMENT ----

type InstrumentConfig struct {
	ID      string `yaml:"id"`
	Family  string `yaml:"family"`  // neph | thermo | meteo
	Variant string `yaml:"variant"` // neph only: acoem | legacy

	Transport TransportConfig `yaml:"transport"`
	Poll      PollConfig      `yaml:"poll"`

	// Neph family.
	SerialID    int           `yaml:"serial_id"`
	ExtraParams []int32       `yaml:"extra_params"`
	LegacyMap   map[int]int32 `yaml:"legacy_map"`

	// Thermo family.
	UnitID        int               `yaml:"unit_id"`
	Header        []string          `yaml:"header"`
	RecordStyle   string            `yaml:"record_style"` // pairs | columns
	Commands      map[string]string `yaml:"commands"`
	ConfigQueries []string          `yaml:"config_queries"`
	FetchChunk    int               `yaml:"fetch_chunk"`

	// Meteo family.
	Registers []RegisterConfig `yaml:"registers"`

	Calibration *CalibrationConfig `yaml:"calibration"`

	// Archive compresses flushed units for this instrument.
	Archive bool `yaml:"archive"`
}

// ---- TRANSPORT ----

type TransportConfig struct {
	Kind string `yaml:"kind"` // tcp | serial

	// tcp
	Address string `yaml:"address"`

	// serial
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`

	// framing
	Terminator string `yaml:"terminator"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// ---- POLL ----

type PollConfig struct {
	SamplingS  int `yaml:"sampling_s"`
	ReportingS int `yaml:"reporting_s"`

	// Degraded-mode policy.
	FailThreshold int `yaml:"fail_threshold"`
	BackoffMaxS   int `yaml:"backoff_max_s"`
	DegradedMult  int `yaml:"degraded_mult"`
}

// ---- CALIBRATION ----

type CalibrationConfig struct {
	IntervalH int  `yaml:"interval_h"`
	ZeroS     int  `yaml:"zero_s"`
	SpanS     int  `yaml:"span_s"`
	Span      bool `yaml:"span"`

	// Mode commands (thermo family).
	ModeQuery string            `yaml:"mode_query"`
	ModeSet   map[string]string `yaml:"mode_set"` // ambient|zero|span -> command
}

// ---- REGISTER ----

type RegisterConfig struct {
	Code    string `yaml:"code"`
	Address uint16 `yaml:"address"`
}

// ---- TRANSFER ----

type TransferConfig struct {
	// Destination directory (filesystem sink). Empty disables transfer;
	// staged units then accumulate until an operator collects them.
	Dir string `yaml:"dir"`

	BackoffBaseS int `yaml:"backoff_base_s"`
	BackoffMaxS  int `yaml:"backoff_max_s"`
}

// ---- METRICS ----

type MetricsConfig struct {
	// Listen address for the scrape endpoint. Empty disables it.
	Listen string `yaml:"listen"`
}

// Load reads and decodes a configuration file. The result is raw: callers
// run Validate and Normalize before use.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config read: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	return &cfg, nil
}
