// internal/scheduler/builder.go
package scheduler

import (
	"log"
	"time"

	cfg "github.com/meteolab/stationdaq/internal/config"
	"github.com/meteolab/stationdaq/internal/instrument"
	"github.com/meteolab/stationdaq/internal/metrics"
	"github.com/meteolab/stationdaq/internal/staging"
)

// Build constructs one worker per configured instrument and wires driver
// lifecycles. A driver that fails to build fails startup: a station that
// boots is a station acquiring from everything it was configured for.
func Build(station cfg.StationConfig, stage *staging.Stage, submit func(staging.Unit),
	met *metrics.Metrics, logger *log.Logger) ([]*Worker, func() error, error) {

	var (
		workers []*Worker
		closers []func() error
	)
	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	for _, in := range station.Instruments {
		drv, closeDrv, err := instrument.Build(in)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, closeDrv)

		wc := WorkerConfig{
			ID:            in.ID,
			Sampling:      time.Duration(in.Poll.SamplingS) * time.Second,
			Reporting:     time.Duration(in.Poll.ReportingS) * time.Second,
			FailThreshold: in.Poll.FailThreshold,
			BackoffMax:    time.Duration(in.Poll.BackoffMaxS) * time.Second,
			DegradedMult:  in.Poll.DegradedMult,
			Archive:       in.Archive,
		}
		if c := in.Calibration; c != nil {
			wc.Calibration = &CalPolicy{
				Interval: time.Duration(c.IntervalH) * time.Hour,
				ZeroHold: time.Duration(c.ZeroS) * time.Second,
				SpanHold: time.Duration(c.SpanS) * time.Second,
				Span:     c.Span,
			}
		}

		w, err := NewWorker(wc, drv, stage, submit, met, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		workers = append(workers, w)
	}

	return workers, closeAll, nil
}
