// internal/scheduler/worker.go
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/meteolab/stationdaq/internal/instrument"
	"github.com/meteolab/stationdaq/internal/metrics"
	"github.com/meteolab/stationdaq/internal/staging"
)

// CalPolicy schedules the periodic calibration cycle of one instrument.
type CalPolicy struct {
	Interval time.Duration
	ZeroHold time.Duration
	SpanHold time.Duration
	Span     bool
}

// WorkerConfig is the immutable per-instrument schedule.
type WorkerConfig struct {
	ID        string
	Sampling  time.Duration
	Reporting time.Duration

	// Fault policy.
	FailThreshold int
	BackoffMax    time.Duration
	DegradedMult  int

	Calibration *CalPolicy
	Archive     bool
}

// Worker owns one instrument: its poll cadence, its staging buffer, and
// its calibration schedule. One goroutine per instrument; a wedged or
// failing instrument never blocks the others.
type Worker struct {
	cfg    WorkerConfig
	drv    instrument.Driver
	buf    *staging.Buffer
	stage  *staging.Stage
	submit func(staging.Unit)
	met    *metrics.Metrics
	log    *log.Logger

	status statusCell
	inCal  atomic.Bool
}

// NewWorker wires one instrument into the acquisition schedule. submit
// receives each flushed unit; nil disables hand-off to transfer.
func NewWorker(cfg WorkerConfig, drv instrument.Driver, stage *staging.Stage,
	submit func(staging.Unit), met *metrics.Metrics, logger *log.Logger) (*Worker, error) {

	if cfg.ID == "" {
		return nil, errors.New("scheduler: instrument id required")
	}
	if cfg.Sampling <= 0 || cfg.Reporting <= 0 {
		return nil, errors.New("scheduler: sampling and reporting intervals must be > 0")
	}
	if cfg.Reporting%cfg.Sampling != 0 {
		return nil, errors.New("scheduler: reporting interval must be a multiple of sampling")
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 5
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Minute
	}
	if cfg.DegradedMult <= 0 {
		cfg.DegradedMult = 10
	}
	if submit == nil {
		submit = func(staging.Unit) {}
	}
	if logger == nil {
		logger = log.Default()
	}

	w := &Worker{
		cfg: cfg, drv: drv, buf: &staging.Buffer{}, stage: stage,
		submit: submit, met: met, log: logger,
	}
	w.status.update(func(s *Snapshot) {
		s.Instrument = cfg.ID
		s.Health = HealthUnknown
	})
	return w, nil
}

// Status reports the worker's current snapshot.
func (w *Worker) Status() Snapshot { return w.status.get() }

// Run drives the instrument until ctx is done. Poll failures back off
// exponentially; past the threshold the instrument is polled at the
// reduced rate until one poll succeeds. A final flush on shutdown leaves
// nothing buffered in memory.
func (w *Worker) Run(ctx context.Context) {
	report := time.NewTicker(w.cfg.Reporting)
	defer report.Stop()

	sample := time.NewTimer(w.cfg.Sampling)
	defer sample.Stop()

	var calC <-chan time.Time
	if w.cfg.Calibration != nil && w.drv.SupportsCalibration() {
		cal := time.NewTicker(w.cfg.Calibration.Interval)
		defer cal.Stop()
		calC = cal.C
	}

	fails := 0
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return

		case <-sample.C:
			if err := w.pollOnce(ctx); err != nil {
				fails++
				w.met.PollError(w.cfg.ID)
				w.noteFailure(fails, err)
				w.log.Printf("poll failed (instrument=%s, consecutive=%d): %v", w.cfg.ID, fails, err)
			} else {
				if fails >= w.cfg.FailThreshold {
					w.log.Printf("instrument %s recovered after %d failures", w.cfg.ID, fails)
				}
				fails = 0
				w.met.PollOK(w.cfg.ID)
				w.noteSuccess()
			}
			sample.Reset(w.nextInterval(fails))

		case <-report.C:
			w.flush()

		case <-calC:
			// the driver serializes wire access; sampling continues and
			// records the instrument's reported state alongside the data
			go w.runCalibration(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) error {
	rs, err := w.drv.NewData(ctx)
	if errors.Is(err, instrument.ErrNotSupported) {
		var r *instrument.Reading
		r, err = w.drv.CurrentData(ctx, false)
		if err == nil {
			rs = []*instrument.Reading{r}
		}
	}
	if err != nil {
		return err
	}
	w.buf.Add(rs...)
	return nil
}

// flush moves the buffered readings into one staged unit. On a staging
// failure the readings go back into the buffer for the next cycle.
func (w *Worker) flush() {
	rs := w.buf.Drain()
	if len(rs) == 0 {
		return
	}
	unit, err := w.stage.Flush(w.cfg.ID, rs, w.cfg.Archive)
	if err != nil {
		w.buf.Add(rs...)
		w.log.Printf("staging flush failed (instrument=%s, readings=%d): %v", w.cfg.ID, len(rs), err)
		return
	}
	w.met.UnitStaged(w.cfg.ID)
	w.submit(unit)
}

// nextInterval implements the backoff ladder: normal cadence while
// healthy, doubling per failure up to the cap, the degraded multiple
// past the threshold.
func (w *Worker) nextInterval(fails int) time.Duration {
	if fails == 0 {
		return w.cfg.Sampling
	}
	if fails >= w.cfg.FailThreshold {
		d := w.cfg.Sampling * time.Duration(w.cfg.DegradedMult)
		if d > w.cfg.BackoffMax {
			d = w.cfg.BackoffMax
		}
		return d
	}
	d := w.cfg.Sampling
	for i := 1; i < fails; i++ {
		d *= 2
		if d >= w.cfg.BackoffMax {
			return w.cfg.BackoffMax
		}
	}
	if d > w.cfg.BackoffMax {
		d = w.cfg.BackoffMax
	}
	return d
}

func (w *Worker) noteFailure(fails int, err error) {
	degraded := fails >= w.cfg.FailThreshold
	w.met.SetDegraded(w.cfg.ID, degraded)
	w.status.update(func(s *Snapshot) {
		s.ConsecutiveFails = fails
		s.LastError = err.Error()
		if degraded {
			s.Health = HealthDegraded
		}
	})
}

func (w *Worker) noteSuccess() {
	w.met.SetDegraded(w.cfg.ID, false)
	w.status.update(func(s *Snapshot) {
		s.ConsecutiveFails = 0
		s.LastError = ""
		s.Health = HealthOK
		s.LastSuccess = time.Now().UTC()
	})
}

// runCalibration drives one zero (and optionally span) cycle through
// confirmed transitions, always attempting the return to ambient.
func (w *Worker) runCalibration(ctx context.Context) {
	if !w.inCal.CompareAndSwap(false, true) {
		return // previous cycle still running
	}
	defer w.inCal.Store(false)

	pol := w.cfg.Calibration

	if !w.enterState(ctx, instrument.Zero, pol.ZeroHold) {
		w.returnToAmbient(ctx)
		return
	}
	if !w.hold(ctx, pol.ZeroHold) {
		w.returnToAmbient(ctx)
		return
	}

	if pol.Span {
		if !w.enterState(ctx, instrument.Span, pol.SpanHold) {
			w.returnToAmbient(ctx)
			return
		}
		if !w.hold(ctx, pol.SpanHold) {
			w.returnToAmbient(ctx)
			return
		}
	}

	w.returnToAmbient(ctx)
}

func (w *Worker) enterState(ctx context.Context, st instrument.OperatingState, expected time.Duration) bool {
	if err := w.drv.SetCurrentOperation(ctx, st); err != nil {
		w.log.Printf("calibration transition failed (instrument=%s, want=%s): %v", w.cfg.ID, st, err)
		return false
	}
	w.status.update(func(s *Snapshot) {
		s.Operation = instrument.Operation{State: st, EnteredAt: time.Now().UTC(), Expected: expected}
	})
	return true
}

func (w *Worker) returnToAmbient(ctx context.Context) {
	if err := w.drv.SetCurrentOperation(ctx, instrument.Ambient); err != nil {
		// measurement data is suspect until an operator intervenes
		w.log.Printf("return to ambient failed (instrument=%s): %v", w.cfg.ID, err)
		return
	}
	w.status.update(func(s *Snapshot) {
		s.Operation = instrument.Operation{State: instrument.Ambient, EnteredAt: time.Now().UTC()}
	})
}

func (w *Worker) hold(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
