// internal/scheduler/worker_test.go
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meteolab/stationdaq/internal/instrument"
	"github.com/meteolab/stationdaq/internal/staging"
)

// fakeDriver is a scriptable instrument.
type fakeDriver struct {
	id string

	newData    func() ([]*instrument.Reading, error)
	noLog      bool // NewData reports ErrNotSupported
	currentErr error

	state       instrument.OperatingState
	transitions []instrument.OperatingState
	setErr      error
	failStates  map[instrument.OperatingState]bool
}

func (d *fakeDriver) ID() string { return d.id }
func (d *fakeDriver) Identity(ctx context.Context) (string, error) {
	return "fake", nil
}
func (d *fakeDriver) Config(ctx context.Context) (map[string]string, error) {
	return nil, nil
}
func (d *fakeDriver) CurrentData(ctx context.Context, strict bool) (*instrument.Reading, error) {
	if d.currentErr != nil {
		return nil, d.currentErr
	}
	r := instrument.NewReading(time.Now().UTC())
	r.Add("v", instrument.Num(1))
	return r, nil
}
func (d *fakeDriver) Values(ctx context.Context, params []instrument.Code) (*instrument.Reading, error) {
	return nil, instrument.ErrNotSupported
}
func (d *fakeDriver) NewData(ctx context.Context) ([]*instrument.Reading, error) {
	if d.noLog {
		return nil, instrument.ErrNotSupported
	}
	if d.newData != nil {
		return d.newData()
	}
	return nil, nil
}
func (d *fakeDriver) AllData(ctx context.Context) ([]*instrument.Reading, error) {
	return nil, instrument.ErrNotSupported
}
func (d *fakeDriver) LoggedData(ctx context.Context, start, end time.Time) ([]*instrument.Reading, error) {
	return nil, instrument.ErrNotSupported
}
func (d *fakeDriver) CurrentOperation(ctx context.Context) (instrument.OperatingState, error) {
	return d.state, nil
}
func (d *fakeDriver) SetCurrentOperation(ctx context.Context, s instrument.OperatingState) error {
	if d.setErr != nil {
		return d.setErr
	}
	if d.failStates[s] {
		return errors.New("fake: transition refused")
	}
	d.state = s
	d.transitions = append(d.transitions, s)
	return nil
}
func (d *fakeDriver) SupportsCalibration() bool { return true }
func (d *fakeDriver) Close() error              { return nil }

func newTestWorker(t *testing.T, drv *fakeDriver, submit func(staging.Unit)) *Worker {
	t.Helper()
	stage, err := staging.New(t.TempDir())
	if err != nil {
		t.Fatalf("staging.New() err=%v", err)
	}
	w, err := NewWorker(WorkerConfig{
		ID:            drv.id,
		Sampling:      time.Minute,
		Reporting:     10 * time.Minute,
		FailThreshold: 3,
		BackoffMax:    8 * time.Minute,
		DegradedMult:  5,
		Calibration:   &CalPolicy{Interval: time.Hour, ZeroHold: time.Millisecond, SpanHold: time.Millisecond, Span: true},
	}, drv, stage, submit, nil, nil)
	if err != nil {
		t.Fatalf("NewWorker() err=%v", err)
	}
	return w
}

func TestPollOnce_FallbackToCurrentData(t *testing.T) {
	drv := &fakeDriver{id: "probe", noLog: true}
	w := newTestWorker(t, drv, nil)

	if err := w.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce() err=%v", err)
	}
	if w.buf.Len() != 1 {
		t.Fatalf("buffered=%d, want 1 (snapshot fallback)", w.buf.Len())
	}
}

func TestPollOnce_ErrorPropagates(t *testing.T) {
	drv := &fakeDriver{
		id:      "n1",
		newData: func() ([]*instrument.Reading, error) { return nil, errors.New("timeout") },
	}
	w := newTestWorker(t, drv, nil)

	if err := w.pollOnce(context.Background()); err == nil {
		t.Fatal("expected poll error")
	}
	if w.buf.Len() != 0 {
		t.Fatal("failed poll must buffer nothing")
	}
}

func TestFlush_SubmitsUnit(t *testing.T) {
	var units []staging.Unit
	drv := &fakeDriver{id: "n1", noLog: true}
	w := newTestWorker(t, drv, func(u staging.Unit) { units = append(units, u) })

	w.pollOnce(context.Background())
	w.flush()

	if len(units) != 1 {
		t.Fatalf("submitted %d units, want 1", len(units))
	}
	if units[0].Instrument != "n1" {
		t.Fatalf("unit: %+v", units[0])
	}
	if w.buf.Len() != 0 {
		t.Fatal("flush must drain the buffer")
	}

	// an empty buffer flushes nothing
	w.flush()
	if len(units) != 1 {
		t.Fatal("empty flush must not submit")
	}
}

func TestNextInterval_Ladder(t *testing.T) {
	drv := &fakeDriver{id: "n1"}
	w := newTestWorker(t, drv, nil)

	if d := w.nextInterval(0); d != time.Minute {
		t.Fatalf("healthy: %v", d)
	}
	if d := w.nextInterval(1); d != time.Minute {
		t.Fatalf("first failure: %v", d)
	}
	if d := w.nextInterval(2); d != 2*time.Minute {
		t.Fatalf("second failure: %v", d)
	}
	// past the threshold: reduced rate, capped
	if d := w.nextInterval(3); d != 5*time.Minute {
		t.Fatalf("degraded: %v", d)
	}
	if d := w.nextInterval(10); d != 5*time.Minute {
		t.Fatalf("degraded stays at the reduced rate: %v", d)
	}
}

func TestStatus_DegradedAndRecovery(t *testing.T) {
	drv := &fakeDriver{id: "n1"}
	w := newTestWorker(t, drv, nil)

	w.noteFailure(1, errors.New("timeout"))
	if s := w.Status(); s.Health == HealthDegraded {
		t.Fatal("one failure must not degrade")
	}
	w.noteFailure(3, errors.New("timeout"))
	if s := w.Status(); s.Health != HealthDegraded || s.ConsecutiveFails != 3 {
		t.Fatalf("snapshot: %+v", s)
	}

	w.noteSuccess()
	s := w.Status()
	if s.Health != HealthOK || s.ConsecutiveFails != 0 || s.LastError != "" {
		t.Fatalf("snapshot after recovery: %+v", s)
	}
	if s.LastSuccess.IsZero() {
		t.Fatal("LastSuccess not stamped")
	}
}

func TestRun_WedgedInstrumentDoesNotStallOthers(t *testing.T) {
	stage, err := staging.New(t.TempDir())
	if err != nil {
		t.Fatalf("staging.New() err=%v", err)
	}

	// one instrument sits on a dead transport, waiting out its timeout on
	// every poll; the other answers instantly
	wedged := &fakeDriver{id: "dead", newData: func() ([]*instrument.Reading, error) {
		time.Sleep(40 * time.Millisecond)
		return nil, errors.New("receive timeout")
	}}
	var polls atomic.Int32
	healthy := &fakeDriver{id: "ok", newData: func() ([]*instrument.Reading, error) {
		polls.Add(1)
		r := instrument.NewReading(time.Now().UTC())
		r.Add("v", instrument.Num(1))
		return []*instrument.Reading{r}, nil
	}}

	var mu sync.Mutex
	var units []staging.Unit
	submit := func(u staging.Unit) {
		mu.Lock()
		units = append(units, u)
		mu.Unlock()
	}

	mk := func(drv *fakeDriver) *Worker {
		w, err := NewWorker(WorkerConfig{
			ID:            drv.id,
			Sampling:      10 * time.Millisecond,
			Reporting:     50 * time.Millisecond,
			FailThreshold: 100,
			BackoffMax:    10 * time.Millisecond,
			DegradedMult:  1,
		}, drv, stage, submit, nil, nil)
		if err != nil {
			t.Fatalf("NewWorker(%s) err=%v", drv.id, err)
		}
		return w
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	var wg sync.WaitGroup
	for _, w := range []*Worker{mk(wedged), mk(healthy)} {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	wg.Wait()

	// the healthy instrument kept its cadence despite its wedged neighbor
	if n := polls.Load(); n < 8 {
		t.Fatalf("healthy instrument polled %d times, want at least 8", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(units) < 2 {
		t.Fatalf("healthy instrument staged %d units, want at least 2", len(units))
	}
	for _, u := range units {
		if u.Instrument != "ok" {
			t.Fatalf("unexpected unit from %q", u.Instrument)
		}
	}
}

func TestRunCalibration_FullCycle(t *testing.T) {
	drv := &fakeDriver{id: "n1"}
	w := newTestWorker(t, drv, nil)

	w.runCalibration(context.Background())

	want := []instrument.OperatingState{instrument.Zero, instrument.Span, instrument.Ambient}
	if len(drv.transitions) != len(want) {
		t.Fatalf("transitions: %v", drv.transitions)
	}
	for i, s := range want {
		if drv.transitions[i] != s {
			t.Fatalf("transitions: got %v want %v", drv.transitions, want)
		}
	}
	if s := w.Status(); s.Operation.State != instrument.Ambient {
		t.Fatalf("operation after cycle: %+v", s.Operation)
	}
}

func TestRunCalibration_FailedTransitionReturnsToAmbient(t *testing.T) {
	drv := &fakeDriver{id: "n1", failStates: map[instrument.OperatingState]bool{
		instrument.Zero: true,
	}}
	w := newTestWorker(t, drv, nil)

	w.runCalibration(context.Background())

	// the zero transition failed; the cycle still went home
	if len(drv.transitions) != 1 || drv.transitions[0] != instrument.Ambient {
		t.Fatalf("transitions: %v", drv.transitions)
	}
}
