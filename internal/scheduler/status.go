// internal/scheduler/status.go
package scheduler

import (
	"sync"
	"time"

	"github.com/meteolab/stationdaq/internal/instrument"
)

// Health is the acquisition health of one instrument.
type Health int

const (
	// HealthUnknown is the boot state, before the first poll completes.
	HealthUnknown Health = iota

	// HealthOK: polls succeed at the configured cadence.
	HealthOK

	// HealthDegraded: the failure threshold was crossed; the instrument
	// is polled at the reduced rate until it answers again.
	HealthDegraded
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthDegraded:
		return "degraded"
	}
	return "unknown"
}

// Snapshot is the externally visible state of one worker.
type Snapshot struct {
	Instrument       string
	Health           Health
	ConsecutiveFails int
	LastError        string
	LastSuccess      time.Time
	Operation        instrument.Operation
}

// statusCell holds a snapshot behind a mutex so the worker goroutine can
// publish and any caller can read.
type statusCell struct {
	mu   sync.Mutex
	snap Snapshot
}

func (c *statusCell) get() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *statusCell) update(f func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(&c.snap)
}
