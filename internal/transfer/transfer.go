// internal/transfer/transfer.go

// Package transfer moves completed staging units to the collection side.
// Delivery is at-least-once: a unit leaves the station only after the
// sink confirms it, and a unit delivered twice must overwrite, not
// duplicate.
package transfer

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/meteolab/stationdaq/internal/metrics"
	"github.com/meteolab/stationdaq/internal/staging"
)

// Sink is one transfer destination. Put must be idempotent under the
// remote name: re-delivering the same unit replaces it. A delivery in
// flight aborts when ctx is done so shutdown is not held up by a dead
// uplink.
type Sink interface {
	Put(ctx context.Context, localPath, remoteName string) error
}

// Config tunes the retry policy.
type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// KeepLocal leaves delivered units in the staging area.
	KeepLocal bool
}

// Runner drains the queue against one sink. Failed deliveries are
// requeued with capped exponential backoff and retried indefinitely; a
// unit is never abandoned while the station runs.
type Runner struct {
	cfg   Config
	queue *Queue
	sink  Sink
	met   *metrics.Metrics
	log   *log.Logger
}

func NewRunner(cfg Config, queue *Queue, sink Sink, met *metrics.Metrics, logger *log.Logger) *Runner {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{cfg: cfg, queue: queue, sink: sink, met: met, log: logger}
}

// Submit queues one unit for delivery.
func (r *Runner) Submit(u staging.Unit) {
	r.queue.Enqueue(Job{Unit: u, NextAttempt: time.Now()})
	r.met.SetQueueLen(r.queue.Len())
}

// Run drains the queue until ctx is done. One delivery at a time: the
// uplink is narrow and ordering per instrument is worth keeping.
func (r *Runner) Run(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		for {
			job, ok := r.queue.Next(time.Now())
			if !ok {
				break
			}
			r.deliver(ctx, job)
			r.met.SetQueueLen(r.queue.Len())
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (r *Runner) deliver(ctx context.Context, job Job) {
	remote := job.Unit.Instrument + "/" + job.Unit.Name

	err := r.sink.Put(ctx, job.Unit.Path, remote)
	if err == nil {
		r.met.TransferOK()
		if !r.cfg.KeepLocal {
			if rmErr := os.Remove(job.Unit.Path); rmErr != nil {
				r.log.Printf("transfer: delivered unit not removed locally (%s): %v", job.Unit.Path, rmErr)
			}
		}
		return
	}

	job.Attempts++
	job.NextAttempt = time.Now().Add(backoff(r.cfg, job.Attempts))
	r.queue.Enqueue(job)
	r.met.TransferRetry()
	r.log.Printf("transfer: unit %s attempt %d failed, next in %s: %v",
		remote, job.Attempts, time.Until(job.NextAttempt).Round(time.Second), err)
}

func backoff(cfg Config, attempts int) time.Duration {
	d := cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	if d > cfg.BackoffMax {
		d = cfg.BackoffMax
	}
	return d
}
