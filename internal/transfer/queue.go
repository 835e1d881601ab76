// internal/transfer/queue.go
package transfer

import (
	"sync"
	"time"

	"github.com/meteolab/stationdaq/internal/staging"
)

// Job is one staged unit awaiting delivery.
type Job struct {
	Unit        staging.Unit
	Attempts    int
	NextAttempt time.Time
}

// Queue is an unbounded in-memory queue that preserves FIFO ordering.
// Units are small and already durable on disk, so the queue never drops.
type Queue struct {
	mu   sync.Mutex
	data []Job
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(j Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.data = append(q.data, j)
}

// Next returns the first job whose NextAttempt has passed, removing it.
func (q *Queue) Next(now time.Time) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.data {
		if j.NextAttempt.After(now) {
			continue
		}
		q.data = append(q.data[:i], q.data[i+1:]...)
		return j, true
	}
	return Job{}, false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}
