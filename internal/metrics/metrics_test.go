// internal/metrics/metrics_test.go
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PollOK("neph1")
	m.PollOK("neph1")
	m.PollError("neph1")
	m.SetDegraded("neph1", true)
	m.UnitStaged("neph1")
	m.TransferOK()
	m.TransferRetry()
	m.SetQueueLen(3)

	if got := testutil.ToFloat64(m.pollOK.WithLabelValues("neph1")); got != 2 {
		t.Fatalf("polls: %v", got)
	}
	if got := testutil.ToFloat64(m.degraded.WithLabelValues("neph1")); got != 1 {
		t.Fatalf("degraded: %v", got)
	}
	if got := testutil.ToFloat64(m.queueLen); got != 3 {
		t.Fatalf("queue length: %v", got)
	}

	m.SetDegraded("neph1", false)
	if got := testutil.ToFloat64(m.degraded.WithLabelValues("neph1")); got != 0 {
		t.Fatalf("degraded after recovery: %v", got)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	// a station without a metrics listener instruments against nil
	m.PollOK("x")
	m.PollError("x")
	m.SetDegraded("x", true)
	m.UnitStaged("x")
	m.TransferOK()
	m.TransferRetry()
	m.SetQueueLen(1)
}
