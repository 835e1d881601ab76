// internal/metrics/metrics.go

// Package metrics exports the station's operational counters. A nil
// *Metrics is a valid no-op receiver so callers never guard their
// instrumentation sites.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	pollOK     *prometheus.CounterVec
	pollErr    *prometheus.CounterVec
	degraded   *prometheus.GaugeVec
	staged     *prometheus.CounterVec
	transferOK prometheus.Counter
	retries    prometheus.Counter
	queueLen   prometheus.Gauge
}

// New builds and registers the metric set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pollOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "station_polls_total",
			Help: "Successful instrument polls.",
		}, []string{"instrument"}),
		pollErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "station_poll_errors_total",
			Help: "Failed instrument polls.",
		}, []string{"instrument"}),
		degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "station_instrument_degraded",
			Help: "1 while an instrument is polled at the reduced rate.",
		}, []string{"instrument"}),
		staged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "station_units_staged_total",
			Help: "Transfer units flushed to the staging area.",
		}, []string{"instrument"}),
		transferOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "station_transfers_total",
			Help: "Transfer units delivered to the sink.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "station_transfer_retries_total",
			Help: "Transfer attempts that failed and were requeued.",
		}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "station_transfer_queue_length",
			Help: "Transfer units waiting for delivery.",
		}),
	}
	reg.MustRegister(m.pollOK, m.pollErr, m.degraded, m.staged,
		m.transferOK, m.retries, m.queueLen)
	return m
}

func (m *Metrics) PollOK(instrument string) {
	if m != nil {
		m.pollOK.WithLabelValues(instrument).Inc()
	}
}

func (m *Metrics) PollError(instrument string) {
	if m != nil {
		m.pollErr.WithLabelValues(instrument).Inc()
	}
}

func (m *Metrics) SetDegraded(instrument string, degraded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if degraded {
		v = 1
	}
	m.degraded.WithLabelValues(instrument).Set(v)
}

func (m *Metrics) UnitStaged(instrument string) {
	if m != nil {
		m.staged.WithLabelValues(instrument).Inc()
	}
}

func (m *Metrics) TransferOK() {
	if m != nil {
		m.transferOK.Inc()
	}
}

func (m *Metrics) TransferRetry() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) SetQueueLen(n int) {
	if m != nil {
		m.queueLen.Set(float64(n))
	}
}
