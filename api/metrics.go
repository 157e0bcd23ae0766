package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"bookchain/bookclub"
)

// Metrics tracks club operations and HTTP latency.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the bookchain collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookchain",
			Name:      "operations_total",
			Help:      "Club operations by outcome code.",
		}, []string{"operation", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookchain",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(m.operations, m.duration)
	return m
}

func (m *Metrics) observe(op string, err error) {
	code := "OK"
	if err != nil {
		code = string(bookclub.CodeOf(err))
	}
	m.operations.WithLabelValues(op, code).Inc()
}
