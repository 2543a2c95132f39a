package omie

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omiebridge",
		Subsystem: "omie",
		Name:      "calls_total",
		Help:      "Omie RPC calls by call name and outcome.",
	}, []string{"call", "outcome"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "omiebridge",
		Subsystem: "omie",
		Name:      "call_duration_seconds",
		Help:      "Omie RPC latency.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"call"})
)

func observeCall(call string, err error, elapsed time.Duration) {
	callsTotal.WithLabelValues(call, outcome(err)).Inc()
	callDuration.WithLabelValues(call).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	var (
		fault  *FaultError
		status *StatusError
	)
	switch {
	case err == nil:
		return "ok"
	case IsNoRecords(err):
		return "no_records"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &fault):
		return "fault"
	case errors.As(err, &status):
		return "http_error"
	default:
		return "transport_error"
	}
}
