// Package observability provides Prometheus metrics, OpenTelemetry tracing
// and HTTP middleware for monitoring the matting service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// MattingBuckets covers a short clip on a GPU up to a long clip on a CPU,
// ranging from 100ms to 1h.
var MattingBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600}

var (
	// RequestsTotal counts all HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matting_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matting_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: MattingBuckets,
		},
		[]string{"method", "route"},
	)

	// RunsTotal counts orchestration runs by outcome ("ok" or an error kind).
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matting_runs_total",
			Help: "Matting runs by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration records how long each orchestration stage took.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matting_stage_duration_seconds",
			Help:    "Orchestration stage duration",
			Buckets: MattingBuckets,
		},
		[]string{"stage"},
	)

	// EngineInFlight is 1 while the engine is running an invocation.
	EngineInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matting_engine_inflight",
			Help: "Engine invocations in flight",
		},
	)

	// EngineGateWait records time spent waiting for the engine gate.
	EngineGateWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matting_engine_gate_wait_seconds",
			Help:    "Time waiting for exclusive engine access",
			Buckets: MattingBuckets,
		},
	)

	// FetchAttemptsTotal counts remote input fetch attempts by result.
	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matting_fetch_attempts_total",
			Help: "Remote input fetch attempts",
		},
		[]string{"result"},
	)

	// ScratchSweptTotal counts stale scratch spaces removed by the janitor.
	ScratchSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matting_scratch_swept_total",
			Help: "Stale scratch spaces removed",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RunsTotal,
		StageDuration,
		EngineInFlight,
		EngineGateWait,
		FetchAttemptsTotal,
		ScratchSweptTotal,
	)
}
