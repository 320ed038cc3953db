package mtrace

//
// Metrics definitions
//

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricSessionsStarted counts successfully started sessions.
	metricSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtrace_sessions_started_total",
		Help: "Total number of method trace sessions started",
	})

	// metricRecordsWritten counts records serialized at stop.
	metricRecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtrace_records_written_total",
		Help: "Total number of method trace records written by stopped sessions",
	})

	// metricEventsDropped counts events dropped because the buffer was full.
	metricEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtrace_events_dropped_total",
		Help: "Total number of method events dropped on buffer overflow",
	})

	// metricUnexpectedEvents counts notifications the tracer never subscribes to.
	metricUnexpectedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtrace_unexpected_events_total",
		Help: "Total number of unexpected instrumentation notifications",
	}, []string{"event"})

	// metricSinkErrors counts artifacts that could not be written or sent.
	metricSinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtrace_sink_errors_total",
		Help: "Total number of trace artifacts that failed to write",
	})

	// metricSessionDurationSeconds summarizes the length of traced runs.
	metricSessionDurationSeconds = promauto.NewSummary(prometheus.SummaryOpts{
		Name:       "mtrace_session_duration_seconds",
		Help:       "Summarizes the wall time between trace start and stop (in seconds)",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})
)
