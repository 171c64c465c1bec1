package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the bridge.
type Metrics struct {
	registry *prometheus.Registry

	CallsActive   prometheus.Gauge
	CallsTotal    *prometheus.CounterVec
	CallDuration  prometheus.Histogram
	AudioFrames   *prometheus.CounterVec
	ToolDispatch  *prometheus.CounterVec
	BargeIns      prometheus.Counter
	TranscriptOut *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callbridge"
	}

	registry := prometheus.NewRegistry()

	callsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "calls_active",
		Help:      "Number of calls currently bridged",
	})
	callsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_total",
		Help:      "Total calls handled",
	}, []string{"status"})
	callDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "call_duration_seconds",
		Help:      "Call duration in seconds",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})
	audioFrames := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_frames_total",
		Help:      "Audio frames relayed between the transports",
	}, []string{"direction"})
	toolDispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_dispatch_total",
		Help:      "Tool invocations dispatched to external collaborators",
	}, []string{"tool", "outcome"})
	bargeIns := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "barge_ins_total",
		Help:      "Caller interruptions that cancelled in-flight responses",
	})
	transcriptOut := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcript_flushes_total",
		Help:      "Transcript deliveries to the workflow webhook",
	}, []string{"outcome"})
	eventsDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Malformed or unrecognized transport events skipped",
	}, []string{"transport"})

	registry.MustRegister(
		callsActive,
		callsTotal,
		callDuration,
		audioFrames,
		toolDispatch,
		bargeIns,
		transcriptOut,
		eventsDropped,
	)

	return &Metrics{
		registry:      registry,
		CallsActive:   callsActive,
		CallsTotal:    callsTotal,
		CallDuration:  callDuration,
		AudioFrames:   audioFrames,
		ToolDispatch:  toolDispatch,
		BargeIns:      bargeIns,
		TranscriptOut: transcriptOut,
		EventsDropped: eventsDropped,
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CallStarted records a call entering the bridged state.
func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

// CallEnded records a call leaving the bridged state.
func (m *Metrics) CallEnded(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(status).Inc()
	m.CallDuration.Observe(duration.Seconds())
}

// AudioFrame records one relayed audio frame.
func (m *Metrics) AudioFrame(direction string) {
	if m == nil {
		return
	}
	m.AudioFrames.WithLabelValues(direction).Inc()
}

// ToolDispatched records the outcome of one tool invocation.
func (m *Metrics) ToolDispatched(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolDispatch.WithLabelValues(tool, outcome).Inc()
}

// BargeIn records one caller interruption.
func (m *Metrics) BargeIn() {
	if m == nil {
		return
	}
	m.BargeIns.Inc()
}

// TranscriptFlushed records one transcript delivery attempt.
func (m *Metrics) TranscriptFlushed(outcome string) {
	if m == nil {
		return
	}
	m.TranscriptOut.WithLabelValues(outcome).Inc()
}

// EventDropped records a skipped malformed or unknown event.
func (m *Metrics) EventDropped(transport string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(transport).Inc()
}
