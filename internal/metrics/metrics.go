package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prankcall"

// Metrics holds the Prometheus collectors for the call pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CallsStarted          *prometheus.CounterVec
	MediaStreamsActive    prometheus.Gauge
	BargeIns              prometheus.Counter
	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	LLMTurns              *prometheus.CounterVec
	TTSReconnects         prometheus.Counter
}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	callsStarted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Outbound call origination attempts",
		},
		[]string{"result"},
	)
	mediaStreamsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "media_streams_active",
			Help:      "Number of attached telephony media streams",
		},
	)
	bargeIns := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Agent speech interrupted by the caller",
		},
	)
	transcriptions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Utterances sent to the ASR backend",
		},
		[]string{"result"},
	)
	transcriptionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "ASR request latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
	llmTurns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_turns_total",
			Help:      "Agent reply generations",
		},
		[]string{"result"},
	)
	ttsReconnects := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_reconnects_total",
			Help:      "Reconnect attempts to the speech synthesis backend",
		},
	)

	registry.MustRegister(
		callsStarted,
		mediaStreamsActive,
		bargeIns,
		transcriptions,
		transcriptionDuration,
		llmTurns,
		ttsReconnects,
	)

	return &Metrics{
		registry:              registry,
		CallsStarted:          callsStarted,
		MediaStreamsActive:    mediaStreamsActive,
		BargeIns:              bargeIns,
		Transcriptions:        transcriptions,
		TranscriptionDuration: transcriptionDuration,
		LLMTurns:              llmTurns,
		TTSReconnects:         ttsReconnects,
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordCallStarted(ok bool) {
	if m == nil {
		return
	}
	m.CallsStarted.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) StreamAttached() {
	if m == nil {
		return
	}
	m.MediaStreamsActive.Inc()
}

func (m *Metrics) StreamDetached() {
	if m == nil {
		return
	}
	m.MediaStreamsActive.Dec()
}

func (m *Metrics) RecordBargeIn() {
	if m == nil {
		return
	}
	m.BargeIns.Inc()
}

// RecordTranscription records one ASR round trip.
func (m *Metrics) RecordTranscription(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(result(ok)).Inc()
	m.TranscriptionDuration.Observe(d.Seconds())
}

// RecordLLMTurn records the outcome of a reply generation: "ok", "error" or "abandoned".
func (m *Metrics) RecordLLMTurn(outcome string) {
	if m == nil {
		return
	}
	m.LLMTurns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTTSReconnect() {
	if m == nil {
		return
	}
	m.TTSReconnects.Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
