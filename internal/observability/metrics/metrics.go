// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "avatar_control"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Stream metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  prometheus.Counter
	StreamDuration prometheus.Histogram

	// Transcript metrics
	TranscriptUpdates *prometheus.CounterVec

	// Chunker metrics
	ChunksEmitted  *prometheus.CounterVec
	ChunkRunes     prometheus.Histogram
	UpdatesDropped *prometheus.CounterVec
	Interrupts     prometheus.Counter
	ChunkerResets  *prometheus.CounterVec

	// Relay metrics
	RelayPublished *prometheus.CounterVec
	RelayDelivered *prometheus.CounterVec
	RelayDropped   *prometheus.CounterVec
	RelayReadyWait prometheus.Histogram

	// Avatar metrics
	AvatarStatusPolls prometheus.Counter
	AvatarReady       *prometheus.CounterVec
	WindowsActive     *prometheus.GaugeVec

	// Backend agent metrics
	AgentRequests *prometheus.CounterVec
	AgentLatency  *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Stream metrics
		StreamsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of gRPC transcript streams started",
		}),
		StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active gRPC transcript streams",
		}),
		StreamsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_success_total",
			Help:      "Total number of successfully completed streams",
		}),
		StreamsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Total number of failed streams",
		}),
		StreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of gRPC transcript streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		TranscriptUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_updates_total",
			Help:      "Total number of transcript updates received",
		}, []string{"role"}),

		// Chunker metrics
		ChunksEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_emitted_total",
			Help:      "Total number of speak chunks emitted by the chunker",
		}, []string{"trigger"}),
		ChunkRunes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_runes",
			Help:      "Size of emitted speak chunks in runes",
			Buckets:   []float64{1, 3, 6, 10, 20, 40, 80, 160},
		}),
		UpdatesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunker_updates_dropped_total",
			Help:      "Total number of transcript updates dropped by the chunker",
		}, []string{"reason"}),
		Interrupts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of stop-speaking interrupts issued on user speech",
		}),
		ChunkerResets: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunker_resets_total",
			Help:      "Total number of chunker state resets",
		}, []string{"reason"}),

		// Relay metrics
		RelayPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_published_total",
			Help:      "Total number of relay messages published",
		}, []string{"type"}),
		RelayDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_delivered_total",
			Help:      "Total number of relay messages applied by a projection window",
		}, []string{"type"}),
		RelayDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_dropped_total",
			Help:      "Total number of relay messages dropped",
		}, []string{"reason"}),
		RelayReadyWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_ready_wait_seconds",
			Help:      "Time the first projection command waited for avatar_window_ready",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		// Avatar metrics
		AvatarStatusPolls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "avatar_status_polls_total",
			Help:      "Total number of avatar readiness status polls",
		}),
		AvatarReady: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "avatar_ready_total",
			Help:      "Total number of avatar bindings that reached the ready state",
		}, []string{"path"}),
		WindowsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "windows_active",
			Help:      "Number of attached browser windows",
		}, []string{"role"}),

		// Backend agent metrics
		AgentRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_requests_total",
			Help:      "Total number of backend agent API requests",
		}, []string{"op", "result"}),
		AgentLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_request_latency_seconds",
			Help:      "Backend agent API latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"op"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordStreamStart records a new stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

// RecordTranscriptUpdate records an inbound transcript update.
func (m *Metrics) RecordTranscriptUpdate(role string) {
	m.TranscriptUpdates.WithLabelValues(role).Inc()
}

// RecordChunk records an emitted speak chunk and what caused the flush.
func (m *Metrics) RecordChunk(trigger string, runes int) {
	m.ChunksEmitted.WithLabelValues(trigger).Inc()
	m.ChunkRunes.Observe(float64(runes))
}

// RecordUpdateDropped records a transcript update the chunker silently dropped.
func (m *Metrics) RecordUpdateDropped(reason string) {
	m.UpdatesDropped.WithLabelValues(reason).Inc()
}

// RecordInterrupt records a stop-speaking interrupt.
func (m *Metrics) RecordInterrupt() {
	m.Interrupts.Inc()
}

// RecordChunkerReset records a chunker state reset.
func (m *Metrics) RecordChunkerReset(reason string) {
	m.ChunkerResets.WithLabelValues(reason).Inc()
}

// RecordRelayPublished records a relay message handed to the bus.
func (m *Metrics) RecordRelayPublished(msgType string) {
	m.RelayPublished.WithLabelValues(msgType).Inc()
}

// RecordRelayDelivered records a relay message applied on the projection side.
func (m *Metrics) RecordRelayDelivered(msgType string) {
	m.RelayDelivered.WithLabelValues(msgType).Inc()
}

// RecordRelayDropped records a relay message that was lost.
func (m *Metrics) RecordRelayDropped(reason string) {
	m.RelayDropped.WithLabelValues(reason).Inc()
}

// RecordReadyWait records how long queued commands waited for the projection window.
func (m *Metrics) RecordReadyWait(seconds float64) {
	m.RelayReadyWait.Observe(seconds)
}

// RecordStatusPoll records one avatar readiness poll.
func (m *Metrics) RecordStatusPoll() {
	m.AvatarStatusPolls.Inc()
}

// RecordAvatarReady records which path detected readiness (push or poll).
func (m *Metrics) RecordAvatarReady(path string) {
	m.AvatarReady.WithLabelValues(path).Inc()
}

// RecordWindowAttached records a browser window attaching.
func (m *Metrics) RecordWindowAttached(role string) {
	m.WindowsActive.WithLabelValues(role).Inc()
}

// RecordWindowDetached records a browser window detaching.
func (m *Metrics) RecordWindowDetached(role string) {
	m.WindowsActive.WithLabelValues(role).Dec()
}

// RecordAgentRequest records a backend agent API call.
func (m *Metrics) RecordAgentRequest(op string, err error, latencySeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AgentRequests.WithLabelValues(op, result).Inc()
	m.AgentLatency.WithLabelValues(op).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
