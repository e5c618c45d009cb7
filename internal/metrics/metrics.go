// Package metrics holds the pipeline instruments. A nil *Metrics records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "sayo_captions"

type Metrics struct {
	Registry *prometheus.Registry

	ChunksEmitted   prometheus.Counter
	ChunksSent      prometheus.Counter
	ChunksDropped   *prometheus.CounterVec
	SendErrors      prometheus.Counter
	ResultsReceived prometheus.Counter
	SessionsStarted prometheus.Counter
	Reconnects      prometheus.Counter
	QueueDepth      prometheus.Gauge
	ConnectionState prometheus.Gauge
	PingDuration    prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ChunksEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_emitted_total",
			Help:      "Audio chunks produced by the resampler/chunker.",
		}),
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Audio chunks written to the transcription stream.",
		}),
		ChunksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Audio chunks discarded before reaching the wire.",
		}, []string{"reason"}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Failed stream writes.",
		}),
		ResultsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_received_total",
			Help:      "Non-empty transcription results received.",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Streaming sessions opened.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_depth",
			Help:      "Chunks waiting in the outbound queue.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "Connection status: 0 unknown, 1 connecting, 2 successful, 3 failed.",
		}),
		PingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ping_duration_seconds",
			Help:      "Round trip time of connectivity pings.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ChunksEmitted,
		m.ChunksSent,
		m.ChunksDropped,
		m.SendErrors,
		m.ResultsReceived,
		m.SessionsStarted,
		m.Reconnects,
		m.QueueDepth,
		m.ConnectionState,
		m.PingDuration,
	)
	return m
}

func (m *Metrics) RecordChunkEmitted() {
	if m == nil {
		return
	}
	m.ChunksEmitted.Inc()
}

func (m *Metrics) RecordChunkSent() {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
}

func (m *Metrics) RecordChunkDropped(reason string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordSendError() {
	if m == nil {
		return
	}
	m.SendErrors.Inc()
}

func (m *Metrics) RecordResult() {
	if m == nil {
		return
	}
	m.ResultsReceived.Inc()
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SetConnectionState(v int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(v))
}

func (m *Metrics) ObservePing(seconds float64) {
	if m == nil {
		return
	}
	m.PingDuration.Observe(seconds)
}
