package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	// Push/pull metrics
	PushesTotal   *prometheus.CounterVec
	PullsTotal    *prometheus.CounterVec
	SyncsActive   prometheus.Gauge
	SyncDuration  prometheus.Histogram

	// Chunk/codec metrics
	ChunksProducedTotal prometheus.Counter
	ChunksDedupedTotal  prometheus.Counter
	BytesPlaintextTotal *prometheus.CounterVec
	CodecOperationsTotal *prometheus.CounterVec

	// CAS metrics
	CASOperationsTotal  *prometheus.CounterVec
	CASOperationLatency prometheus.Histogram
	CASIntegrityFailuresTotal prometheus.Counter

	// Fleet metrics
	FleetEventsPublishedTotal *prometheus.CounterVec
	FleetEventsAppliedTotal   *prometheus.CounterVec
	ConflictsDetectedTotal    prometheus.Counter
	ConflictsResolvedTotal    *prometheus.CounterVec

	activeSyncs int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		PushesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tcfs_pushes_total", Help: "Total push operations"},
			[]string{"status"},
		),
		PullsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tcfs_pulls_total", Help: "Total pull operations"},
			[]string{"status"},
		),
		SyncsActive: promauto.NewGauge(
			prometheus.GaugeOpts{Name: "tcfs_syncs_active", Help: "Currently active push/pull operations"},
		),
		SyncDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tcfs_sync_duration_seconds",
				Help:    "Push/pull completion time distribution",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),

		ChunksProducedTotal: promauto.NewCounter(
			prometheus.CounterOpts{Name: "tcfs_chunks_produced_total", Help: "Chunks produced by the chunker"},
		),
		ChunksDedupedTotal: promauto.NewCounter(
			prometheus.CounterOpts{Name: "tcfs_chunks_deduped_total", Help: "Chunks skipped because they already existed in CAS"},
		),
		BytesPlaintextTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tcfs_bytes_plaintext_total", Help: "Plaintext bytes processed"},
			[]string{"direction"},
		),
		CodecOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tcfs_codec_operations_total", Help: "Codec encode/decode operations"},
			[]string{"operation", "result"},
		),

		CASOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tcfs_cas_operations_total", Help: "CAS operations by verb and result"},
			[]string{"verb", "result"},
		),
		CASOperationLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tcfs_cas_operation_latency_seconds",
				Help:    "CAS operation latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
		),
		CASIntegrityFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{Name: "tcfs_cas_integrity_failures_total", Help: "Chunk or manifest hash mismatches on read"},
		),

		FleetEventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tcfs_fleet_events_published_total", Help: "State events published"},
			[]string{"event_type"},
		),
		FleetEventsAppliedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tcfs_fleet_events_applied_total", Help: "State events applied by the auto-pull loop"},
			[]string{"event_type"},
		),
		ConflictsDetectedTotal: promauto.NewCounter(
			prometheus.CounterOpts{Name: "tcfs_conflicts_detected_total", Help: "Concurrent vector clocks detected on pull"},
		),
		ConflictsResolvedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tcfs_conflicts_resolved_total", Help: "Conflicts resolved by strategy"},
			[]string{"strategy"},
		),
	}
}

// RecordSyncStart increments the active push/pull gauge.
func (m *Metrics) RecordSyncStart() {
	atomic.AddInt64(&m.activeSyncs, 1)
	m.SyncsActive.Set(float64(atomic.LoadInt64(&m.activeSyncs)))
}

// RecordPushComplete records push completion metrics.
func (m *Metrics) RecordPushComplete(success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeSyncs, -1)
	m.SyncsActive.Set(float64(atomic.LoadInt64(&m.activeSyncs)))
	m.PushesTotal.WithLabelValues(outcome(success)).Inc()
	m.SyncDuration.Observe(durationSeconds)
}

// RecordPullComplete records pull completion metrics.
func (m *Metrics) RecordPullComplete(success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeSyncs, -1)
	m.SyncsActive.Set(float64(atomic.LoadInt64(&m.activeSyncs)))
	m.PullsTotal.WithLabelValues(outcome(success)).Inc()
	m.SyncDuration.Observe(durationSeconds)
}

// RecordChunkProduced updates chunker throughput metrics; deduped
// indicates the chunk's hash was already present in CAS.
func (m *Metrics) RecordChunkProduced(deduped bool, plaintextBytes int) {
	m.ChunksProducedTotal.Inc()
	if deduped {
		m.ChunksDedupedTotal.Inc()
	}
	m.BytesPlaintextTotal.WithLabelValues("push").Add(float64(plaintextBytes))
}

// RecordCodecOperation records an encode or decode call.
func (m *Metrics) RecordCodecOperation(operation string, success bool) {
	m.CodecOperationsTotal.WithLabelValues(operation, outcome(success)).Inc()
}

// RecordCASOperation records a CAS verb invocation and its latency.
func (m *Metrics) RecordCASOperation(verb string, success bool, latencySeconds float64) {
	m.CASOperationsTotal.WithLabelValues(verb, outcome(success)).Inc()
	m.CASOperationLatency.Observe(latencySeconds)
}

// RecordCASIntegrityFailure increments the integrity-failure counter.
func (m *Metrics) RecordCASIntegrityFailure() {
	m.CASIntegrityFailuresTotal.Inc()
}

// RecordEventPublished increments the publish counter for eventType.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.FleetEventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventApplied increments the apply counter for eventType.
func (m *Metrics) RecordEventApplied(eventType string) {
	m.FleetEventsAppliedTotal.WithLabelValues(eventType).Inc()
}

// RecordConflictDetected increments the conflict-detection counter.
func (m *Metrics) RecordConflictDetected() {
	m.ConflictsDetectedTotal.Inc()
}

// RecordConflictResolved increments the resolution counter for strategy.
func (m *Metrics) RecordConflictResolved(strategy string) {
	m.ConflictsResolvedTotal.WithLabelValues(strategy).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
