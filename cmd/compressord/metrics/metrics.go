// Package metrics provides Prometheus instrumentation for compressord.
//
// Metrics exposed:
//   - datacompressor_samples_total: Counter of raw samples pushed, by origin (source, http, grpc)
//   - datacompressor_compressions_total: Counter of cache-to-stack compressions
//   - datacompressor_excluded_samples_total: Counter of cached samples left out as outliers
//   - datacompressor_last_compressed_value: Gauge of the most recent compressed value
//   - datacompressor_stack_length: Gauge of compressed values held
//   - datacompressor_pending_samples: Gauge of raw samples waiting in the cache
//   - datacompressor_stack_full: Gauge set to 1 once the stack has wrapped
//   - datacompressor_source_collect_seconds: Histogram of source collection duration
//   - datacompressor_publish_seconds: Histogram of snapshot publication duration
//   - datacompressor_grpc_requests_total / datacompressor_grpc_request_duration_seconds
//   - datacompressor_errors_total: Counter of errors by component and reason
//
// All metrics carry the sensor label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/datacompressor/pkg/compressor"
	"github.com/HatiCode/datacompressor/pkg/storage"
)

// Metrics holds all Prometheus collectors of compressord.
type Metrics struct {
	SamplesTotal         *prometheus.CounterVec
	CompressionsTotal    prometheus.Counter
	ExcludedSamplesTotal prometheus.Counter
	LastCompressedValue  prometheus.Gauge
	StackLength          prometheus.Gauge
	PendingSamples       prometheus.Gauge
	StackFull            prometheus.Gauge
	CollectSeconds       prometheus.Histogram
	PublishSeconds       prometheus.Histogram
	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCDurationSeconds  *prometheus.HistogramVec
	ErrorsTotal          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, sensor string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"sensor": sensor}

	return &Metrics{
		SamplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "datacompressor_samples_total",
			Help:        "Raw samples pushed into the cache",
			ConstLabels: labels,
		}, []string{"origin"}),

		CompressionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "datacompressor_compressions_total",
			Help:        "Cache-to-stack compressions performed",
			ConstLabels: labels,
		}),

		ExcludedSamplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "datacompressor_excluded_samples_total",
			Help:        "Cached samples excluded from their compressed value as outliers",
			ConstLabels: labels,
		}),

		LastCompressedValue: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "datacompressor_last_compressed_value",
			Help:        "Most recent compressed value",
			ConstLabels: labels,
		}),

		StackLength: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "datacompressor_stack_length",
			Help:        "Compressed values currently held in the stack",
			ConstLabels: labels,
		}),

		PendingSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "datacompressor_pending_samples",
			Help:        "Raw samples waiting in the cache",
			ConstLabels: labels,
		}),

		StackFull: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "datacompressor_stack_full",
			Help:        "1 once the stack has reached capacity",
			ConstLabels: labels,
		}),

		CollectSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "datacompressor_source_collect_seconds",
			Help:        "Time spent collecting samples from the source",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		PublishSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "datacompressor_publish_seconds",
			Help:        "Time spent publishing the snapshot to the store",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		GRPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "datacompressor_grpc_requests_total",
			Help:        "gRPC requests by method and status code",
			ConstLabels: labels,
		}, []string{"method", "code"}),

		GRPCDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "datacompressor_grpc_request_duration_seconds",
			Help:        "gRPC request duration by method",
			ConstLabels: labels,
			Buckets:     []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"method"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "datacompressor_errors_total",
			Help:        "Errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

// RecordSamples counts n samples pushed from origin.
func (m *Metrics) RecordSamples(origin string, n int) {
	m.SamplesTotal.WithLabelValues(origin).Add(float64(n))
}

// RecordCompression is meant to be installed as the sensor compression hook.
func (m *Metrics) RecordCompression(c compressor.Compression) {
	m.CompressionsTotal.Inc()
	m.ExcludedSamplesTotal.Add(float64(c.Excluded))
	m.LastCompressedValue.Set(c.Value)
}

// SetSnapshot updates the stack gauges from a published snapshot.
func (m *Metrics) SetSnapshot(s storage.Snapshot) {
	m.StackLength.Set(float64(s.StackLength))
	m.PendingSamples.Set(float64(s.PendingSamples))
	if s.Full {
		m.StackFull.Set(1)
	} else {
		m.StackFull.Set(0)
	}
}

// RecordCollect records the time spent collecting from the source.
func (m *Metrics) RecordCollect(seconds float64) {
	m.CollectSeconds.Observe(seconds)
}

// RecordPublish records the time spent publishing a snapshot.
func (m *Metrics) RecordPublish(seconds float64) {
	m.PublishSeconds.Observe(seconds)
}

// RecordGRPCRequest counts a gRPC call outcome.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
}

// ObserveGRPCDuration records a gRPC call duration.
func (m *Metrics) ObserveGRPCDuration(method string, seconds float64) {
	m.GRPCDurationSeconds.WithLabelValues(method).Observe(seconds)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
