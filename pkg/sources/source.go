// Package sources provides the sample sources that feed a compressor daemon.
//
// Each source implements the Source interface and returns the raw readings observed since its
// previous call. Available sources:
//   - PrometheusSource: instant PromQL query against Prometheus or VictoriaMetrics
//   - HTTPSource: any REST endpoint returning JSON, values picked with gjson paths
//   - KafkaSource: messages from a Kafka topic, one reading per message
//
// Sources only fetch and parse. Buffering, compression and statistics happen in the compressor.
package sources

import (
	"context"
	"slices"
	"time"
)

// Sample is a single raw reading.
type Sample struct {
	TS    time.Time
	Value float64
}

// Source is implemented by every sample source.
//
// Collect is synchronous and must respect context cancellation and deadlines. It returns the
// samples in chronological order and may return none.
type Source interface {
	Collect(ctx context.Context) ([]Sample, error)

	// Name returns a short identifier such as "prometheus" or "kafka".
	Name() string
}

// Values returns the sample values in order.
func Values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func sortSamples(samples []Sample) {
	slices.SortStableFunc(samples, func(a, b Sample) int {
		return a.TS.Compare(b.TS)
	})
}
