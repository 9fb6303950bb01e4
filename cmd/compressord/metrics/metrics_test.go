package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/datacompressor/pkg/compressor"
	"github.com/HatiCode/datacompressor/pkg/storage"
)

func TestRecordCompression(t *testing.T) {
	m := New(prometheus.NewRegistry(), "boiler")

	m.RecordCompression(compressor.Compression{Value: 21.5, Batch: 5, Kept: 4, Excluded: 1})
	m.RecordCompression(compressor.Compression{Value: 22, Batch: 5, Kept: 3, Excluded: 2})

	if got := testutil.ToFloat64(m.CompressionsTotal); got != 2 {
		t.Errorf("compressions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ExcludedSamplesTotal); got != 3 {
		t.Errorf("excluded = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.LastCompressedValue); got != 22 {
		t.Errorf("last value = %v, want 22", got)
	}
}

func TestSetSnapshot(t *testing.T) {
	m := New(prometheus.NewRegistry(), "boiler")

	m.SetSnapshot(storage.Snapshot{StackLength: 4, PendingSamples: 2, Full: true})
	if got := testutil.ToFloat64(m.StackLength); got != 4 {
		t.Errorf("stack length = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.PendingSamples); got != 2 {
		t.Errorf("pending = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StackFull); got != 1 {
		t.Errorf("stack full = %v, want 1", got)
	}
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry(), "boiler")

	m.RecordSamples("source", 3)
	m.RecordSamples("http", 1)
	m.RecordError("source", "collect_failed")
	m.RecordGRPCRequest("/datacompressor.v1.Compressor/Push", "OK")
	m.ObserveGRPCDuration("/datacompressor.v1.Compressor/Push", 0.001)
	m.RecordCollect(0.2)
	m.RecordPublish(0.01)

	if got := testutil.ToFloat64(m.SamplesTotal.WithLabelValues("source")); got != 3 {
		t.Errorf("source samples = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("source", "collect_failed")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("/datacompressor.v1.Compressor/Push", "OK")); got != 1 {
		t.Errorf("grpc requests = %v, want 1", got)
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	// each registry gets its own collectors, so repeated construction must not panic
	New(prometheus.NewRegistry(), "a")
	New(prometheus.NewRegistry(), "a")
}
