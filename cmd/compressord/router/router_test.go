package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/datacompressor/cmd/compressord/metrics"
	"github.com/HatiCode/datacompressor/pkg/sensor"
	"github.com/HatiCode/datacompressor/pkg/storage"
)

type testEnv struct {
	mux     *http.ServeMux
	sensor  *sensor.Sensor
	store   *storage.MemoryStore
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, cacheCapacity, stackCapacity int) *testEnv {
	t.Helper()

	s, err := sensor.New(sensor.Config{
		Name:               "boiler",
		CacheCapacity:      cacheCapacity,
		StackCapacity:      stackCapacity,
		OutlierThreshold:   20,
		FilterMaxDeviation: 20,
	})
	if err != nil {
		t.Fatalf("sensor.New() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "boiler")
	store := storage.NewMemoryStore()

	mux := SetupRoutes(Deps{
		Sensor:     s,
		Store:      store,
		Gatherer:   reg,
		Metrics:    m,
		StaleAfter: 2 * time.Minute,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testEnv{mux: mux, sensor: s, store: store, metrics: m}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, 4, 8)

	w := env.do(http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); body != "OK" {
		t.Errorf("body = %q, want %q", body, "OK")
	}
}

type failingPingStore struct{ *storage.MemoryStore }

func (failingPingStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoint_StoreDown(t *testing.T) {
	s, err := sensor.New(sensor.Config{Name: "boiler", CacheCapacity: 1, StackCapacity: 1})
	if err != nil {
		t.Fatal(err)
	}
	mux := SetupRoutes(Deps{
		Sensor:   s,
		Store:    failingPingStore{storage.NewMemoryStore()},
		Gatherer: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 4, 8)
	env.metrics.RecordSamples("source", 1)

	w := env.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "datacompressor_samples_total") {
		t.Error("metrics output should contain datacompressor_samples_total")
	}
}

func TestStats_Empty(t *testing.T) {
	env := newTestEnv(t, 4, 8)

	w := env.do(http.MethodGet, "/stats", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}

	var resp map[string]string
	decode(t, w, &resp)
	if resp["error"] == "" {
		t.Error("expected error message in body")
	}
}

func TestStats_FlushesPendingSamples(t *testing.T) {
	env := newTestEnv(t, 4, 8)
	env.sensor.Push(10, 10, 10, 10, 20, 20)

	w := env.do(http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var st sensor.Stats
	decode(t, w, &st)
	if st.Length != 2 {
		t.Errorf("length = %d, want 2 (pending samples flushed)", st.Length)
	}
	if st.Average != 15 {
		t.Errorf("average = %v, want 15", st.Average)
	}
	if st.Sensor != "boiler" {
		t.Errorf("sensor = %q", st.Sensor)
	}
}

func TestStats_NonFiniteSamplesExcluded(t *testing.T) {
	env := newTestEnv(t, 5, 8)
	env.sensor.Push(10, 10, math.NaN(), 10, 10)
	env.sensor.Push(10, math.Inf(1), 10, 10, 10)

	w := env.do(http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var st sensor.Stats
	decode(t, w, &st)
	if st.Length != 2 || st.Average != 10 {
		t.Errorf("stats = {length:%d average:%v}, want {2 10}", st.Length, st.Average)
	}
}

func TestQuantile(t *testing.T) {
	env := newTestEnv(t, 1, 16)
	for i := 1; i <= 10; i++ {
		env.sensor.Push(float64(i))
	}

	w := env.do(http.MethodGet, "/stats/quantile?level=p90", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", w.Code, w.Body.String())
	}
	var resp QuantileResponse
	decode(t, w, &resp)
	if resp.Value != 9 || resp.Level != "p90" {
		t.Errorf("response = %+v, want p90 = 9", resp)
	}

	for _, target := range []string{"/stats/quantile", "/stats/quantile?level=p200", "/stats/quantile?level=abc"} {
		if w := env.do(http.MethodGet, target, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status code = %d, want %d", target, w.Code, http.StatusBadRequest)
		}
	}
}

func TestStack(t *testing.T) {
	env := newTestEnv(t, 2, 8)

	w := env.do(http.MethodGet, "/stack", "")
	var empty StackResponse
	decode(t, w, &empty)
	if empty.Values == nil || len(empty.Values) != 0 {
		t.Errorf("values = %v, want empty list", empty.Values)
	}

	env.sensor.Push(1, 1, 2, 2, 5)

	w = env.do(http.MethodGet, "/stack", "")
	var resp StackResponse
	decode(t, w, &resp)
	if len(resp.Values) != 2 || resp.Values[0] != 1 || resp.Values[1] != 2 {
		t.Errorf("values = %v, want [1 2] (pending sample not flushed)", resp.Values)
	}
}

func TestStackIndex(t *testing.T) {
	env := newTestEnv(t, 1, 4)

	if w := env.do(http.MethodGet, "/stack/0", ""); w.Code != http.StatusNotFound {
		t.Errorf("empty stack: status code = %d, want %d", w.Code, http.StatusNotFound)
	}

	env.sensor.Push(1, 2, 3)

	w := env.do(http.MethodGet, "/stack/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	var resp ValueResponse
	decode(t, w, &resp)
	if resp.Index != 1 || resp.Value != 2 {
		t.Errorf("response = %+v, want index 1 value 2", resp)
	}

	if w := env.do(http.MethodGet, "/stack/3", ""); w.Code != http.StatusNotFound {
		t.Errorf("out of range: status code = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := env.do(http.MethodGet, "/stack/-1", ""); w.Code != http.StatusNotFound {
		t.Errorf("negative: status code = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := env.do(http.MethodGet, "/stack/first", ""); w.Code != http.StatusBadRequest {
		t.Errorf("malformed: status code = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPush(t *testing.T) {
	env := newTestEnv(t, 2, 4)

	w := env.do(http.MethodPost, "/push", `{"values":[4,4,6]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	var resp PushResponse
	decode(t, w, &resp)
	if resp.Accepted != 3 {
		t.Errorf("accepted = %d, want 3", resp.Accepted)
	}
	if got := env.sensor.Values(); len(got) != 1 || got[0] != 4 {
		t.Errorf("stack = %v, want [4]", got)
	}
	if got := testutil.ToFloat64(env.metrics.SamplesTotal.WithLabelValues("http")); got != 3 {
		t.Errorf("http samples metric = %v, want 3", got)
	}

	tests := []struct {
		name string
		body string
	}{
		{"empty values", `{"values":[]}`},
		{"malformed", `{"values":[1,`},
		{"unknown field", `{"value":1}`},
		{"non numeric", `{"values":["warm"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(http.MethodPost, "/push", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestPush_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, 2, 4)
	if w := env.do(http.MethodGet, "/push", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestThreshold(t *testing.T) {
	env := newTestEnv(t, 3, 4)

	w := env.do(http.MethodGet, "/threshold", "")
	var got ThresholdBody
	decode(t, w, &got)
	if got.Percent == nil || *got.Percent != 20 {
		t.Fatalf("threshold = %v, want 20", got.Percent)
	}

	w = env.do(http.MethodPut, "/threshold", `{"percent":50}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", w.Code, w.Body.String())
	}
	if env.sensor.OutlierThreshold() != 50 {
		t.Errorf("sensor threshold = %v, want 50", env.sensor.OutlierThreshold())
	}

	env.sensor.Push(10, 10, 13)
	if v := env.sensor.Values(); len(v) != 1 || v[0] != 11 {
		t.Errorf("stack = %v, want [11] with 50%% threshold", v)
	}

	for _, body := range []string{`{}`, `{"percent":-1}`, `nope`} {
		if w := env.do(http.MethodPut, "/threshold", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status code = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
}

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t, 1, 4)

	if w := env.do(http.MethodGet, "/snapshot", ""); w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}

	env.sensor.Push(1, 2, 3)
	snap, err := env.sensor.Snapshot(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := env.store.Put(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	w := env.do(http.MethodGet, "/snapshot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	if w.Header().Get(StaleHeader) != "" {
		t.Error("fresh snapshot must not be marked stale")
	}
	var got storage.Snapshot
	decode(t, w, &got)
	if got.Sensor != "boiler" || got.StackLength != 3 || got.Average != 2 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestSnapshot_Stale(t *testing.T) {
	env := newTestEnv(t, 1, 4)
	env.sensor.Push(1)

	snap, err := env.sensor.Snapshot(time.Now().Add(-10 * time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if err := env.store.Put(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	w := env.do(http.MethodGet, "/snapshot", "")
	if w.Header().Get(StaleHeader) != "true" {
		t.Errorf("%s header = %q, want true", StaleHeader, w.Header().Get(StaleHeader))
	}
}
