// Package router configures the HTTP API of compressord.
//
// Routes:
//   - GET  /stats                   flushing summary: average, median, filtered value
//   - GET  /stats/quantile?level=   flushing quantile, level as p95 or 0.95
//   - GET  /stack                   compressed values, oldest first, without flushing
//   - GET  /stack/{index}           one compressed value, 0 being the oldest
//   - POST /push                    {"values":[...]} appended to the cache in order
//   - GET  /threshold               current outlier threshold
//   - PUT  /threshold               {"percent":30} changes it for later compressions
//   - GET  /snapshot                latest published snapshot from the store
//   - GET  /healthz                 liveness, and store reachability when the store can be pinged
//   - GET  /metrics                 Prometheus metrics
//
// Queries on an empty stack answer 404. A malformed index answers 400 and an index past the newest
// value answers 404.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/datacompressor/cmd/compressord/metrics"
	"github.com/HatiCode/datacompressor/pkg/compressor"
	"github.com/HatiCode/datacompressor/pkg/httpx"
	"github.com/HatiCode/datacompressor/pkg/sensor"
	"github.com/HatiCode/datacompressor/pkg/stats"
	"github.com/HatiCode/datacompressor/pkg/storage"
)

// StaleHeader is set on /snapshot responses older than Deps.StaleAfter.
const StaleHeader = "X-Datacompressor-Stale"

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Sensor *sensor.Sensor
	Store  storage.Store
	// Gatherer backs /metrics; nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Metrics is optional.
	Metrics *metrics.Metrics
	// StaleAfter of zero disables the stale header.
	StaleAfter time.Duration
	Logger     *slog.Logger
}

type pinger interface {
	Ping(ctx context.Context) error
}

// SetupRoutes returns the compressord HTTP handler.
func SetupRoutes(d Deps) *http.ServeMux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(storeCheck(d.Store)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /stats", handleStats(d))
	mux.HandleFunc("GET /stats/quantile", handleQuantile(d))
	mux.HandleFunc("GET /stack", handleStack(d))
	mux.HandleFunc("GET /stack/{index}", handleStackIndex(d))
	mux.HandleFunc("POST /push", handlePush(d))
	mux.HandleFunc("GET /threshold", handleGetThreshold(d))
	mux.HandleFunc("PUT /threshold", handleSetThreshold(d))
	mux.HandleFunc("GET /snapshot", handleSnapshot(d))

	return mux
}

func storeCheck(store storage.Store) func() error {
	p, ok := store.(pinger)
	if !ok {
		return func() error { return nil }
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store unreachable: %w", err)
		}
		return nil
	}
}

func handleStats(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := d.Sensor.Stats()
		if err != nil {
			writeQueryError(w, d.Logger, err)
			return
		}
		writeJSON(w, d.Logger, st)
	}
}

// QuantileResponse is the body of GET /stats/quantile.
type QuantileResponse struct {
	Sensor string  `json:"sensor"`
	Level  string  `json:"level"`
	Value  float64 `json:"value"`
}

func handleQuantile(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("level")
		if raw == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "level parameter required")
			return
		}
		q, err := stats.ParseLevel(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}

		v, err := d.Sensor.Quantile(q)
		if err != nil {
			writeQueryError(w, d.Logger, err)
			return
		}
		writeJSON(w, d.Logger, QuantileResponse{Sensor: d.Sensor.Name(), Level: stats.FormatLevel(q), Value: v})
	}
}

// StackResponse is the body of GET /stack.
type StackResponse struct {
	Sensor string    `json:"sensor"`
	Values []float64 `json:"values"`
}

func handleStack(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Logger, StackResponse{Sensor: d.Sensor.Name(), Values: d.Sensor.Values()})
	}
}

// ValueResponse is the body of GET /stack/{index}.
type ValueResponse struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

func handleStackIndex(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("index")
		i, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid index %q", raw))
			return
		}

		v, err := d.Sensor.At(i)
		if err != nil {
			writeQueryError(w, d.Logger, err)
			return
		}
		writeJSON(w, d.Logger, ValueResponse{Index: i, Value: v})
	}
}

// PushRequest is the body of POST /push.
type PushRequest struct {
	Values []float64 `json:"values"`
}

// PushResponse reports how many values were accepted.
type PushResponse struct {
	Accepted int `json:"accepted"`
}

func handlePush(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PushRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if len(req.Values) == 0 {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "values must not be empty")
			return
		}

		d.Sensor.Push(req.Values...)
		if d.Metrics != nil {
			d.Metrics.RecordSamples("http", len(req.Values))
		}
		if err := httpx.WriteJSON(w, http.StatusAccepted, PushResponse{Accepted: len(req.Values)}); err != nil {
			d.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// ThresholdBody is the body of GET and PUT /threshold.
type ThresholdBody struct {
	Percent *float64 `json:"percent"`
}

func handleGetThreshold(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := d.Sensor.OutlierThreshold()
		writeJSON(w, d.Logger, ThresholdBody{Percent: &p})
	}
}

func handleSetThreshold(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ThresholdBody
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if body.Percent == nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "percent is required")
			return
		}
		if *body.Percent < 0 {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "percent must be >= 0")
			return
		}

		d.Sensor.SetOutlierThreshold(*body.Percent)
		d.Logger.Info("outlier threshold changed", "sensor", d.Sensor.Name(), "percent", *body.Percent)

		p := d.Sensor.OutlierThreshold()
		writeJSON(w, d.Logger, ThresholdBody{Percent: &p})
	}
}

func handleSnapshot(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snap, found, err := d.Store.GetLatest(ctx, d.Sensor.Name())
		if err != nil {
			d.Logger.Error("failed to get snapshot", "sensor", d.Sensor.Name(), "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("no snapshot published for sensor %q", d.Sensor.Name()))
			return
		}

		if d.StaleAfter > 0 && time.Since(snap.GeneratedAt) > d.StaleAfter {
			w.Header().Set(StaleHeader, "true")
		}
		writeJSON(w, d.Logger, snap)
	}
}

func writeQueryError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, compressor.ErrEmpty), errors.Is(err, compressor.ErrOutOfRange):
		httpx.WriteError(w, http.StatusNotFound, err)
	default:
		logger.Error("query failed", "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	if err := httpx.WriteJSON(w, http.StatusOK, v); err != nil {
		logger.Error("failed to write JSON response", "error", err)
	}
}
