// Command compressord keeps a compressed history of one sensor and serves its statistics.
//
// Raw readings arrive from a configured source (Prometheus, VictoriaMetrics, an HTTP JSON endpoint
// or a Kafka topic) and through the push endpoints. They go through a small cache that is compressed
// into a fixed-size circular stack of outlier-robust values. Each interval compressord publishes a
// snapshot of the stack to the configured store (memory or Redis).
//
// compressord serves an HTTP API on :8080 (configurable):
//   - GET /stats, GET /stats/quantile?level=p95 - Statistics over the stack
//   - GET /stack, GET /stack/{index} - Compressed values
//   - POST /push - Push raw readings
//   - GET|PUT /threshold - Outlier threshold
//   - GET /snapshot - Latest published snapshot
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// and the gRPC service datacompressor.v1.Compressor on :50051 with the standard health service.
//
// Usage:
//
//	compressord \
//	  -sensor=boiler \
//	  -source=prometheus \
//	  -cache-capacity=16 -stack-capacity=1024 \
//	  -interval=10s
//
// Environment variables:
//
//	SENSOR               - Sensor name (required)
//	SOURCE               - prometheus, victoriametrics, http, kafka; empty for push only
//	SOURCE_*             - Source settings, e.g. SOURCE_QUERY, SOURCE_URL, SOURCE_VALUE_PATH
//	SOURCE_CONFIG_FILE   - YAML source configuration
//	CACHE_CAPACITY       - Raw samples per compression (default: 16)
//	STACK_CAPACITY       - Compressed values retained (default: 1024)
//	OUTLIER_THRESHOLD    - Compression outlier threshold in percent (default: 20)
//	FILTER_REFERENCE     - Filtered value reference: mean or median (default: median)
//	FILTER_MAX_DEVIATION - Filtered value deviation bound in percent (default: 20)
//	INTERVAL             - Sampling and publishing interval (default: 10s)
//	STORAGE              - memory or redis (default: memory)
//	REDIS_ADDR           - Redis address (default: localhost:6379)
//	SNAPSHOT_TTL         - Published snapshot TTL, 0 keeps forever (default: 30m)
//	GRPC_LISTEN          - gRPC listen address, empty disables gRPC (default: :50051)
//	LOG_LEVEL            - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT           - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/datacompressor/cmd/compressord/config"
	"github.com/HatiCode/datacompressor/cmd/compressord/logger"
	"github.com/HatiCode/datacompressor/cmd/compressord/metrics"
	"github.com/HatiCode/datacompressor/cmd/compressord/router"
	"github.com/HatiCode/datacompressor/pkg/grpcapi"
	"github.com/HatiCode/datacompressor/pkg/httpx"
	"github.com/HatiCode/datacompressor/pkg/sensor"
	"github.com/HatiCode/datacompressor/pkg/sources"
	"github.com/HatiCode/datacompressor/pkg/stats"
	"github.com/HatiCode/datacompressor/pkg/storage"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	instanceID := uuid.NewString()
	log.Info("starting compressord",
		"version", version,
		"instance_id", instanceID,
		"sensor", cfg.Sensor,
		"source", cfg.Source,
		"source_keys", cfg.SourceKeys(),
		"cache_capacity", cfg.CacheCapacity,
		"stack_capacity", cfg.StackCapacity,
		"stack_memory", humanize.IBytes(uint64(cfg.StackCapacity+cfg.CacheCapacity)*8),
		"tls_enabled", cfg.TLS.Enabled,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, cfg.Sensor)

	ref, err := stats.ReducerByName(cfg.FilterReference)
	if err != nil {
		log.Error("invalid filter reference", "error", err)
		os.Exit(1)
	}

	s, err := sensor.New(sensor.Config{
		Name:                cfg.Sensor,
		CacheCapacity:       cfg.CacheCapacity,
		StackCapacity:       cfg.StackCapacity,
		OutlierThreshold:    cfg.OutlierThreshold,
		FilterReference:     ref,
		FilterMaxDeviation:  cfg.FilterMaxDeviation,
		InstanceID:          instanceID,
		OnCompress:          m.RecordCompression,
		KeepValuesInSummary: cfg.PublishValues,
	})
	if err != nil {
		log.Error("failed to create sensor", "error", err)
		os.Exit(1)
	}

	store, err := newStore(cfg, log)
	if err != nil {
		log.Error("failed to create store", "storage", cfg.Storage, "error", err)
		os.Exit(1)
	}
	defer closeQuietly(store, "store", log)

	src, err := newSource(cfg, log)
	if err != nil {
		log.Error("failed to create source", "source", cfg.Source, "error", err)
		os.Exit(1)
	}
	if src != nil {
		defer closeQuietly(src, "source", log)
	}

	sampler := NewSampler(s, src, store, log, m)

	mux := router.SetupRoutes(router.Deps{
		Sensor:     s,
		Store:      store,
		Gatherer:   reg,
		Metrics:    m,
		StaleAfter: 2 * cfg.Interval,
		Logger:     log,
	})
	httpServer := httpx.NewServer(cfg.Listen, httpx.Chain(mux, httpx.RecoveryMiddleware(log), httpx.LoggingMiddleware(log)), log)
	serverTLS, err := cfg.TLS.Server()
	if err != nil {
		log.Error("invalid TLS configuration", "error", err)
		os.Exit(1)
	}
	if serverTLS != nil {
		httpServer.SetTLSConfig(serverTLS)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := sampler.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sampler loop failed", "error", err)
		}
	}()

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		grpcServer, err = startGRPC(cfg, s, m, log, serverErr)
		if err != nil {
			log.Error("failed to start grpc server", "error", err)
			os.Exit(1)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	log.Info("shutting down")
	cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

func newStore(cfg *config.Config, log *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case "redis":
		log.Info("using redis store", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.SnapshotTTL)
		return storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SnapshotTTL)
	default:
		log.Info("using memory store", "ttl", cfg.SnapshotTTL)
		if cfg.SnapshotTTL <= 0 {
			return storage.NewMemoryStore(), nil
		}
		return storage.NewMemoryStoreWithTTL(cfg.SnapshotTTL, time.Minute), nil
	}
}

func newSource(cfg *config.Config, log *slog.Logger) (sources.Source, error) {
	if cfg.Source == "" {
		log.Info("no source configured, accepting pushed samples only")
		return nil, nil
	}

	src, err := sources.New(cfg.Source, cfg.SourceConfig, log)
	if err != nil {
		return nil, err
	}

	client, err := httpx.NewClient(cfg.ClientTLS, cfg.SourceTimeout)
	if err != nil {
		closeQuietly(src, "source", log)
		return nil, err
	}
	sources.SetHTTPClient(src, client)
	return src, nil
}

func startGRPC(cfg *config.Config, s *sensor.Sensor, m *metrics.Metrics, log *slog.Logger, errCh chan<- error) (*grpc.Server, error) {
	opts, err := grpcapi.ServerOptions(cfg.TLS, m)
	if err != nil {
		return nil, err
	}

	lis, err := net.Listen("tcp", cfg.GRPCListen)
	if err != nil {
		return nil, err
	}

	grpcServer := grpc.NewServer(opts...)
	grpcapi.Register(grpcServer, grpcapi.NewServer(s, log))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	go func() {
		log.Info("grpc server listening", "address", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	return grpcServer, nil
}

// closeQuietly closes v if it holds resources, logging failures.
func closeQuietly(v any, what string, log *slog.Logger) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Error("failed to close "+what, "error", err)
	}
}
