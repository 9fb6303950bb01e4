package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/datacompressor/cmd/compressord/metrics"
	"github.com/HatiCode/datacompressor/pkg/sensor"
	"github.com/HatiCode/datacompressor/pkg/sources"
	"github.com/HatiCode/datacompressor/pkg/storage"
)

// Sampler feeds a sensor from a source and publishes its snapshot every tick:
//
//	collect → push → snapshot → store
//
// A nil source only publishes, for sensors fed through the push endpoints.
type Sampler struct {
	sensor  *sensor.Sensor
	source  sources.Source
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSampler creates a Sampler.
func NewSampler(s *sensor.Sensor, src sources.Source, store storage.Store, logger *slog.Logger, m *metrics.Metrics) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		sensor:  s,
		source:  src,
		store:   store,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Run ticks once immediately and then every interval until ctx is canceled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sampler interval must be > 0, got %v", interval)
	}
	s.logger.Info("starting sampler loop", "sensor", s.sensor.Name(), "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.Tick(ctx); err != nil {
		s.logger.Error("initial sampler tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sampler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("sampler tick failed", "error", err)
			}
		}
	}
}

// Tick runs one collect and publish cycle.
func (s *Sampler) Tick(ctx context.Context) error {
	start := time.Now()

	collected := 0
	if s.source != nil {
		n, err := s.collect(ctx)
		if err != nil {
			s.recordError("source", "collect_failed")
			return fmt.Errorf("collect: %w", err)
		}
		collected = n
	}

	snap, err := s.sensor.Snapshot(s.now())
	if sensor.IsEmpty(err) {
		s.logger.Debug("nothing compressed yet, skipping publish", "sensor", s.sensor.Name(), "collected", collected)
		return nil
	}
	if err != nil {
		s.recordError("sensor", "snapshot_failed")
		return fmt.Errorf("snapshot: %w", err)
	}

	if err := s.publish(ctx, snap); err != nil {
		s.recordError("store", "put_failed")
		return fmt.Errorf("store: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SetSnapshot(snap)
	}

	s.logger.Info("sampler tick complete",
		"sensor", s.sensor.Name(),
		"collected", collected,
		"stack_length", snap.StackLength,
		"pending", snap.PendingSamples,
		"average", snap.Average,
		"filtered", snap.Filtered,
		"total_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *Sampler) collect(ctx context.Context) (int, error) {
	start := time.Now()

	samples, err := s.source.Collect(ctx)
	if err != nil {
		return 0, err
	}

	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordCollect(duration.Seconds())
		s.metrics.RecordSamples("source", len(samples))
	}

	s.sensor.Push(sources.Values(samples)...)

	s.logger.Debug("collected samples",
		"source", s.source.Name(),
		"samples", len(samples),
		"duration_ms", duration.Milliseconds(),
	)
	return len(samples), nil
}

func (s *Sampler) publish(ctx context.Context, snap storage.Snapshot) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.store.Put(ctx, snap); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("put snapshot for %s: %w", snap.Sensor, err)
	}

	if s.metrics != nil {
		s.metrics.RecordPublish(time.Since(start).Seconds())
	}
	return nil
}

func (s *Sampler) recordError(component, reason string) {
	if s.metrics != nil {
		s.metrics.RecordError(component, reason)
	}
}
