// Package sensor guards a compressor with a mutex so one producer and many readers can share it.
package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HatiCode/datacompressor/pkg/compressor"
	"github.com/HatiCode/datacompressor/pkg/stats"
	"github.com/HatiCode/datacompressor/pkg/storage"
)

// Config describes a sensor.
type Config struct {
	Name                string
	CacheCapacity       int
	StackCapacity       int
	OutlierThreshold    float64
	FilterReference     stats.Reducer // nil uses the median
	FilterMaxDeviation  float64
	InstanceID          string
	OnCompress          func(compressor.Compression)
	KeepValuesInSummary bool
}

// Sensor is a named compressor safe for concurrent use.
type Sensor struct {
	name       string
	instanceID string
	ref        stats.Reducer
	maxDev     float64
	withValues bool

	mu sync.Mutex
	c  *compressor.Compressor
}

// New creates a sensor and its compressor.
func New(cfg Config) (*Sensor, error) {
	if err := storage.ValidateSensorName(cfg.Name); err != nil {
		return nil, err
	}

	opts := []compressor.Option{compressor.WithOutlierThreshold(cfg.OutlierThreshold)}
	if cfg.OnCompress != nil {
		opts = append(opts, compressor.WithCompressHook(cfg.OnCompress))
	}

	c, err := compressor.New(cfg.CacheCapacity, cfg.StackCapacity, opts...)
	if err != nil {
		return nil, fmt.Errorf("sensor %q: %w", cfg.Name, err)
	}

	ref := cfg.FilterReference
	if ref == nil {
		ref = stats.MedianReducer
	}

	return &Sensor{
		name:       cfg.Name,
		instanceID: cfg.InstanceID,
		ref:        ref,
		maxDev:     cfg.FilterMaxDeviation,
		withValues: cfg.KeepValuesInSummary,
		c:          c,
	}, nil
}

// Name returns the sensor name.
func (s *Sensor) Name() string {
	return s.name
}

// Push adds samples in order.
func (s *Sensor) Push(values ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		s.c.Push(v)
	}
}

// SetOutlierThreshold changes the compression outlier threshold.
func (s *Sensor) SetOutlierThreshold(percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.SetOutlierThreshold(percent)
}

// OutlierThreshold returns the compression outlier threshold in percent.
func (s *Sensor) OutlierThreshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.OutlierThreshold()
}

// Average flushes pending samples and returns the stack mean.
func (s *Sensor) Average() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Average()
}

// Median flushes pending samples and returns the stack median.
func (s *Sensor) Median() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Median()
}

// Quantile flushes pending samples and returns the q-quantile of the stack.
func (s *Sensor) Quantile(q float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Quantile(q)
}

// Filtered flushes pending samples and returns the filtered value using the configured
// reference and deviation.
func (s *Sensor) Filtered() (stats.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.FilteredResult(s.ref, s.maxDev)
}

// At returns the stack value at index i.
func (s *Sensor) At(i int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.At(i)
}

// Values returns the stack, oldest first, without flushing.
func (s *Sensor) Values() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Values()
}

// Stats is the flushing summary served to API clients.
type Stats struct {
	Sensor    string  `json:"sensor"`
	Length    int     `json:"length"`
	LastIndex int     `json:"lastIndex"`
	Full      bool    `json:"full"`
	Average   float64 `json:"average"`
	Median    float64 `json:"median"`
	Filtered  float64 `json:"filtered"`
	Reference float64 `json:"reference"`
	Kept      int     `json:"kept"`
	Excluded  int     `json:"excluded"`
}

// Stats flushes pending samples and computes every statistic under one lock.
func (s *Sensor) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	avg, err := s.c.Average()
	if err != nil {
		return Stats{}, err
	}
	med, err := s.c.Median()
	if err != nil {
		return Stats{}, err
	}
	res, err := s.c.FilteredResult(s.ref, s.maxDev)
	if err != nil {
		return Stats{}, err
	}
	last, _ := s.c.LastIndex()

	return Stats{
		Sensor:    s.name,
		Length:    s.c.Len(),
		LastIndex: last,
		Full:      s.c.IsFull(),
		Average:   avg,
		Median:    med,
		Filtered:  res.Value,
		Reference: res.Reference,
		Kept:      res.Kept,
		Excluded:  res.Excluded,
	}, nil
}

// Snapshot summarizes the stack as of now without flushing the cache, so periodic publishing
// never changes compression batch sizes. It returns compressor.ErrEmpty before the first
// compression.
func (s *Sensor) Snapshot(now time.Time) (storage.Snapshot, error) {
	s.mu.Lock()
	values := s.c.Values()
	snap := storage.Snapshot{
		Sensor:                  s.name,
		InstanceID:              s.instanceID,
		GeneratedAt:             now,
		CacheCapacity:           s.c.CacheCapacity(),
		StackCapacity:           s.c.StackCapacity(),
		StackLength:             s.c.Len(),
		Full:                    s.c.IsFull(),
		PendingSamples:          s.c.CacheLen(),
		OutlierThresholdPercent: s.c.OutlierThreshold(),
		Compressions:            s.c.Compressions(),
	}
	s.mu.Unlock()

	if len(values) == 0 {
		return storage.Snapshot{}, compressor.ErrEmpty
	}

	var err error
	if snap.Average, err = stats.Mean(values); err != nil {
		return storage.Snapshot{}, err
	}
	if snap.Median, err = stats.Median(values); err != nil {
		return storage.Snapshot{}, err
	}
	res, err := stats.Filter(values, s.ref, s.maxDev)
	if err != nil {
		return storage.Snapshot{}, err
	}
	snap.Filtered = res.Value
	if s.withValues {
		snap.Values = values
	}
	return snap, nil
}

// IsEmpty reports whether err means the sensor has nothing compressed yet.
func IsEmpty(err error) bool {
	return errors.Is(err, compressor.ErrEmpty)
}
