// Package storage provides stores for published compressor snapshots.
//
// A snapshot is a read-only summary of a sensor's stack at one point in time. Stores only keep the
// latest snapshot per sensor for readers such as dashboards; they are never used to restore a
// compressor after a restart.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Snapshot summarizes the stack of one sensor.
type Snapshot struct {
	Sensor      string    `json:"sensor"`
	InstanceID  string    `json:"instanceId,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`

	CacheCapacity int  `json:"cacheCapacity"`
	StackCapacity int  `json:"stackCapacity"`
	StackLength   int  `json:"stackLength"`
	Full          bool `json:"full"`

	// PendingSamples is the number of raw samples still in the cache. They are not reflected in
	// the statistics below.
	PendingSamples          int     `json:"pendingSamples"`
	OutlierThresholdPercent float64 `json:"outlierThresholdPercent"`
	Compressions            uint64  `json:"compressions"`

	Average  float64 `json:"average"`
	Median   float64 `json:"median"`
	Filtered float64 `json:"filtered"`

	// Values holds the stack, oldest first.
	Values []float64 `json:"values,omitempty"`
}

// Store keeps the latest snapshot per sensor.
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, sensor string) (Snapshot, bool, error)
}

// ErrSensorRequired is returned when a snapshot or lookup has no sensor name.
var ErrSensorRequired = errors.New("sensor name required")

var sensorNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

// ValidateSensorName checks that name is usable as a store key.
func ValidateSensorName(name string) error {
	if name == "" {
		return ErrSensorRequired
	}
	if !sensorNameRegex.MatchString(name) {
		return fmt.Errorf("invalid sensor name %q: only alphanumeric, hyphens, and underscores allowed", name)
	}
	return nil
}
