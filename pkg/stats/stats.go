// Package stats provides the statistical reductions used to compress and query sample buffers.
//
// Mean, median and quantiles are delegated to github.com/montanaflynn/stats. On top of those this
// package defines the Reducer strategy and the outlier filter: a reduction that discards values
// deviating from a reference statistic by more than a given percentage and averages the rest.
package stats

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	mstats "github.com/montanaflynn/stats"
)

// ErrEmptyInput is returned by every reduction called with no values.
var ErrEmptyInput = errors.New("stats: empty input")

// Reducer reduces a sequence of values to a single representative value.
type Reducer interface {
	Reduce(data []float64) (float64, error)
}

// ReducerFunc adapts an ordinary function to the Reducer interface.
type ReducerFunc func(data []float64) (float64, error)

// Reduce calls f(data).
func (f ReducerFunc) Reduce(data []float64) (float64, error) {
	return f(data)
}

var (
	// MeanReducer reduces values to their arithmetic mean.
	MeanReducer Reducer = ReducerFunc(Mean)
	// MedianReducer reduces values to their median.
	MedianReducer Reducer = ReducerFunc(Median)
)

// ReducerByName returns the reducer registered under name: "mean" (or "average") and "median".
func ReducerByName(name string) (Reducer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mean", "average", "avg":
		return MeanReducer, nil
	case "median":
		return MedianReducer, nil
	default:
		return nil, fmt.Errorf("unknown reducer %q (must be mean or median)", name)
	}
}

// SortAscending sorts the first count elements of data in place.
// count is clamped to len(data).
func SortAscending(data []float64, count int) {
	if count > len(data) {
		count = len(data)
	}
	if count <= 1 {
		return
	}
	slices.Sort(data[:count])
}

// Mean returns the arithmetic mean of data.
func Mean(data []float64) (float64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyInput
	}
	m, err := mstats.Mean(data)
	if err != nil {
		return 0, fmt.Errorf("mean: %w", err)
	}
	return m, nil
}

// Median returns the median of data. data is not modified and does not need to be sorted.
func Median(data []float64) (float64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyInput
	}
	m, err := mstats.Median(data)
	if err != nil {
		return 0, fmt.Errorf("median: %w", err)
	}
	return m, nil
}

// Quantile returns the q-quantile of data, with q in (0, 1].
func Quantile(data []float64, q float64) (float64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyInput
	}
	if q <= 0 || q > 1 || math.IsNaN(q) {
		return 0, fmt.Errorf("quantile %v out of range (0, 1]", q)
	}
	v, err := mstats.PercentileNearestRank(data, q*100)
	if err != nil {
		return 0, fmt.Errorf("quantile: %w", err)
	}
	return v, nil
}

// Deviation returns how far value is from reference, in percent of the reference magnitude.
// A zero reference yields 0 for a zero value and +Inf for anything else.
func Deviation(value, reference float64) float64 {
	if reference == 0 {
		if value == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(value-reference) / math.Abs(reference) * 100
}
