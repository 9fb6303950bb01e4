package stats

import (
	"fmt"
	"math"
)

// Result describes the outcome of Filter.
type Result struct {
	// Value is the mean of the retained values, or Reference when nothing was retained.
	Value float64
	// Reference is the statistic the deviations were measured against.
	Reference float64
	Kept      int
	Excluded  int
}

// Degenerate reports whether every value was excluded and Value fell back to Reference.
func (r Result) Degenerate() bool {
	return r.Kept == 0
}

// Filter computes ref over data, drops every value whose Deviation from that reference exceeds
// maxDeviationPercent, and returns the mean of what is left. When every value is dropped the result
// falls back to the reference itself. A nil ref uses MedianReducer.
//
// NaN and infinite values are always dropped and take no part in the reference. Input holding no
// finite value at all returns ErrEmptyInput.
func Filter(data []float64, ref Reducer, maxDeviationPercent float64) (Result, error) {
	if len(data) == 0 {
		return Result{}, ErrEmptyInput
	}
	if ref == nil {
		ref = MedianReducer
	}

	finite := Finite(data)
	if len(finite) == 0 {
		return Result{Excluded: len(data)}, fmt.Errorf("%w: no finite values", ErrEmptyInput)
	}

	reference, err := ref.Reduce(finite)
	if err != nil {
		return Result{}, fmt.Errorf("reference: %w", err)
	}

	var sum float64
	kept := 0
	for _, v := range finite {
		if !(Deviation(v, reference) <= maxDeviationPercent) {
			continue
		}
		sum += v
		kept++
	}

	res := Result{
		Reference: reference,
		Kept:      kept,
		Excluded:  len(data) - kept,
	}
	if kept == 0 {
		res.Value = reference
		return res, nil
	}
	res.Value = sum / float64(kept)
	return res, nil
}

// Finite returns data without its NaN and infinite values. data itself is returned when every value
// is finite.
func Finite(data []float64) []float64 {
	for i, v := range data {
		if IsFinite(v) {
			continue
		}
		out := make([]float64, i, len(data))
		copy(out, data[:i])
		for _, w := range data[i+1:] {
			if IsFinite(w) {
				out = append(out, w)
			}
		}
		return out
	}
	return data
}

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
