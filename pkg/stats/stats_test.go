package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortAscending(t *testing.T) {
	t.Run("sorts prefix only", func(t *testing.T) {
		data := []float64{5, 3, 4, 1, 0}
		SortAscending(data, 3)
		assert.Equal(t, []float64{3, 4, 5, 1, 0}, data)
	})

	t.Run("count larger than slice", func(t *testing.T) {
		data := []float64{2, 1}
		SortAscending(data, 10)
		assert.Equal(t, []float64{1, 2}, data)
	})

	t.Run("zero count", func(t *testing.T) {
		data := []float64{2, 1}
		SortAscending(data, 0)
		assert.Equal(t, []float64{2, 1}, data)
	})
}

func TestMean(t *testing.T) {
	m, err := Mean([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 2.5, m)

	_, err = Mean(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestMedian(t *testing.T) {
	t.Run("odd", func(t *testing.T) {
		m, err := Median([]float64{1, 2, 3, 4, 5})
		require.NoError(t, err)
		assert.Equal(t, 3.0, m)
	})

	t.Run("even", func(t *testing.T) {
		m, err := Median([]float64{4, 1, 3, 2})
		require.NoError(t, err)
		assert.Equal(t, 2.5, m)
	})

	t.Run("input not modified", func(t *testing.T) {
		data := []float64{3, 1, 2}
		_, err := Median(data)
		require.NoError(t, err)
		assert.Equal(t, []float64{3, 1, 2}, data)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Median([]float64{})
		assert.ErrorIs(t, err, ErrEmptyInput)
	})
}

func TestQuantile(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	v, err := Quantile(data, 1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)

	v, err = Quantile(data, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	_, err = Quantile(data, 0)
	assert.Error(t, err)
	_, err = Quantile(data, 1.5)
	assert.Error(t, err)
	_, err = Quantile(nil, 0.5)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestDeviation(t *testing.T) {
	assert.Equal(t, 0.0, Deviation(10, 10))
	assert.Equal(t, 20.0, Deviation(12, 10))
	assert.Equal(t, 20.0, Deviation(8, 10))
	assert.Equal(t, 50.0, Deviation(-15, -10))
	assert.Equal(t, 0.0, Deviation(0, 0))
	assert.True(t, math.IsInf(Deviation(1, 0), 1))
}

func TestReducerByName(t *testing.T) {
	for _, name := range []string{"mean", "Average", " avg "} {
		r, err := ReducerByName(name)
		require.NoError(t, err)
		v, err := r.Reduce([]float64{1, 2, 6})
		require.NoError(t, err)
		assert.Equal(t, 3.0, v)
	}

	r, err := ReducerByName("median")
	require.NoError(t, err)
	v, err := r.Reduce([]float64{1, 2, 6})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	_, err = ReducerByName("mode")
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	t.Run("excludes outlier around median", func(t *testing.T) {
		res, err := Filter([]float64{10, 10, 10, 10, 1000}, MedianReducer, 20)
		require.NoError(t, err)
		assert.Equal(t, 10.0, res.Value)
		assert.Equal(t, 10.0, res.Reference)
		assert.Equal(t, 4, res.Kept)
		assert.Equal(t, 1, res.Excluded)
		assert.False(t, res.Degenerate())
	})

	t.Run("boundary deviation is kept", func(t *testing.T) {
		res, err := Filter([]float64{8, 10, 12}, MedianReducer, 20)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Kept)
		assert.Equal(t, 10.0, res.Value)
	})

	t.Run("mean reference", func(t *testing.T) {
		// mean is 20, only 18 and 22 are within 15%
		res, err := Filter([]float64{10, 18, 22, 30}, MeanReducer, 15)
		require.NoError(t, err)
		assert.Equal(t, 20.0, res.Reference)
		assert.Equal(t, 2, res.Kept)
		assert.Equal(t, 20.0, res.Value)
	})

	t.Run("nil reference defaults to median", func(t *testing.T) {
		res, err := Filter([]float64{1, 100, 101, 102}, nil, 5)
		require.NoError(t, err)
		assert.Equal(t, 100.5, res.Reference)
		assert.Equal(t, 3, res.Kept)
	})

	t.Run("all excluded falls back to reference", func(t *testing.T) {
		// mean is 50 and both values are 100% away from it
		res, err := Filter([]float64{0, 100}, MeanReducer, 10)
		require.NoError(t, err)
		assert.True(t, res.Degenerate())
		assert.Equal(t, 50.0, res.Value)
		assert.Equal(t, 2, res.Excluded)
	})

	t.Run("custom reducer", func(t *testing.T) {
		first := ReducerFunc(func(data []float64) (float64, error) { return data[0], nil })
		res, err := Filter([]float64{10, 11, 50}, first, 10)
		require.NoError(t, err)
		assert.Equal(t, 10.5, res.Value)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Filter(nil, MeanReducer, 20)
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("non-finite values are excluded", func(t *testing.T) {
		res, err := Filter([]float64{10, math.NaN(), 10, math.Inf(1), 10, math.Inf(-1)}, MedianReducer, 20)
		require.NoError(t, err)
		assert.Equal(t, 10.0, res.Value)
		assert.Equal(t, 10.0, res.Reference)
		assert.Equal(t, 3, res.Kept)
		assert.Equal(t, 3, res.Excluded)
	})

	t.Run("only non-finite values", func(t *testing.T) {
		res, err := Filter([]float64{math.NaN(), math.Inf(1)}, MeanReducer, 20)
		assert.ErrorIs(t, err, ErrEmptyInput)
		assert.Equal(t, 2, res.Excluded)
	})
}

func TestFinite(t *testing.T) {
	clean := []float64{1, 2, 3}
	assert.Equal(t, clean, Finite(clean))
	assert.Equal(t, []float64{1, 3}, Finite([]float64{math.NaN(), 1, math.Inf(1), 3}))
	assert.Empty(t, Finite([]float64{math.NaN()}))

	assert.True(t, IsFinite(0))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
}
