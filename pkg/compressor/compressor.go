// Package compressor implements a fixed-capacity, two-tier buffer for streams of float64 samples.
//
// Raw samples are pushed into a small cache. Whenever the cache fills up its contents are sorted and
// reduced to a single outlier-robust value (the mean of every sample within the outlier threshold
// of the batch median), which is appended to a larger circular stack of historical values. Once the
// stack is full each new value replaces the oldest one.
//
// The stack can be read by index, oldest first, and summarized with Average, Median and Filtered.
// Those queries first flush any samples still waiting in the cache, using however many are pending
// as the batch size.
//
// A Compressor is not safe for concurrent use. Callers that push from one goroutine and query from
// another must synchronize externally (see package sensor).
package compressor

import (
	"errors"
	"fmt"

	"github.com/HatiCode/datacompressor/pkg/stats"
)

// DefaultOutlierThreshold is the percentage deviation from the batch median beyond which a cached
// sample is left out of its compressed value.
const DefaultOutlierThreshold = 20

var (
	// ErrEmpty is returned by queries made before anything has been compressed into the stack.
	ErrEmpty = errors.New("compressor: stack is empty")
	// ErrOutOfRange is matched by every *IndexError.
	ErrOutOfRange = errors.New("compressor: index out of range")
	// ErrInvalidCapacity is returned by New when a capacity is less than 1.
	ErrInvalidCapacity = errors.New("compressor: capacity must be at least 1")
	// ErrInvalidValue is returned by Set for NaN and infinite values.
	ErrInvalidValue = errors.New("compressor: value must be finite")
)

// IndexError reports an index outside [0, Last].
type IndexError struct {
	Index int
	Last  int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("compressor: index %d out of range [0, %d]", e.Index, e.Last)
}

// Unwrap lets errors.Is(err, ErrOutOfRange) match.
func (e *IndexError) Unwrap() error {
	return ErrOutOfRange
}

// Compression describes one cache-to-stack compression.
type Compression struct {
	Value    float64
	Batch    int
	Kept     int
	Excluded int
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithOutlierThreshold sets the initial outlier threshold in percent.
func WithOutlierThreshold(percent float64) Option {
	return func(c *Compressor) {
		c.SetOutlierThreshold(percent)
	}
}

// WithCompressHook registers fn to be called after every compression.
func WithCompressHook(fn func(Compression)) Option {
	return func(c *Compressor) {
		c.onCompress = fn
	}
}

// Compressor is a cache of raw samples backed by a ring of compressed values.
type Compressor struct {
	cache []float64 // len is the number of pending samples, cap is the cache capacity

	stack []float64
	head  int // ring index of the oldest value
	size  int
	full  bool

	threshold    float64
	compressions uint64
	onCompress   func(Compression)
}

// New creates a Compressor holding up to cacheCapacity raw samples and stackCapacity compressed values.
func New(cacheCapacity, stackCapacity int, opts ...Option) (*Compressor, error) {
	if cacheCapacity < 1 || stackCapacity < 1 {
		return nil, fmt.Errorf("%w: cache=%d stack=%d", ErrInvalidCapacity, cacheCapacity, stackCapacity)
	}

	c := &Compressor{
		cache:     make([]float64, 0, cacheCapacity),
		stack:     make([]float64, stackCapacity),
		threshold: DefaultOutlierThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Push appends value to the cache, compressing the whole cache into the stack when it becomes full.
// NaN and infinite samples take a cache slot but are excluded from the compressed value like any
// other outlier. A batch with no finite sample at all is discarded without touching the stack.
func (c *Compressor) Push(value float64) {
	c.cache = append(c.cache, value)
	if len(c.cache) == cap(c.cache) {
		c.compress()
	}
}

// Flush compresses any pending cache samples into the stack. It reports whether a compression ran.
func (c *Compressor) Flush() bool {
	if len(c.cache) == 0 {
		return false
	}
	return c.compress()
}

// SetOutlierThreshold changes the deviation bound, in percent, used by later compressions.
// Values already in the stack are not touched. Negative values are treated as 0.
func (c *Compressor) SetOutlierThreshold(percent float64) {
	if percent < 0 {
		percent = 0
	}
	c.threshold = percent
}

// OutlierThreshold returns the current outlier threshold in percent.
func (c *Compressor) OutlierThreshold() float64 {
	return c.threshold
}

// IsFull reports whether the stack has been filled at least once. It never goes back to false
// except through Reset.
func (c *Compressor) IsFull() bool {
	return c.full
}

// LastIndex returns the index of the most recent value in the stack.
func (c *Compressor) LastIndex() (int, error) {
	if c.size == 0 {
		return 0, ErrEmpty
	}
	return c.size - 1, nil
}

// Len returns the number of values in the stack.
func (c *Compressor) Len() int {
	return c.size
}

// CacheLen returns the number of samples waiting in the cache.
func (c *Compressor) CacheLen() int {
	return len(c.cache)
}

// CacheCapacity returns the cache size fixed at construction.
func (c *Compressor) CacheCapacity() int {
	return cap(c.cache)
}

// StackCapacity returns the stack size fixed at construction.
func (c *Compressor) StackCapacity() int {
	return len(c.stack)
}

// Compressions returns how many compressions have run since construction or the last Reset.
func (c *Compressor) Compressions() uint64 {
	return c.compressions
}

// At returns the stack value at index i, where 0 is the oldest value.
func (c *Compressor) At(i int) (float64, error) {
	pos, err := c.slot(i)
	if err != nil {
		return 0, err
	}
	return c.stack[pos], nil
}

// Set overwrites the stack value at index i.
func (c *Compressor) Set(i int, value float64) error {
	if !stats.IsFinite(value) {
		return fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	pos, err := c.slot(i)
	if err != nil {
		return err
	}
	c.stack[pos] = value
	return nil
}

// Values returns a copy of the stack, oldest first. Pending cache samples are not flushed.
func (c *Compressor) Values() []float64 {
	out := make([]float64, c.size)
	n := copy(out, c.stack[c.head:min(c.head+c.size, len(c.stack))])
	copy(out[n:], c.stack[:c.size-n])
	return out
}

// Average flushes the cache and returns the mean of the stack.
func (c *Compressor) Average() (float64, error) {
	return c.reduce(stats.MeanReducer)
}

// Median flushes the cache and returns the median of the stack.
func (c *Compressor) Median() (float64, error) {
	return c.reduce(stats.MedianReducer)
}

// Quantile flushes the cache and returns the q-quantile of the stack, q in (0, 1].
func (c *Compressor) Quantile(q float64) (float64, error) {
	return c.reduce(stats.ReducerFunc(func(data []float64) (float64, error) {
		return stats.Quantile(data, q)
	}))
}

// Filtered flushes the cache and returns the mean of the stack values lying within
// maxDeviationPercent of ref over the stack. When no value qualifies the reference itself is
// returned. A nil ref uses the median.
func (c *Compressor) Filtered(ref stats.Reducer, maxDeviationPercent float64) (float64, error) {
	res, err := c.FilteredResult(ref, maxDeviationPercent)
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// FilteredResult is like Filtered but also reports the reference and how many values were kept.
func (c *Compressor) FilteredResult(ref stats.Reducer, maxDeviationPercent float64) (stats.Result, error) {
	c.Flush()
	if c.size == 0 {
		return stats.Result{}, ErrEmpty
	}
	return stats.Filter(c.Values(), ref, maxDeviationPercent)
}

// Clone returns an independent deep copy of c, including pending cache samples.
func (c *Compressor) Clone() *Compressor {
	clone := *c
	clone.cache = make([]float64, len(c.cache), cap(c.cache))
	copy(clone.cache, c.cache)
	clone.stack = make([]float64, len(c.stack))
	copy(clone.stack, c.stack)
	return &clone
}

// Reset drops all cached and stacked values. Capacities, threshold and hook are kept.
func (c *Compressor) Reset() {
	c.cache = c.cache[:0]
	clear(c.stack)
	c.head = 0
	c.size = 0
	c.full = false
	c.compressions = 0
}

func (c *Compressor) reduce(r stats.Reducer) (float64, error) {
	c.Flush()
	if c.size == 0 {
		return 0, ErrEmpty
	}
	return r.Reduce(c.Values())
}

func (c *Compressor) slot(i int) (int, error) {
	last, err := c.LastIndex()
	if err != nil {
		return 0, err
	}
	if i < 0 || i > last {
		return 0, &IndexError{Index: i, Last: last}
	}
	return (c.head + i) % len(c.stack), nil
}

// compress reduces the pending cache samples to one value and appends it to the stack.
func (c *Compressor) compress() bool {
	batch := len(c.cache)
	stats.SortAscending(c.cache, batch)

	res, err := stats.Filter(c.cache, stats.MedianReducer, c.threshold)
	c.cache = c.cache[:0]
	if err != nil {
		// only non-finite samples
		return false
	}
	c.append(res.Value)
	c.compressions++

	if c.onCompress != nil {
		c.onCompress(Compression{
			Value:    res.Value,
			Batch:    batch,
			Kept:     res.Kept,
			Excluded: res.Excluded,
		})
	}
	return true
}

func (c *Compressor) append(v float64) {
	if c.size < len(c.stack) {
		c.stack[(c.head+c.size)%len(c.stack)] = v
		c.size++
		if c.size == len(c.stack) {
			c.full = true
		}
		return
	}
	c.stack[c.head] = v
	c.head = (c.head + 1) % len(c.stack)
}
