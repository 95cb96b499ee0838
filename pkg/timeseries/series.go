// Package timeseries provides the time series data structure shared by the
// correlation and shear subsystems. Values are float64 with NaN marking a
// missing observation; timestamps are strictly increasing.
package timeseries

import (
	"errors"
	"math"
	"sort"
	"time"
)

// Series represents a timestamped sequence of measurements.
type Series struct {
	Timestamps []time.Time
	Values     []float64
	Name       string
}

// New creates a series from values with synthetic hourly timestamps,
// primarily useful in tests and examples.
func New(values []float64) *Series {
	timestamps := make([]time.Time, len(values))
	base := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range timestamps {
		timestamps[i] = base.Add(time.Duration(i) * time.Hour)
	}
	return &Series{
		Timestamps: timestamps,
		Values:     values,
	}
}

// NewWithTimestamps creates a series with explicit timestamps. Timestamps
// must be strictly increasing.
func NewWithTimestamps(timestamps []time.Time, values []float64) (*Series, error) {
	if len(timestamps) != len(values) {
		return nil, errors.New("timestamps and values must have the same length")
	}
	for i := 1; i < len(timestamps); i++ {
		if !timestamps[i].After(timestamps[i-1]) {
			return nil, errors.New("timestamps must be strictly increasing")
		}
	}
	return &Series{
		Timestamps: timestamps,
		Values:     values,
	}, nil
}

// Len returns the number of entries, missing or not.
func (s *Series) Len() int {
	return len(s.Values)
}

// Count returns the number of non-missing entries.
func (s *Series) Count() int {
	n := 0
	for _, v := range s.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Mean calculates the arithmetic mean of the non-missing values.
func (s *Series) Mean() float64 {
	sum := 0.0
	n := 0
	for _, v := range s.Values {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// FirstValid returns the timestamp of the earliest non-missing value.
func (s *Series) FirstValid() (time.Time, bool) {
	for i, v := range s.Values {
		if !math.IsNaN(v) {
			return s.Timestamps[i], true
		}
	}
	return time.Time{}, false
}

// LastValid returns the timestamp of the latest non-missing value.
func (s *Series) LastValid() (time.Time, bool) {
	for i := len(s.Values) - 1; i >= 0; i-- {
		if !math.IsNaN(s.Values[i]) {
			return s.Timestamps[i], true
		}
	}
	return time.Time{}, false
}

// Window returns the sub-series with from <= timestamp <= to.
func (s *Series) Window(from, to time.Time) *Series {
	lo := sort.Search(len(s.Timestamps), func(i int) bool {
		return !s.Timestamps[i].Before(from)
	})
	hi := sort.Search(len(s.Timestamps), func(i int) bool {
		return s.Timestamps[i].After(to)
	})
	if lo >= hi {
		return &Series{Name: s.Name}
	}
	out := &Series{
		Timestamps: make([]time.Time, hi-lo),
		Values:     make([]float64, hi-lo),
		Name:       s.Name,
	}
	copy(out.Timestamps, s.Timestamps[lo:])
	copy(out.Values, s.Values[lo:hi])
	return out
}

// Copy creates a deep copy of the series.
func (s *Series) Copy() *Series {
	values := make([]float64, len(s.Values))
	copy(values, s.Values)

	timestamps := make([]time.Time, len(s.Timestamps))
	copy(timestamps, s.Timestamps)

	return &Series{
		Timestamps: timestamps,
		Values:     values,
		Name:       s.Name,
	}
}

// Resolution infers the sampling interval as the most common delta between
// consecutive timestamps.
func (s *Series) Resolution() time.Duration {
	if len(s.Timestamps) < 2 {
		return 0
	}
	counts := make(map[time.Duration]int)
	for i := 1; i < len(s.Timestamps); i++ {
		counts[s.Timestamps[i].Sub(s.Timestamps[i-1])]++
	}
	var best time.Duration
	bestN := 0
	for d, n := range counts {
		if n > bestN || (n == bestN && d < best) {
			best, bestN = d, n
		}
	}
	return best
}

// MOMM computes the mean of monthly means: every (year, month) bucket is
// averaged, the bucket means are averaged per calendar month, and the final
// value is the mean of the calendar-month averages. This weights each month
// of the year equally regardless of how unevenly the record samples them.
func (s *Series) MOMM() float64 {
	type bucket struct {
		sum float64
		n   int
	}
	buckets := make(map[int]*bucket) // year*100 + month
	for i, v := range s.Values {
		if math.IsNaN(v) {
			continue
		}
		t := s.Timestamps[i]
		key := t.Year()*100 + int(t.Month())
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		b.sum += v
		b.n++
	}
	if len(buckets) == 0 {
		return math.NaN()
	}

	var monthSum [13]float64
	var monthN [13]int
	for key, b := range buckets {
		m := key % 100
		monthSum[m] += b.sum / float64(b.n)
		monthN[m]++
	}
	total := 0.0
	months := 0
	for m := 1; m <= 12; m++ {
		if monthN[m] > 0 {
			total += monthSum[m] / float64(monthN[m])
			months++
		}
	}
	return total / float64(months)
}

// OverlapWindow returns the common period of two series: the later of their
// first valid timestamps through the earlier of their last valid timestamps.
func OverlapWindow(a, b *Series) (time.Time, time.Time, error) {
	aFirst, ok := a.FirstValid()
	if !ok {
		return time.Time{}, time.Time{}, errors.New("series " + a.Name + " has no valid values")
	}
	bFirst, ok := b.FirstValid()
	if !ok {
		return time.Time{}, time.Time{}, errors.New("series " + b.Name + " has no valid values")
	}
	aLast, _ := a.LastValid()
	bLast, _ := b.LastValid()

	start := aFirst
	if bFirst.After(start) {
		start = bFirst
	}
	end := aLast
	if bLast.Before(end) {
		end = bLast
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("series do not overlap")
	}
	return start, end, nil
}
