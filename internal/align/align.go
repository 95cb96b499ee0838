// Package align merges irregularly sampled measurement series onto a common
// calendar averaging period, applying a minimum-coverage filter. It is the
// data-preparation step in front of every correlation model.
package align

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/brightmast/windassess/pkg/direction"
	"github.com/brightmast/windassess/pkg/timeseries"
)

// Unit is a calendar bucketing unit.
type Unit int

const (
	Minute Unit = iota
	Hour
	Day
	Week
	Month
	Year
)

// Period is a calendar averaging period, e.g. {10, Minute} or {1, Month}.
type Period struct {
	N    int
	Unit Unit
}

// ParsePeriod parses period specifiers of the form "10min", "1H", "3H",
// "1D", "1W", "1M", "1A".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n < 1 {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	var unit Unit
	switch strings.ToUpper(s[i:]) {
	case "MIN", "T":
		unit = Minute
	case "H":
		unit = Hour
	case "D":
		unit = Day
	case "W":
		unit = Week
	case "M", "MS":
		unit = Month
	case "A", "AS", "Y":
		unit = Year
	default:
		return Period{}, fmt.Errorf("invalid period unit in %q", s)
	}
	return Period{N: n, Unit: unit}, nil
}

func (p Period) String() string {
	suffix := map[Unit]string{Minute: "min", Hour: "H", Day: "D", Week: "W", Month: "M", Year: "A"}[p.Unit]
	return fmt.Sprintf("%d%s", p.N, suffix)
}

// Truncate returns the start of the bucket containing t. Bucket boundaries
// are anchored at midnight for sub-daily units, at Monday for weeks, and at
// calendar month/year starts.
func (p Period) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch p.Unit {
	case Minute:
		step := time.Duration(p.N) * time.Minute
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return midnight.Add(t.Sub(midnight) / step * step)
	case Hour:
		step := time.Duration(p.N) * time.Hour
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return midnight.Add(t.Sub(midnight) / step * step)
	case Day:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if p.N > 1 {
			epoch := time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC) // a Monday
			days := int(day.Sub(epoch).Hours() / 24)
			days -= ((days % p.N) + p.N) % p.N
			return epoch.AddDate(0, 0, days)
		}
		return day
	case Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday-anchored
		week := day.AddDate(0, 0, -offset)
		if p.N > 1 {
			epoch := time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC)
			weeks := int(week.Sub(epoch).Hours() / (24 * 7))
			weeks -= ((weeks % p.N) + p.N) % p.N
			return epoch.AddDate(0, 0, weeks*7)
		}
		return week
	case Month:
		month := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		if p.N > 1 {
			m := (int(t.Month()) - 1) / p.N * p.N
			return time.Date(t.Year(), time.Month(m+1), 1, 0, 0, 0, 0, time.UTC)
		}
		return month
	case Year:
		y := t.Year()
		if p.N > 1 {
			y -= y % p.N
		}
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Next returns the start of the bucket following the one starting at start.
func (p Period) Next(start time.Time) time.Time {
	switch p.Unit {
	case Minute:
		return start.Add(time.Duration(p.N) * time.Minute)
	case Hour:
		return start.Add(time.Duration(p.N) * time.Hour)
	case Day:
		return start.AddDate(0, 0, p.N)
	case Week:
		return start.AddDate(0, 0, 7*p.N)
	case Month:
		return start.AddDate(0, p.N, 0)
	case Year:
		return start.AddDate(p.N, 0, 0)
	}
	return start
}

// Averaged is one side of a merge: per-bucket aggregate values and the
// fraction of expected raw samples each bucket actually contained.
type Averaged struct {
	Times    []time.Time
	Values   []float64
	Coverage []float64
}

// AverageByPeriod aggregates a series into period buckets. Speed-like
// quantities use the arithmetic mean; set circular to average directions as
// vectors instead. Coverage is the valid-sample count over the count
// expected from the series' native resolution.
func AverageByPeriod(s *timeseries.Series, p Period, circular bool) *Averaged {
	res := s.Resolution()
	groups := make(map[time.Time][]float64)
	for i, v := range s.Values {
		if math.IsNaN(v) {
			continue
		}
		key := p.Truncate(s.Timestamps[i])
		groups[key] = append(groups[key], v)
	}
	times := make([]time.Time, 0, len(groups))
	for t := range groups {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	out := &Averaged{
		Times:    times,
		Values:   make([]float64, len(times)),
		Coverage: make([]float64, len(times)),
	}
	for i, t := range times {
		vals := groups[t]
		if circular {
			out.Values[i] = direction.CircularMean(vals)
		} else {
			sum := 0.0
			for _, v := range vals {
				sum += v
			}
			out.Values[i] = sum / float64(len(vals))
		}
		expected := 1.0
		if res > 0 {
			expected = float64(p.Next(t).Sub(t)) / float64(res)
		}
		cov := float64(len(vals)) / expected
		if cov > 1 {
			cov = 1
		}
		out.Coverage[i] = cov
	}
	return out
}

// AverageSeries is AverageByPeriod repackaged as a Series, used when
// projecting a fitted model over a full reference history.
func AverageSeries(s *timeseries.Series, p Period, circular bool) *timeseries.Series {
	avg := AverageByPeriod(s, p, circular)
	return &timeseries.Series{
		Timestamps: avg.Times,
		Values:     avg.Values,
		Name:       s.Name,
	}
}

// Dataset is the aligned result of merging a reference and a target series
// (plus optional directions) onto a shared period grid. Every row has
// non-missing values for all requested columns and meets the coverage
// thresholds of its side.
type Dataset struct {
	Times  []time.Time
	RefSpd []float64
	TarSpd []float64
	RefDir []float64 // nil when no reference direction was supplied
	TarDir []float64 // nil when no target direction was supplied
}

// Len returns the number of aligned rows.
func (d *Dataset) Len() int { return len(d.Times) }

// MergeOptions carries the optional inputs to Merge.
type MergeOptions struct {
	RefDir            *timeseries.Series
	TarDir            *timeseries.Series
	CoverageThreshold float64 // applied to both sides; <= 0 disables the filter
}

// Merge aligns a reference and target speed series (plus optional direction
// series) onto the given averaging period. A period row survives only if
// both sides have an aggregate value and both meet the coverage threshold.
func Merge(refSpd, tarSpd *timeseries.Series, p Period, opts MergeOptions) (*Dataset, error) {
	if refSpd == nil || tarSpd == nil {
		return nil, errors.New("align: reference and target series are required")
	}
	ref := AverageByPeriod(refSpd, p, false)
	tar := AverageByPeriod(tarSpd, p, false)

	var refDir, tarDir *Averaged
	if opts.RefDir != nil {
		refDir = AverageByPeriod(opts.RefDir, p, true)
	}
	if opts.TarDir != nil {
		tarDir = AverageByPeriod(opts.TarDir, p, true)
	}

	type row struct {
		spd, dir, cov float64
		hasDir        bool
	}
	index := func(a, d *Averaged) map[time.Time]row {
		m := make(map[time.Time]row, len(a.Times))
		for i, t := range a.Times {
			r := row{spd: a.Values[i], cov: a.Coverage[i], dir: math.NaN()}
			m[t] = r
		}
		if d != nil {
			for i, t := range d.Times {
				if r, ok := m[t]; ok {
					r.dir = d.Values[i]
					r.hasDir = true
					m[t] = r
				}
			}
		}
		return m
	}
	refIdx := index(ref, refDir)
	tarIdx := index(tar, tarDir)

	ds := &Dataset{}
	if refDir != nil {
		ds.RefDir = []float64{}
	}
	if tarDir != nil {
		ds.TarDir = []float64{}
	}
	for _, t := range ref.Times {
		r, ok := refIdx[t]
		if !ok {
			continue
		}
		tg, ok := tarIdx[t]
		if !ok {
			continue
		}
		if math.IsNaN(r.spd) || math.IsNaN(tg.spd) {
			continue
		}
		if opts.CoverageThreshold > 0 && (r.cov < opts.CoverageThreshold || tg.cov < opts.CoverageThreshold) {
			continue
		}
		if refDir != nil && (!r.hasDir || math.IsNaN(r.dir)) {
			continue
		}
		if tarDir != nil && (!tg.hasDir || math.IsNaN(tg.dir)) {
			continue
		}
		ds.Times = append(ds.Times, t)
		ds.RefSpd = append(ds.RefSpd, r.spd)
		ds.TarSpd = append(ds.TarSpd, tg.spd)
		if refDir != nil {
			ds.RefDir = append(ds.RefDir, r.dir)
		}
		if tarDir != nil {
			ds.TarDir = append(ds.TarDir, tg.dir)
		}
	}
	return ds, nil
}

// MultiDataset aligns several reference series against one target, used by
// the multiple linear regression model. Refs is column-major: Refs[k][i] is
// reference k at row i.
type MultiDataset struct {
	Times    []time.Time
	RefNames []string
	Refs     [][]float64
	TarSpd   []float64
}

// Len returns the number of aligned rows.
func (d *MultiDataset) Len() int { return len(d.Times) }

// MergeMulti aligns K reference series and a target onto the period grid.
// A row survives only when every reference column and the target have an
// aggregate value meeting the coverage threshold.
func MergeMulti(refs []*timeseries.Series, tar *timeseries.Series, p Period, coverageThreshold float64) (*MultiDataset, error) {
	if len(refs) == 0 {
		return nil, errors.New("align: at least one reference series is required")
	}
	if tar == nil {
		return nil, errors.New("align: target series is required")
	}
	avgRefs := make([]*Averaged, len(refs))
	names := make([]string, len(refs))
	for k, r := range refs {
		avgRefs[k] = AverageByPeriod(r, p, false)
		// Disambiguate duplicate column names the way the inner join expects.
		names[k] = fmt.Sprintf("%s_%d", r.Name, k+1)
	}
	avgTar := AverageByPeriod(tar, p, false)

	type cell struct {
		v, cov float64
	}
	idx := make([]map[time.Time]cell, len(avgRefs))
	for k, a := range avgRefs {
		idx[k] = make(map[time.Time]cell, len(a.Times))
		for i, t := range a.Times {
			idx[k][t] = cell{a.Values[i], a.Coverage[i]}
		}
	}
	tarIdx := make(map[time.Time]cell, len(avgTar.Times))
	for i, t := range avgTar.Times {
		tarIdx[t] = cell{avgTar.Values[i], avgTar.Coverage[i]}
	}

	ds := &MultiDataset{
		RefNames: names,
		Refs:     make([][]float64, len(refs)),
	}
	for _, t := range avgRefs[0].Times {
		tg, ok := tarIdx[t]
		if !ok || math.IsNaN(tg.v) {
			continue
		}
		if coverageThreshold > 0 && tg.cov < coverageThreshold {
			continue
		}
		rowVals := make([]float64, len(refs))
		keep := true
		for k := range refs {
			c, ok := idx[k][t]
			if !ok || math.IsNaN(c.v) || (coverageThreshold > 0 && c.cov < coverageThreshold) {
				keep = false
				break
			}
			rowVals[k] = c.v
		}
		if !keep {
			continue
		}
		ds.Times = append(ds.Times, t)
		for k := range refs {
			ds.Refs[k] = append(ds.Refs[k], rowVals[k])
		}
		ds.TarSpd = append(ds.TarSpd, tg.v)
	}
	return ds, nil
}
