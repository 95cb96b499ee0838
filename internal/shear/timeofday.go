package shear

import (
	"fmt"
	"math"

	"github.com/brightmast/windassess/internal/log"
	"github.com/brightmast/windassess/pkg/timeseries"
)

// TimeOfDayConfig carries the optional knobs of the TimeOfDay estimator.
type TimeOfDayConfig struct {
	MinSpeed      float64
	ByMonth       bool
	DayStartHour  int
	DailySegments int
}

// TimeOfDay fits a shear exponent per time-of-day segment and calendar
// month. The day is partitioned into DailySegments equal intervals
// starting at DayStartHour; all twelve months are always computed, then
// averaged down to a single column when ByMonth is false.
type TimeOfDay struct {
	Method        CalcMethod
	MinSpeed      float64
	ByMonth       bool
	DayStartHour  int
	DailySegments int

	// SegmentStartHours lists each row's starting hour, ascending.
	SegmentStartHours []int
	// Alpha holds power-law exponents: one row per segment, one column per
	// month (or a single 12-month-average column).
	Alpha [][]float64
	// Slope, Intercept and Roughness hold the log-law grids.
	Slope     [][]float64
	Intercept [][]float64
	Roughness [][]float64

	diags []Diagnostic
}

// NewTimeOfDay fits the per-segment, per-month grid. DailySegments must
// divide 24 evenly.
func NewTimeOfDay(obs *Observations, method CalcMethod, cfg TimeOfDayConfig) (*TimeOfDay, error) {
	if _, err := ParseCalcMethod(string(method)); err != nil {
		return nil, err
	}
	segments := cfg.DailySegments
	if segments == 0 {
		segments = 2
	}
	if segments < 1 || segments > 24 || 24%segments != 0 {
		return nil, fmt.Errorf("shear: daily segments must divide 24 evenly, got %d", segments)
	}
	startHour := ((cfg.DayStartHour % 24) + 24) % 24
	interval := 24 / segments

	t := &TimeOfDay{
		Method:        method,
		MinSpeed:      cfg.MinSpeed,
		ByMonth:       cfg.ByMonth,
		DayStartHour:  startHour,
		DailySegments: segments,
	}

	// Segment rows ordered by starting hour, matching hour-of-day lookup.
	starts := make([]int, segments)
	for i := range starts {
		starts[i] = (startHour + i*interval) % 24
	}
	order := make([]int, segments)
	for i := range order {
		order[i] = i
	}
	for i := 0; i < segments; i++ {
		for j := i + 1; j < segments; j++ {
			if starts[order[j]] < starts[order[i]] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	t.SegmentStartHours = make([]int, segments)
	for i, o := range order {
		t.SegmentStartHours[i] = starts[o]
	}

	grid := func() [][]float64 {
		g := make([][]float64, segments)
		for i := range g {
			g[i] = make([]float64, 12)
			for j := range g[i] {
				g[i][j] = math.NaN()
			}
		}
		return g
	}
	alpha, slope, intercept, roughness := grid(), grid(), grid(), grid()

	anyCell := false
	for month := 1; month <= 12; month++ {
		for row, s := range t.SegmentStartHours {
			sums := make([]float64, len(obs.Heights))
			n := 0
			for i, tm := range obs.Times {
				if int(tm.Month()) != month {
					continue
				}
				if !hourInSegment(tm.Hour(), s, interval) {
					continue
				}
				if !rowAboveMin(obs.Speeds[i], cfg.MinSpeed) {
					continue
				}
				for j, v := range obs.Speeds[i] {
					sums[j] += v
				}
				n++
			}
			if n == 0 {
				continue
			}
			for j := range sums {
				sums[j] /= float64(n)
			}
			anyCell = true
			switch method {
			case PowerLaw:
				alpha[row][month-1], _ = calcPowerLaw(sums, obs.Heights)
			case LogLaw:
				slope[row][month-1], intercept[row][month-1] = calcLogLaw(sums, obs.Heights)
				roughness[row][month-1] = calcRoughness(sums, obs.Heights)
			}
		}
	}
	if !anyCell {
		return nil, ErrInsufficientData
	}

	if !cfg.ByMonth {
		alpha = averageColumns(alpha)
		slope = averageColumns(slope)
		intercept = averageColumns(intercept)
		roughness = averageColumns(roughness)
	}
	switch method {
	case PowerLaw:
		t.Alpha = alpha
	case LogLaw:
		t.Slope = slope
		t.Intercept = intercept
		t.Roughness = roughness
	}
	return t, nil
}

// hourInSegment reports whether hour lies in the wrapping window
// [start, start+interval) mod 24.
func hourInSegment(hour, start, interval int) bool {
	end := (start + interval) % 24
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// averageColumns reduces a 12-column grid to a single 12-month-average
// column, skipping empty cells.
func averageColumns(grid [][]float64) [][]float64 {
	out := make([][]float64, len(grid))
	for i, row := range grid {
		sum := 0.0
		n := 0
		for _, v := range row {
			if !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			out[i] = []float64{math.NaN()}
		} else {
			out[i] = []float64{sum / float64(n)}
		}
	}
	return out
}

// fill24 upsamples a coarse segment grid to 24 hourly rows by repetition,
// preserving each original value across its full interval. Row h of the
// result is the segment covering hour h.
func fill24(grid [][]float64, startHours []int) [][]float64 {
	if len(grid) == 0 {
		return nil
	}
	interval := 24 / len(grid)
	cols := len(grid[0])
	out := make([][]float64, 24)
	for h := range out {
		out[h] = make([]float64, cols)
		for j := range out[h] {
			out[h][j] = math.NaN()
		}
	}
	for i, s := range startHours {
		for k := 0; k < interval; k++ {
			copy(out[(s+k)%24], grid[i])
		}
	}
	return out
}

// Diagnostics returns the non-fatal findings recorded so far.
func (t *TimeOfDay) Diagnostics() []Diagnostic { return t.diags }

// Apply scales a wind-speed series hour by hour and month by month using
// the filled 24x12 grid. The loop over the 288 cells reports through
// opts.Progress when set.
func (t *TimeOfDay) Apply(spds *timeseries.Series, fromHeight, toHeight float64, opts ApplyOptions) (*timeseries.Series, error) {
	if opts.Directions != nil {
		msg := "wind direction will not be accounted for: this estimator's exponents were not calculated by sector"
		t.diags = append(t.diags, Diagnostic{Message: msg})
		log.Warnf("shear: %s", msg)
	}

	var filledAlpha, filledSlope, filledIntercept [][]float64
	switch t.Method {
	case PowerLaw:
		filledAlpha = fill24(t.Alpha, t.SegmentStartHours)
	case LogLaw:
		filledSlope = fill24(t.Slope, t.SegmentStartHours)
		filledIntercept = fill24(t.Intercept, t.SegmentStartHours)
	}

	out := spds.Copy()
	out.Name = spds.Name + "_Scaled"
	const total = 24 * 12
	done := 0
	for hour := 0; hour < 24; hour++ {
		for month := 1; month <= 12; month++ {
			col := 0
			if t.ByMonth {
				col = month - 1
			}
			for i, tm := range out.Timestamps {
				if tm.Hour() != hour || int(tm.Month()) != month {
					continue
				}
				v := out.Values[i]
				if math.IsNaN(v) {
					continue
				}
				switch t.Method {
				case PowerLaw:
					out.Values[i] = scalePower(v, fromHeight, toHeight, filledAlpha[hour][col])
				case LogLaw:
					out.Values[i] = scaleLogSlope(v, fromHeight, toHeight, filledSlope[hour][col], filledIntercept[hour][col])
				}
			}
			done++
			if opts.Progress != nil {
				opts.Progress(done, total)
			}
		}
	}
	return out, nil
}
