// Package shear estimates vertical wind-shear exponents from multi-height
// speed observations and scales wind-speed series between measurement
// heights. Estimator variants form a closed set: each implements Apply, so
// scaling dispatch is checked at compile time instead of by tag strings.
package shear

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/brightmast/windassess/pkg/timeseries"
)

var (
	// ErrInsufficientData is returned when no observation rows survive the
	// minimum-speed filter.
	ErrInsufficientData = errors.New("shear: no wind speeds above the minimum, cannot calculate shear")
	// ErrDirectionRequired is returned when a sector-based estimator is
	// applied without a direction series.
	ErrDirectionRequired = errors.New("shear: a wind direction series is required for sector-based scaling")
	// ErrUnsupported is returned for estimator/method combinations with no
	// defined scaling behavior.
	ErrUnsupported = errors.New("shear: operation not supported by this estimator")
)

// CalcMethod selects the wind profile law used for fitting and scaling.
type CalcMethod string

const (
	// PowerLaw fits v = c * h^alpha.
	PowerLaw CalcMethod = "power_law"
	// LogLaw fits v = slope * ln(h) + intercept.
	LogLaw CalcMethod = "log_law"
)

// ParseCalcMethod validates a calculation method name. Invalid names fail
// fast at construction time.
func ParseCalcMethod(s string) (CalcMethod, error) {
	switch CalcMethod(s) {
	case PowerLaw, LogLaw:
		return CalcMethod(s), nil
	}
	return "", fmt.Errorf("shear: invalid calculation method %q, expected %q or %q", s, PowerLaw, LogLaw)
}

// ProgressFunc reports deterministic progress through a long-running
// scaling loop. It is a UI hook; correctness never depends on it.
type ProgressFunc func(done, total int)

// Diagnostic is a structured non-fatal finding surfaced during estimation
// or scaling.
type Diagnostic struct {
	Message string
}

// Observations is a multi-height speed matrix: one row per timestamp, one
// column per measurement height.
type Observations struct {
	Times   []time.Time
	Speeds  [][]float64 // Speeds[i][j] is the speed at Times[i], Heights[j]
	Heights []float64
}

// NewObservations intersects per-height series on their timestamps,
// dropping any row where a height is missing.
func NewObservations(series []*timeseries.Series, heights []float64) (*Observations, error) {
	if len(series) < 2 {
		return nil, errors.New("shear: at least two measurement heights are required")
	}
	if len(series) != len(heights) {
		return nil, errors.New("shear: series and heights must have the same length")
	}

	counts := make(map[int64]int)
	values := make(map[int64][]float64)
	for j, s := range series {
		for i, v := range s.Values {
			if math.IsNaN(v) {
				continue
			}
			key := s.Timestamps[i].Unix()
			row, ok := values[key]
			if !ok {
				row = make([]float64, len(series))
				values[key] = row
			}
			row[j] = v
			counts[key]++
		}
	}

	keys := make([]int64, 0, len(counts))
	for k, n := range counts {
		if n == len(series) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	obs := &Observations{
		Times:   make([]time.Time, len(keys)),
		Speeds:  make([][]float64, len(keys)),
		Heights: append([]float64(nil), heights...),
	}
	for i, k := range keys {
		obs.Times[i] = time.Unix(k, 0).UTC()
		obs.Speeds[i] = values[k]
	}
	return obs, nil
}

// Len returns the number of observation rows.
func (o *Observations) Len() int { return len(o.Times) }

// rowAboveMin reports whether every height of a row exceeds minSpeed.
func rowAboveMin(row []float64, minSpeed float64) bool {
	for _, v := range row {
		if !(v > minSpeed) {
			return false
		}
	}
	return true
}

// columnMeans averages qualifying rows column-wise. The returned count is
// the number of rows that qualified.
func columnMeans(obs *Observations, minSpeed float64) ([]float64, int) {
	sums := make([]float64, len(obs.Heights))
	n := 0
	for _, row := range obs.Speeds {
		if !rowAboveMin(row, minSpeed) {
			continue
		}
		for j, v := range row {
			sums[j] += v
		}
		n++
	}
	if n == 0 {
		return nil, 0
	}
	for j := range sums {
		sums[j] /= float64(n)
	}
	return sums, n
}

// calcPowerLaw derives the power-law exponent from speeds at two or more
// heights: a linear regression of log(speed) on log(height). The exponent
// is the slope and the coefficient exp(intercept).
func calcPowerLaw(speeds, heights []float64) (alpha, coeff float64) {
	logH := make([]float64, len(heights))
	logV := make([]float64, len(speeds))
	for i := range heights {
		logH[i] = math.Log(heights[i])
		logV[i] = math.Log(speeds[i])
	}
	intercept, slope := stat.LinearRegression(logH, logV, nil, false)
	return slope, math.Exp(intercept)
}

// calcLogLaw fits v = slope*ln(h) + intercept.
func calcLogLaw(speeds, heights []float64) (slope, intercept float64) {
	logH := make([]float64, len(heights))
	for i := range heights {
		logH[i] = math.Log(heights[i])
	}
	intercept, slope = stat.LinearRegression(logH, speeds, nil, false)
	return slope, intercept
}

// calcRoughness derives the surface roughness length from the pairwise
// intersections of adjacent log profiles, averaged. Degenerate pairs
// (equal speeds) are skipped.
func calcRoughness(speeds, heights []float64) float64 {
	v := append([]float64(nil), speeds...)
	h := append([]float64(nil), heights...)
	sort.Float64s(v)
	sort.Float64s(h)

	sum := 0.0
	n := 0
	for i := 0; i < len(v)-1; i++ {
		if v[i] == v[i+1] {
			continue
		}
		r := math.Exp((v[i]*math.Log(h[i+1]) - v[i+1]*math.Log(h[i])) / (v[i] - v[i+1]))
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		sum += r
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// scalePower scales a speed from one height to another with a power-law
// exponent.
func scalePower(speed, fromHeight, toHeight, alpha float64) float64 {
	return speed * math.Pow(toHeight/fromHeight, alpha)
}

// scaleLogRoughness scales with the logarithmic profile expressed through a
// roughness length.
func scaleLogRoughness(speed, fromHeight, toHeight, roughness float64) float64 {
	return speed * math.Log(toHeight/roughness) / math.Log(fromHeight/roughness)
}

// scaleLogSlope scales with a fitted log profile (slope/intercept),
// preserving each observation's relative deviation from the profile.
func scaleLogSlope(speed, fromHeight, toHeight, slope, intercept float64) float64 {
	graph := slope*math.Log(fromHeight) + intercept
	errFrac := -(graph - speed) / graph
	scaledGraph := slope*math.Log(toHeight) + intercept
	return scaledGraph + errFrac*scaledGraph
}

// Scale scales a wind-speed series from one height to another with an
// explicit power-law exponent, without an estimator.
func Scale(spds *timeseries.Series, alpha, fromHeight, toHeight float64) *timeseries.Series {
	out := spds.Copy()
	out.Name = spds.Name + "_Scaled"
	for i, v := range out.Values {
		if math.IsNaN(v) {
			continue
		}
		out.Values[i] = scalePower(v, fromHeight, toHeight, alpha)
	}
	return out
}

// ApplyOptions carries the optional inputs to Estimator.Apply.
type ApplyOptions struct {
	// Directions is required by sector-based estimators and ignored (with a
	// diagnostic) by the others.
	Directions *timeseries.Series
	// Progress, when set, is called as long scaling loops advance.
	Progress ProgressFunc
}

// Estimator is the closed set of shear estimator variants. Each variant
// scales a wind-speed series between heights with the parameters it fitted.
type Estimator interface {
	Apply(spds *timeseries.Series, fromHeight, toHeight float64, opts ApplyOptions) (*timeseries.Series, error)
}
