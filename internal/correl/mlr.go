package correl

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/brightmast/windassess/internal/align"
	"github.com/brightmast/windassess/internal/log"
	"github.com/brightmast/windassess/pkg/timeseries"
)

// MultiLinearFit is the fitted parameter record of the multi-predictor
// model: target = sum(Slopes[k]*ref[k]) + Offset.
type MultiLinearFit struct {
	RunID         string
	Slopes        []float64
	Offset        float64
	R2            float64
	NumDataPoints int
}

// MultipleLinearRegression correlates several reference series against one
// target. References are renamed with _1.._K suffixes, inner-joined on the
// period grid, and fitted together by least squares.
type MultipleLinearRegression struct {
	refs   []*timeseries.Series
	tarSpd *timeseries.Series
	period align.Period
	data   *align.MultiDataset
	fit    *MultiLinearFit
	diags  []Diagnostic
}

// NewMultipleLinearRegression aligns the reference list and the target on
// the averaging period and prepares the model.
func NewMultipleLinearRegression(refs []*timeseries.Series, tarSpd *timeseries.Series, period string, coverageThreshold float64) (*MultipleLinearRegression, error) {
	p, err := align.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	ds, err := align.MergeMulti(refs, tarSpd, p, coverageThreshold)
	if err != nil {
		return nil, err
	}
	return &MultipleLinearRegression{
		refs:   refs,
		tarSpd: tarSpd,
		period: p,
		data:   ds,
	}, nil
}

// Data exposes the aligned multi-reference dataset.
func (m *MultipleLinearRegression) Data() *align.MultiDataset { return m.data }

// Diagnostics returns the non-fatal findings recorded so far.
func (m *MultipleLinearRegression) Diagnostics() []Diagnostic { return m.diags }

// Run solves the column-stacked least-squares system. Two collinear
// references make the system near-singular; the QR solve still produces a
// minimum-norm style split between them, which callers should expect.
func (m *MultipleLinearRegression) Run() (MultiLinearFit, error) {
	k := len(m.data.Refs)
	n := m.data.Len()
	if n < k+1 {
		return MultiLinearFit{}, fmt.Errorf("%w: %d aligned periods for %d predictors", ErrInsufficientData, n, k)
	}

	a := mat.NewDense(n, k+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			v := m.data.Refs[j][i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			a.Set(i, j, v)
		}
		a.Set(i, k, 1.0)
	}
	b := mat.NewDense(n, 1, sanitize(m.data.TarSpd))

	var qr mat.QR
	qr.Factorize(a)
	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, b); err != nil {
		return MultiLinearFit{}, fmt.Errorf("least squares solve failed: %w", err)
	}

	fit := MultiLinearFit{
		RunID:         uuid.New().String(),
		Slopes:        make([]float64, k),
		Offset:        sol.At(k, 0),
		NumDataPoints: n,
	}
	for j := 0; j < k; j++ {
		fit.Slopes[j] = sol.At(j, 0)
	}
	m.fit = &fit
	m.fit.R2 = m.r2()
	fit.R2 = m.fit.R2
	log.Debugf("multiple linear regression fit: slopes=%v offset=%.4f r2=%.4f n=%d",
		fit.Slopes, fit.Offset, fit.R2, fit.NumDataPoints)
	return fit, nil
}

// Params returns the fitted record, or ErrNotFitted before the first Run.
func (m *MultipleLinearRegression) Params() (MultiLinearFit, error) {
	if m.fit == nil {
		return MultiLinearFit{}, ErrNotFitted
	}
	return *m.fit, nil
}

// predictRows applies the fitted plane row-wise to column-major reference
// values.
func (m *MultipleLinearRegression) predictRows(refs [][]float64, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v := m.fit.Offset
		for j := range refs {
			v += m.fit.Slopes[j] * refs[j][i]
		}
		out[i] = v
	}
	return out
}

// R2 computes goodness of fit with the multi-column reference selector.
func (m *MultipleLinearRegression) R2() (float64, error) {
	if m.fit == nil {
		return 0, ErrNotFitted
	}
	return m.fit.R2, nil
}

func (m *MultipleLinearRegression) r2() float64 {
	predicted := m.predictRows(m.data.Refs, m.data.Len())
	mean := 0.0
	for _, y := range m.data.TarSpd {
		mean += y
	}
	mean /= float64(len(m.data.TarSpd))
	var ssRes, ssTot float64
	for i, y := range m.data.TarSpd {
		ssRes += (y - predicted[i]) * (y - predicted[i])
		ssTot += (y - mean) * (y - mean)
	}
	if ssTot == 0 {
		return math.NaN()
	}
	return 1.0 - ssRes/ssTot
}

// Synthesize projects the fitted plane over the aligned reference history
// before the correlation window and appends the actual target observations
// over it. With ext supplied it simply predicts over those rows; ext must
// be column-major with one slice per reference.
func (m *MultipleLinearRegression) Synthesize(extRefs [][]float64, extTimes []time.Time) (*timeseries.Series, error) {
	if m.fit == nil {
		return nil, ErrNotFitted
	}
	name := m.tarSpd.Name + "_Synthesized"
	if extRefs != nil {
		if len(extRefs) != len(m.data.Refs) {
			return nil, fmt.Errorf("expected %d reference columns, got %d", len(m.data.Refs), len(extRefs))
		}
		return &timeseries.Series{
			Timestamps: extTimes,
			Values:     m.predictRows(extRefs, len(extTimes)),
			Name:       name,
		}, nil
	}

	merged := make(map[time.Time]float64)
	if m.data.Len() > 0 {
		first := m.data.Times[0]
		avgRefs := make([]*align.Averaged, len(m.refs))
		for j, r := range m.refs {
			avgRefs[j] = align.AverageByPeriod(r, m.period, false)
		}
		// Rows where every reference has a pre-correlation-window value.
		for i, t := range avgRefs[0].Times {
			if !t.Before(first) {
				break
			}
			row := make([]float64, len(avgRefs))
			ok := true
			for j := range avgRefs {
				if j == 0 {
					row[j] = avgRefs[j].Values[i]
					continue
				}
				v, found := lookupAveraged(avgRefs[j], t)
				if !found {
					ok = false
					break
				}
				row[j] = v
			}
			if !ok {
				continue
			}
			v := m.fit.Offset
			for j := range row {
				v += m.fit.Slopes[j] * row[j]
			}
			merged[t] = v
		}
	}
	for i, t := range m.data.Times {
		merged[t] = m.data.TarSpd[i]
	}

	times := make([]time.Time, 0, len(merged))
	for t := range merged {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	out := &timeseries.Series{
		Timestamps: times,
		Values:     make([]float64, len(times)),
		Name:       name,
	}
	for i, t := range times {
		out.Values[i] = merged[t]
	}
	return out, nil
}

func lookupAveraged(a *align.Averaged, t time.Time) (float64, bool) {
	idx := sort.Search(len(a.Times), func(i int) bool { return !a.Times[i].Before(t) })
	if idx < len(a.Times) && a.Times[idx].Equal(t) {
		return a.Values[idx], true
	}
	return 0, false
}

// Plot is not applicable: no 2-D scatter exists for more than one
// predictor.
func (m *MultipleLinearRegression) Plot(p Plotter) error {
	return ErrUnsupported
}
