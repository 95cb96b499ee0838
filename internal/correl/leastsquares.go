package correl

import (
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/brightmast/windassess/internal/log"
	"github.com/brightmast/windassess/pkg/timeseries"
)

// OrdinaryLeastSquares correlates a reference and target wind speed series
// with a vertical-residual linear fit: target = slope*reference + offset.
type OrdinaryLeastSquares struct {
	*base
	fit *LinearFit
}

// NewOrdinaryLeastSquares aligns the two series on the averaging period
// (e.g. "1H", "1M") and prepares the model. coverageThreshold <= 0 disables
// the coverage filter.
func NewOrdinaryLeastSquares(refSpd, tarSpd *timeseries.Series, period string, coverageThreshold float64) (*OrdinaryLeastSquares, error) {
	b, err := newBase(refSpd, tarSpd, period, coverageThreshold, nil, nil)
	if err != nil {
		return nil, err
	}
	return &OrdinaryLeastSquares{base: b}, nil
}

// Run fits the model. The fitted record replaces any previous one.
func (m *OrdinaryLeastSquares) Run() (LinearFit, error) {
	if m.data.Len() < 2 {
		return LinearFit{}, fmt.Errorf("%w: %d aligned periods", ErrInsufficientData, m.data.Len())
	}
	slope, offset := fitLeastSquares(m.data.RefSpd, m.data.TarSpd)
	fit := LinearFit{
		RunID:         uuid.New().String(),
		Slope:         slope,
		Offset:        offset,
		NumDataPoints: m.data.Len(),
	}
	m.fit = &fit
	m.fit.R2 = m.rSquared(m.predict(m.data.RefSpd))
	fit.R2 = m.fit.R2
	log.Debugf("ordinary least squares fit: slope=%.4f offset=%.4f r2=%.4f n=%d",
		fit.Slope, fit.Offset, fit.R2, fit.NumDataPoints)
	return fit, nil
}

// Params returns the fitted record, or ErrNotFitted before the first Run.
func (m *OrdinaryLeastSquares) Params() (LinearFit, error) {
	if m.fit == nil {
		return LinearFit{}, ErrNotFitted
	}
	return *m.fit, nil
}

// R2 returns the goodness of fit of the last Run.
func (m *OrdinaryLeastSquares) R2() (float64, error) {
	if m.fit == nil {
		return 0, ErrNotFitted
	}
	return m.fit.R2, nil
}

func (m *OrdinaryLeastSquares) predict(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = m.fit.Slope*v + m.fit.Offset
	}
	return out
}

// Synthesize predicts the target over the full reference history (or over
// ext when supplied), overlaying actual target observations.
func (m *OrdinaryLeastSquares) Synthesize(ext *timeseries.Series) (*timeseries.Series, error) {
	if m.fit == nil {
		return nil, ErrNotFitted
	}
	return m.synthesize(m.predict, ext)
}

// Plot delegates the fitted scatter to the plotting collaborator.
func (m *OrdinaryLeastSquares) Plot(p Plotter) error {
	if m.fit == nil {
		return ErrNotFitted
	}
	return m.plot(p, m.predict)
}

// OrthogonalLeastSquares fits the same linear form but minimizes
// perpendicular rather than vertical distance to the line. An ordinary
// least-squares solve seeds the iterative orthogonal solver with a stable
// initial guess.
type OrthogonalLeastSquares struct {
	*base
	fit *LinearFit
}

// NewOrthogonalLeastSquares aligns the two series on the averaging period
// and prepares the model.
func NewOrthogonalLeastSquares(refSpd, tarSpd *timeseries.Series, period string, coverageThreshold float64) (*OrthogonalLeastSquares, error) {
	b, err := newBase(refSpd, tarSpd, period, coverageThreshold, nil, nil)
	if err != nil {
		return nil, err
	}
	return &OrthogonalLeastSquares{base: b}, nil
}

// Run seeds from an ordinary least-squares solve, then refines slope and
// offset by minimizing the summed squared orthogonal distances.
func (m *OrthogonalLeastSquares) Run() (LinearFit, error) {
	if m.data.Len() < 2 {
		return LinearFit{}, fmt.Errorf("%w: %d aligned periods", ErrInsufficientData, m.data.Len())
	}
	seedSlope, seedOffset := fitLeastSquares(m.data.RefSpd, m.data.TarSpd)

	x := m.data.RefSpd
	y := m.data.TarSpd
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			slope, offset := p[0], p[1]
			sum := 0.0
			for i := range x {
				r := y[i] - (slope*x[i] + offset)
				sum += r * r
			}
			// Perpendicular distance squared scales the vertical residual
			// by 1/(1+slope^2).
			return sum / (1 + slope*slope)
		},
	}
	result, err := optimize.Minimize(problem, []float64{seedSlope, seedOffset}, nil, &optimize.NelderMead{})
	slope, offset := seedSlope, seedOffset
	if err == nil && result != nil {
		slope, offset = result.X[0], result.X[1]
	} else if err != nil {
		log.Warnf("orthogonal refinement did not converge, keeping least-squares seed: %v", err)
	}

	fit := LinearFit{
		RunID:         uuid.New().String(),
		Slope:         slope,
		Offset:        offset,
		NumDataPoints: m.data.Len(),
	}
	m.fit = &fit
	m.fit.R2 = m.rSquared(m.predict(m.data.RefSpd))
	fit.R2 = m.fit.R2
	log.Debugf("orthogonal least squares fit: slope=%.4f offset=%.4f r2=%.4f n=%d",
		fit.Slope, fit.Offset, fit.R2, fit.NumDataPoints)
	return fit, nil
}

// Params returns the fitted record, or ErrNotFitted before the first Run.
func (m *OrthogonalLeastSquares) Params() (LinearFit, error) {
	if m.fit == nil {
		return LinearFit{}, ErrNotFitted
	}
	return *m.fit, nil
}

func (m *OrthogonalLeastSquares) predict(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = m.fit.Slope*v + m.fit.Offset
	}
	return out
}

// Synthesize predicts the target over the full reference history (or over
// ext when supplied), overlaying actual target observations.
func (m *OrthogonalLeastSquares) Synthesize(ext *timeseries.Series) (*timeseries.Series, error) {
	if m.fit == nil {
		return nil, ErrNotFitted
	}
	return m.synthesize(m.predict, ext)
}

// Plot delegates the fitted scatter to the plotting collaborator.
func (m *OrthogonalLeastSquares) Plot(p Plotter) error {
	if m.fit == nil {
		return ErrNotFitted
	}
	return m.plot(p, m.predict)
}

// fitLeastSquares is the shared single-predictor solve. Non-finite inputs
// are sanitized to zero first.
func fitLeastSquares(x, y []float64) (slope, offset float64) {
	xs := sanitize(x)
	ys := sanitize(y)
	offset, slope = stat.LinearRegression(xs, ys, nil, false)
	return slope, offset
}
