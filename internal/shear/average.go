package shear

import (
	"math"

	"github.com/brightmast/windassess/internal/log"
	"github.com/brightmast/windassess/pkg/timeseries"
)

// Average fits a single shear exponent (or log profile) from the
// column-wise mean of all qualifying observation rows.
type Average struct {
	Method   CalcMethod
	MinSpeed float64

	// Power law parameters.
	Alpha       float64
	Coefficient float64

	// Log law parameters.
	Slope     float64
	Intercept float64
	Roughness float64

	diags []Diagnostic
}

// NewAverage filters to rows where every height exceeds minSpeed, averages
// them column-wise, and fits the chosen profile law to the mean profile.
func NewAverage(obs *Observations, method CalcMethod, minSpeed float64) (*Average, error) {
	if _, err := ParseCalcMethod(string(method)); err != nil {
		return nil, err
	}
	means, n := columnMeans(obs, minSpeed)
	if n == 0 {
		return nil, ErrInsufficientData
	}

	a := &Average{Method: method, MinSpeed: minSpeed}
	switch method {
	case PowerLaw:
		a.Alpha, a.Coefficient = calcPowerLaw(means, obs.Heights)
	case LogLaw:
		a.Slope, a.Intercept = calcLogLaw(means, obs.Heights)
		a.Roughness = calcRoughness(means, obs.Heights)
	}
	return a, nil
}

// Diagnostics returns the non-fatal findings recorded so far.
func (a *Average) Diagnostics() []Diagnostic { return a.diags }

// Apply scales a wind-speed series from one height to another using the
// fitted profile. A supplied direction series is ignored with a warning:
// this estimator's exponent was not calculated by sector.
func (a *Average) Apply(spds *timeseries.Series, fromHeight, toHeight float64, opts ApplyOptions) (*timeseries.Series, error) {
	if opts.Directions != nil {
		msg := "wind direction will not be accounted for: this estimator's exponents were not calculated by sector"
		a.diags = append(a.diags, Diagnostic{Message: msg})
		log.Warnf("shear: %s", msg)
	}

	out := spds.Copy()
	out.Name = spds.Name + "_Scaled"
	for i, v := range out.Values {
		if math.IsNaN(v) {
			continue
		}
		switch a.Method {
		case PowerLaw:
			out.Values[i] = scalePower(v, fromHeight, toHeight, a.Alpha)
		case LogLaw:
			out.Values[i] = scaleLogRoughness(v, fromHeight, toHeight, a.Roughness)
		}
	}
	return out, nil
}
