// Package correl fits predictive relationships between a reference and a
// target wind-speed series and synthesizes long-term estimates at the
// target. Models share a period-aligned dataset built at construction;
// fitting happens in Run, and fitted parameters are immutable typed records
// until the next Run.
package correl

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/brightmast/windassess/internal/align"
	"github.com/brightmast/windassess/pkg/timeseries"
)

var (
	// ErrNotFitted is returned when parameters are read before Run.
	ErrNotFitted = errors.New("correl: model has not been run")
	// ErrInsufficientData is returned when too few qualifying points remain
	// after alignment and filtering to fit the model.
	ErrInsufficientData = errors.New("correl: not enough qualifying data points")
	// ErrUnsupported is returned for operations a model variant does not
	// implement, such as scatter plots of a multi-predictor fit.
	ErrUnsupported = errors.New("correl: operation not supported by this model")
)

// DefaultCoverageThreshold filters out averaging periods with less than 90%
// of their expected raw samples.
const DefaultCoverageThreshold = 0.9

// Plotter is the external plotting collaborator. The toolkit computes the
// arrays; rendering is someone else's problem.
type Plotter interface {
	Scatter(x, y, predicted []float64, xLabel, yLabel string) error
}

// DiagLevel classifies a diagnostic event.
type DiagLevel int

const (
	DiagInfo DiagLevel = iota
	DiagWarning
)

// Diagnostic is a structured non-fatal finding surfaced during fitting,
// e.g. a low-coverage overlap. Computation proceeds; the caller is put on
// notice.
type Diagnostic struct {
	Level   DiagLevel
	Message string
}

// LinearFit is the fitted parameter record of a single-predictor linear
// model: target = Slope*reference + Offset.
type LinearFit struct {
	RunID         string
	Slope         float64
	Offset        float64
	R2            float64
	NumDataPoints int
}

// base is the shared correlation scaffold: the aligned dataset plus the
// original raw series needed for synthesis over the full reference history.
type base struct {
	refSpd *timeseries.Series
	tarSpd *timeseries.Series
	period align.Period
	data   *align.Dataset
	diags  []Diagnostic
}

func newBase(refSpd, tarSpd *timeseries.Series, period string, coverageThreshold float64, refDir, tarDir *timeseries.Series) (*base, error) {
	p, err := align.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	ds, err := align.Merge(refSpd, tarSpd, p, align.MergeOptions{
		RefDir:            refDir,
		TarDir:            tarDir,
		CoverageThreshold: coverageThreshold,
	})
	if err != nil {
		return nil, err
	}
	return &base{
		refSpd: refSpd,
		tarSpd: tarSpd,
		period: p,
		data:   ds,
	}, nil
}

// Data exposes the aligned dataset the model was fitted on.
func (b *base) Data() *align.Dataset { return b.data }

// Diagnostics returns the non-fatal findings recorded so far.
func (b *base) Diagnostics() []Diagnostic { return b.diags }

func (b *base) addDiag(level DiagLevel, msg string) {
	b.diags = append(b.diags, Diagnostic{Level: level, Message: msg})
}

// rSquared computes 1 - SSres/SStot of predicted against the aligned
// target. A target with zero variance has no explainable spread, so the
// score is defined as NaN rather than letting 0/0 leak through.
func (b *base) rSquared(predicted []float64) float64 {
	mean := 0.0
	for _, y := range b.data.TarSpd {
		mean += y
	}
	if len(b.data.TarSpd) == 0 {
		return math.NaN()
	}
	mean /= float64(len(b.data.TarSpd))

	var ssRes, ssTot float64
	for i, y := range b.data.TarSpd {
		ssRes += (y - predicted[i]) * (y - predicted[i])
		ssTot += (y - mean) * (y - mean)
	}
	if ssTot == 0 {
		return math.NaN()
	}
	return 1.0 - ssRes/ssTot
}

// synthesize projects the model over the entire reference history averaged
// to the configured period, then overlays actual target observations:
// wherever the target has a real value it is kept, and the prediction fills
// the gaps. Fractional averaging periods that leave reference and target
// bucket grids misaligned produce incorrect overlays; this is a known
// limitation of the combine-first approach.
func (b *base) synthesize(predict func(x []float64) []float64, ext *timeseries.Series) (*timeseries.Series, error) {
	name := b.tarSpd.Name + "_Synthesized"
	if ext != nil {
		out := &timeseries.Series{
			Timestamps: append([]time.Time(nil), ext.Timestamps...),
			Values:     predict(ext.Values),
			Name:       name,
		}
		return out, nil
	}

	refAvg := align.AverageSeries(b.refSpd, b.period, false)
	predicted := predict(refAvg.Values)
	tarAvg := align.AverageSeries(b.tarSpd, b.period, false)

	merged := make(map[time.Time]float64, len(refAvg.Timestamps))
	for i, t := range refAvg.Timestamps {
		merged[t] = predicted[i]
	}
	for i, t := range tarAvg.Timestamps {
		if !math.IsNaN(tarAvg.Values[i]) {
			merged[t] = tarAvg.Values[i]
		}
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

// plot hands the aligned reference, target, and predicted arrays to the
// plotting collaborator.
func (b *base) plot(p Plotter, predict func(x []float64) []float64) error {
	return p.Scatter(b.data.RefSpd, b.data.TarSpd, predict(b.data.RefSpd), b.refSpd.Name, b.tarSpd.Name)
}

// sanitize replaces non-finite values with zero before a least-squares
// solve. Deliberately lenient: sparse gaps should not abort a fit, at the
// documented cost of statistical purity.
func sanitize(vals []float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
		} else {
			out[i] = v
		}
	}
	return out
}
