package correl

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/brightmast/windassess/internal/align"
	"github.com/brightmast/windassess/internal/log"
	"github.com/brightmast/windassess/pkg/direction"
	"github.com/brightmast/windassess/pkg/timeseries"
)

// SpeedSortConfig carries the optional knobs of the SpeedSort model.
type SpeedSortConfig struct {
	// CoverageThreshold filters averaging periods; <= 0 disables.
	CoverageThreshold float64
	// Sectors is the number of equal-width direction sectors (default 12).
	// Ignored when DirectionBinEdges is set.
	Sectors int
	// DirectionBinEdges optionally gives explicit ascending bin edges, e.g.
	// [0, 120, 215, 360].
	DirectionBinEdges []float64
	// LTRefSpeed overrides the long-term reference speed normally computed
	// as the mean of monthly means over the reference's full history.
	LTRefSpeed float64
	// Rand is the source used to randomize calm-period directions. A nil
	// source gets a non-deterministic seed.
	Rand *rand.Rand
}

// SectorResult holds the fitted line and veer statistics of one direction
// sector.
type SectorResult struct {
	Sector            int // 1-based sector number
	Slope             float64
	Offset            float64
	TargetCutoff      float64
	NumPtsForSpeedFit int
	NumTotalPts       int
	AverageVeer       float64
	NumPtsForVeer     int
}

// SpeedSortResult is the fitted parameter record of the SpeedSort model.
type SpeedSortResult struct {
	RunID            string
	RefSpeedCutoff   float64
	RefVeerCutoff    float64
	TargetVeerCutoff float64
	OverallVeer      float64
	Sectors          []SectorResult
}

// sectorSpeedModel is the per-sector rank-matched line fit. The reference
// and target speeds are sorted independently and matched by rank, not by
// timestamp; this is the published SpeedSort method, not an accident.
type sectorSpeedModel struct {
	slope, offset float64
	targetCutoff  float64
	dataPts       int
}

func fitSectorSpeedModel(refSpds, tarSpds []float64, cutoff float64) (*sectorSpeedModel, error) {
	xs := append([]float64(nil), refSpds...)
	ys := append([]float64(nil), tarSpds...)
	sort.Float64s(xs)
	sort.Float64s(ys)

	// Drop ranks below the reference cutoff. When no reference speed
	// reaches the cutoff nothing is dropped, mirroring the source method.
	start := 0
	for i, v := range xs {
		if v >= cutoff {
			start = i
			break
		}
	}
	xs = xs[start:]
	ys = ys[start:]
	if len(xs) < 2 {
		return nil, fmt.Errorf("%w: %d points above cutoff %.2f", ErrInsufficientData, len(xs), cutoff)
	}

	// Two-point-of-means fit: a line through the centroids of the lower and
	// upper halves, robust to outliers in rank-matched data.
	mid := len(xs) / 2
	xMean1 := mean(xs[:mid])
	xMean2 := mean(xs[mid:])
	yMean1 := mean(ys[:mid])
	yMean2 := mean(ys[mid:])
	if xMean2 == xMean1 {
		return nil, fmt.Errorf("%w: degenerate reference speeds in sector", ErrInsufficientData)
	}
	m := &sectorSpeedModel{
		targetCutoff: ys[0],
		dataPts:      len(xs),
	}
	m.slope = (yMean2 - yMean1) / (xMean2 - xMean1)
	m.offset = yMean1 - xMean1*m.slope
	return m, nil
}

func (m *sectorSpeedModel) predict(spd float64) float64 {
	return m.slope*spd + m.offset
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// SpeedSort correlates two wind speed and direction series using the
// SpeedSort method (King & Hurley, Wind Engineering 29(3), 2005): a
// per-sector rank-matched line fit with veer correction.
type SpeedSort struct {
	*base
	refDirSeries *timeseries.Series
	tarDirSeries *timeseries.Series
	binner       *direction.Binner
	bins         []int

	ltRefSpeed   float64
	cutoff       float64
	refVeerCut   float64
	tarVeerCut   float64
	overallVeer  float64
	sectorModels map[int]*sectorSpeedModel
	result       *SpeedSortResult
}

// NewSpeedSort aligns speeds and directions on the averaging period and
// performs the directional pre-processing: calm-period randomization, veer
// cutoffs, overall veer, the low-reference-speed direction correction, and
// sector binning.
func NewSpeedSort(refSpd, refDir, tarSpd, tarDir *timeseries.Series, period string, cfg SpeedSortConfig) (*SpeedSort, error) {
	if refDir == nil || tarDir == nil {
		return nil, errors.New("correl: SpeedSort requires reference and target direction series")
	}
	b, err := newBase(refSpd, tarSpd, period, cfg.CoverageThreshold, refDir, tarDir)
	if err != nil {
		return nil, err
	}

	var binner *direction.Binner
	if cfg.DirectionBinEdges != nil {
		binner, err = direction.NewBinnerWithEdges(cfg.DirectionBinEdges)
	} else {
		sectors := cfg.Sectors
		if sectors == 0 {
			sectors = 12
		}
		binner, err = direction.NewBinner(sectors)
	}
	if err != nil {
		return nil, err
	}

	m := &SpeedSort{
		base:         b,
		refDirSeries: refDir,
		tarDirSeries: tarDir,
		binner:       binner,
		sectorModels: make(map[int]*sectorSpeedModel),
	}
	if cfg.LTRefSpeed > 0 {
		m.ltRefSpeed = cfg.LTRefSpeed
	} else {
		m.ltRefSpeed = refSpd.MOMM()
	}
	m.cutoff = math.Min(0.5*m.ltRefSpeed, 4.0)
	m.refVeerCut = veerCutoff(mean(m.data.RefSpd))
	m.tarVeerCut = veerCutoff(mean(m.data.TarSpd))

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	m.randomizeCalmPeriods(rng)
	m.computeOverallVeer()
	m.adjustLowReferenceSpeedDir()
	m.binAndFilter()
	return m, nil
}

// veerCutoff is the minimum speed above which a direction reading is
// trusted for veer statistics.
func veerCutoff(meanSpeed float64) float64 {
	return 0.5 * (6.0 + 0.5*meanSpeed)
}

// randomizeCalmPeriods replaces the direction of calm periods (speed < 1)
// with a uniform random angle. Calm-wind vanes read noise; randomizing
// removes the spurious directional bias a stuck vane would introduce.
func (m *SpeedSort) randomizeCalmPeriods(rng *rand.Rand) {
	for i := range m.data.Times {
		if m.data.RefSpd[i] < 1 {
			m.data.RefDir[i] = 360.0 * rng.Float64()
		}
		if m.data.TarSpd[i] < 1 {
			m.data.TarDir[i] = 360.0 * rng.Float64()
		}
	}
}

// computeOverallVeer averages veer over periods where both sides exceed
// their veer cutoffs.
func (m *SpeedSort) computeOverallVeer() {
	sum := 0.0
	n := 0
	for i := range m.data.Times {
		if m.data.RefSpd[i] >= m.refVeerCut && m.data.TarSpd[i] >= m.tarVeerCut {
			sum += direction.Veer(m.data.RefDir[i], m.data.TarDir[i])
			n++
		}
	}
	if n == 0 {
		m.overallVeer = math.NaN()
		return
	}
	m.overallVeer = sum / float64(n)
}

// adjustLowReferenceSpeedDir overwrites the reference direction where the
// reference is nearly calm but the target is much faster, a physically
// inconsistent pairing that points to a bad reference vane reading. The
// replacement is the target direction backed off by the overall veer.
func (m *SpeedSort) adjustLowReferenceSpeedDir() {
	for i := range m.data.Times {
		if m.data.RefSpd[i] < 2 && m.data.TarSpd[i] > m.data.RefSpd[i]+4 {
			m.data.RefDir[i] = direction.Wrap360(m.data.TarDir[i] - m.overallVeer)
		}
	}
}

// binAndFilter assigns each row to a reference direction sector and drops
// rows that land in no bin.
func (m *SpeedSort) binAndFilter() {
	filtered := &align.Dataset{}
	var bins []int
	for i := range m.data.Times {
		idx, ok := m.binner.Bin(m.data.RefDir[i])
		if !ok {
			continue
		}
		filtered.Times = append(filtered.Times, m.data.Times[i])
		filtered.RefSpd = append(filtered.RefSpd, m.data.RefSpd[i])
		filtered.TarSpd = append(filtered.TarSpd, m.data.TarSpd[i])
		filtered.RefDir = append(filtered.RefDir, m.data.RefDir[i])
		filtered.TarDir = append(filtered.TarDir, m.data.TarDir[i])
		bins = append(bins, idx)
	}
	m.data = filtered
	m.bins = bins
}

// Binner exposes the sector scheme the model was fitted with.
func (m *SpeedSort) Binner() *direction.Binner { return m.binner }

// Run fits a rank-matched line per direction sector and collects the veer
// statistics. The fitted record replaces any previous one.
func (m *SpeedSort) Run() (SpeedSortResult, error) {
	res := SpeedSortResult{
		RunID:            uuid.New().String(),
		RefSpeedCutoff:   m.cutoff,
		RefVeerCutoff:    m.refVeerCut,
		TargetVeerCutoff: m.tarVeerCut,
		OverallVeer:      m.overallVeer,
	}
	models := make(map[int]*sectorSpeedModel)

	for sector := 0; sector < m.binner.Sectors(); sector++ {
		var refSpds, tarSpds []float64
		var veerSum float64
		veerN := 0
		for i, b := range m.bins {
			if b != sector {
				continue
			}
			refSpds = append(refSpds, m.data.RefSpd[i])
			tarSpds = append(tarSpds, m.data.TarSpd[i])
			if m.data.RefSpd[i] >= m.refVeerCut && m.data.TarSpd[i] >= m.tarVeerCut {
				veerSum += direction.Veer(m.data.RefDir[i], m.data.TarDir[i])
				veerN++
			}
		}
		if len(refSpds) == 0 {
			continue
		}
		model, err := fitSectorSpeedModel(refSpds, tarSpds, m.cutoff)
		if err != nil {
			return SpeedSortResult{}, fmt.Errorf("sector %d: %w", sector+1, err)
		}
		models[sector] = model
		sr := SectorResult{
			Sector:            sector + 1,
			Slope:             model.slope,
			Offset:            model.offset,
			TargetCutoff:      model.targetCutoff,
			NumPtsForSpeedFit: model.dataPts,
			NumTotalPts:       len(refSpds),
			AverageVeer:       math.NaN(),
			NumPtsForVeer:     veerN,
		}
		if veerN > 0 {
			sr.AverageVeer = veerSum / float64(veerN)
		}
		res.Sectors = append(res.Sectors, sr)
	}
	if len(models) == 0 {
		return SpeedSortResult{}, fmt.Errorf("%w: no populated direction sectors", ErrInsufficientData)
	}
	m.sectorModels = models
	m.result = &res
	log.Debugf("speedsort fit: cutoff=%.2f overall_veer=%.2f sectors=%d", m.cutoff, m.overallVeer, len(models))
	return res, nil
}

// Params returns the fitted record, or ErrNotFitted before the first Run.
func (m *SpeedSort) Params() (SpeedSortResult, error) {
	if m.result == nil {
		return SpeedSortResult{}, ErrNotFitted
	}
	return *m.result, nil
}

// R2 computes goodness of fit over the aligned dataset using the sector
// line fits.
func (m *SpeedSort) R2() (float64, error) {
	if m.result == nil {
		return 0, ErrNotFitted
	}
	return m.rSquared(m.predict(m.data.RefSpd, m.data.RefDir)), nil
}

// predict bins the input directions by the fitted sector scheme and applies
// each sector's line fit to same-sector speeds. Rows with no usable sector
// produce NaN.
func (m *SpeedSort) predict(spds, dirs []float64) []float64 {
	out := make([]float64, len(spds))
	for i := range spds {
		sector, ok := m.binner.Bin(dirs[i])
		if !ok {
			out[i] = math.NaN()
			continue
		}
		model, ok := m.sectorModels[sector]
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = model.predict(spds[i])
	}
	return out
}

// predictDir interpolates veer linearly between adjacent sector midpoints
// based on the input direction's fractional position, wrapping the first
// sector's veer to close the circle, then adds the interpolated veer to
// the input direction.
func (m *SpeedSort) predictDir(dirs []float64) []float64 {
	mids := m.binner.Midpoints()
	n := len(mids)
	veer := make([]float64, n+1)
	for i := range veer {
		veer[i] = math.NaN()
	}
	if m.result != nil {
		for _, sr := range m.result.Sectors {
			veer[sr.Sector-1] = sr.AverageVeer
		}
		veer[n] = veer[0]
	}

	out := make([]float64, len(dirs))
	for i, d := range dirs {
		if math.IsNaN(d) {
			out[i] = math.NaN()
			continue
		}
		dd := direction.Wrap360(d)
		// Locate the arc [mids[j], mids[j+1]) containing dd, the last arc
		// wrapping through north.
		j := n - 1
		for k := 0; k < n-1; k++ {
			if dd >= mids[k] && dd < mids[k+1] {
				j = k
				break
			}
		}
		width := mids[(j+1)%n] - mids[j]
		if width <= 0 {
			width += 360
		}
		offset := dd - mids[j]
		if offset < 0 {
			offset += 360
		}
		ratio := offset / width
		adjustment := veer[j] + ratio*(veer[j+1]-veer[j])
		out[i] = direction.Wrap360(dd + adjustment)
	}
	return out
}

// Synthesize predicts target speed and direction. Without explicit inputs
// it projects over the full reference history averaged to the configured
// period and overlays actual target speed observations; negative predicted
// speeds are clamped to zero.
func (m *SpeedSort) Synthesize(inputSpd, inputDir *timeseries.Series) (*timeseries.Series, *timeseries.Series, error) {
	if m.result == nil {
		return nil, nil, ErrNotFitted
	}
	spdName := m.tarSpd.Name + "_Synthesized"
	dirName := m.tarDirSeries.Name + "_Synthesized"

	if inputSpd != nil || inputDir != nil {
		if inputSpd == nil || inputDir == nil {
			return nil, nil, errors.New("correl: SpeedSort synthesis needs both speed and direction inputs")
		}
		spd := &timeseries.Series{
			Timestamps: inputSpd.Timestamps,
			Values:     clampNegative(m.predict(inputSpd.Values, inputDir.Values)),
			Name:       spdName,
		}
		dir := &timeseries.Series{
			Timestamps: inputDir.Timestamps,
			Values:     m.predictDir(inputDir.Values),
			Name:       dirName,
		}
		return spd, dir, nil
	}

	refSpdAvg := align.AverageSeries(m.refSpd, m.period, false)
	refDirAvg := align.AverageSeries(m.refDirSeries, m.period, true)
	dirByTime := make(map[int64]float64, len(refDirAvg.Timestamps))
	for i, t := range refDirAvg.Timestamps {
		dirByTime[t.Unix()] = refDirAvg.Values[i]
	}
	dirs := make([]float64, len(refSpdAvg.Timestamps))
	for i, t := range refSpdAvg.Timestamps {
		if v, ok := dirByTime[t.Unix()]; ok {
			dirs[i] = v
		} else {
			dirs[i] = math.NaN()
		}
	}
	predicted := m.predict(refSpdAvg.Values, dirs)

	// Combine-first: actual target observations beat predictions.
	tarAvg := align.AverageSeries(m.tarSpd, m.period, false)
	combined := &timeseries.Series{
		Timestamps: refSpdAvg.Timestamps,
		Values:     predicted,
		Name:       spdName,
	}
	actual := make(map[int64]float64, len(tarAvg.Timestamps))
	for i, t := range tarAvg.Timestamps {
		if !math.IsNaN(tarAvg.Values[i]) {
			actual[t.Unix()] = tarAvg.Values[i]
		}
	}
	for i, t := range combined.Timestamps {
		if v, ok := actual[t.Unix()]; ok {
			combined.Values[i] = v
		}
	}
	combined.Values = clampNegative(combined.Values)

	dirOut := &timeseries.Series{
		Timestamps: refDirAvg.Timestamps,
		Values:     m.predictDir(refDirAvg.Values),
		Name:       dirName,
	}
	return combined, dirOut, nil
}

func clampNegative(vals []float64) []float64 {
	for i, v := range vals {
		if v < 0 {
			vals[i] = 0
		}
	}
	return vals
}

// Plot delegates the direction scatter (restricted to rows where both
// speeds exceed the reference cutoff) to the plotting collaborator.
func (m *SpeedSort) Plot(p Plotter) error {
	if m.result == nil {
		return ErrNotFitted
	}
	var x, y []float64
	for i := range m.data.Times {
		if m.data.RefSpd[i] > m.cutoff && m.data.TarSpd[i] > m.cutoff {
			x = append(x, m.data.RefDir[i])
			y = append(y, m.data.TarDir[i])
		}
	}
	return p.Scatter(x, y, nil, m.refDirSeries.Name, m.tarDirSeries.Name)
}
