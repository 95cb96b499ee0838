package shear

import (
	"fmt"
	"math"

	"github.com/brightmast/windassess/pkg/direction"
	"github.com/brightmast/windassess/pkg/timeseries"
)

// BySector fits a shear exponent per direction sector: a per-timestamp
// profile fit aggregated by the sector each observation's direction falls
// in. The numeric bin edges are carried on the estimator so scaling never
// has to reconstruct them from labels.
type BySector struct {
	Method   CalcMethod
	MinSpeed float64

	binner *direction.Binner
	// Alpha is the mean per-timestamp exponent of each sector; NaN for
	// sectors with no qualifying observations.
	Alpha []float64
	// Counts is the per-sector sample count.
	Counts []int

	diags []Diagnostic
}

// BySectorConfig carries the optional knobs of the BySector estimator.
type BySectorConfig struct {
	MinSpeed float64
	// Sectors is the number of equal-width sectors (default 12). Ignored
	// when DirectionBinEdges is set.
	Sectors int
	// DirectionBinEdges optionally gives explicit ascending bin edges.
	DirectionBinEdges []float64
}

// NewBySector fits each qualifying timestamp independently, then averages
// the per-timestamp exponents within each direction sector.
func NewBySector(obs *Observations, wdir *timeseries.Series, method CalcMethod, cfg BySectorConfig) (*BySector, error) {
	if _, err := ParseCalcMethod(string(method)); err != nil {
		return nil, err
	}

	var binner *direction.Binner
	var err error
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

	dirByTime := make(map[int64]float64, wdir.Len())
	for i, v := range wdir.Values {
		if !math.IsNaN(v) {
			dirByTime[wdir.Timestamps[i].Unix()] = v
		}
	}

	n := binner.Sectors()
	sums := make([]float64, n)
	counts := make([]int, n)
	fitted := 0
	for i, row := range obs.Speeds {
		if !rowAboveMin(row, cfg.MinSpeed) {
			continue
		}
		d, ok := dirByTime[obs.Times[i].Unix()]
		if !ok {
			continue
		}
		sector, ok := binner.Bin(d)
		if !ok {
			continue
		}
		var exponent float64
		switch method {
		case PowerLaw:
			exponent, _ = calcPowerLaw(row, obs.Heights)
		case LogLaw:
			exponent, _ = calcLogLaw(row, obs.Heights)
		}
		sums[sector] += exponent
		counts[sector]++
		fitted++
	}
	if fitted == 0 {
		return nil, ErrInsufficientData
	}

	b := &BySector{
		Method:   method,
		MinSpeed: cfg.MinSpeed,
		binner:   binner,
		Alpha:    make([]float64, n),
		Counts:   counts,
	}
	for s := 0; s < n; s++ {
		if counts[s] > 0 {
			b.Alpha[s] = sums[s] / float64(counts[s])
		} else {
			b.Alpha[s] = math.NaN()
		}
	}
	return b, nil
}

// Binner exposes the sector scheme, including its numeric bin edges.
func (b *BySector) Binner() *direction.Binner { return b.binner }

// Diagnostics returns the non-fatal findings recorded so far.
func (b *BySector) Diagnostics() []Diagnostic { return b.diags }

// Apply scales a wind-speed series sector by sector: observations are
// partitioned by the stored bin edges, scaled with their sector's exponent,
// and reassembled in original time order. A direction series is mandatory.
// Log-law sector exponents have no defined scaling form.
func (b *BySector) Apply(spds *timeseries.Series, fromHeight, toHeight float64, opts ApplyOptions) (*timeseries.Series, error) {
	if opts.Directions == nil {
		return nil, ErrDirectionRequired
	}
	if b.Method != PowerLaw {
		return nil, fmt.Errorf("%w: sector scaling is defined for the power law only", ErrUnsupported)
	}

	dirByTime := make(map[int64]float64, opts.Directions.Len())
	for i, v := range opts.Directions.Values {
		if !math.IsNaN(v) {
			dirByTime[opts.Directions.Timestamps[i].Unix()] = v
		}
	}

	out := spds.Copy()
	out.Name = spds.Name + "_Scaled"
	for i, v := range out.Values {
		if math.IsNaN(v) {
			continue
		}
		d, ok := dirByTime[out.Timestamps[i].Unix()]
		if !ok {
			out.Values[i] = math.NaN()
			continue
		}
		sector, ok := b.binner.Bin(d)
		if !ok {
			out.Values[i] = math.NaN()
			continue
		}
		out.Values[i] = scalePower(v, fromHeight, toHeight, b.Alpha[sector])
	}
	return out, nil
}
