// Package direction provides wind direction arithmetic and sector binning.
package direction

import (
	"errors"
	"math"
)

// Wrap360 normalizes an angle in degrees to [0, 360).
func Wrap360(deg float64) float64 {
	d := math.Mod(deg, 360.0)
	if d < 0 {
		d += 360.0
	}
	return d
}

// Veer returns target minus reference direction wrapped to (-180, 180].
// Positive veer means the target direction is clockwise of the reference.
func Veer(refDeg, targetDeg float64) float64 {
	v := targetDeg - refDeg
	for v > 180 {
		v -= 360.0
	}
	for v <= -180 {
		v += 360.0
	}
	return v
}

// CircularMean returns the vector mean of a set of directions in degrees,
// wrapped to [0, 360). NaN entries are skipped; all-NaN input yields NaN.
func CircularMean(degs []float64) float64 {
	var sinSum, cosSum float64
	n := 0
	for _, d := range degs {
		if math.IsNaN(d) {
			continue
		}
		rad := d * math.Pi / 180.0
		sinSum += math.Sin(rad)
		cosSum += math.Cos(rad)
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return Wrap360(math.Atan2(sinSum, cosSum) * 180.0 / math.Pi)
}

// Binner maps a direction in [0, 360) to one of N sector indices. Sectors
// are half-open intervals [lo, hi) that partition [0, 360), either evenly
// spaced or given by an explicit ascending edge list.
type Binner struct {
	edges []float64 // len(edges) == Sectors()+1; edges[0] == 0, edges[last] == 360 when even
}

// NewBinner creates a binner with evenly spaced sectors: sector i covers
// [i*360/n, (i+1)*360/n).
func NewBinner(n int) (*Binner, error) {
	if n < 1 {
		return nil, errors.New("sector count must be at least 1")
	}
	edges := make([]float64, n+1)
	width := 360.0 / float64(n)
	for i := range edges {
		edges[i] = float64(i) * width
	}
	return &Binner{edges: edges}, nil
}

// NewBinnerWithEdges creates a binner from explicit bin edges, e.g.
// [0, 120, 215, 360] for sectors [0,120), [120,215), [215,360).
func NewBinnerWithEdges(edges []float64) (*Binner, error) {
	if len(edges) < 2 {
		return nil, errors.New("at least two bin edges are required")
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return nil, errors.New("bin edges must be strictly ascending")
		}
	}
	if edges[0] < 0 || edges[len(edges)-1] > 360 {
		return nil, errors.New("bin edges must lie within [0, 360]")
	}
	cp := make([]float64, len(edges))
	copy(cp, edges)
	return &Binner{edges: cp}, nil
}

// Sectors returns the number of sectors.
func (b *Binner) Sectors() int {
	return len(b.edges) - 1
}

// Edges returns a copy of the numeric bin edges.
func (b *Binner) Edges() []float64 {
	cp := make([]float64, len(b.edges))
	copy(cp, b.edges)
	return cp
}

// Midpoints returns the center angle of each sector.
func (b *Binner) Midpoints() []float64 {
	mids := make([]float64, b.Sectors())
	for i := range mids {
		mids[i] = (b.edges[i] + b.edges[i+1]) / 2.0
	}
	return mids
}

// Bin returns the zero-based sector index for a direction. The second
// return is false when the direction is NaN or falls outside every bin
// (possible with explicit edges not covering the full circle).
func (b *Binner) Bin(deg float64) (int, bool) {
	if math.IsNaN(deg) {
		return 0, false
	}
	d := Wrap360(deg)
	for i := 0; i < b.Sectors(); i++ {
		if d >= b.edges[i] && d < b.edges[i+1] {
			return i, true
		}
	}
	// 360 never occurs after wrapping, so only gaps in explicit edges land here.
	return 0, false
}

// BinAll bins a whole direction slice, returning -1 for unbinnable entries.
func (b *Binner) BinAll(degs []float64) []int {
	out := make([]int, len(degs))
	for i, d := range degs {
		if idx, ok := b.Bin(d); ok {
			out[i] = idx
		} else {
			out[i] = -1
		}
	}
	return out
}
