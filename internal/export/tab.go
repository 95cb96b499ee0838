// Package export builds direction/speed-bin frequency tables and writes
// them as WaSP-format "tab" files, a fixed-layout text contract consumed by
// downstream wind-energy tools. Field order, two-decimal formatting, and
// newline placement are part of the contract.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/brightmast/windassess/pkg/direction"
	"github.com/brightmast/windassess/pkg/timeseries"
)

// FrequencyTable is a per-speed-bin, per-sector percentage table. Percent
// values sum to 100 over the whole table.
type FrequencyTable struct {
	SpeedBinWidth float64
	// SpeedBinRight labels each row with its speed bin's upper edge.
	SpeedBinRight []float64
	Sectors       int
	// Percent[i][s] is the percentage of observations in speed bin i and
	// direction sector s.
	Percent [][]float64
}

// NewFrequencyTable bins concurrent speed and direction observations into
// speed bins of the given width and evenly spaced direction sectors.
func NewFrequencyTable(spds, dirs *timeseries.Series, speedBinWidth float64, sectors int) (*FrequencyTable, error) {
	if speedBinWidth <= 0 {
		return nil, errors.New("export: speed bin width must be positive")
	}
	binner, err := direction.NewBinner(sectors)
	if err != nil {
		return nil, err
	}

	dirByTime := make(map[int64]float64, dirs.Len())
	for i, v := range dirs.Values {
		if !math.IsNaN(v) {
			dirByTime[dirs.Timestamps[i].Unix()] = v
		}
	}

	type cell struct{ bin, sector int }
	counts := make(map[cell]int)
	total := 0
	maxBin := 0
	for i, v := range spds.Values {
		if math.IsNaN(v) || v < 0 {
			continue
		}
		d, ok := dirByTime[spds.Timestamps[i].Unix()]
		if !ok {
			continue
		}
		sector, ok := binner.Bin(d)
		if !ok {
			continue
		}
		bin := int(v / speedBinWidth)
		if bin > maxBin {
			maxBin = bin
		}
		counts[cell{bin, sector}]++
		total++
	}
	if total == 0 {
		return nil, errors.New("export: no concurrent speed and direction observations")
	}

	ft := &FrequencyTable{
		SpeedBinWidth: speedBinWidth,
		SpeedBinRight: make([]float64, maxBin+1),
		Sectors:       sectors,
		Percent:       make([][]float64, maxBin+1),
	}
	for i := 0; i <= maxBin; i++ {
		ft.SpeedBinRight[i] = float64(i+1) * speedBinWidth
		ft.Percent[i] = make([]float64, sectors)
		for s := 0; s < sectors; s++ {
			ft.Percent[i][s] = 100.0 * float64(counts[cell{i, s}]) / float64(total)
		}
	}
	return ft, nil
}

// SectorSums returns the per-sector column sums of the percentage table.
func (ft *FrequencyTable) SectorSums() []float64 {
	sums := make([]float64, ft.Sectors)
	for _, row := range ft.Percent {
		for s, v := range row {
			sums[s] += v
		}
	}
	return sums
}

// SiteInfo is the header metadata of a tab file.
type SiteInfo struct {
	Name      string
	Latitude  float64
	Longitude float64
	Height    float64
	DirOffset float64
}

// WriteTab writes the WaSP tab layout: site name; "lat long height";
// "sectors speed_bin_width dir_offset"; the per-sector frequency sums; then
// the per-speed-bin table with each sector's column rescaled to sum to
// 1000.0.
func WriteTab(w io.Writer, ft *FrequencyTable, site SiteInfo) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n", site.Name)
	fmt.Fprintf(bw, " %.2f %.2f %.2f\n", site.Latitude, site.Longitude, site.Height)
	fmt.Fprintf(bw, " %.2f %.2f %.2f\n", float64(ft.Sectors), ft.SpeedBinWidth, site.DirOffset)

	sums := ft.SectorSums()
	parts := make([]string, len(sums))
	for s, v := range sums {
		parts[s] = fmt.Sprintf("%.2f", v)
	}
	fmt.Fprintf(bw, " %s\n", strings.Join(parts, " "))

	for i, row := range ft.Percent {
		fmt.Fprintf(bw, "%6.1f", ft.SpeedBinRight[i])
		for s, v := range row {
			scaled := 0.0
			if sums[s] > 0 {
				scaled = v / sums[s] * 1000.0
			}
			fmt.Fprintf(bw, " %8.2f", scaled)
		}
		fmt.Fprintf(bw, "\n")
	}
	return bw.Flush()
}

// WriteTabFile writes the tab layout to name+".tab".
func WriteTabFile(name string, ft *FrequencyTable, site SiteInfo) error {
	f, err := os.Create(name + ".tab")
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer f.Close()
	if err := WriteTab(f, ft, site); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// TabFile is a parsed tab file. Table columns are the per-column rescaled
// values, so each sector column sums to 1000 up to rounding.
type TabFile struct {
	Site          SiteInfo
	Sectors       int
	SpeedBinWidth float64
	SectorSums    []float64
	SpeedBinRight []float64
	Table         [][]float64
}

// ParseTab reads the tab layout back. Used to validate round trips and to
// ingest tables produced by other tools.
func ParseTab(r io.Reader) (*TabFile, error) {
	sc := bufio.NewScanner(r)
	readLine := func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return sc.Text(), nil
	}
	parseFloats := func(line string) ([]float64, error) {
		fields := strings.Fields(line)
		out := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("export: bad numeric field %q: %w", f, err)
			}
			out[i] = v
		}
		return out, nil
	}

	name, err := readLine()
	if err != nil {
		return nil, err
	}
	tf := &TabFile{Site: SiteInfo{Name: strings.TrimSpace(name)}}

	loc, err := readLine()
	if err != nil {
		return nil, err
	}
	locVals, err := parseFloats(loc)
	if err != nil {
		return nil, err
	}
	if len(locVals) != 3 {
		return nil, errors.New("export: location line must have lat, long, height")
	}
	tf.Site.Latitude, tf.Site.Longitude, tf.Site.Height = locVals[0], locVals[1], locVals[2]

	hdr, err := readLine()
	if err != nil {
		return nil, err
	}
	hdrVals, err := parseFloats(hdr)
	if err != nil {
		return nil, err
	}
	if len(hdrVals) != 3 {
		return nil, errors.New("export: header line must have sectors, bin width, offset")
	}
	tf.Sectors = int(hdrVals[0])
	tf.SpeedBinWidth = hdrVals[1]
	tf.Site.DirOffset = hdrVals[2]

	sums, err := readLine()
	if err != nil {
		return nil, err
	}
	tf.SectorSums, err = parseFloats(sums)
	if err != nil {
		return nil, err
	}
	if len(tf.SectorSums) != tf.Sectors {
		return nil, fmt.Errorf("export: expected %d sector sums, got %d", tf.Sectors, len(tf.SectorSums))
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		vals, err := parseFloats(line)
		if err != nil {
			return nil, err
		}
		if len(vals) != tf.Sectors+1 {
			return nil, fmt.Errorf("export: table row has %d fields, expected %d", len(vals), tf.Sectors+1)
		}
		tf.SpeedBinRight = append(tf.SpeedBinRight, vals[0])
		tf.Table = append(tf.Table, vals[1:])
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tf, nil
}
