package correl

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/brightmast/windassess/pkg/timeseries"
)

// speedSortFixture builds hourly series occupying two direction sectors with
// an exact linear speed relation and a constant 15 degree veer.
func speedSortFixture(n int) (refSpd, refDir, tarSpd, tarDir *timeseries.Series) {
	refSpd = timeseries.New(make([]float64, n))
	refDir = timeseries.New(make([]float64, n))
	tarSpd = timeseries.New(make([]float64, n))
	tarDir = timeseries.New(make([]float64, n))
	refSpd.Name = "ref_spd"
	refDir.Name = "ref_dir"
	tarSpd.Name = "tar_spd"
	tarDir.Name = "tar_dir"
	for i := 0; i < n; i++ {
		refSpd.Values[i] = 5 + float64(i%6)
		if i%2 == 0 {
			refDir.Values[i] = 45
		} else {
			refDir.Values[i] = 75
		}
		tarSpd.Values[i] = 0.8*refSpd.Values[i] + 0.5
		tarDir.Values[i] = refDir.Values[i] + 15
	}
	return
}

func TestSpeedSortRecoversSectorFits(t *testing.T) {
	refSpd, refDir, tarSpd, tarDir := speedSortFixture(240)
	m, err := NewSpeedSort(refSpd, refDir, tarSpd, tarDir, "1H", SpeedSortConfig{
		Rand: rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := m.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Speeds 5..10 put the long-term mean at 7.5, so the reference speed
	// cutoff saturates at min(3.75, 4) = 3.75.
	if math.Abs(res.RefSpeedCutoff-3.75) > 1e-9 {
		t.Errorf("RefSpeedCutoff = %v, want 3.75", res.RefSpeedCutoff)
	}
	if math.Abs(res.OverallVeer-15) > 1e-9 {
		t.Errorf("OverallVeer = %v, want 15", res.OverallVeer)
	}

	// Only the two occupied sectors get fits: 45 degrees lands in sector 2
	// and 75 degrees in sector 3 of a 12-sector rose.
	if len(res.Sectors) != 2 {
		t.Fatalf("fitted sectors = %d, want 2", len(res.Sectors))
	}
	if res.Sectors[0].Sector != 2 || res.Sectors[1].Sector != 3 {
		t.Errorf("sector numbers = %d, %d, want 2, 3", res.Sectors[0].Sector, res.Sectors[1].Sector)
	}
	for _, sr := range res.Sectors {
		if math.Abs(sr.Slope-0.8) > 1e-9 {
			t.Errorf("sector %d slope = %v, want 0.8", sr.Sector, sr.Slope)
		}
		if math.Abs(sr.Offset-0.5) > 1e-9 {
			t.Errorf("sector %d offset = %v, want 0.5", sr.Sector, sr.Offset)
		}
		if math.Abs(sr.AverageVeer-15) > 1e-9 {
			t.Errorf("sector %d veer = %v, want 15", sr.Sector, sr.AverageVeer)
		}
		if sr.NumTotalPts != 120 {
			t.Errorf("sector %d total points = %d, want 120", sr.Sector, sr.NumTotalPts)
		}
	}
	// The target cutoff is the lowest rank-matched target speed kept.
	if math.Abs(res.Sectors[0].TargetCutoff-4.5) > 1e-9 {
		t.Errorf("sector 2 target cutoff = %v, want 4.5", res.Sectors[0].TargetCutoff)
	}
}

func TestSpeedSortPredictAndSynthesize(t *testing.T) {
	refSpd, refDir, tarSpd, tarDir := speedSortFixture(240)
	m, err := NewSpeedSort(refSpd, refDir, tarSpd, tarDir, "1H", SpeedSortConfig{
		Rand: rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	inSpd := timeseries.New([]float64{6, 6, 6})
	inDir := timeseries.New([]float64{45, 75, 300})
	synSpd, synDir, err := m.Synthesize(inSpd, inDir)
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}

	// Occupied sectors predict through their line fit.
	for i := 0; i < 2; i++ {
		want := 0.8*6 + 0.5
		if math.Abs(synSpd.Values[i]-want) > 1e-9 {
			t.Errorf("predicted speed[%d] = %v, want %v", i, synSpd.Values[i], want)
		}
	}
	// A direction with no fitted sector predicts NaN.
	if !math.IsNaN(synSpd.Values[2]) {
		t.Errorf("predicted speed in empty sector = %v, want NaN", synSpd.Values[2])
	}
	// At a fitted sector's midpoint the veer adjustment applies in full.
	if math.Abs(synDir.Values[0]-60) > 1e-9 {
		t.Errorf("predicted direction at 45 = %v, want 60", synDir.Values[0])
	}
	if synSpd.Name != "tar_spd_Synthesized" || synDir.Name != "tar_dir_Synthesized" {
		t.Errorf("synthesized names = %q, %q", synSpd.Name, synDir.Name)
	}

	// Both or neither explicit input.
	if _, _, err := m.Synthesize(inSpd, nil); err == nil {
		t.Error("expected error when only the speed input is supplied")
	}
}

func TestSpeedSortDefaultSynthesisOverlaysTarget(t *testing.T) {
	refSpd, refDir, tarSpd, tarDir := speedSortFixture(240)
	// Truncate the target history so the reference extends past it.
	for i := 120; i < 240; i++ {
		tarSpd.Values[i] = math.NaN()
	}
	m, err := NewSpeedSort(refSpd, refDir, tarSpd, tarDir, "1H", SpeedSortConfig{
		Rand: rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	synSpd, synDir, err := m.Synthesize(nil, nil)
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if synSpd.Len() != 240 || synDir.Len() != 240 {
		t.Fatalf("synthesized lengths = %d, %d, want 240", synSpd.Len(), synDir.Len())
	}
	// Actual target observations beat predictions over the common period.
	for i := 0; i < 120; i++ {
		if math.Abs(synSpd.Values[i]-tarSpd.Values[i]) > 1e-9 {
			t.Fatalf("synthesized[%d] = %v, want actual %v", i, synSpd.Values[i], tarSpd.Values[i])
		}
	}
	// The extension is predicted through the sector fits.
	for i := 120; i < 240; i++ {
		want := 0.8*refSpd.Values[i] + 0.5
		if math.Abs(synSpd.Values[i]-want) > 1e-9 {
			t.Fatalf("synthesized[%d] = %v, want predicted %v", i, synSpd.Values[i], want)
		}
	}
}

func TestSpeedSortRequiresDirections(t *testing.T) {
	refSpd, _, tarSpd, tarDir := speedSortFixture(48)
	if _, err := NewSpeedSort(refSpd, nil, tarSpd, tarDir, "1H", SpeedSortConfig{}); err == nil {
		t.Error("expected error for missing reference direction")
	}
}

func TestSpeedSortNotFitted(t *testing.T) {
	refSpd, refDir, tarSpd, tarDir := speedSortFixture(48)
	m, err := NewSpeedSort(refSpd, refDir, tarSpd, tarDir, "1H", SpeedSortConfig{
		Rand: rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Params(); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Params() before Run = %v, want ErrNotFitted", err)
	}
	if _, _, err := m.Synthesize(nil, nil); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Synthesize() before Run = %v, want ErrNotFitted", err)
	}
}

func TestSpeedSortCalmRandomizationDeterministic(t *testing.T) {
	build := func(seed int64) *SpeedSort {
		refSpd, refDir, tarSpd, tarDir := speedSortFixture(96)
		// Calm rows whose directions get randomized.
		for i := 0; i < 96; i += 8 {
			refSpd.Values[i] = 0.5
			tarSpd.Values[i] = 0.4
		}
		m, err := NewSpeedSort(refSpd, refDir, tarSpd, tarDir, "1H", SpeedSortConfig{
			Rand: rand.New(rand.NewSource(seed)),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return m
	}

	a := build(7)
	b := build(7)
	if a.Data().Len() != b.Data().Len() {
		t.Fatalf("dataset lengths differ: %d vs %d", a.Data().Len(), b.Data().Len())
	}
	for i := range a.Data().RefDir {
		if a.Data().RefDir[i] != b.Data().RefDir[i] {
			t.Fatalf("randomized directions differ at row %d with equal seeds", i)
		}
	}
}

func TestSpeedSortLowReferenceSpeedCorrection(t *testing.T) {
	refSpd, refDir, tarSpd, tarDir := speedSortFixture(240)
	// One physically inconsistent row: near-calm reference against a fast
	// target. Its reference direction must be rebuilt from the target
	// direction backed off by the overall veer.
	refSpd.Values[10] = 1.5
	tarSpd.Values[10] = 8
	tarDir.Values[10] = 200

	m, err := NewSpeedSort(refSpd, refDir, tarSpd, tarDir, "1H", SpeedSortConfig{
		Rand: rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	data := m.Data()
	for i := range data.Times {
		if data.RefSpd[i] == 1.5 {
			found = true
			if math.Abs(data.RefDir[i]-185) > 1e-6 {
				t.Errorf("corrected reference direction = %v, want 185", data.RefDir[i])
			}
		}
	}
	if !found {
		t.Fatal("expected the corrected row to survive binning")
	}
}

func TestFitSectorSpeedModelErrors(t *testing.T) {
	if _, err := fitSectorSpeedModel([]float64{5}, []float64{4}, 1); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("single point fit = %v, want ErrInsufficientData", err)
	}
	// Identical reference speeds make the half-means degenerate.
	if _, err := fitSectorSpeedModel([]float64{5, 5, 5, 5}, []float64{4, 4, 4, 4}, 1); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("degenerate fit = %v, want ErrInsufficientData", err)
	}
}
