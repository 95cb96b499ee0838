package shear

import (
	"errors"
	"math"
	"testing"

	"github.com/brightmast/windassess/pkg/timeseries"
)

// powerObs builds hourly multi-height observations following an exact power
// law profile v(h) = base * (h/heights[0])^alpha.
func powerObs(t *testing.T, n int, heights []float64, base, alpha float64) *Observations {
	t.Helper()
	series := make([]*timeseries.Series, len(heights))
	for j, h := range heights {
		values := make([]float64, n)
		v := base * math.Pow(h/heights[0], alpha)
		for i := range values {
			values[i] = v
		}
		series[j] = timeseries.New(values)
	}
	obs, err := NewObservations(series, heights)
	if err != nil {
		t.Fatalf("NewObservations: %v", err)
	}
	return obs
}

func TestNewObservationsIntersectsTimestamps(t *testing.T) {
	lower := timeseries.New([]float64{5, 6, math.NaN(), 8})
	upper := timeseries.New([]float64{7, math.NaN(), 9, 10})
	obs, err := NewObservations([]*timeseries.Series{lower, upper}, []float64{40, 80})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Rows 1 and 2 each miss one height.
	if obs.Len() != 2 {
		t.Fatalf("rows = %d, want 2", obs.Len())
	}
	if obs.Speeds[0][0] != 5 || obs.Speeds[0][1] != 7 {
		t.Errorf("first row = %v, want [5 7]", obs.Speeds[0])
	}
	if obs.Speeds[1][0] != 8 || obs.Speeds[1][1] != 10 {
		t.Errorf("second row = %v, want [8 10]", obs.Speeds[1])
	}
}

func TestNewObservationsValidation(t *testing.T) {
	s := timeseries.New([]float64{5})
	if _, err := NewObservations([]*timeseries.Series{s}, []float64{40}); err == nil {
		t.Error("expected error for fewer than two heights")
	}
	if _, err := NewObservations([]*timeseries.Series{s, s}, []float64{40}); err == nil {
		t.Error("expected error for mismatched series and heights")
	}
}

func TestParseCalcMethod(t *testing.T) {
	if _, err := ParseCalcMethod("power_law"); err != nil {
		t.Errorf("power_law rejected: %v", err)
	}
	if _, err := ParseCalcMethod("log_law"); err != nil {
		t.Errorf("log_law rejected: %v", err)
	}
	if _, err := ParseCalcMethod("cubic"); err == nil {
		t.Error("expected error for an unknown method")
	}
}

func TestAveragePowerLawRecoversExponent(t *testing.T) {
	heights := []float64{40, 60, 80, 100}
	obs := powerObs(t, 48, heights, 5, 0.2)

	a, err := NewAverage(obs, PowerLaw, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(a.Alpha-0.2) > 1e-9 {
		t.Errorf("Alpha = %v, want 0.2", a.Alpha)
	}
	wantCoeff := 5 / math.Pow(40, 0.2)
	if math.Abs(a.Coefficient-wantCoeff) > 1e-9 {
		t.Errorf("Coefficient = %v, want %v", a.Coefficient, wantCoeff)
	}
}

func TestAverageLogLawRecoversRoughness(t *testing.T) {
	// v(h) = ln(h / z0) is an exact log profile with roughness z0.
	const z0 = 0.03
	heights := []float64{40, 80}
	series := make([]*timeseries.Series, len(heights))
	for j, h := range heights {
		values := make([]float64, 24)
		for i := range values {
			values[i] = math.Log(h / z0)
		}
		series[j] = timeseries.New(values)
	}
	obs, err := NewObservations(series, heights)
	if err != nil {
		t.Fatalf("NewObservations: %v", err)
	}

	a, err := NewAverage(obs, LogLaw, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(a.Slope-1) > 1e-9 {
		t.Errorf("Slope = %v, want 1", a.Slope)
	}
	if math.Abs(a.Intercept+math.Log(z0)) > 1e-9 {
		t.Errorf("Intercept = %v, want %v", a.Intercept, -math.Log(z0))
	}
	if math.Abs(a.Roughness-z0) > 1e-6 {
		t.Errorf("Roughness = %v, want %v", a.Roughness, z0)
	}

	// Log-law scaling follows the roughness profile.
	spds := timeseries.New([]float64{8})
	scaled, err := a.Apply(spds, 40, 80, ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	want := 8 * math.Log(80/z0) / math.Log(40/z0)
	if math.Abs(scaled.Values[0]-want) > 1e-6 {
		t.Errorf("scaled = %v, want %v", scaled.Values[0], want)
	}
}

func TestAverageMinSpeedFilter(t *testing.T) {
	obs := powerObs(t, 24, []float64{40, 80}, 2, 0.2)
	// Every speed sits below the minimum.
	if _, err := NewAverage(obs, PowerLaw, 5); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("NewAverage = %v, want ErrInsufficientData", err)
	}
}

func TestAverageApplyScalesToRequestedHeight(t *testing.T) {
	obs := powerObs(t, 24, []float64{40, 80}, 5, 0.2)
	a, err := NewAverage(obs, PowerLaw, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spds := timeseries.New([]float64{10, math.NaN(), 12})
	scaled, err := a.Apply(spds, 80, 120, ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	want0 := 10 * math.Pow(120.0/80.0, a.Alpha)
	if math.Abs(scaled.Values[0]-want0) > 1e-9 {
		t.Errorf("scaled[0] = %v, want %v", scaled.Values[0], want0)
	}
	if !math.IsNaN(scaled.Values[1]) {
		t.Errorf("scaled[1] = %v, want NaN preserved", scaled.Values[1])
	}
	if scaled.Name != spds.Name+"_Scaled" {
		t.Errorf("scaled name = %q", scaled.Name)
	}
}

func TestAverageApplyWarnsOnDirections(t *testing.T) {
	obs := powerObs(t, 24, []float64{40, 80}, 5, 0.2)
	a, err := NewAverage(obs, PowerLaw, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dirs := timeseries.New([]float64{90})
	if _, err := a.Apply(timeseries.New([]float64{8}), 40, 80, ApplyOptions{Directions: dirs}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if len(a.Diagnostics()) == 0 {
		t.Error("expected a diagnostic when directions are supplied to a non-sector estimator")
	}
}

func TestScale(t *testing.T) {
	spds := timeseries.New([]float64{10, math.NaN()})
	scaled := Scale(spds, 0.2, 40, 80)
	want := 10 * math.Pow(2, 0.2)
	if math.Abs(scaled.Values[0]-want) > 1e-12 {
		t.Errorf("scaled[0] = %v, want %v", scaled.Values[0], want)
	}
	if !math.IsNaN(scaled.Values[1]) {
		t.Error("NaN must be preserved")
	}
	if spds.Values[0] != 10 {
		t.Error("Scale must not mutate its input")
	}
}

func TestHourInSegment(t *testing.T) {
	tests := []struct {
		hour, start, interval int
		want                  bool
	}{
		{7, 7, 12, true},
		{18, 7, 12, true},
		{19, 7, 12, false},
		{6, 7, 12, false},
		{23, 19, 12, true}, // wrapping segment 19..07
		{3, 19, 12, true},
		{7, 19, 12, false},
	}
	for _, tt := range tests {
		if got := hourInSegment(tt.hour, tt.start, tt.interval); got != tt.want {
			t.Errorf("hourInSegment(%d, %d, %d) = %v, want %v", tt.hour, tt.start, tt.interval, got, tt.want)
		}
	}
}

func TestFill24Repetition(t *testing.T) {
	grid := [][]float64{{0.1}, {0.3}}
	filled := fill24(grid, []int{7, 19})
	if len(filled) != 24 {
		t.Fatalf("filled rows = %d, want 24", len(filled))
	}
	for h := 0; h < 24; h++ {
		want := 0.3
		if h >= 7 && h < 19 {
			want = 0.1
		}
		if filled[h][0] != want {
			t.Errorf("filled[%d] = %v, want %v", h, filled[h][0], want)
		}
	}
}

// dayNightObs builds two-height observations whose shear exponent differs
// between the 07-19 and 19-07 segments.
func dayNightObs(t *testing.T, n int, dayAlpha, nightAlpha float64) *Observations {
	t.Helper()
	lower := timeseries.New(make([]float64, n))
	upper := timeseries.New(make([]float64, n))
	for i := 0; i < n; i++ {
		lower.Values[i] = 8
		alpha := nightAlpha
		h := lower.Timestamps[i].Hour()
		if h >= 7 && h < 19 {
			alpha = dayAlpha
		}
		upper.Values[i] = 8 * math.Pow(2, alpha)
	}
	obs, err := NewObservations([]*timeseries.Series{lower, upper}, []float64{40, 80})
	if err != nil {
		t.Fatalf("NewObservations: %v", err)
	}
	return obs
}

func TestTimeOfDayFitsSegments(t *testing.T) {
	obs := dayNightObs(t, 24*28, 0.1, 0.3)
	tod, err := NewTimeOfDay(obs, PowerLaw, TimeOfDayConfig{
		MinSpeed:      3,
		DayStartHour:  7,
		DailySegments: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tod.SegmentStartHours) != 2 || tod.SegmentStartHours[0] != 7 || tod.SegmentStartHours[1] != 19 {
		t.Fatalf("SegmentStartHours = %v, want [7 19]", tod.SegmentStartHours)
	}
	if len(tod.Alpha[0]) != 1 {
		t.Fatalf("expected a single averaged column, got %d", len(tod.Alpha[0]))
	}
	if math.Abs(tod.Alpha[0][0]-0.1) > 1e-9 {
		t.Errorf("day alpha = %v, want 0.1", tod.Alpha[0][0])
	}
	if math.Abs(tod.Alpha[1][0]-0.3) > 1e-9 {
		t.Errorf("night alpha = %v, want 0.3", tod.Alpha[1][0])
	}
}

func TestTimeOfDaySegmentsMustDivideDay(t *testing.T) {
	obs := dayNightObs(t, 48, 0.1, 0.3)
	if _, err := NewTimeOfDay(obs, PowerLaw, TimeOfDayConfig{DailySegments: 5}); err == nil {
		t.Error("expected error for segments not dividing 24")
	}
}

func TestTimeOfDayApply(t *testing.T) {
	obs := dayNightObs(t, 24*28, 0.1, 0.3)
	tod, err := NewTimeOfDay(obs, PowerLaw, TimeOfDayConfig{
		MinSpeed:      3,
		DayStartHour:  7,
		DailySegments: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spds := timeseries.New(make([]float64, 48))
	for i := range spds.Values {
		spds.Values[i] = 10
	}
	calls := 0
	var lastDone, lastTotal int
	scaled, err := tod.Apply(spds, 40, 80, ApplyOptions{
		Progress: func(done, total int) {
			calls++
			lastDone, lastTotal = done, total
		},
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	// Every hour-month cell reports once.
	if calls != 288 || lastDone != 288 || lastTotal != 288 {
		t.Errorf("progress calls = %d (last %d/%d), want 288", calls, lastDone, lastTotal)
	}
	for i, tm := range scaled.Timestamps {
		alpha := 0.3
		if tm.Hour() >= 7 && tm.Hour() < 19 {
			alpha = 0.1
		}
		want := 10 * math.Pow(2, alpha)
		if math.Abs(scaled.Values[i]-want) > 1e-9 {
			t.Fatalf("scaled[%d] (hour %d) = %v, want %v", i, tm.Hour(), scaled.Values[i], want)
		}
	}
}

// sectorObs builds two-height observations whose shear exponent depends on
// the wind direction series it returns alongside.
func sectorObs(t *testing.T, n int) (*Observations, *timeseries.Series) {
	t.Helper()
	lower := timeseries.New(make([]float64, n))
	upper := timeseries.New(make([]float64, n))
	dirs := timeseries.New(make([]float64, n))
	for i := 0; i < n; i++ {
		lower.Values[i] = 6
		if i%2 == 0 {
			dirs.Values[i] = 45 // sector 1 of 12
			upper.Values[i] = 6 * math.Pow(2, 0.15)
		} else {
			dirs.Values[i] = 200 // sector 6 of 12
			upper.Values[i] = 6 * math.Pow(2, 0.25)
		}
	}
	obs, err := NewObservations([]*timeseries.Series{lower, upper}, []float64{40, 80})
	if err != nil {
		t.Fatalf("NewObservations: %v", err)
	}
	return obs, dirs
}

func TestBySectorFitsPerSector(t *testing.T) {
	obs, dirs := sectorObs(t, 96)
	b, err := NewBySector(obs, dirs, PowerLaw, BySectorConfig{MinSpeed: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.Binner().Sectors(); got != 12 {
		t.Fatalf("Sectors() = %d, want 12", got)
	}
	if math.Abs(b.Alpha[1]-0.15) > 1e-9 {
		t.Errorf("sector 2 alpha = %v, want 0.15", b.Alpha[1])
	}
	if math.Abs(b.Alpha[6]-0.25) > 1e-9 {
		t.Errorf("sector 7 alpha = %v, want 0.25", b.Alpha[6])
	}
	if b.Counts[1] != 48 || b.Counts[6] != 48 {
		t.Errorf("counts = %d, %d, want 48, 48", b.Counts[1], b.Counts[6])
	}
	// Unoccupied sectors carry NaN.
	if !math.IsNaN(b.Alpha[0]) {
		t.Errorf("empty sector alpha = %v, want NaN", b.Alpha[0])
	}
}

func TestBySectorApply(t *testing.T) {
	obs, dirs := sectorObs(t, 96)
	b, err := NewBySector(obs, dirs, PowerLaw, BySectorConfig{MinSpeed: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spds := timeseries.New([]float64{10, 10, 10})
	applyDirs := timeseries.New([]float64{45, 200, math.NaN()})
	scaled, err := b.Apply(spds, 40, 80, ApplyOptions{Directions: applyDirs})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if want := 10 * math.Pow(2, 0.15); math.Abs(scaled.Values[0]-want) > 1e-9 {
		t.Errorf("scaled[0] = %v, want %v", scaled.Values[0], want)
	}
	if want := 10 * math.Pow(2, 0.25); math.Abs(scaled.Values[1]-want) > 1e-9 {
		t.Errorf("scaled[1] = %v, want %v", scaled.Values[1], want)
	}
	// No direction for the timestamp means no defined sector.
	if !math.IsNaN(scaled.Values[2]) {
		t.Errorf("scaled[2] = %v, want NaN", scaled.Values[2])
	}
}

func TestBySectorRequiresDirections(t *testing.T) {
	obs, dirs := sectorObs(t, 48)
	b, err := NewBySector(obs, dirs, PowerLaw, BySectorConfig{MinSpeed: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := b.Apply(timeseries.New([]float64{10}), 40, 80, ApplyOptions{}); !errors.Is(err, ErrDirectionRequired) {
		t.Errorf("Apply() without directions = %v, want ErrDirectionRequired", err)
	}
}

func TestBySectorLogLawScalingUnsupported(t *testing.T) {
	obs, dirs := sectorObs(t, 48)
	b, err := NewBySector(obs, dirs, LogLaw, BySectorConfig{MinSpeed: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = b.Apply(timeseries.New([]float64{10}), 40, 80, ApplyOptions{Directions: dirs})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("log-law sector Apply = %v, want ErrUnsupported", err)
	}
}
