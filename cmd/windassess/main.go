package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/brightmast/windassess/internal/correl"
	"github.com/brightmast/windassess/internal/export"
	"github.com/brightmast/windassess/internal/log"
	"github.com/brightmast/windassess/internal/shear"
	"github.com/brightmast/windassess/internal/snapshot"
	"github.com/brightmast/windassess/internal/storage/sqlite"
	"github.com/brightmast/windassess/pkg/config"
	"github.com/brightmast/windassess/pkg/timeseries"
)

func main() {
	var (
		configFile  = flag.String("config", "", "YAML configuration file (optional)")
		sqliteCfg   = flag.String("sqlite-config", "", "SQLite configuration database (optional)")
		refCSV      = flag.String("ref", "", "Reference wind speed CSV file")
		targetCSV   = flag.String("target", "", "Target wind speed CSV file")
		refDirCSV   = flag.String("ref-dir", "", "Reference wind direction CSV file")
		tarDirCSV   = flag.String("target-dir", "", "Target wind direction CSV file")
		extraRefs   = flag.String("refs", "", "Comma-separated additional reference speed CSVs (multiple regression)")
		model       = flag.String("model", "", "Correlation model: ols, odr, mlr, speedratio, speedsort")
		period      = flag.String("period", "1H", "Averaging period (e.g. 10min, 1H, 1D, 1M)")
		coverage    = flag.Float64("coverage", correl.DefaultCoverageThreshold, "Coverage threshold for averaged intervals")
		sectors     = flag.Int("sectors", 12, "Number of direction sectors")
		estimator   = flag.String("estimator", "", "Shear estimator: average, timeofday, bysector")
		calcMethod  = flag.String("calc-method", "power_law", "Shear calculation method: power_law, log_law")
		minSpeed    = flag.Float64("min-speed", 3.0, "Minimum wind speed for shear calculation")
		heightsSpec = flag.String("heights", "", "Height measurements as height=csv pairs, e.g. 40=m40.csv,80=m80.csv")
		fromHeight  = flag.Float64("from-height", 0, "Source height for shear scaling")
		toHeight    = flag.Float64("to-height", 0, "Destination height for shear scaling")
		byMonth     = flag.Bool("by-month", false, "Fit time-of-day shear per calendar month")
		segments    = flag.Int("segments", 2, "Daily segments for time-of-day shear")
		dayStart    = flag.Int("day-start", 7, "Hour at which the daytime segment begins")
		seed        = flag.Int64("seed", 0, "Random seed for calm-period randomization (0 = time-based)")
		outCSV      = flag.String("out", "", "Output CSV for the synthesized or scaled series")
		snapFile    = flag.String("snapshot", "", "Output file for a msgpack model snapshot")
		tabFile     = flag.String("tab", "", "Output WAsP frequency table (base name, .tab appended)")
		archive     = flag.String("archive", "", "SQLite archive database for loaded series")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg := loadConfig(*configFile, *sqliteCfg)
	if cfg != nil {
		if cfg.Debug {
			*debug = true
		}
		applyConfig(cfg, model, period, coverage, sectors, estimator, calcMethod, minSpeed, byMonth, segments, dayStart)
	}

	log.Init(*debug)
	defer log.Sync()

	switch {
	case *model != "":
		runCorrelation(cfg, *model, *refCSV, *targetCSV, *refDirCSV, *tarDirCSV, *extraRefs,
			*period, *coverage, *sectors, *seed, *outCSV, *snapFile, *tabFile, *archive)
	case *estimator != "":
		runShear(*estimator, *calcMethod, *minSpeed, *heightsSpec, *refDirCSV, *sectors,
			*fromHeight, *toHeight, *byMonth, *segments, *dayStart, *refCSV, *outCSV, *snapFile)
	default:
		fmt.Fprintln(os.Stderr, "either -model or -estimator is required")
		flag.Usage()
		os.Exit(1)
	}
}

func loadConfig(yamlPath, sqlitePath string) *config.Data {
	var provider config.Provider
	switch {
	case yamlPath != "":
		provider = config.NewYAMLProvider(yamlPath)
	case sqlitePath != "":
		p, err := config.NewSQLiteProvider(sqlitePath)
		if err != nil {
			fatal("opening configuration database: %v", err)
		}
		provider = p
	default:
		return nil
	}
	defer provider.Close()

	data, err := provider.LoadConfig()
	if err != nil {
		fatal("loading configuration: %v", err)
	}
	return data
}

// applyConfig overlays file-based settings onto flags left at their defaults
func applyConfig(cfg *config.Data, model, period *string, coverage *float64, sectors *int,
	estimator, calcMethod *string, minSpeed *float64, byMonth *bool, segments, dayStart *int) {
	if *model == "" && cfg.Correlation.Model != "" {
		*model = cfg.Correlation.Model
	}
	if cfg.Correlation.AveragingPeriod != "" {
		*period = cfg.Correlation.AveragingPeriod
	}
	if cfg.Correlation.CoverageThreshold > 0 {
		*coverage = cfg.Correlation.CoverageThreshold
	}
	if cfg.Correlation.Sectors > 0 {
		*sectors = cfg.Correlation.Sectors
	}
	if *estimator == "" && cfg.Shear.Estimator != "" {
		*estimator = cfg.Shear.Estimator
	}
	if cfg.Shear.CalcMethod != "" {
		*calcMethod = cfg.Shear.CalcMethod
	}
	if cfg.Shear.MinSpeed > 0 {
		*minSpeed = cfg.Shear.MinSpeed
	}
	if cfg.Shear.ByMonth {
		*byMonth = true
	}
	if cfg.Shear.DailySegments > 0 {
		*segments = cfg.Shear.DailySegments
	}
	if cfg.Shear.DayStartHour > 0 {
		*dayStart = cfg.Shear.DayStartHour
	}
}

func runCorrelation(cfg *config.Data, model, refCSV, targetCSV, refDirCSV, tarDirCSV, extraRefs,
	period string, coverage float64, sectors int, seed int64, outCSV, snapFile, tabFile, archive string) {

	if refCSV == "" || targetCSV == "" {
		fatal("-ref and -target are required for correlation")
	}
	refSpd := mustLoad(refCSV)
	tarSpd := mustLoad(targetCSV)
	var refDir, tarDir *timeseries.Series
	if refDirCSV != "" {
		refDir = mustLoad(refDirCSV)
	}
	if tarDirCSV != "" {
		tarDir = mustLoad(tarDirCSV)
	}

	if archive != "" {
		archiveSeries(archive, refSpd, tarSpd, refDir, tarDir)
	}

	var (
		synth    *timeseries.Series
		snapKind snapshot.Kind
		snapData interface{}
	)

	switch strings.ToLower(model) {
	case "ols":
		m, err := correl.NewOrdinaryLeastSquares(refSpd, tarSpd, period, coverage)
		if err != nil {
			fatal("building model: %v", err)
		}
		fit, err := m.Run()
		if err != nil {
			fatal("fitting model: %v", err)
		}
		fmt.Printf("ols: slope=%.6f offset=%.6f r2=%.4f n=%d\n", fit.Slope, fit.Offset, fit.R2, fit.NumDataPoints)
		if synth, err = m.Synthesize(nil); err != nil {
			fatal("synthesizing: %v", err)
		}
		snapKind, snapData = snapshot.KindOrdinaryLeastSquares, fit
	case "odr":
		m, err := correl.NewOrthogonalLeastSquares(refSpd, tarSpd, period, coverage)
		if err != nil {
			fatal("building model: %v", err)
		}
		fit, err := m.Run()
		if err != nil {
			fatal("fitting model: %v", err)
		}
		fmt.Printf("odr: slope=%.6f offset=%.6f r2=%.4f n=%d\n", fit.Slope, fit.Offset, fit.R2, fit.NumDataPoints)
		if synth, err = m.Synthesize(nil); err != nil {
			fatal("synthesizing: %v", err)
		}
		snapKind, snapData = snapshot.KindOrthogonalLeastSquares, fit
	case "mlr":
		refs := []*timeseries.Series{refSpd}
		for _, path := range splitList(extraRefs) {
			refs = append(refs, mustLoad(path))
		}
		m, err := correl.NewMultipleLinearRegression(refs, tarSpd, period, coverage)
		if err != nil {
			fatal("building model: %v", err)
		}
		fit, err := m.Run()
		if err != nil {
			fatal("fitting model: %v", err)
		}
		fmt.Printf("mlr: slopes=%v offset=%.6f r2=%.4f n=%d\n", fit.Slopes, fit.Offset, fit.R2, fit.NumDataPoints)
		if synth, err = m.Synthesize(nil, nil); err != nil {
			fatal("synthesizing: %v", err)
		}
		snapKind, snapData = snapshot.KindMultipleLinear, fit
	case "speedratio":
		m, err := correl.NewSimpleSpeedRatio(refSpd, tarSpd)
		if err != nil {
			fatal("building model: %v", err)
		}
		res, err := m.Run()
		if err != nil {
			fatal("fitting model: %v", err)
		}
		fmt.Printf("speedratio: ratio=%.6f target_lt=%.4f ref_lt_momm=%.4f coverage=%.3f\n",
			res.Ratio, res.TargetLongTerm, res.RefLongTermMOMM, res.TargetOverlapCoverage)
		snapKind, snapData = snapshot.KindSimpleSpeedRatio, res
	case "speedsort":
		if refDir == nil || tarDir == nil {
			fatal("-ref-dir and -target-dir are required for speedsort")
		}
		ssCfg := correl.SpeedSortConfig{
			CoverageThreshold: coverage,
			Sectors:           sectors,
		}
		if cfg != nil {
			ssCfg.DirectionBinEdges = cfg.Correlation.DirectionBinEdges
			ssCfg.LTRefSpeed = cfg.Correlation.LTRefSpeed
		}
		if seed != 0 {
			ssCfg.Rand = rand.New(rand.NewSource(seed))
		}
		m, err := correl.NewSpeedSort(refSpd, refDir, tarSpd, tarDir, period, ssCfg)
		if err != nil {
			fatal("building model: %v", err)
		}
		res, err := m.Run()
		if err != nil {
			fatal("fitting model: %v", err)
		}
		printSpeedSort(&res)
		var synthDir *timeseries.Series
		if synth, synthDir, err = m.Synthesize(nil, nil); err != nil {
			fatal("synthesizing: %v", err)
		}
		tarDir = synthDir
		snapKind, snapData = snapshot.KindSpeedSort, res
	default:
		fatal("unknown correlation model %q", model)
	}

	if outCSV != "" && synth != nil {
		writeSeriesCSV(outCSV, synth)
		log.Infof("wrote synthesized series to %s", outCSV)
	}
	if snapFile != "" {
		if err := snapshot.Save(snapFile, snapKind, snapData); err != nil {
			fatal("writing snapshot: %v", err)
		}
	}
	if tabFile != "" {
		writeTab(cfg, tabFile, synth, tarDir, sectors)
	}
}

func printSpeedSort(res *correl.SpeedSortResult) {
	fmt.Printf("speedsort: ref_cutoff=%.2f ref_veer_cutoff=%.2f target_veer_cutoff=%.2f overall_veer=%.2f\n",
		res.RefSpeedCutoff, res.RefVeerCutoff, res.TargetVeerCutoff, res.OverallVeer)
	for _, sec := range res.Sectors {
		fmt.Printf("  sector %2d: slope=%.4f offset=%.4f cutoff=%.2f veer=%.2f n=%d\n",
			sec.Sector, sec.Slope, sec.Offset, sec.TargetCutoff, sec.AverageVeer, sec.NumTotalPts)
	}
}

func runShear(estimator, calcMethod string, minSpeed float64, heightsSpec, dirCSV string, sectors int,
	fromHeight, toHeight float64, byMonth bool, segments, dayStart int, speedCSV, outCSV, snapFile string) {

	obs := mustLoadHeights(heightsSpec)
	method, err := shear.ParseCalcMethod(calcMethod)
	if err != nil {
		fatal("%v", err)
	}

	var dirs *timeseries.Series
	if dirCSV != "" {
		dirs = mustLoad(dirCSV)
	}

	var (
		est      shear.Estimator
		snapKind snapshot.Kind
		snapData interface{}
	)
	switch strings.ToLower(estimator) {
	case "average":
		a, err := shear.NewAverage(obs, method, minSpeed)
		if err != nil {
			fatal("fitting average shear: %v", err)
		}
		if method == shear.PowerLaw {
			fmt.Printf("average: alpha=%.4f coefficient=%.4f\n", a.Alpha, a.Coefficient)
		} else {
			fmt.Printf("average: slope=%.4f intercept=%.4f roughness=%.6f\n", a.Slope, a.Intercept, a.Roughness)
		}
		est, snapKind, snapData = a, snapshot.KindShearAverage, a
	case "timeofday":
		t, err := shear.NewTimeOfDay(obs, method, shear.TimeOfDayConfig{
			MinSpeed:      minSpeed,
			ByMonth:       byMonth,
			DayStartHour:  dayStart,
			DailySegments: segments,
		})
		if err != nil {
			fatal("fitting time-of-day shear: %v", err)
		}
		printTimeOfDay(t)
		est, snapKind, snapData = t, snapshot.KindShearTimeOfDay, t
	case "bysector":
		if dirs == nil {
			fatal("-ref-dir is required for bysector shear")
		}
		b, err := shear.NewBySector(obs, dirs, method, shear.BySectorConfig{
			MinSpeed: minSpeed,
			Sectors:  sectors,
		})
		if err != nil {
			fatal("fitting sector shear: %v", err)
		}
		for i, alpha := range b.Alpha {
			fmt.Printf("  sector %2d: alpha=%.4f n=%d\n", i+1, alpha, b.Counts[i])
		}
		est, snapKind, snapData = b, snapshot.KindShearBySector, b
	default:
		fatal("unknown shear estimator %q", estimator)
	}

	if snapFile != "" {
		if err := snapshot.Save(snapFile, snapKind, snapData); err != nil {
			fatal("writing snapshot: %v", err)
		}
	}

	if speedCSV != "" && fromHeight > 0 && toHeight > 0 {
		spds := mustLoad(speedCSV)
		scaled, err := est.Apply(spds, fromHeight, toHeight, shear.ApplyOptions{
			Directions: dirs,
			Progress: func(done, total int) {
				log.Debugf("shear apply progress %d/%d", done, total)
			},
		})
		if err != nil {
			fatal("applying shear: %v", err)
		}
		if outCSV != "" {
			writeSeriesCSV(outCSV, scaled)
			log.Infof("wrote scaled series to %s", outCSV)
		} else {
			fmt.Printf("scaled %s: mean %.4f over %d valid points\n", scaled.Name, scaled.Mean(), scaled.Count())
		}
	}
}

func printTimeOfDay(t *shear.TimeOfDay) {
	grid := t.Alpha
	if t.Method == shear.LogLaw {
		grid = t.Slope
	}
	for seg, hour := range t.SegmentStartHours {
		for m, v := range grid[seg] {
			fmt.Printf("  segment starting %02d:00 column %2d: %.4f\n", hour, m+1, v)
		}
	}
}

// mustLoadHeights parses "40=m40.csv,80=m80.csv" into level observations
func mustLoadHeights(spec string) *shear.Observations {
	pairs := splitList(spec)
	if len(pairs) < 2 {
		fatal("-heights requires at least two height=csv pairs")
	}
	type level struct {
		height float64
		series *timeseries.Series
	}
	levels := make([]level, 0, len(pairs))
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			fatal("invalid -heights entry %q, want height=csv", pair)
		}
		h, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			fatal("invalid height %q: %v", parts[0], err)
		}
		levels = append(levels, level{height: h, series: mustLoad(parts[1])})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].height < levels[j].height })

	series := make([]*timeseries.Series, len(levels))
	heights := make([]float64, len(levels))
	for i, lv := range levels {
		series[i] = lv.series
		heights[i] = lv.height
	}
	obs, err := shear.NewObservations(series, heights)
	if err != nil {
		fatal("building shear observations: %v", err)
	}
	return obs
}

func writeTab(cfg *config.Data, path string, synth, tarDir *timeseries.Series, sectors int) {
	if synth == nil || tarDir == nil {
		fatal("-tab requires a synthesized series and -target-dir")
	}
	freq, err := export.NewFrequencyTable(synth, tarDir, 1.0, sectors)
	if err != nil {
		fatal("building frequency table: %v", err)
	}
	site := export.SiteInfo{Name: "windassess"}
	if cfg != nil {
		site = export.SiteInfo{
			Name:      cfg.Site.Name,
			Latitude:  cfg.Site.Latitude,
			Longitude: cfg.Site.Longitude,
			Height:    cfg.Site.Height,
			DirOffset: cfg.Site.DirOffset,
		}
	}
	if err := export.WriteTabFile(path, freq, site); err != nil {
		fatal("writing frequency table: %v", err)
	}
	log.Infof("wrote frequency table to %s.tab", path)
}

func archiveSeries(path string, series ...*timeseries.Series) {
	store, err := sqlite.Open(path)
	if err != nil {
		fatal("opening archive: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	for _, s := range series {
		if s == nil {
			continue
		}
		if err := store.SaveSeries(ctx, s); err != nil {
			fatal("archiving %s: %v", s.Name, err)
		}
	}
	log.Infof("archived series to %s", path)
}

func writeSeriesCSV(path string, s *timeseries.Series) {
	f, err := os.Create(path)
	if err != nil {
		fatal("creating %s: %v", path, err)
	}
	defer f.Close()
	if err := timeseries.WriteCSV(f, s); err != nil {
		fatal("writing %s: %v", path, err)
	}
}

func mustLoad(path string) *timeseries.Series {
	s, err := timeseries.LoadCSV(path)
	if err != nil {
		fatal("loading %s: %v", path, err)
	}
	return s
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
