package correl

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/brightmast/windassess/internal/log"
	"github.com/brightmast/windassess/pkg/timeseries"
)

// SpeedRatioResult is the fitted record of the simple speed ratio model.
type SpeedRatioResult struct {
	RunID                 string
	Ratio                 float64
	RefLongTermMOMM       float64
	TargetLongTerm        float64
	TargetOverlapCoverage float64
}

// SimpleSpeedRatio estimates the long-term target wind speed as the ratio
// of target to reference means over their overlap window, applied to the
// mean-of-monthly-means of the full reference history. A back-of-the-
// envelope method: a guide, not a robust resource assessment.
type SimpleSpeedRatio struct {
	refSpd *timeseries.Series
	tarSpd *timeseries.Series

	overlapStart time.Time
	overlapEnd   time.Time
	refOverlap   *timeseries.Series
	tarOverlap   *timeseries.Series

	result *SpeedRatioResult
	diags  []Diagnostic
}

// NewSimpleSpeedRatio computes the overlap window between the cleaned
// series: the later first valid timestamp through the earlier last valid
// timestamp. No period alignment or regression is involved.
func NewSimpleSpeedRatio(refSpd, tarSpd *timeseries.Series) (*SimpleSpeedRatio, error) {
	start, end, err := timeseries.OverlapWindow(refSpd, tarSpd)
	if err != nil {
		return nil, fmt.Errorf("simple speed ratio: %w", err)
	}
	return &SimpleSpeedRatio{
		refSpd:       refSpd,
		tarSpd:       tarSpd,
		overlapStart: start,
		overlapEnd:   end,
		refOverlap:   refSpd.Window(start, end),
		tarOverlap:   tarSpd.Window(start, end),
	}, nil
}

// Overlap returns the computed overlap window.
func (m *SimpleSpeedRatio) Overlap() (time.Time, time.Time) {
	return m.overlapStart, m.overlapEnd
}

// Diagnostics returns the non-fatal findings recorded so far.
func (m *SimpleSpeedRatio) Diagnostics() []Diagnostic { return m.diags }

// Run computes the ratio, the long-term target estimate, and the target
// data coverage over the overlap window. Coverage below 90% is surfaced as
// a warning, not a failure: the ratio is materially weakened but still
// computed.
func (m *SimpleSpeedRatio) Run() (SpeedRatioResult, error) {
	refMean := m.refOverlap.Mean()
	tarMean := m.tarOverlap.Mean()
	if math.IsNaN(refMean) || refMean == 0 {
		return SpeedRatioResult{}, fmt.Errorf("%w: reference has no usable overlap data", ErrInsufficientData)
	}

	res := SpeedRatioResult{
		RunID:           uuid.New().String(),
		Ratio:           tarMean / refMean,
		RefLongTermMOMM: m.refSpd.MOMM(),
	}
	res.TargetLongTerm = res.Ratio * res.RefLongTermMOMM
	res.TargetOverlapCoverage = m.targetOverlapCoverage()
	m.result = &res

	if res.TargetOverlapCoverage < 0.9 {
		msg := fmt.Sprintf("target overlap coverage is poor at %.3f; use this calculation with caution",
			res.TargetOverlapCoverage)
		m.diags = append(m.diags, Diagnostic{Level: DiagWarning, Message: msg})
		log.Warnf("simple speed ratio: %s", msg)
	}
	return res, nil
}

// Params returns the fitted record, or ErrNotFitted before the first Run.
func (m *SimpleSpeedRatio) Params() (SpeedRatioResult, error) {
	if m.result == nil {
		return SpeedRatioResult{}, ErrNotFitted
	}
	return *m.result, nil
}

// targetOverlapCoverage is the valid target sample count over the count the
// window could hold at the target's native resolution. Monthly-resolution
// data rounds the expected count to whole months.
func (m *SimpleSpeedRatio) targetOverlapCoverage() float64 {
	res := m.tarOverlap.Resolution()
	if res <= 0 {
		return 1.0
	}
	maxPts := float64(m.overlapEnd.Sub(m.overlapStart)) / float64(res)
	if res >= 28*24*time.Hour {
		maxPts = math.Round(maxPts)
	}
	if maxPts < 1 {
		maxPts = 1
	}
	return float64(m.tarOverlap.Count()) / maxPts
}
