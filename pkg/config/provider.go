// Package config loads analysis configuration from YAML files or a SQLite
// settings database through a common provider interface.
package config

// Provider defines the interface for configuration data sources
type Provider interface {
	// Load complete configuration
	LoadConfig() (*Data, error)

	// IsReadOnly reports whether the source can be written back
	IsReadOnly() bool
	Close() error
}

// Data represents the complete analysis configuration
type Data struct {
	Debug       bool            `json:"debug"`
	Site        SiteData        `json:"site"`
	Correlation CorrelationData `json:"correlation,omitempty"`
	Shear       ShearData       `json:"shear,omitempty"`
}

// SiteData identifies the measurement site for exported artifacts
type SiteData struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Height    float64 `json:"height,omitempty"`
	DirOffset float64 `json:"dir_offset,omitempty"`
}

// CorrelationData holds the correlation model selection and its knobs
type CorrelationData struct {
	Model             string    `json:"model"`
	AveragingPeriod   string    `json:"averaging_period,omitempty"`
	CoverageThreshold float64   `json:"coverage_threshold,omitempty"`
	Sectors           int       `json:"sectors,omitempty"`
	DirectionBinEdges []float64 `json:"direction_bin_edges,omitempty"`
	LTRefSpeed        float64   `json:"lt_ref_speed,omitempty"`
}

// ShearData holds the shear estimator selection and its knobs
type ShearData struct {
	Estimator     string    `json:"estimator"`
	CalcMethod    string    `json:"calc_method,omitempty"`
	MinSpeed      float64   `json:"min_speed,omitempty"`
	Heights       []float64 `json:"heights,omitempty"`
	DailySegments int       `json:"daily_segments,omitempty"`
	DayStartHour  int       `json:"day_start_hour,omitempty"`
	ByMonth       bool      `json:"by_month,omitempty"`
	Sectors       int       `json:"sectors,omitempty"`
}
