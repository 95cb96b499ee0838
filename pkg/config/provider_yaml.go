package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements Provider for YAML configuration files
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{filename: filename}
}

// LoadConfig loads the complete configuration from the YAML file
func (y *YAMLProvider) LoadConfig() (*Data, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	var yamlConfig struct {
		Debug bool `yaml:"debug"`
		Site  struct {
			Name      string  `yaml:"name"`
			Latitude  float64 `yaml:"latitude"`
			Longitude float64 `yaml:"longitude"`
			Height    float64 `yaml:"height"`
			DirOffset float64 `yaml:"dir_offset"`
		} `yaml:"site"`
		Correlation struct {
			Model             string    `yaml:"model"`
			AveragingPeriod   string    `yaml:"averaging_period"`
			CoverageThreshold float64   `yaml:"coverage_threshold"`
			Sectors           int       `yaml:"sectors"`
			DirectionBinEdges []float64 `yaml:"direction_bin_edges"`
			LTRefSpeed        float64   `yaml:"lt_ref_speed"`
		} `yaml:"correlation"`
		Shear struct {
			Estimator     string    `yaml:"estimator"`
			CalcMethod    string    `yaml:"calc_method"`
			MinSpeed      float64   `yaml:"min_speed"`
			Heights       []float64 `yaml:"heights"`
			DailySegments int       `yaml:"daily_segments"`
			DayStartHour  int       `yaml:"day_start_hour"`
			ByMonth       bool      `yaml:"by_month"`
			Sectors       int       `yaml:"sectors"`
		} `yaml:"shear"`
	}

	if err := yaml.Unmarshal(cfgFile, &yamlConfig); err != nil {
		return nil, err
	}

	return &Data{
		Debug: yamlConfig.Debug,
		Site: SiteData{
			Name:      yamlConfig.Site.Name,
			Latitude:  yamlConfig.Site.Latitude,
			Longitude: yamlConfig.Site.Longitude,
			Height:    yamlConfig.Site.Height,
			DirOffset: yamlConfig.Site.DirOffset,
		},
		Correlation: CorrelationData{
			Model:             yamlConfig.Correlation.Model,
			AveragingPeriod:   yamlConfig.Correlation.AveragingPeriod,
			CoverageThreshold: yamlConfig.Correlation.CoverageThreshold,
			Sectors:           yamlConfig.Correlation.Sectors,
			DirectionBinEdges: yamlConfig.Correlation.DirectionBinEdges,
			LTRefSpeed:        yamlConfig.Correlation.LTRefSpeed,
		},
		Shear: ShearData{
			Estimator:     yamlConfig.Shear.Estimator,
			CalcMethod:    yamlConfig.Shear.CalcMethod,
			MinSpeed:      yamlConfig.Shear.MinSpeed,
			Heights:       yamlConfig.Shear.Heights,
			DailySegments: yamlConfig.Shear.DailySegments,
			DayStartHour:  yamlConfig.Shear.DayStartHour,
			ByMonth:       yamlConfig.Shear.ByMonth,
			Sectors:       yamlConfig.Shear.Sectors,
		},
	}, nil
}

// IsReadOnly always returns true: YAML files are edited by hand
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for file-backed configuration
func (y *YAMLProvider) Close() error {
	return nil
}
