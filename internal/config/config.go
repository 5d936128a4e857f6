// Package config provides configuration management for the PRISM clip pipeline.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v10"
)

// Resolution is the temporal resolution of a requested climate dataset.
type Resolution string

// Supported temporal resolutions.
const (
	ResolutionDaily   Resolution = "daily"
	ResolutionMonthly Resolution = "monthly"
	ResolutionAnnual  Resolution = "annual"
	ResolutionNormal  Resolution = "normal"
)

// SupportedVariables is the fixed set of climate variables the provider serves.
var SupportedVariables = []string{"ppt", "tmean", "tmin", "tmax", "tdmean", "vpdmin", "vpdmax"}

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	Fetch    FetchConfig    `envPrefix:"FETCH_"`
	Provider ProviderConfig `envPrefix:"PRISM_"`
	Paths    PathConfig     `envPrefix:"PATH_"`
	Clip     ClipConfig     `envPrefix:"CLIP_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
}

// FetchConfig describes which datasets to download.
type FetchConfig struct {
	StartDate  Date       `env:"START_DATE"`
	EndDate    Date       `env:"END_DATE"`
	Resolution Resolution `env:"RESOLUTION"`
	Variables  []string   `env:"VARIABLES"`
	// Months restricts monthly and normal fetches to a subset of 1-12.
	// Unset means all twelve months.
	Months    []int `env:"MONTHS" envDefault:"1,2,3,4,5,6,7,8,9,10,11,12"`
	RetainRaw bool  `env:"RETAIN_RAW" envDefault:"false"`
}

// ProviderConfig contains PRISM web-service client configuration.
type ProviderConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"https://services.nacse.org"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"120s"`
	// SpatialRes is the resolution tier requested for 30-year normals.
	SpatialRes string `env:"SPATIAL_RES" envDefault:"4km"`
}

// PathConfig contains the filesystem roots the pipeline operates on.
// All paths are explicit; no component relies on the process working directory.
type PathConfig struct {
	RawRoot     string `env:"RAW_ROOT"`
	OutRoot     string `env:"OUT_ROOT"`
	BoundaryDir string `env:"BOUNDARY_DIR"`
}

// ClipConfig contains spatial-reduction configuration.
type ClipConfig struct {
	// TargetSRS is the coordinate reference system, as a proj4 string, that
	// both the study-area polygon and every raster are reprojected into.
	TargetSRS string `env:"TARGET_SRS" envDefault:"+proj=longlat +datum=NAD83 +no_defs"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults resolves defaults for configs built programmatically, where
// the struct-tag defaults do not apply.
func (c *Config) applyDefaults() {
	if len(c.Fetch.Months) == 0 {
		c.Fetch.Months = AllMonths()
	}
}

// AllMonths returns the twelve calendar months in order.
func AllMonths() []int {
	months := make([]int, 12)
	for i := range months {
		months[i] = i + 1
	}
	return months
}

// Validate checks that the configuration is valid. It runs before any
// network or filesystem I/O; a failure here is fatal to the run.
func (c *Config) Validate() error {
	if c.Fetch.StartDate.IsZero() {
		return fmt.Errorf("start date is required")
	}
	if c.Fetch.EndDate.IsZero() {
		return fmt.Errorf("end date is required")
	}
	if c.Fetch.EndDate.Time().Before(c.Fetch.StartDate.Time()) {
		return fmt.Errorf("start date %s is after end date %s", c.Fetch.StartDate, c.Fetch.EndDate)
	}

	switch c.Fetch.Resolution {
	case ResolutionDaily, ResolutionMonthly, ResolutionAnnual, ResolutionNormal:
	default:
		return fmt.Errorf("temporal resolution must be one of daily, monthly, annual, normal, got %q", c.Fetch.Resolution)
	}

	if len(c.Fetch.Variables) == 0 {
		return fmt.Errorf("at least one climate variable is required")
	}
	for _, v := range c.Fetch.Variables {
		if !slices.Contains(SupportedVariables, v) {
			return fmt.Errorf("unsupported climate variable %q, must be one of %v", v, SupportedVariables)
		}
	}

	for _, m := range c.Fetch.Months {
		if m < 1 || m > 12 {
			return fmt.Errorf("month must be between 1 and 12, got %d", m)
		}
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base URL is required")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider timeout must be positive, got %s", c.Provider.Timeout)
	}
	if c.Provider.SpatialRes == "" {
		return fmt.Errorf("provider spatial resolution tier is required")
	}

	if c.Paths.RawRoot == "" {
		return fmt.Errorf("raw data root is required")
	}
	if c.Paths.OutRoot == "" {
		return fmt.Errorf("output root is required")
	}
	if c.Paths.BoundaryDir == "" {
		return fmt.Errorf("boundary directory is required")
	}

	if c.Clip.TargetSRS == "" {
		return fmt.Errorf("target coordinate reference system is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}
