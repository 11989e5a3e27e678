package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Cache     CacheConfig     `yaml:"cache"`
	Source    SourceConfig    `yaml:"source"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Report    ReportConfig    `yaml:"report"`
}

// CacheConfig holds local cache database settings
type CacheConfig struct {
	Dir          string        `yaml:"dir"`
	DirectoryTTL time.Duration `yaml:"directory_ttl"` // security name directories
	CalendarTTL  time.Duration `yaml:"calendar_ttl"`  // exchange trading calendar
}

// SourceConfig holds market data source settings
type SourceConfig struct {
	RateLimit int           `yaml:"rate_limit"` // requests per minute
	Timeout   time.Duration `yaml:"timeout"`
}

// IndicatorConfig holds indicator engine parameters
type IndicatorConfig struct {
	TrendLookback    int              `yaml:"trend_lookback"`
	TrendMultiplier  float64          `yaml:"trend_multiplier"`
	OscillatorPeriod int              `yaml:"oscillator_period"`
	Divergence       DivergenceConfig `yaml:"divergence"`
}

// DivergenceConfig exposes the tunable divergence thresholds. The overbought
// and oversold values are the interval-crossing requirements; short-term gets
// its own looser pair.
type DivergenceConfig struct {
	MinConfidence   float64 `yaml:"min_confidence"`
	OverboughtShort float64 `yaml:"overbought_short"`
	Overbought      float64 `yaml:"overbought"` // medium and long timeframes
	OversoldShort   float64 `yaml:"oversold_short"`
	Oversold        float64 `yaml:"oversold"` // medium and long timeframes
}

// ReportConfig holds report output settings
type ReportConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Dir:          "cache",
			DirectoryTTL: 24 * time.Hour,
			CalendarTTL:  7 * 24 * time.Hour,
		},
		Source: SourceConfig{
			RateLimit: 60,
			Timeout:   30 * time.Second,
		},
		Indicator: IndicatorConfig{
			TrendLookback:    14,
			TrendMultiplier:  2.0,
			OscillatorPeriod: 14,
			Divergence: DivergenceConfig{
				MinConfidence:   30,
				OverboughtShort: 60,
				Overbought:      65,
				OversoldShort:   35,
				Oversold:        30,
			},
		},
		Report: ReportConfig{
			Dir: "reports",
		},
	}
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(cfg), nil // Use defaults if file doesn't exist
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return applyEnv(cfg), nil
}

// applyEnv overrides file settings with environment variables if set
func applyEnv(cfg *Config) *Config {
	if dir := os.Getenv("PULSETRADER_CACHE_DIR"); dir != "" {
		cfg.Cache.Dir = dir
	}
	if dir := os.Getenv("PULSETRADER_REPORT_DIR"); dir != "" {
		cfg.Report.Dir = dir
	}
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache dir must not be empty")
	}
	if c.Indicator.TrendLookback < 2 {
		return fmt.Errorf("trend_lookback must be at least 2")
	}
	if c.Indicator.TrendMultiplier <= 0 {
		return fmt.Errorf("trend_multiplier must be positive")
	}
	if c.Indicator.OscillatorPeriod < 2 {
		return fmt.Errorf("oscillator_period must be at least 2")
	}
	d := c.Indicator.Divergence
	if d.MinConfidence < 0 || d.MinConfidence > 100 {
		return fmt.Errorf("divergence min_confidence must be in [0,100]")
	}
	if c.Source.RateLimit < 1 {
		return fmt.Errorf("source rate_limit must be at least 1")
	}
	return nil
}
