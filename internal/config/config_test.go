package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Cache.Dir != "cache" {
		t.Errorf("Expected cache dir 'cache', got %q", cfg.Cache.Dir)
	}
	if cfg.Cache.DirectoryTTL != 24*time.Hour {
		t.Errorf("Expected directory TTL 24h, got %v", cfg.Cache.DirectoryTTL)
	}
	if cfg.Cache.CalendarTTL != 7*24*time.Hour {
		t.Errorf("Expected calendar TTL 168h, got %v", cfg.Cache.CalendarTTL)
	}
	if cfg.Source.RateLimit != 60 {
		t.Errorf("Expected rate limit 60/min, got %d", cfg.Source.RateLimit)
	}
	if cfg.Indicator.TrendLookback != 14 || cfg.Indicator.TrendMultiplier != 2.0 {
		t.Errorf("Wrong trend defaults: %+v", cfg.Indicator)
	}
	if cfg.Indicator.Divergence.MinConfidence != 30 {
		t.Errorf("Expected min confidence 30, got %v", cfg.Indicator.Divergence.MinConfidence)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Missing file should not error: %v", err)
	}
	if cfg.Source.RateLimit != DefaultConfig().Source.RateLimit {
		t.Error("Missing file should fall back to defaults")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
cache:
  dir: /tmp/ptcache
  directory_ttl: 1h
source:
  rate_limit: 10
indicator:
  oscillator_period: 9
  divergence:
    min_confidence: 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache.Dir != "/tmp/ptcache" {
		t.Errorf("cache dir override lost: %q", cfg.Cache.Dir)
	}
	if cfg.Cache.DirectoryTTL != time.Hour {
		t.Errorf("directory TTL override lost: %v", cfg.Cache.DirectoryTTL)
	}
	if cfg.Source.RateLimit != 10 {
		t.Errorf("rate limit override lost: %d", cfg.Source.RateLimit)
	}
	if cfg.Indicator.OscillatorPeriod != 9 {
		t.Errorf("oscillator period override lost: %d", cfg.Indicator.OscillatorPeriod)
	}
	if cfg.Indicator.Divergence.MinConfidence != 50 {
		t.Errorf("min confidence override lost: %v", cfg.Indicator.Divergence.MinConfidence)
	}
	// Untouched keys keep their defaults.
	if cfg.Indicator.TrendLookback != 14 {
		t.Errorf("unrelated default clobbered: %d", cfg.Indicator.TrendLookback)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("cache: [not a map"), 0644)

	if _, err := Load(path); err == nil {
		t.Error("Expected an error for malformed yaml")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PULSETRADER_CACHE_DIR", "/tmp/envcache")
	t.Setenv("PULSETRADER_REPORT_DIR", "/tmp/envreports")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache.Dir != "/tmp/envcache" {
		t.Errorf("Env cache dir not applied: %q", cfg.Cache.Dir)
	}
	if cfg.Report.Dir != "/tmp/envreports" {
		t.Errorf("Env report dir not applied: %q", cfg.Report.Dir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty cache dir", func(c *Config) { c.Cache.Dir = "" }},
		{"short trend lookback", func(c *Config) { c.Indicator.TrendLookback = 1 }},
		{"zero multiplier", func(c *Config) { c.Indicator.TrendMultiplier = 0 }},
		{"short oscillator period", func(c *Config) { c.Indicator.OscillatorPeriod = 1 }},
		{"confidence above 100", func(c *Config) { c.Indicator.Divergence.MinConfidence = 120 }},
		{"zero rate limit", func(c *Config) { c.Source.RateLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
