// Package config holds the unified codeframe configuration: oracle
// credentials, generation pacing, matching thresholds, versioning policy,
// export settings, and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all codeframe configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Oracle configures the external classification service.
	Oracle OracleConfig `yaml:"oracle"`

	// Generation configures the orchestrator.
	Generation GenerationConfig `yaml:"generation"`

	// Matching configures the deterministic matching engine.
	Matching MatchingConfig `yaml:"matching"`

	// Versioning configures wave snapshots and diffs.
	Versioning VersioningConfig `yaml:"versioning"`

	// Export configures the wide-table writer.
	Export ExportConfig `yaml:"export"`

	// Logging configures the categorized debug logger.
	Logging LoggingConfig `yaml:"logging"`
}

// OracleConfig configures the classification oracle client.
type OracleConfig struct {
	Provider    string `yaml:"provider"` // gemini, openai-compatible
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	Timeout     string `yaml:"timeout"`
	MaxRetries  int    `yaml:"max_retries"`
	MinInterval string `yaml:"min_interval"` // pacing between calls
}

// GenerationConfig configures group dispatch.
type GenerationConfig struct {
	// Concurrency bounds the number of in-flight oracle calls.
	Concurrency int `yaml:"concurrency"`

	// SampleSize caps the number of verbatims sent per column.
	SampleSize int `yaml:"sample_size"`

	// Insights enables the cross-group summary when >1 group succeeds.
	Insights bool `yaml:"insights"`
}

// MatchingConfig configures the matching engine.
type MatchingConfig struct {
	// Threshold is the minimum confidence for a code to apply.
	Threshold float64 `yaml:"threshold"`
}

// VersioningConfig configures snapshot comparison.
type VersioningConfig struct {
	// ComparisonMode: wave-over-wave, vs-baseline, or all-waves.
	ComparisonMode string `yaml:"comparison_mode"`

	// BaselineVersion pins the baseline for vs-baseline mode.
	BaselineVersion int `yaml:"baseline_version"`

	// SignificanceThreshold is the percentage-point cutoff for reporting
	// percentage changes.
	SignificanceThreshold float64 `yaml:"significance_threshold"`

	// DatabasePath locates the SQLite version store.
	DatabasePath string `yaml:"database_path"`
}

// ExportConfig configures the wide-table export.
type ExportConfig struct {
	// SlotColumns is the number of fixed numeric-id slot columns per question.
	SlotColumns int `yaml:"slot_columns"`

	// OutputDirectory is where CSV exports land.
	OutputDirectory string `yaml:"output_directory"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Level      string          `yaml:"level" json:"level"`
	Categories map[string]bool `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Comparison modes for VersioningConfig.
const (
	CompareWaveOverWave = "wave-over-wave"
	CompareVsBaseline   = "vs-baseline"
	CompareAllWaves     = "all-waves"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "codeframe",
		Version: "1.0.0",

		Oracle: OracleConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Timeout:     "120s",
			MaxRetries:  3,
			MinInterval: "600ms",
		},

		Generation: GenerationConfig{
			Concurrency: 3,
			SampleSize:  200,
			Insights:    true,
		},

		Matching: MatchingConfig{
			Threshold: 0.2,
		},

		Versioning: VersioningConfig{
			ComparisonMode:        CompareWaveOverWave,
			SignificanceThreshold: 5,
			DatabasePath:          filepath.Join(".codeframe", "versions.db"),
		},

		Export: ExportConfig{
			SlotColumns:     10,
			OutputDirectory: ".",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. Missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Oracle API key (checked in priority order)
	if key := os.Getenv("CODEFRAME_API_KEY"); key != "" {
		c.Oracle.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Oracle.APIKey = key
		c.Oracle.Provider = "gemini"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Oracle.APIKey == "" {
		c.Oracle.APIKey = key
		c.Oracle.Provider = "openai-compatible"
	}

	if url := os.Getenv("CODEFRAME_ORACLE_URL"); url != "" {
		c.Oracle.BaseURL = url
	}
	if path := os.Getenv("CODEFRAME_DB"); path != "" {
		c.Versioning.DatabasePath = path
	}
}

// GetOracleTimeout returns the oracle timeout as a duration.
func (c *Config) GetOracleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Oracle.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetMinInterval returns the oracle pacing interval as a duration.
func (c *Config) GetMinInterval() time.Duration {
	d, err := time.ParseDuration(c.Oracle.MinInterval)
	if err != nil {
		return 600 * time.Millisecond
	}
	return d
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.Generation.Concurrency < 1 {
		return fmt.Errorf("generation.concurrency must be >= 1, got %d", c.Generation.Concurrency)
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold >= 1 {
		return fmt.Errorf("matching.threshold must be in [0, 1), got %f", c.Matching.Threshold)
	}
	switch c.Versioning.ComparisonMode {
	case CompareWaveOverWave, CompareVsBaseline, CompareAllWaves:
	default:
		return fmt.Errorf("unknown comparison mode %q", c.Versioning.ComparisonMode)
	}
	if c.Export.SlotColumns < 0 {
		return fmt.Errorf("export.slot_columns must be >= 0, got %d", c.Export.SlotColumns)
	}
	return nil
}
