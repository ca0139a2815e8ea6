// Package config provides configuration loading and management for caretcore.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"caretcore/pkg/algorithm"
)

// Correlation modes.
const (
	ModeInMemory    = "inMemory"
	ModeIncremental = "incremental"
)

// FilterFiveTap is the only supported low-pass filter footprint.
const FilterFiveTap = "fiveTap"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Runtime parameters shared by both engines
	Runtime struct {
		// NumWorkers is the size of the worker pool; 1 disables concurrency
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"runtime"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`

		// Format is text or json
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Correlation engine parameters
	Correlation Correlation `yaml:"correlation"`

	// Gradient engine parameters
	Gradient Gradient `yaml:"gradient"`
}

// Correlation holds the dense correlation-matrix engine settings.
type Correlation struct {
	// ApplyFisherZ converts every correlation with the Fisher z-transform
	ApplyFisherZ bool `yaml:"applyFisherZ"`

	// Parallel enables the worker pool for row statistics and correlation
	Parallel bool `yaml:"parallel"`

	// Mode is inMemory or incremental
	Mode string `yaml:"mode"`

	// InputPath is the GIFTI metric file read in incremental mode
	InputPath string `yaml:"inputPath"`

	// OutputPath receives the R x R float32 matrix
	OutputPath string `yaml:"outputPath"`

	// OutputGifti writes a GIFTI header alongside (incremental) or instead of
	// (in-memory) the raw matrix
	OutputGifti bool `yaml:"outputGifti"`
}

// Gradient holds the volume gradient engine settings.
type Gradient struct {
	// Lambda selects the filter bank, one of 1, 2, 5
	Lambda int `yaml:"lambda"`

	// Masking restricts the projection to voxels inside MaskPath
	Masking bool `yaml:"masking"`

	// MaskPath is a raw float32 volume with the same dimensions as the input
	MaskPath string `yaml:"maskPath"`

	// FilterSize is the low-pass filter footprint, only fiveTap is supported
	FilterSize string `yaml:"filterSize"`

	// Debug enables per-slab diagnostics and magnitude slice dumps
	Debug bool `yaml:"debug"`

	// DebugDir receives magnitude slices when Debug is set
	DebugDir string `yaml:"debugDir"`

	// ParallelSlabs processes slabs concurrently at the cost of peak memory
	ParallelSlabs bool `yaml:"parallelSlabs"`

	// Dims are the dimensions of raw input volumes
	Dims struct {
		X int `yaml:"x"`
		Y int `yaml:"y"`
		Z int `yaml:"z"`
	} `yaml:"dims"`

	// InputPath is the raw float32 input volume
	InputPath string `yaml:"inputPath"`

	// OutputPath receives the gradient directions (magnitudes go to OutputPath.mag)
	OutputPath string `yaml:"outputPath"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Runtime.NumWorkers = runtime.NumCPU() // Use all available cores by default

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Correlation.ApplyFisherZ = false
	cfg.Correlation.Parallel = true
	cfg.Correlation.Mode = ModeInMemory

	cfg.Gradient.Lambda = 2
	cfg.Gradient.FilterSize = FilterFiveTap
	cfg.Gradient.DebugDir = "gradient_debug"

	return cfg
}

// Validate checks enumerated options.
func (c *Config) Validate() error {
	switch c.Correlation.Mode {
	case ModeInMemory, ModeIncremental:
	default:
		return algorithm.Errorf(algorithm.ErrInconsistent, "config", "unknown correlation mode %q", c.Correlation.Mode)
	}
	switch c.Gradient.Lambda {
	case 1, 2, 5:
	default:
		return algorithm.Errorf(algorithm.ErrInconsistent, "config", "lambda must be 1, 2 or 5, got %d", c.Gradient.Lambda)
	}
	if c.Gradient.FilterSize != FilterFiveTap {
		return algorithm.Errorf(algorithm.ErrInconsistent, "config", "unsupported filter size %q", c.Gradient.FilterSize)
	}
	if c.Runtime.NumWorkers < 0 {
		return algorithm.Errorf(algorithm.ErrInconsistent, "config", "numWorkers must not be negative")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Workers returns the worker count an engine should use given its parallel flag.
func (c *Config) Workers(parallel bool) int {
	if !parallel || c.Runtime.NumWorkers <= 1 {
		return 1
	}
	return c.Runtime.NumWorkers
}
