// Package config provides configuration loading and management for dicomto3d.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for per-slice conversion
		NumCores int `yaml:"numCores"`

		// Source selects how the volume is built: pc, img, vox or iv
		Source string `yaml:"source"`

		// ForegroundThreshold is the HU value a pixel must exceed to be foreground
		ForegroundThreshold int16 `yaml:"foregroundThreshold"`

		// Smooth enables Gaussian smoothing of the scalar field
		Smooth bool `yaml:"smooth"`

		// SmoothDeviation is the Gaussian standard deviation in voxels
		SmoothDeviation float64 `yaml:"smoothDeviation"`

		// SmoothRadiusFactor bounds the kernel radius to deviation*factor voxels
		SmoothRadiusFactor float64 `yaml:"smoothRadiusFactor"`
	} `yaml:"processing"`

	// Geometry validation parameters
	Geometry struct {
		// UniformTolerance is the largest allowed difference in spacing or
		// orientation between any slice and the first one
		UniformTolerance float64 `yaml:"uniformTolerance"`

		// StencilTolerance is the distance, in fractions of a voxel, within which
		// a grid point on the surface counts as inside
		StencilTolerance float64 `yaml:"stencilTolerance"`
	} `yaml:"geometry"`

	// Output parameters
	Output struct {
		// SavePreviews exports axis-aligned preview images of the final grid
		SavePreviews bool `yaml:"savePreviews"`

		// PreviewDir is the directory preview images are written to
		PreviewDir string `yaml:"previewDir"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogLevel is a logrus level name; Verbose overrides it with debug
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Source = "img"
	cfg.Processing.ForegroundThreshold = 0
	cfg.Processing.Smooth = false
	cfg.Processing.SmoothDeviation = 8.0
	cfg.Processing.SmoothRadiusFactor = 1.5

	cfg.Geometry.UniformTolerance = 1e-4
	cfg.Geometry.StencilTolerance = 1e-3

	cfg.Output.SavePreviews = false
	cfg.Output.PreviewDir = "previews"
	cfg.Output.Verbose = false
	cfg.Output.LogLevel = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

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

// Validate checks values that would otherwise fail deep inside the pipeline
func (c *Config) Validate() error {
	switch c.Processing.Source {
	case "pc", "img", "vox", "iv":
	default:
		return fmt.Errorf("invalid source %q (must be pc, img, vox or iv)", c.Processing.Source)
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	if c.Processing.SmoothDeviation <= 0 {
		return fmt.Errorf("smoothDeviation must be positive, got %g", c.Processing.SmoothDeviation)
	}
	if c.Processing.SmoothRadiusFactor <= 0 {
		return fmt.Errorf("smoothRadiusFactor must be positive, got %g", c.Processing.SmoothRadiusFactor)
	}
	if c.Geometry.UniformTolerance < 0 || c.Geometry.StencilTolerance < 0 {
		return fmt.Errorf("geometry tolerances must not be negative")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
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
	return SaveConfig(DefaultConfig(), configPath)
}
