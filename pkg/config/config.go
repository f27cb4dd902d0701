// Package config provides configuration loading and management for medvol.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"medvol/pkg/colormap"
	"medvol/pkg/fusion"
	"medvol/pkg/interpolation"
	"medvol/pkg/normalize"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many files are parsed concurrently
		NumCores int `yaml:"numCores"`

		// ResampleWorkers splits resampling into this many depth bands; 1 keeps it synchronous
		ResampleWorkers int `yaml:"resampleWorkers"`

		// Interpolation is "linear" or "nearest"
		Interpolation string `yaml:"interpolation"`
	} `yaml:"processing"`

	// Display parameters
	Display struct {
		// CTWindow is a center/width window; Auto uses the volume range instead
		CTWindow struct {
			Auto   bool    `yaml:"auto"`
			Center float64 `yaml:"center"`
			Width  float64 `yaml:"width"`
		} `yaml:"ctWindow"`

		// PTWindow is in SUV
		PTWindow struct {
			Min float64 `yaml:"min"`
			Max float64 `yaml:"max"`
		} `yaml:"ptWindow"`

		// FusionAlpha is the CT weight of the fused overlay
		FusionAlpha float64 `yaml:"fusionAlpha"`

		CTColormap string `yaml:"ctColormap"`
		PTColormap string `yaml:"ptColormap"`

		// CacheSize is the number of normalized planes kept per viewer
		CacheSize int `yaml:"cacheSize"`

		// FlipDepth draws sagittal and coronal planes head up
		FlipDepth bool `yaml:"flipDepth"`
	} `yaml:"display"`

	// Label parameters
	Labels struct {
		// ColorSeed makes label colours reproducible
		ColorSeed uint64 `yaml:"colorSeed"`

		// Names maps mask classes to display names
		Names map[int]string `yaml:"names"`
	} `yaml:"labels"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogFormat is "cli", "text" or "json"
		LogFormat string `yaml:"logFormat"`

		// SlicesDir is where extracted planes are written
		SlicesDir string `yaml:"slicesDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.ResampleWorkers = 1
	cfg.Processing.Interpolation = "linear"

	// Soft tissue CT window, SUV 0-2.5 for PET
	cfg.Display.CTWindow.Auto = false
	cfg.Display.CTWindow.Center = 40
	cfg.Display.CTWindow.Width = 400
	cfg.Display.PTWindow.Min = fusion.DefaultPETWindow.Min
	cfg.Display.PTWindow.Max = fusion.DefaultPETWindow.Max
	cfg.Display.FusionAlpha = fusion.DefaultAlpha
	cfg.Display.CTColormap = "gray"
	cfg.Display.PTColormap = "hot"
	cfg.Display.CacheSize = 256
	cfg.Display.FlipDepth = true

	cfg.Labels.ColorSeed = 66

	cfg.Output.Verbose = false
	cfg.Output.LogFormat = "cli"
	cfg.Output.SlicesDir = "slices"

	return cfg
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
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
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
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Processing.NumCores <= 0 {
		return fmt.Errorf("processing.numCores must be positive, got %d", c.Processing.NumCores)
	}
	if c.Processing.ResampleWorkers <= 0 {
		return fmt.Errorf("processing.resampleWorkers must be positive, got %d", c.Processing.ResampleWorkers)
	}
	if _, err := c.Sampler(); err != nil {
		return err
	}
	if !c.Display.CTWindow.Auto && c.Display.CTWindow.Width <= 0 {
		return fmt.Errorf("display.ctWindow.width must be positive, got %g", c.Display.CTWindow.Width)
	}
	if c.Display.PTWindow.Max <= c.Display.PTWindow.Min {
		return fmt.Errorf("display.ptWindow max (%g) must exceed min (%g)", c.Display.PTWindow.Max, c.Display.PTWindow.Min)
	}
	if c.Display.FusionAlpha < 0 || c.Display.FusionAlpha > 1 {
		return fmt.Errorf("display.fusionAlpha must be within [0, 1], got %g", c.Display.FusionAlpha)
	}
	if _, err := colormap.ByName(c.Display.CTColormap); err != nil {
		return fmt.Errorf("display.ctColormap: %w", err)
	}
	if _, err := colormap.ByName(c.Display.PTColormap); err != nil {
		return fmt.Errorf("display.ptColormap: %w", err)
	}
	if c.Display.CacheSize <= 0 {
		return fmt.Errorf("display.cacheSize must be positive, got %d", c.Display.CacheSize)
	}
	switch c.Output.LogFormat {
	case "cli", "text", "json":
	default:
		return fmt.Errorf("output.logFormat must be cli, text or json, got %q", c.Output.LogFormat)
	}
	return nil
}

// Sampler returns the configured interpolation.
func (c *Config) Sampler() (interpolation.Sampler, error) {
	return interpolation.ByName(c.Processing.Interpolation)
}

// CTWindow returns the configured CT display window.
func (c *Config) CTWindow() normalize.Window {
	if c.Display.CTWindow.Auto {
		return normalize.Auto()
	}
	return normalize.CenterWidth(c.Display.CTWindow.Center, c.Display.CTWindow.Width)
}

// PTWindow returns the configured PET display window.
func (c *Config) PTWindow() normalize.Window {
	return normalize.Range(c.Display.PTWindow.Min, c.Display.PTWindow.Max)
}
