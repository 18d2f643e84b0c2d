package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const defaultConfigPath = "~/.config/serstack/config.json"

// Config holds user-editable settings for the pipeline.
type Config struct {
	Cache     Cache     `json:"cache"`
	Color     Color     `json:"color"`
	Stacking  Stacking  `json:"stacking"`
	Alignment Alignment `json:"alignment"`
	Enhance   Enhance   `json:"enhance"`
	Logging   Logging   `json:"logging"`
	Paths     Paths     `json:"paths"`
}

// Cache bounds the reconstructed-frame cache.
type Cache struct {
	Size int `json:"size"`
}

// Color configures raw sample reconstruction.
type Color struct {
	// CYYMOrientation forces one of CYYM, YCMY, YMCY, MYYC. Empty means
	// auto-detect from the instrument name in the header.
	CYYMOrientation string `json:"cyym_orientation"`
}

// Stacking captures composite-generation defaults.
type Stacking struct {
	Method           string  `json:"method"` // average, median, sum
	Align            bool    `json:"align"`
	QualityThreshold float64 `json:"quality_threshold"`
	AutoStretch      bool    `json:"auto_stretch"`
	LuckyPercentage  float64 `json:"lucky_percentage"`
}

// Alignment tunes the registration strategies.
type Alignment struct {
	MaxIterations int     `json:"max_iterations"` // intensity strategy
	Epsilon       float64 `json:"epsilon"`
	MaxFeatures   int     `json:"max_features"` // feature strategy
	MaxShift      float64 `json:"max_shift"`
}

// Enhance configures the post-stack enhancement chain.
type Enhance struct {
	DenoiseStrength float64 `json:"denoise_strength"`
	UnsharpSigma    float64 `json:"unsharp_sigma"`
	UnsharpAmount   float64 `json:"unsharp_amount"`
}

// Logging controls verbosity and output format.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Paths configures default output locations and the run-history database.
type Paths struct {
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Cache: Cache{Size: 10},
		Color: Color{CYYMOrientation: ""},
		Stacking: Stacking{
			Method:          "average",
			Align:           true,
			AutoStretch:     true,
			LuckyPercentage: 10,
		},
		Alignment: Alignment{
			MaxIterations: 5000,
			Epsilon:       1e-6,
			MaxFeatures:   10000,
			MaxShift:      200,
		},
		Enhance: Enhance{
			DenoiseStrength: 5,
			UnsharpSigma:    2,
			UnsharpAmount:   1.5,
		},
		Logging: Logging{Level: "info", Format: "text"},
		Paths: Paths{
			DefaultOutput: ".",
			DatabasePath:  expandHome("~/.config/serstack/history.db"),
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string { return expandHome(defaultConfigPath) }

// Load reads the config at path, layering it over the defaults. A missing
// file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
