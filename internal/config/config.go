package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tailscale/hujson"
)

// Config holds the application configuration
type Config struct {
	Editor  EditorConfig  `json:"editor"`
	Overlay OverlayConfig `json:"overlay"`
	Output  OutputConfig  `json:"output"`
	Model   ModelConfig   `json:"model"`
}

// EditorConfig holds configuration for the editing session
type EditorConfig struct {
	HistoryCapacity int     `json:"history_capacity"`
	Epsilon         float64 `json:"epsilon"`
	KeepPrevious    bool    `json:"keep_previous"`
	// LabelFlags maps a label regular expression to the flags a shape with
	// a matching label starts with.
	LabelFlags map[string][]string `json:"label_flags,omitempty"`
}

// OverlayConfig holds configuration for visualization images
type OverlayConfig struct {
	RegionSize   int     `json:"region_size"`
	MarkerRadius float64 `json:"marker_radius"`
	FontSize     float64 `json:"font_size"`
}

// OutputConfig holds configuration for written images
type OutputConfig struct {
	JPEGQuality  int  `json:"jpeg_quality"`
	WebPLossless bool `json:"webp_lossless"`
}

// ModelConfig holds configuration for AI-assisted shapes
type ModelConfig struct {
	Backend string `json:"backend"`
	URL     string `json:"url"`
	Name    string `json:"name"`
	MaxDim  int    `json:"max_dim"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Editor: EditorConfig{
			HistoryCapacity: 10,
			Epsilon:         10,
			KeepPrevious:    false,
		},
		Overlay: OverlayConfig{
			RegionSize:   896,
			MarkerRadius: 5,
			FontSize:     12,
		},
		Output: OutputConfig{
			JPEGQuality:  95,
			WebPLossless: true,
		},
		Model: ModelConfig{
			Backend: "ollama",
			URL:     "http://localhost:11434",
			Name:    "llava",
			MaxDim:  1024,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Comments and trailing
// commas are accepted; fields missing from the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	data, err = hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Editor.HistoryCapacity < 1 {
		return fmt.Errorf("editor.history_capacity must be positive")
	}

	if c.Editor.Epsilon <= 0 {
		return fmt.Errorf("editor.epsilon must be positive")
	}

	for pattern := range c.Editor.LabelFlags {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("editor.label_flags: invalid pattern %q: %w", pattern, err)
		}
	}

	if c.Overlay.RegionSize < 1 {
		return fmt.Errorf("overlay.region_size must be positive")
	}

	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpeg_quality must be between 1 and 100")
	}

	switch strings.ToLower(c.Model.Backend) {
	case "ollama", "llamacpp", "llama.cpp":
	default:
		return fmt.Errorf("model.backend must be ollama or llamacpp")
	}

	if c.Model.MaxDim < 0 {
		return fmt.Errorf("model.max_dim cannot be negative")
	}

	return nil
}

// DefaultFlags returns the flags a shape labelled label starts with: every
// flag named by a pattern matching the label, all set to false.
func (c *Config) DefaultFlags(label string) map[string]bool {
	flags := map[string]bool{}
	for pattern, names := range c.Editor.LabelFlags {
		re, err := regexp.Compile(pattern)
		if err != nil || !re.MatchString(label) {
			continue
		}
		for _, name := range names {
			flags[name] = false
		}
	}
	return flags
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "avm-annotator", "config.json")
}
