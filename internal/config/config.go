// Package config loads settings from an optional YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/forPelevin/chatcut/internal/ports/adapters/gemini"
)

// Task keys for per-task model selection.
const (
	TaskRawTranscript       = "raw-transcript"
	TaskCorrectedTranscript = "corrected-transcript"
	TaskIntent              = "intent"
	TaskTimelineNew         = "timeline-new"
	TaskTimelineEdit        = "timeline-edit"
	TaskSceneDescription    = "scene-description"
)

type GeminiConfig struct {
	APIKey       string   `yaml:"api_key"`
	BaseURL      string   `yaml:"base_url"`
	AllowedHosts []string `yaml:"allowed_hosts"`

	// Selection maps task key to model name; missing keys fall back to the
	// defaults.
	Selection map[string]string   `yaml:"selection"`
	Pricing   gemini.PricingTable `yaml:"pricing"`
}

type BinariesConfig struct {
	FFmpeg      string `yaml:"ffmpeg"`
	FFprobe     string `yaml:"ffprobe"`
	SceneDetect string `yaml:"scenedetect"`
}

type Config struct {
	// DataDir holds thread documents. Defaults to ~/.chatcut.
	DataDir string `yaml:"data_dir"`

	Binaries BinariesConfig `yaml:"binaries"`
	Gemini   GeminiConfig   `yaml:"gemini"`

	Verbose bool `yaml:"verbose"`
}

func defaultSelection() map[string]string {
	return map[string]string{
		TaskRawTranscript:       gemini.Model25FlashLite,
		TaskCorrectedTranscript: gemini.Model25Flash,
		TaskIntent:              gemini.Model25Flash,
		TaskTimelineNew:         gemini.Model3FlashPreview,
		TaskTimelineEdit:        gemini.Model25Flash,
		TaskSceneDescription:    gemini.Model25FlashLite,
	}
}

// Load reads the config file when it exists, fills in defaults, and applies
// environment overrides (GEMINI_API_KEY, GEMINI_BASE_URL, CHATCUT_DATA_DIR).
// An empty path means no file, defaults only.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Missing file is fine, defaults apply.
		default:
			return Config{}, err
		}
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}
	if v := os.Getenv("CHATCUT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".chatcut")
	}

	sel := defaultSelection()
	for k, v := range cfg.Gemini.Selection {
		sel[k] = v
	}
	cfg.Gemini.Selection = sel

	if cfg.Gemini.Pricing == nil {
		cfg.Gemini.Pricing = gemini.DefaultPricing()
	}
	return cfg, nil
}

// Validate checks the parts a pipeline run cannot proceed without.
func (c Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return errors.New("GEMINI_API_KEY is required (set it in .env or the config file)")
	}
	return gemini.ValidateBaseURL(c.Gemini.BaseURL, c.Gemini.AllowedHosts)
}

// Model returns the configured model for a task key.
func (c Config) Model(task string) string {
	if m, ok := c.Gemini.Selection[task]; ok && m != "" {
		return m
	}
	return gemini.Model25Flash
}
