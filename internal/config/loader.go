package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lamim/animeforge/pkg/models"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// characterFile is the layout of an external characters file
type characterFile struct {
	Characters []models.CharacterTemplate `toml:"characters" yaml:"characters"`
}

// Override adjusts the parsed file (e.g. from CLI flags) before defaults and validation
type Override func(*Config)

// Load reads and parses the configuration file and environment variables.
// A missing config file is not an error: the built-in defaults are used.
func Load(configPath string, overrides ...Override) (*Config, *Secrets, error) {
	var cfg Config

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults only
	default:
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for _, override := range overrides {
		override(&cfg)
	}

	// Apply defaults
	applyDefaults(&cfg)

	// Merge external characters, resolved relative to the config file
	if cfg.CharactersFile != "" {
		path := cfg.CharactersFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(configPath), path)
		}
		extra, err := LoadCharacters(path)
		if err != nil {
			return nil, nil, err
		}
		cfg.Characters = append(cfg.Characters, extra...)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Additional input security validation
	if err := cfg.ValidateInputs(); err != nil {
		return nil, nil, fmt.Errorf("input validation failed: %w", err)
	}

	// Load secrets from environment
	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &cfg, secrets, nil
}

// LoadCharacters reads character templates from a YAML (.yaml/.yml) or TOML file
func LoadCharacters(path string) ([]models.CharacterTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read characters file: %w", err)
	}

	var file characterFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported characters file extension %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse characters file %s: %w", path, err)
	}

	return file.Characters, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Backend defaults
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendWebUI
	}
	if cfg.Backend.Kind == BackendWebUI && cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://127.0.0.1:7860"
	}
	if cfg.Backend.Model == "" {
		switch cfg.Backend.Kind {
		case BackendGemini:
			cfg.Backend.Model = "gemini-2.5-flash-image"
		default:
			cfg.Backend.Model = "anything-v5"
		}
	}
	if cfg.Backend.Device == "" {
		cfg.Backend.Device = DeviceAuto
	}
	if cfg.Backend.RateLimitPerMinute == 0 {
		cfg.Backend.RateLimitPerMinute = 60
	}
	// NOTE: TOML can't distinguish 0 from unset, so 0 means the default of 3
	// and -1 means unlimited.
	if cfg.Backend.MaxRetries == 0 {
		cfg.Backend.MaxRetries = 3
	}
	if cfg.Backend.MaxBackoffSeconds == 0 {
		cfg.Backend.MaxBackoffSeconds = 120
	}
	if cfg.Backend.HTTPTimeoutSeconds == 0 {
		cfg.Backend.HTTPTimeoutSeconds = 300 // Sampling on CPU is slow
	}

	// Training defaults
	if cfg.Training.Steps == 0 {
		cfg.Training.Steps = 25
	}
	if cfg.Training.GuidanceScale == 0 {
		cfg.Training.GuidanceScale = 8.0
	}
	if cfg.Training.Width == 0 {
		cfg.Training.Width = 512
	}
	if cfg.Training.Height == 0 {
		cfg.Training.Height = 512
	}
	if cfg.Training.OutputDir == "" {
		cfg.Training.OutputDir = "training_data"
	}
	if cfg.Training.Count == 0 {
		cfg.Training.Count = 25
	}
	if cfg.Training.StyleMarker == "" {
		cfg.Training.StyleMarker = DefaultStyleMarker
	}
	if cfg.Training.CaptionTemplate == "" {
		cfg.Training.CaptionTemplate = DefaultCaptionTemplate
	}

	// Studio defaults
	if cfg.Studio.Profile == "" {
		cfg.Studio.Profile = "anything-v5"
	}
	if cfg.Studio.OutputDir == "" {
		cfg.Studio.OutputDir = "output"
	}
	if len(cfg.Studio.ExamplePrompts) == 0 {
		cfg.Studio.ExamplePrompts = GetDefaultExamplePrompts()
	}

	// Pool defaults
	if len(cfg.Pools.QualityModifiers) == 0 {
		cfg.Pools.QualityModifiers = GetDefaultQualityModifiers()
	}
	if len(cfg.Pools.NegativePrompts) == 0 {
		cfg.Pools.NegativePrompts = GetDefaultNegativePrompts()
	}
	if cfg.Pools.AnimeNegative == "" {
		cfg.Pools.AnimeNegative = DefaultAnimeNegative
	}

	// Built-in characters unless the config declares its own
	if len(cfg.Characters) == 0 {
		cfg.Characters = GetDefaultCharacters()
	}

	if cfg.HuggingFace.Endpoint == "" {
		cfg.HuggingFace.Endpoint = "https://huggingface.co"
	}
}
