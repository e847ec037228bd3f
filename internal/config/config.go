package config

import (
	"fmt"
	"math"
	"os"

	"github.com/lamim/animeforge/pkg/models"
)

// Backend kinds
const (
	BackendWebUI       = "webui"
	BackendGemini      = "gemini"
	BackendPlaceholder = "placeholder"
)

// Device preferences
const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// Config represents the complete application configuration
type Config struct {
	Backend        BackendConfig              `toml:"backend"`
	Training       TrainingConfig             `toml:"training"`
	Studio         StudioConfig               `toml:"studio"`
	Pools          PoolsConfig                `toml:"pools"`
	Characters     []models.CharacterTemplate `toml:"characters"`
	CharactersFile string                     `toml:"characters_file"` // Optional YAML or TOML file with extra characters
	HuggingFace    HuggingFaceConfig          `toml:"huggingface"`
	Metrics        MetricsConfig              `toml:"metrics"`
}

// BackendConfig selects and tunes the image synthesis backend
type BackendConfig struct {
	Kind               string `toml:"kind"`     // webui, gemini or placeholder
	BaseURL            string `toml:"base_url"` // webui only
	Model              string `toml:"model"`    // Checkpoint title (webui) or model id (gemini)
	ModelPath          string `toml:"model_path"`
	Device             string `toml:"device"` // auto, cuda or cpu
	Sampler            string `toml:"sampler"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	MaxRetries         int    `toml:"max_retries"`          // Default 3, -1 = unlimited
	MaxBackoffSeconds  int    `toml:"max_backoff_seconds"`  // Default 120
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"` // Default 300, 0 = no timeout
}

// TrainingConfig holds batch generation settings
type TrainingConfig struct {
	Steps           int     `toml:"steps"`
	GuidanceScale   float64 `toml:"guidance_scale"`
	Width           int     `toml:"width"`
	Height          int     `toml:"height"`
	OutputDir       string  `toml:"output_dir"`
	Count           int     `toml:"count"`
	StyleMarker     string  `toml:"style_marker"`     // Stripped from captions
	CaptionTemplate string  `toml:"caption_template"` // text/template over Character, Description, Prompt, Variation
}

// StudioConfig holds single-shot generation settings
type StudioConfig struct {
	Profile        string   `toml:"profile"`
	OutputDir      string   `toml:"output_dir"`
	ExamplePrompts []string `toml:"example_prompts"`
}

// PoolsConfig holds the random pools used by the prompt composer
type PoolsConfig struct {
	QualityModifiers []string `toml:"quality_modifiers"`
	NegativePrompts  []string `toml:"negative_prompts"`
	AnimeNegative    string   `toml:"anime_negative"` // Appended by the anything-v5 studio profile
}

// HuggingFaceConfig holds Hugging Face Hub settings
type HuggingFaceConfig struct {
	RepoID   string `toml:"repo_id"`
	Endpoint string `toml:"endpoint"`
}

// MetricsConfig holds the Prometheus listener settings
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"` // Empty disables the listener
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	GeminiAPIKey     string
	WebUIAPIKey      string
	HuggingFaceToken string
}

const (
	// MaxSteps is the maximum number of sampler steps
	MaxSteps = 150
	// MaxGuidanceScale is the maximum classifier-free guidance scale
	MaxGuidanceScale = 30.0
	// MinDimension is the smallest accepted image edge
	MinDimension = 64
	// MaxDimension is the largest accepted image edge
	MaxDimension = 2048
	// MaxCount is the maximum number of images in one batch
	MaxCount = 10000
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendWebUI:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend.base_url is required for kind=%s", BackendWebUI)
		}
	case BackendGemini:
		if c.Backend.Model == "" {
			return fmt.Errorf("backend.model is required for kind=%s", BackendGemini)
		}
	case BackendPlaceholder:
	default:
		return fmt.Errorf("backend.kind must be one of: webui, gemini, placeholder (got %s)", c.Backend.Kind)
	}

	switch c.Backend.Device {
	case DeviceAuto, DeviceCUDA, DeviceCPU:
	default:
		return fmt.Errorf("backend.device must be one of: auto, cuda, cpu (got %s)", c.Backend.Device)
	}

	if c.Backend.RateLimitPerMinute < 1 {
		return fmt.Errorf("backend.rate_limit_per_minute must be at least 1")
	}
	if c.Backend.MaxRetries < -1 {
		return fmt.Errorf("backend.max_retries must be -1 (unlimited) or greater (got %d)", c.Backend.MaxRetries)
	}
	if c.Backend.HTTPTimeoutSeconds < 0 {
		return fmt.Errorf("backend.http_timeout_seconds must not be negative")
	}

	if err := validateSampling("training", c.Training.Steps, c.Training.GuidanceScale, c.Training.Width, c.Training.Height); err != nil {
		return err
	}
	if c.Training.Count < 0 || c.Training.Count > MaxCount {
		return fmt.Errorf("training.count must be between 0 and %d (got %d)", MaxCount, c.Training.Count)
	}
	if c.Training.OutputDir == "" {
		return fmt.Errorf("training.output_dir is required")
	}

	if c.Studio.Profile == "" {
		return fmt.Errorf("studio.profile is required")
	}
	if c.Studio.OutputDir == "" {
		return fmt.Errorf("studio.output_dir is required")
	}

	if len(c.Pools.QualityModifiers) == 0 {
		return fmt.Errorf("pools.quality_modifiers must not be empty")
	}
	if len(c.Pools.NegativePrompts) == 0 {
		return fmt.Errorf("pools.negative_prompts must not be empty")
	}

	if len(c.Characters) == 0 {
		return fmt.Errorf("at least one character template is required")
	}
	seen := make(map[string]bool, len(c.Characters))
	for i, ch := range c.Characters {
		if ch.ID == "" {
			return fmt.Errorf("characters[%d].id is required", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate character id '%s'", ch.ID)
		}
		seen[ch.ID] = true
		if ch.Base == "" {
			return fmt.Errorf("character '%s' base is required", ch.ID)
		}
		if len(ch.Variations) == 0 {
			return fmt.Errorf("character '%s' must have at least one variation", ch.ID)
		}
	}

	return nil
}

func validateSampling(section string, steps int, guidance float64, width, height int) error {
	if steps < 1 || steps > MaxSteps {
		return fmt.Errorf("%s.steps must be between 1 and %d (got %d)", section, MaxSteps, steps)
	}
	if guidance <= 0 || guidance > MaxGuidanceScale {
		return fmt.Errorf("%s.guidance_scale must be in (0, %.0f] (got %.2f)", section, MaxGuidanceScale, guidance)
	}
	for _, d := range []struct {
		name  string
		value int
	}{{"width", width}, {"height", height}} {
		if d.value < MinDimension || d.value > MaxDimension {
			return fmt.Errorf("%s.%s must be between %d and %d (got %d)", section, d.name, MinDimension, MaxDimension, d.value)
		}
		if d.value%8 != 0 {
			return fmt.Errorf("%s.%s must be a multiple of 8 (got %d)", section, d.name, d.value)
		}
	}
	return nil
}

// ValidateSampling checks ad-hoc sampler settings such as CLI overrides
func ValidateSampling(steps int, guidance float64, width, height int) error {
	return validateSampling("generate", steps, guidance, width, height)
}

// ValidateSeeds checks that seeds base..base+count-1 fit the backend's seed type
func ValidateSeeds(kind string, base int64, count int) error {
	last := base
	if count > 1 {
		if base > math.MaxInt64-int64(count-1) {
			return fmt.Errorf("seed base %d overflows with count %d", base, count)
		}
		last = base + int64(count-1)
	}
	if kind == BackendGemini && (base < math.MinInt32 || last > math.MaxInt32) {
		return fmt.Errorf("seeds %d..%d exceed the int32 range of the %s backend", base, last, BackendGemini)
	}
	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		WebUIAPIKey:      os.Getenv("SD_WEBUI_API_KEY"),
		HuggingFaceToken: os.Getenv("HUGGING_FACE_TOKEN"),
	}

	// GOOGLE_API_KEY is what the genai SDK falls back to
	if secrets.GeminiAPIKey == "" {
		secrets.GeminiAPIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if secrets.HuggingFaceToken == "" {
		secrets.HuggingFaceToken = os.Getenv("HF_TOKEN")
	}

	return secrets, nil
}

// GetAPIKey returns the credential for a backend kind
func (s *Secrets) GetAPIKey(kind string) string {
	switch kind {
	case BackendGemini:
		return s.GeminiAPIKey
	case BackendWebUI:
		return s.WebUIAPIKey
	default:
		return ""
	}
}
