// Package synth turns composed prompts into encoded images.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lamim/animeforge/internal/config"
)

// ErrModelNotFound is returned at construction when the configured model is unavailable
var ErrModelNotFound = errors.New("model not found")

// Synthesizer renders one image per request
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (*Image, error)
	Model() string
}

// Request holds sampler parameters for a single image
type Request struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	Width          int
	Height         int
	Seed           int64
}

// Image is an encoded image returned by a backend
type Image struct {
	Data     []byte
	MIMEType string
	Seed     int64 // Seed the backend actually used
}

// SynthesisError represents a failed synthesis call
type SynthesisError struct {
	Backend    string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *SynthesisError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s synthesis error (status %d): %s", e.Backend, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s synthesis error: %s", e.Backend, e.Message)
}

// Validate checks that a request can be sent to a backend
func (r Request) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("prompt cannot be empty")
	}
	if r.Steps < 1 {
		return fmt.Errorf("steps must be at least 1 (got %d)", r.Steps)
	}
	if r.Width < 1 || r.Height < 1 {
		return fmt.Errorf("invalid image size %dx%d", r.Width, r.Height)
	}
	return nil
}

// New builds the backend selected by cfg.Kind
func New(ctx context.Context, cfg config.BackendConfig, secrets *config.Secrets, logger *slog.Logger) (Synthesizer, error) {
	if cfg.ModelPath != "" {
		if err := CheckModelPath(cfg.ModelPath); err != nil {
			return nil, err
		}
	}

	device := DetectDevice(cfg.Device)
	logger.Info("Selected compute device", "device", device, "preference", cfg.Device, "backend", cfg.Kind)

	switch cfg.Kind {
	case config.BackendWebUI:
		return NewWebUI(ctx, cfg, secrets.GetAPIKey(cfg.Kind), logger)
	case config.BackendGemini:
		return NewGemini(ctx, cfg.Model, secrets.GetAPIKey(cfg.Kind), logger)
	case config.BackendPlaceholder:
		return NewPlaceholder(cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}
