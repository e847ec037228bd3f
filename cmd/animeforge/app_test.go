package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/lamim/animeforge/internal/config"
	"github.com/lamim/animeforge/internal/metrics"
	"github.com/lamim/animeforge/internal/studio"
	"github.com/lamim/animeforge/internal/synth"
)

func TestPromptPipeline(t *testing.T) {
	store, composer, captioner, err := promptPipeline(config.Default())
	if err != nil {
		t.Fatalf("promptPipeline() error = %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 built-in characters, got %d", store.Len())
	}

	req, err := composer.Compose("demarcus", 0)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	caption, err := captioner.Render("demarcus", req.Prompt, req.Variation)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(caption) < len("demarcus, ") || caption[:len("demarcus, ")] != "demarcus, " {
		t.Errorf("caption should start with trigger word, got %q", caption)
	}
}

func TestPromptPipeline_BadTemplate(t *testing.T) {
	cfg := config.Default()
	cfg.Training.CaptionTemplate = "{{.Missing"
	if _, _, _, err := promptPipeline(cfg); err == nil {
		t.Error("expected error for malformed caption template")
	}
}

func TestAppRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sentinel := errors.New("done")

	plain := &app{cfg: config.Default(), logger: logger}
	if err := plain.run(context.Background(), func(context.Context) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("run() without metrics = %v, want sentinel", err)
	}

	cfg := config.Default()
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	withMetrics := &app{cfg: cfg, logger: logger, metrics: metrics.NewCollector()}
	called := false
	err := withMetrics.run(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Errorf("run() with metrics error = %v", err)
	}
	if !called {
		t.Error("command function was not called")
	}
}

// fixedSynth records the last request and returns a fixed payload
type fixedSynth struct {
	last synth.Request
}

func (f *fixedSynth) Model() string { return "fixed" }

func (f *fixedSynth) Synthesize(ctx context.Context, req synth.Request) (*synth.Image, error) {
	f.last = req
	return &synth.Image{Data: []byte("png"), MIMEType: "image/png", Seed: req.Seed}, nil
}

func TestPresetParams(t *testing.T) {
	explicit := studio.Params{Prompt: "warrior", Negative: "blurry", Steps: 12, GuidanceScale: 5, Width: 256, Height: 256}

	kept := presetParams(explicit, false)
	if kept != explicit {
		t.Errorf("without preset params changed: %+v", kept)
	}

	got := presetParams(explicit, true)
	if got.Steps != 0 || got.GuidanceScale != 0 || got.Width != 0 || got.Height != 0 {
		t.Errorf("preset should clear sampler overrides, got %+v", got)
	}
	if got.Prompt != "warrior" || got.Negative != "blurry" {
		t.Errorf("preset should keep prompt fields, got %+v", got)
	}

	// The cleared fields fall back to the preset profile
	profile, err := studio.LookupProfile(studio.ProfileAnythingV5)
	if err != nil {
		t.Fatal(err)
	}
	fs := &fixedSynth{}
	st, err := studio.New(fs, profile.BattleEternal(), t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	seed := int64(1)
	got.Seed = &seed
	if _, err := st.GenerateOnce(context.Background(), got); err != nil {
		t.Fatal(err)
	}
	if r := fs.last; r.Steps != 30 || r.GuidanceScale != 8.5 || r.Width != 512 || r.Height != 768 {
		t.Errorf("preset settings not applied: %+v", r)
	}
}
