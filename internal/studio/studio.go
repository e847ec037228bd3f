// Package studio generates single images on demand, interactively or as a smoke test.
package studio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lamim/animeforge/internal/config"
	"github.com/lamim/animeforge/internal/synth"
	"github.com/lamim/animeforge/internal/writer"
)

// maxRandomSeed bounds seeds drawn when the caller does not pin one.
// Every backend accepts seeds below it.
const maxRandomSeed = math.MaxInt32 + 1

// Params overrides the profile for one generation. Zero values fall back to the profile.
type Params struct {
	Prompt        string
	Negative      string
	Steps         int
	GuidanceScale float64
	Width         int
	Height        int
	Seed          *int64
}

// Studio renders individual images into an output directory
type Studio struct {
	synth         synth.Synthesizer
	profile       Profile
	outputDir     string
	animeNegative string
	examples      []string
	logger        *slog.Logger
	now           func() time.Time
	rng           *rand.Rand
}

// Option configures a Studio
type Option func(*Studio)

// WithClock overrides time.Now for output filenames
func WithClock(now func() time.Time) Option {
	return func(s *Studio) { s.now = now }
}

// WithRand sets the source for unpinned seeds
func WithRand(rng *rand.Rand) Option {
	return func(s *Studio) { s.rng = rng }
}

// WithExamples sets the prompts listed in interactive mode
func WithExamples(examples []string) Option {
	return func(s *Studio) { s.examples = examples }
}

// WithAnimeNegative overrides the list appended by enhancing profiles
func WithAnimeNegative(neg string) Option {
	return func(s *Studio) { s.animeNegative = neg }
}

// New creates a studio writing into outputDir
func New(s synth.Synthesizer, profile Profile, outputDir string, logger *slog.Logger, opts ...Option) (*Studio, error) {
	if s == nil {
		return nil, fmt.Errorf("studio requires a synthesizer")
	}
	if outputDir == "" {
		return nil, fmt.Errorf("output directory cannot be empty")
	}

	st := &Studio{
		synth:         s,
		profile:       profile,
		outputDir:     outputDir,
		animeNegative: config.DefaultAnimeNegative,
		examples:      config.GetDefaultExamplePrompts(),
		logger:        logger,
		now:           time.Now,
	}
	if st.logger == nil {
		st.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(st)
	}
	if st.rng == nil {
		st.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return st, nil
}

// Profile returns the active profile
func (s *Studio) Profile() Profile {
	return s.profile
}

// GenerateOnce renders one image to <output>/<prefix>_<timestamp>.<ext> and returns the path
func (s *Studio) GenerateOnce(ctx context.Context, p Params) (string, error) {
	return s.generate(ctx, s.request(p), func(ext string) string {
		name := writer.StudioFileName(s.profile.FilePrefix, s.now())
		return strings.TrimSuffix(name, ".png") + ext
	})
}

func (s *Studio) generate(ctx context.Context, req synth.Request, name func(ext string) string) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}
	if err := config.ValidateSampling(req.Steps, req.GuidanceScale, req.Width, req.Height); err != nil {
		return "", err
	}

	s.logger.Info("Generating image",
		"profile", s.profile.Name,
		"prompt", req.Prompt,
		"negative", req.NegativePrompt,
		"steps", req.Steps,
		"guidance", req.GuidanceScale,
		"size", fmt.Sprintf("%dx%d", req.Width, req.Height),
		"seed", req.Seed)

	img, err := s.synth.Synthesize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}

	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(s.outputDir, name(writer.ImageExtension(img.MIMEType)))
	if err := writer.WriteImage(path, img.Data); err != nil {
		return "", err
	}

	s.logger.Info("Image saved", "path", path)
	return path, nil
}

func (s *Studio) request(p Params) synth.Request {
	req := synth.Request{
		Prompt:         p.Prompt,
		NegativePrompt: s.profile.Negative(p.Negative, s.animeNegative),
		Steps:          s.profile.Steps,
		GuidanceScale:  s.profile.GuidanceScale,
		Width:          s.profile.Width,
		Height:         s.profile.Height,
	}
	if p.Steps > 0 {
		req.Steps = p.Steps
	}
	if p.GuidanceScale > 0 {
		req.GuidanceScale = p.GuidanceScale
	}
	if p.Width > 0 {
		req.Width = p.Width
	}
	if p.Height > 0 {
		req.Height = p.Height
	}
	if p.Seed != nil {
		req.Seed = *p.Seed
	} else {
		req.Seed = s.rng.Int64N(maxRandomSeed)
	}
	return req
}

// Interactive reads prompts from in until quit, EOF or cancellation. Each
// prompt is generated with the fields of base other than Prompt.
func (s *Studio) Interactive(ctx context.Context, in io.Reader, out io.Writer, base Params) error {
	fmt.Fprintf(out, "animeforge interactive mode (%s). Type 'quit' to exit.\n", s.profile.Name)
	if s.profile.ShowExamples {
		s.printExamples(out)
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, "prompt> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit", "q":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "examples":
			if s.profile.ShowExamples {
				s.printExamples(out)
				continue
			}
		}

		p := base
		p.Prompt = line
		path, err := s.GenerateOnce(ctx, p)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "Image saved: %s\n", path)
	}
}

func (s *Studio) printExamples(out io.Writer) {
	fmt.Fprintln(out, "Example prompts:")
	for i, ex := range s.examples {
		fmt.Fprintf(out, "%d. %s\n", i+1, ex)
	}
}

// SmokeCase is a fixed end-to-end check of the synthesis path
type SmokeCase struct {
	Prompt   string
	Steps    int
	Guidance float64
	Size     int
	FileName string
}

var (
	smokeNormal = SmokeCase{
		Prompt:   "a majestic lion in a mystical forest, digital art, high quality",
		Steps:    20,
		Guidance: 7.5,
		Size:     512,
		FileName: "test_image",
	}
	smokeLightweight = SmokeCase{
		Prompt:   "a cute cat sitting in a garden, cartoon style",
		Steps:    10,
		Guidance: 7.5,
		Size:     256,
		FileName: "test_lightweight",
	}
)

// Smoke renders the fixed smoke-test prompt and returns the output path
func (s *Studio) Smoke(ctx context.Context, lightweight bool) (string, error) {
	c := smokeNormal
	if lightweight {
		c = smokeLightweight
	}

	start := time.Now()
	path, err := s.generate(ctx, synth.Request{
		Prompt:        c.Prompt,
		Steps:         c.Steps,
		GuidanceScale: c.Guidance,
		Width:         c.Size,
		Height:        c.Size,
		Seed:          s.rng.Int64N(maxRandomSeed),
	}, func(ext string) string { return c.FileName + ext })
	if err != nil {
		return "", err
	}

	s.logger.Info("Smoke test passed", "path", path, "duration", time.Since(start).Round(time.Millisecond))
	return path, nil
}
