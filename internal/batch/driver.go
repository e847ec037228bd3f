// Package batch generates captioned training images for one character at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lamim/animeforge/internal/metrics"
	"github.com/lamim/animeforge/internal/prompt"
	"github.com/lamim/animeforge/internal/synth"
	"github.com/lamim/animeforge/internal/util"
	"github.com/lamim/animeforge/internal/writer"
	"github.com/lamim/animeforge/pkg/models"
	"github.com/schollz/progressbar/v3"
)

// maxRandomSeed bounds seeds drawn when no seed base is given
const maxRandomSeed = 1000000

// Settings are the sampler parameters used for every training image
type Settings struct {
	Steps         int
	GuidanceScale float64
	Width         int
	Height        int
}

// Driver runs character batches sequentially against one synthesizer
type Driver struct {
	store     *prompt.Store
	composer  *prompt.Composer
	captioner *prompt.Captioner
	synth     synth.Synthesizer
	settings  Settings
	logger    *slog.Logger

	metrics     *metrics.Collector
	rng         *rand.Rand
	now         func() time.Time
	progressOut io.Writer
}

// Option configures a Driver
type Option func(*Driver)

// WithMetrics records per-item and per-batch metrics
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Driver) { d.metrics = c }
}

// WithRand sets the source used for random seeds
func WithRand(rng *rand.Rand) Option {
	return func(d *Driver) { d.rng = rng }
}

// WithClock overrides time.Now for filenames and metadata
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithProgressWriter sets where the progress bar renders (default stderr)
func WithProgressWriter(w io.Writer) Option {
	return func(d *Driver) { d.progressOut = w }
}

// New creates a batch driver
func New(
	store *prompt.Store,
	composer *prompt.Composer,
	captioner *prompt.Captioner,
	s synth.Synthesizer,
	settings Settings,
	logger *slog.Logger,
	opts ...Option,
) (*Driver, error) {
	if store == nil || composer == nil || captioner == nil || s == nil {
		return nil, fmt.Errorf("batch driver requires a store, composer, captioner and synthesizer")
	}

	d := &Driver{
		store:       store,
		composer:    composer,
		captioner:   captioner,
		synth:       s,
		settings:    settings,
		logger:      logger,
		now:         time.Now,
		progressOut: os.Stderr,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return d, nil
}

// RunBatch generates count images for characterID under outputRoot/<characterID>.
// With a non-nil seedBase item i uses seed *seedBase+i; otherwise seeds are random.
// Failed items are logged and skipped. On cancellation the loop stops between
// items, metadata is still written for what completed, and the context error
// is returned alongside it.
func (d *Driver) RunBatch(ctx context.Context, characterID string, count int, outputRoot string, seedBase *int64) (*models.BatchMetadata, error) {
	if _, err := d.store.Lookup(characterID); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("count must not be negative (got %d)", count)
	}

	layout, err := writer.NewLayout(outputRoot, d.logger)
	if err != nil {
		return nil, err
	}
	dir, err := layout.CharacterDir(characterID)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	stats := models.BatchStats{Requested: count, StartTime: d.now()}
	recorder := NewRecorder(runID, characterID, d.synth.Model(), count, stats.StartTime)
	logger := d.logger.With("run_id", runID, "character", characterID)

	logger.Info("Starting batch",
		"count", count,
		"output_dir", dir,
		"model", d.synth.Model(),
		"seeded", seedBase != nil)

	d.metrics.BatchStarted()
	bar := progressbar.NewOptions(count,
		progressbar.OptionSetWriter(d.progressOut),
		progressbar.OptionSetDescription(characterID),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(65*time.Millisecond),
	)

	var cancelErr error
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			logger.Warn("Batch canceled", "completed", stats.Succeeded+stats.Failed, "requested", count)
			break
		}

		seed := d.seedFor(i, seedBase)
		outcome := d.processItem(ctx, logger, dir, characterID, i, count, seed)
		stats.Observe(outcome)
		d.metrics.IncrementGeneration(characterID, outcome.OK())

		if outcome.OK() {
			recorder.Add(*outcome.Record)
		} else {
			logger.Error("Image generation failed",
				"index", i+1,
				"seed", seed,
				"error", outcome.Err)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	stats.Finish(d.now())
	d.metrics.BatchFinished(characterID, stats.TotalDuration)

	meta, err := recorder.Finalize(dir)
	if err != nil {
		return nil, err
	}

	logger.Info("Batch complete",
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"requested", stats.Requested,
		"duration", stats.TotalDuration.Round(time.Millisecond),
		"avg_per_image", stats.AverageDuration.Round(time.Millisecond),
		"metadata", writer.MetadataPath(dir))

	return meta, cancelErr
}

// RunAll runs a batch for every registered character in order
func (d *Driver) RunAll(ctx context.Context, count int, outputRoot string, seedBase *int64) ([]*models.BatchMetadata, error) {
	var results []*models.BatchMetadata
	for _, id := range d.store.IDs() {
		meta, err := d.RunBatch(ctx, id, count, outputRoot, seedBase)
		if meta != nil {
			results = append(results, meta)
		}
		if err != nil {
			return results, fmt.Errorf("batch for %s: %w", id, err)
		}
	}
	return results, nil
}

func (d *Driver) seedFor(i int, seedBase *int64) int64 {
	if seedBase != nil {
		return *seedBase + int64(i)
	}
	return d.rng.Int64N(maxRandomSeed)
}

// processItem composes, synthesizes and persists one index
func (d *Driver) processItem(ctx context.Context, logger *slog.Logger, dir, characterID string, i, count int, seed int64) (outcome models.ItemOutcome) {
	start := time.Now()
	outcome.Index = i
	defer func() { outcome.Duration = time.Since(start) }()

	req, err := d.composer.Compose(characterID, i)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	req.Seed = seed
	outcome.Request = req

	logger.Info("Generating image",
		"index", i+1,
		"of", count,
		"seed", seed,
		"prompt", util.TruncateString(req.Prompt, 60))

	img, err := d.synth.Synthesize(ctx, synth.Request{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          d.settings.Steps,
		GuidanceScale:  d.settings.GuidanceScale,
		Width:          d.settings.Width,
		Height:         d.settings.Height,
		Seed:           seed,
	})
	if err != nil {
		var synthErr *synth.SynthesisError
		if errors.As(err, &synthErr) {
			logger.Debug("Synthesis error details",
				"backend", synthErr.Backend,
				"status", synthErr.StatusCode,
				"retryable", synthErr.Retryable)
		}
		outcome.Err = fmt.Errorf("synthesis failed: %w", err)
		return outcome
	}

	record, err := d.persist(dir, req, img, i)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	outcome.Record = record
	logger.Debug("Saved image", "file", record.Filename, "caption", record.CaptionFile)
	return outcome
}

func (d *Driver) persist(dir string, req models.GenerationRequest, img *synth.Image, i int) (*models.GenerationRecord, error) {
	caption, err := d.captioner.Render(req.Character, req.Prompt, req.Variation)
	if err != nil {
		return nil, fmt.Errorf("failed to render caption: %w", err)
	}

	base := writer.ArtifactBaseName(req.Character, i+1, d.now())
	imageName := base + writer.ImageExtension(img.MIMEType)
	captionName := base + ".txt"

	imagePath := filepath.Join(dir, imageName)
	if err := writer.WriteImage(imagePath, img.Data); err != nil {
		return nil, err
	}
	if err := writer.WriteCaption(filepath.Join(dir, captionName), caption); err != nil {
		// An image without its caption must not stay in the training set
		if rmErr := os.Remove(imagePath); rmErr != nil {
			d.logger.Warn("Failed to remove uncaptioned image", "path", imagePath, "error", rmErr)
		}
		return nil, err
	}

	return &models.GenerationRecord{
		Filename:       imageName,
		CaptionFile:    captionName,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		VariationIndex: i,
	}, nil
}
