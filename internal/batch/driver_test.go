package batch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lamim/animeforge/internal/config"
	"github.com/lamim/animeforge/internal/metrics"
	"github.com/lamim/animeforge/internal/prompt"
	"github.com/lamim/animeforge/internal/synth"
	"github.com/lamim/animeforge/internal/writer"
	"github.com/lamim/animeforge/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubSynth returns a fixed payload and fails on the listed call numbers (0-based)
type stubSynth struct {
	calls  int
	failOn map[int]bool
	seeds  []int64
	onCall func(call int)
}

func (s *stubSynth) Model() string { return "stub-model" }

func (s *stubSynth) Synthesize(ctx context.Context, req synth.Request) (*synth.Image, error) {
	call := s.calls
	s.calls++
	s.seeds = append(s.seeds, req.Seed)
	if s.onCall != nil {
		s.onCall(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.failOn[call] {
		return nil, &synth.SynthesisError{Backend: "stub", StatusCode: 500, Message: "boom", Retryable: true}
	}
	return &synth.Image{Data: []byte("\x89PNG\r\n\x1a\nstub"), MIMEType: "image/png", Seed: req.Seed}, nil
}

var fixedTime = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func newTestDriver(t *testing.T, s synth.Synthesizer, opts ...Option) *Driver {
	t.Helper()

	store, err := prompt.NewStore(config.GetDefaultCharacters())
	require.NoError(t, err)

	composer, err := prompt.NewComposer(store, prompt.Pools{
		QualityModifiers: config.GetDefaultQualityModifiers(),
		NegativePrompts:  config.GetDefaultNegativePrompts(),
	}, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)

	captioner, err := prompt.NewCaptioner(config.DefaultCaptionTemplate, config.DefaultStyleMarker)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{
		WithClock(func() time.Time { return fixedTime }),
		WithRand(rand.New(rand.NewPCG(1, 1))),
		WithProgressWriter(io.Discard),
	}

	d, err := New(store, composer, captioner, s, Settings{Steps: 25, GuidanceScale: 8.0, Width: 512, Height: 512}, logger, append(base, opts...)...)
	require.NoError(t, err)
	return d
}

func seed(v int64) *int64 { return &v }

func listFiles(t *testing.T, dir, ext string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
	require.NoError(t, err)
	return matches
}

func TestRunBatch_SeededScenario(t *testing.T) {
	stub := &stubSynth{}
	d := newTestDriver(t, stub)
	root := t.TempDir()

	meta, err := d.RunBatch(context.Background(), "alexander", 3, root, seed(100))
	require.NoError(t, err)

	dir := filepath.Join(root, "alexander")
	assert.Len(t, listFiles(t, dir, ".png"), 3)
	assert.Len(t, listFiles(t, dir, ".txt"), 3)

	assert.Equal(t, []int64{100, 101, 102}, stub.seeds)
	assert.Equal(t, "alexander", meta.Character)
	assert.Equal(t, "stub-model", meta.Model)
	assert.Equal(t, 3, meta.RequestedCount)
	assert.Equal(t, 3, meta.TotalImages)
	assert.NotEmpty(t, meta.RunID)

	for i, rec := range meta.Images {
		assert.Equal(t, int64(100+i), rec.Seed)
		assert.Equal(t, i, rec.VariationIndex)
		assert.True(t, strings.HasPrefix(rec.Prompt, "anime style Alexander, blonde messy hair"), rec.Prompt)
		assert.FileExists(t, filepath.Join(dir, rec.Filename))
	}
	assert.Equal(t, "alexander_001_20240501_123000.png", meta.Images[0].Filename)
	assert.Equal(t, "alexander_003_20240501_123000.txt", meta.Images[2].CaptionFile)

	caption, err := os.ReadFile(filepath.Join(dir, meta.Images[0].CaptionFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(caption), "alexander, blonde messy hair"), string(caption))

	onDisk, err := writer.ReadMetadata(writer.MetadataPath(dir))
	require.NoError(t, err)
	assert.Equal(t, meta.RunID, onDisk.RunID)
	assert.Len(t, onDisk.Images, 3)
}

func TestRunBatch_SeedBaseZero(t *testing.T) {
	stub := &stubSynth{}
	d := newTestDriver(t, stub)

	_, err := d.RunBatch(context.Background(), "demarcus", 2, t.TempDir(), seed(0))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, stub.seeds)
}

func TestRunBatch_RandomSeedsInRange(t *testing.T) {
	stub := &stubSynth{}
	d := newTestDriver(t, stub)

	_, err := d.RunBatch(context.Background(), "demarcus", 5, t.TempDir(), nil)
	require.NoError(t, err)
	require.Len(t, stub.seeds, 5)
	for _, s := range stub.seeds {
		assert.GreaterOrEqual(t, s, int64(0))
		assert.Less(t, s, int64(maxRandomSeed))
	}
}

func TestRunBatch_PartialFailure(t *testing.T) {
	stub := &stubSynth{failOn: map[int]bool{1: true, 3: true}}
	collector := metrics.NewCollector()
	d := newTestDriver(t, stub, WithMetrics(collector))
	root := t.TempDir()

	meta, err := d.RunBatch(context.Background(), "alexander", 5, root, seed(10))
	require.NoError(t, err)

	assert.Equal(t, 5, meta.RequestedCount)
	assert.Equal(t, 3, meta.TotalImages)
	assert.Len(t, meta.Images, 3)

	var indexes []int
	for _, rec := range meta.Images {
		indexes = append(indexes, rec.VariationIndex)
	}
	assert.Equal(t, []int{0, 2, 4}, indexes)
	assert.Len(t, listFiles(t, filepath.Join(root, "alexander"), ".png"), 3)

	raw, err := os.ReadFile(writer.MetadataPath(filepath.Join(root, "alexander")))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.EqualValues(t, 3, doc["total_images"])

	n, err := testutil.GatherAndCount(collector.Registry(), "animeforge_batch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunBatch_UnknownCharacterWritesNothing(t *testing.T) {
	stub := &stubSynth{}
	d := newTestDriver(t, stub)
	root := filepath.Join(t.TempDir(), "out")

	_, err := d.RunBatch(context.Background(), "zelda", 3, root, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, prompt.ErrUnknownCharacter))

	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr), "output root should not be created")
	assert.Zero(t, stub.calls)
}

func TestRunBatch_NegativeCount(t *testing.T) {
	d := newTestDriver(t, &stubSynth{})
	_, err := d.RunBatch(context.Background(), "alexander", -1, t.TempDir(), nil)
	assert.Error(t, err)
}

func TestRunBatch_ZeroCountWritesEmptyMetadata(t *testing.T) {
	d := newTestDriver(t, &stubSynth{})
	root := t.TempDir()

	meta, err := d.RunBatch(context.Background(), "alexander", 0, root, nil)
	require.NoError(t, err)
	assert.Zero(t, meta.TotalImages)
	assert.FileExists(t, writer.MetadataPath(filepath.Join(root, "alexander")))
}

func TestRunBatch_CanceledStopsBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// cancel during the second synthesis
	stub := &stubSynth{onCall: func(call int) {
		if call == 1 {
			cancel()
		}
	}}
	d := newTestDriver(t, stub)
	root := t.TempDir()

	meta, err := d.RunBatch(ctx, "alexander", 10, root, seed(1))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, meta)

	assert.Equal(t, 2, stub.calls)
	assert.Equal(t, 1, meta.TotalImages)
	assert.Equal(t, 10, meta.RequestedCount)
	assert.FileExists(t, writer.MetadataPath(filepath.Join(root, "alexander")))
}

func TestRunAll(t *testing.T) {
	stub := &stubSynth{}
	d := newTestDriver(t, stub)
	root := t.TempDir()

	results, err := d.RunAll(context.Background(), 2, root, seed(5))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "alexander", results[0].Character)
	assert.Equal(t, "demarcus", results[1].Character)
	assert.DirExists(t, filepath.Join(root, "alexander"))
	assert.DirExists(t, filepath.Join(root, "demarcus"))
	assert.Equal(t, []int64{5, 6, 5, 6}, stub.seeds)
}

func TestRecorder_FinalizeOnce(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder("run-1", "alexander", "m", 2, fixedTime)
	r.Add(models.GenerationRecord{Filename: "a.png", CaptionFile: "a.txt", Seed: 1})

	snapshot := r.Metadata()
	snapshot.Images[0].Filename = "mutated.png"
	assert.Equal(t, "a.png", r.Metadata().Images[0].Filename)

	meta, err := r.Finalize(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TotalImages)
	assert.Equal(t, "2024-05-01T12:30:00Z", meta.GenerationDate)

	_, err = r.Finalize(dir)
	assert.Error(t, err)
}

func TestRunBatch_CaptionFailureRemovesImage(t *testing.T) {
	stub := &stubSynth{}
	d := newTestDriver(t, stub)
	root := t.TempDir()
	dir := filepath.Join(root, "alexander")

	// A directory in place of the first caption makes its write fail
	blocked := filepath.Join(dir, writer.ArtifactBaseName("alexander", 1, fixedTime)+".txt")
	require.NoError(t, os.MkdirAll(blocked, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(blocked, "keep"), []byte("x"), 0644))

	meta, err := d.RunBatch(context.Background(), "alexander", 2, root, seed(1))
	require.NoError(t, err)

	require.Len(t, meta.Images, 1)
	assert.Equal(t, 1, meta.Images[0].VariationIndex)
	assert.NoFileExists(t, filepath.Join(dir, writer.ArtifactBaseName("alexander", 1, fixedTime)+".png"))
	assert.Len(t, listFiles(t, dir, ".png"), 1)
}

func TestNew_NilLoggerUsesDefault(t *testing.T) {
	store, err := prompt.NewStore(config.GetDefaultCharacters())
	require.NoError(t, err)
	composer, err := prompt.NewComposer(store, prompt.Pools{
		QualityModifiers: config.GetDefaultQualityModifiers(),
		NegativePrompts:  config.GetDefaultNegativePrompts(),
	}, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	captioner, err := prompt.NewCaptioner(config.DefaultCaptionTemplate, config.DefaultStyleMarker)
	require.NoError(t, err)

	d, err := New(store, composer, captioner, &stubSynth{}, Settings{Steps: 25, GuidanceScale: 8.0, Width: 512, Height: 512}, nil,
		WithProgressWriter(io.Discard))
	require.NoError(t, err)

	meta, err := d.RunBatch(context.Background(), "demarcus", 1, t.TempDir(), seed(3))
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TotalImages)
}
