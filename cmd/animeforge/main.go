package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/lamim/animeforge/internal/batch"
	"github.com/lamim/animeforge/internal/config"
	"github.com/lamim/animeforge/internal/hfhub"
	"github.com/lamim/animeforge/internal/studio"
	"github.com/lamim/animeforge/pkg/models"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Global flags
var (
	configPath  string
	envFile     string
	verbose     bool
	backendKind string
	metricsAddr string
)

// train flags
var (
	trainCharacter string
	trainCount     int
	trainOutput    string
	trainSeed      int64
	trainAll       bool
	uploadToHF     bool
	hfRepoID       string
)

// generate flags
var (
	genPrompt        string
	genNegative      string
	genSteps         int
	genGuidance      float64
	genWidth         int
	genHeight        int
	genSeed          int64
	genInteractive   bool
	genProfile       string
	genBattleEternal bool
	genOutput        string
)

var smokeLightweight bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "animeforge",
		Short: "animeforge - anime illustration and LoRA training data generator",
		Long: `animeforge drives a text-to-image diffusion backend to render Battle-Eternal
style anime illustrations and to batch-generate captioned training images
for LoRA fine-tuning.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&backendKind, "backend", "", "Override backend kind (webui, gemini, placeholder)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Generate captioned training images for a character",
		Long: `Generate a LoRA training set: for each index a prompt is composed from the
character's base description, the next variation and a random quality
modifier, rendered, and saved as <character>_<NNN>_<timestamp>.png with a
matching .txt caption. training_metadata.json is written at the end.`,
		Args: cobra.NoArgs,
		RunE: runTrain,
	}
	trainCmd.Flags().StringVarP(&trainCharacter, "character", "c", "", "Character id (see 'animeforge characters')")
	trainCmd.Flags().IntVarP(&trainCount, "count", "n", 0, "Number of images (default from config)")
	trainCmd.Flags().StringVarP(&trainOutput, "output", "o", "", "Output directory (default from config)")
	trainCmd.Flags().Int64VarP(&trainSeed, "seed", "s", 0, "Seed base; image i uses seed+i (random when unset)")
	trainCmd.Flags().BoolVar(&trainAll, "all", false, "Generate for every registered character")
	trainCmd.Flags().BoolVar(&uploadToHF, "upload-to-hf", false, "Upload results to Hugging Face Hub")
	trainCmd.Flags().StringVar(&hfRepoID, "hf-repo-id", "", "Hugging Face dataset repository (e.g. username/dataset-name)")

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Render single images from a prompt or interactively",
		Args:  cobra.NoArgs,
		RunE:  runGenerate,
	}
	generateCmd.Flags().StringVarP(&genPrompt, "prompt", "p", "", "Text prompt (interactive mode when empty)")
	generateCmd.Flags().StringVarP(&genNegative, "negative", "n", "", "Negative prompt")
	generateCmd.Flags().IntVarP(&genSteps, "steps", "s", 0, "Sampler steps (default from profile)")
	generateCmd.Flags().Float64VarP(&genGuidance, "guidance", "g", 0, "Guidance scale (default from profile)")
	generateCmd.Flags().IntVarP(&genWidth, "width", "w", 0, "Image width (default from profile)")
	generateCmd.Flags().IntVar(&genHeight, "height", 0, "Image height (default from profile)")
	generateCmd.Flags().Int64Var(&genSeed, "seed", 0, "Seed for reproducible results (random when unset)")
	generateCmd.Flags().BoolVarP(&genInteractive, "interactive", "i", false, "Interactive mode")
	generateCmd.Flags().StringVar(&genProfile, "profile", "", fmt.Sprintf("Studio profile (%s)", strings.Join(studio.ProfileNames(), ", ")))
	generateCmd.Flags().BoolVar(&genBattleEternal, "battle-eternal", false, "Use Battle-Eternal tuned settings (30 steps, guidance 8.5, 512x768); overrides -s, -g, -w and --height")
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "", "Output directory (default from config)")

	charactersCmd := &cobra.Command{
		Use:   "characters",
		Short: "List registered character templates",
		Args:  cobra.NoArgs,
		RunE:  runCharacters,
	}

	smokeCmd := &cobra.Command{
		Use:   "smoke",
		Short: "Render a fixed test image to check the backend end to end",
		Args:  cobra.NoArgs,
		RunE:  runSmoke,
	}
	smokeCmd.Flags().BoolVar(&smokeLightweight, "lightweight", false, "256x256, 10 steps")

	uploadCmd := &cobra.Command{
		Use:   "upload <character-dir>",
		Short: "Upload a generated training folder to Hugging Face Hub",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}
	uploadCmd.Flags().StringVar(&hfRepoID, "repo-id", "", "Hugging Face dataset repository (default from config)")

	rootCmd.AddCommand(trainCmd, generateCmd, charactersCmd, smokeCmd, uploadCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func runTrain(cmd *cobra.Command, args []string) error {
	if !trainAll && trainCharacter == "" {
		return fmt.Errorf("either --character or --all is required")
	}
	if trainAll && trainCharacter != "" {
		return fmt.Errorf("--character and --all are mutually exclusive")
	}

	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	count := cfg.Training.Count
	if cmd.Flags().Changed("count") {
		count = trainCount
	}
	if count < 0 || count > config.MaxCount {
		return fmt.Errorf("count must be between 0 and %d (got %d)", config.MaxCount, count)
	}
	outputDir := cfg.Training.OutputDir
	if trainOutput != "" {
		outputDir = trainOutput
	}

	var seedBase *int64
	if cmd.Flags().Changed("seed") {
		if err := config.ValidateSeeds(cfg.Backend.Kind, trainSeed, count); err != nil {
			return err
		}
		seedBase = &trainSeed
	}

	store, composer, captioner, err := promptPipeline(cfg)
	if err != nil {
		return err
	}
	// Unknown characters fail before any backend is contacted or directory is created
	if !trainAll {
		if _, err := store.Lookup(trainCharacter); err != nil {
			return fmt.Errorf("%w (available: %s)", err, strings.Join(store.IDs(), ", "))
		}
	}

	a, err := newApp(cfg, secrets, outputDir)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	s, err := a.synthesizer(ctx)
	if err != nil {
		return err
	}

	driver, err := batch.New(store, composer, captioner, s, batch.Settings{
		Steps:         cfg.Training.Steps,
		GuidanceScale: cfg.Training.GuidanceScale,
		Width:         cfg.Training.Width,
		Height:        cfg.Training.Height,
	}, a.logger, batch.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	var results []*models.BatchMetadata
	err = a.run(ctx, func(ctx context.Context) error {
		if trainAll {
			var err error
			results, err = driver.RunAll(ctx, count, outputDir, seedBase)
			return err
		}
		meta, err := driver.RunBatch(ctx, trainCharacter, count, outputDir, seedBase)
		if meta != nil {
			results = append(results, meta)
		}
		return err
	})
	if errors.Is(err, context.Canceled) {
		a.logger.Warn("Generation interrupted; metadata was written for completed images", "output_dir", outputDir)
		return fmt.Errorf("generation interrupted")
	}
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	for _, meta := range results {
		a.logger.Info("Training set ready",
			"character", meta.Character,
			"images", meta.TotalImages,
			"requested", meta.RequestedCount,
			"dir", filepath.Join(outputDir, meta.Character))
	}

	if uploadToHF {
		repoID := hfRepoID
		if repoID == "" {
			repoID = cfg.HuggingFace.RepoID
		}
		if repoID == "" {
			return fmt.Errorf("--hf-repo-id must be specified when using --upload-to-hf")
		}

		uploader := hfhub.NewUploader(cfg.HuggingFace.Endpoint, secrets.HuggingFaceToken, a.logger)
		for _, meta := range results {
			if _, err := uploader.UploadTrainingSet(ctx, repoID, filepath.Join(outputDir, meta.Character)); err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
		}
	}

	a.logger.Info("All done!")
	return nil
}

// presetParams drops explicit sampler flags when the Battle-Eternal preset is
// on, so the preset's steps, guidance and size always apply
func presetParams(p studio.Params, battleEternal bool) studio.Params {
	if battleEternal {
		p.Steps = 0
		p.GuidanceScale = 0
		p.Width = 0
		p.Height = 0
	}
	return p
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	profileName := cfg.Studio.Profile
	if genProfile != "" {
		profileName = genProfile
	}
	profile, err := studio.LookupProfile(profileName)
	if err != nil {
		return err
	}
	if genBattleEternal {
		profile = profile.BattleEternal()
	}

	outputDir := cfg.Studio.OutputDir
	if genOutput != "" {
		outputDir = genOutput
	}

	a, err := newApp(cfg, secrets, outputDir)
	if err != nil {
		return err
	}
	defer a.Close()

	if genBattleEternal {
		a.logger.Info("Using Battle-Eternal optimized settings",
			"steps", profile.Steps,
			"guidance", profile.GuidanceScale,
			"size", fmt.Sprintf("%dx%d", profile.Width, profile.Height))
	}

	ctx := cmd.Context()
	s, err := a.synthesizer(ctx)
	if err != nil {
		return err
	}

	st, err := studio.New(s, profile, outputDir, a.logger,
		studio.WithExamples(cfg.Studio.ExamplePrompts),
		studio.WithAnimeNegative(cfg.Pools.AnimeNegative))
	if err != nil {
		return err
	}

	params := presetParams(studio.Params{
		Prompt:        genPrompt,
		Negative:      genNegative,
		Steps:         genSteps,
		GuidanceScale: genGuidance,
		Width:         genWidth,
		Height:        genHeight,
	}, genBattleEternal)
	if cmd.Flags().Changed("seed") {
		if err := config.ValidateSeeds(cfg.Backend.Kind, genSeed, 1); err != nil {
			return err
		}
		params.Seed = &genSeed
	}

	return a.run(ctx, func(ctx context.Context) error {
		if genInteractive || genPrompt == "" {
			err := st.Interactive(ctx, os.Stdin, os.Stdout, params)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		path, err := st.GenerateOnce(ctx, params)
		if err != nil {
			return err
		}
		fmt.Printf("Image saved: %s\n", path)
		return nil
	})
}

func runCharacters(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVARIATIONS\tBASE")
	for _, c := range cfg.Characters {
		fmt.Fprintf(w, "%s\t%d\t%s\n", c.ID, len(c.Variations), c.Base)
	}
	return w.Flush()
}

func runSmoke(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, secrets, cfg.Studio.OutputDir)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	s, err := a.synthesizer(ctx)
	if err != nil {
		return err
	}

	profile, err := studio.LookupProfile(cfg.Studio.Profile)
	if err != nil {
		return err
	}
	st, err := studio.New(s, profile, cfg.Studio.OutputDir, a.logger)
	if err != nil {
		return err
	}

	return a.run(ctx, func(ctx context.Context) error {
		path, err := st.Smoke(ctx, smokeLightweight)
		if err != nil {
			return fmt.Errorf("smoke test failed: %w", err)
		}
		fmt.Printf("Success! Image saved to: %s\n", path)
		return nil
	})
}

func runUpload(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("training directory not found: %s", dir)
	}

	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	repoID := hfRepoID
	if repoID == "" {
		repoID = cfg.HuggingFace.RepoID
	}
	if repoID == "" {
		return fmt.Errorf("--repo-id must be specified (or set huggingface.repo_id in config)")
	}

	// Keep the log next to, not inside, the uploaded folder
	a, err := newApp(cfg, secrets, filepath.Dir(filepath.Clean(dir)))
	if err != nil {
		return err
	}
	defer a.Close()

	uploader := hfhub.NewUploader(cfg.HuggingFace.Endpoint, secrets.HuggingFaceToken, a.logger)
	result, err := uploader.UploadTrainingSet(cmd.Context(), repoID, dir)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	fmt.Printf("Uploaded %d files (%d via LFS) to %s\n", result.Files, result.LFSObjects, result.URL)
	return nil
}
