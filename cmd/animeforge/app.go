package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/lamim/animeforge/internal/config"
	"github.com/lamim/animeforge/internal/metrics"
	"github.com/lamim/animeforge/internal/prompt"
	"github.com/lamim/animeforge/internal/synth"
	"github.com/lamim/animeforge/internal/writer"
	"golang.org/x/sync/errgroup"
)

// app carries what every command needs after startup
type app struct {
	cfg     *config.Config
	secrets *config.Secrets
	logger  *slog.Logger
	logFile *os.File
	metrics *metrics.Collector
}

// loadConfig reads the env file and config, applying global flag overrides
func loadConfig() (*config.Config, *config.Secrets, error) {
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}

	cfg, secrets, err := config.Load(configPath, func(c *config.Config) {
		if backendKind != "" {
			c.Backend.Kind = backendKind
		}
		if metricsAddr != "" {
			c.Metrics.ListenAddr = metricsAddr
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, secrets, nil
}

// newApp sets up logging into logDir and the optional metrics collector
func newApp(cfg *config.Config, secrets *config.Secrets, logDir string) (*app, error) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger, logFile, err := writer.SetupLogger(os.Stdout, filepath.Join(logDir, writer.LogFileName), logLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	a := &app{
		cfg:     cfg,
		secrets: secrets,
		logger:  logger,
		logFile: logFile,
	}
	if cfg.Metrics.ListenAddr != "" {
		a.metrics = metrics.NewCollector()
	}

	logger.Info("animeforge starting",
		"version", Version,
		"config", configPath,
		"backend", cfg.Backend.Kind,
		"model", cfg.Backend.Model)
	return a, nil
}

func (a *app) Close() {
	if a.logFile != nil {
		_ = a.logFile.Sync()
		_ = a.logFile.Close()
	}
}

// synthesizer builds the configured backend, instrumented when metrics are on
func (a *app) synthesizer(ctx context.Context) (synth.Synthesizer, error) {
	s, err := synth.New(ctx, a.cfg.Backend, a.secrets, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", a.cfg.Backend.Kind, err)
	}
	if a.metrics == nil {
		return s, nil
	}
	return synth.Instrument(s, a.metrics), nil
}

// promptPipeline builds the template store, composer and captioner from config
func promptPipeline(cfg *config.Config) (*prompt.Store, *prompt.Composer, *prompt.Captioner, error) {
	store, err := prompt.NewStore(cfg.Characters)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid character templates: %w", err)
	}

	composer, err := prompt.NewComposer(store, prompt.Pools{
		QualityModifiers: cfg.Pools.QualityModifiers,
		NegativePrompts:  cfg.Pools.NegativePrompts,
	}, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	if err != nil {
		return nil, nil, nil, err
	}

	captioner, err := prompt.NewCaptioner(cfg.Training.CaptionTemplate, cfg.Training.StyleMarker)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid caption template: %w", err)
	}
	return store, composer, captioner, nil
}

// run executes fn, serving /metrics alongside it when a listen address is configured.
// The metrics server stops once fn returns.
func (a *app) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if a.metrics == nil {
		return fn(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)

	g.Go(func() error {
		return a.metrics.Serve(serveCtx, a.cfg.Metrics.ListenAddr, a.logger)
	})
	g.Go(func() error {
		defer stopServe()
		return fn(gctx)
	})
	return g.Wait()
}
