package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VelocityFibre/ff-agent/internal/backend"
	"github.com/VelocityFibre/ff-agent/internal/classifier"
	"github.com/VelocityFibre/ff-agent/internal/config"
	"github.com/VelocityFibre/ff-agent/internal/embeddings"
	"github.com/VelocityFibre/ff-agent/internal/feedback"
	"github.com/VelocityFibre/ff-agent/internal/httpapi"
	"github.com/VelocityFibre/ff-agent/internal/logging"
	"github.com/VelocityFibre/ff-agent/internal/patternstore"
	"github.com/VelocityFibre/ff-agent/internal/perfmon"
	"github.com/VelocityFibre/ff-agent/internal/router"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the resolution daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// Classifier, with optional rule file and hot reload.
	table := classifier.DefaultRuleTable()
	if cfg.Classifier.RulesPath != "" {
		table, err = classifier.LoadRuleTable(cfg.Classifier.RulesPath)
		if err != nil {
			return fmt.Errorf("loading rule table: %w", err)
		}
	}
	cls := classifier.New(table, logger.Named("classifier"))
	if cfg.Classifier.Watch && cfg.Classifier.RulesPath != "" {
		watcher, err := classifier.NewWatcher(cls, cfg.Classifier.RulesPath, logger.Named("classifier"))
		if err != nil {
			return fmt.Errorf("watching rule table: %w", err)
		}
		defer watcher.Close() //nolint:errcheck
	}

	// Embedding provider, wrapped so a slow upstream degrades to a cache
	// skip instead of stalling resolution.
	gemini, err := embeddings.NewGeminiProvider(ctx, embeddings.GeminiConfig{
		APIKey:    cfg.Embeddings.APIKey,
		Model:     cfg.Embeddings.Model,
		Dimension: cfg.Embeddings.Dimension,
	})
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	embedder := embeddings.WithTimeout(gemini, cfg.Embeddings.Timeout)
	defer embedder.Close() //nolint:errcheck

	store, err := patternstore.NewStore(patternstore.Config{
		Path:                cfg.PatternStore.Path,
		Compress:            cfg.PatternStore.Compress,
		Collection:          cfg.PatternStore.Collection,
		VectorSize:          cfg.Embeddings.Dimension,
		HighConfidence:      cfg.PatternStore.HighConfidence,
		CandidateK:          cfg.PatternStore.CandidateK,
		LowPerformerFloor:   cfg.PatternStore.LowPerformerFloor,
		LowPerformerMinUses: cfg.PatternStore.LowPerformerMinUses,
	}, logger.Named("patternstore"))
	if err != nil {
		return fmt.Errorf("creating pattern store: %w", err)
	}
	defer store.Close() //nolint:errcheck

	var specialized router.SpecializedTier
	if cfg.Vanna.BaseURL != "" {
		specialized, err = backend.NewVannaClient(backend.VannaConfig{
			BaseURL:    cfg.Vanna.BaseURL,
			APIKey:     cfg.Vanna.APIKey,
			Timeout:    cfg.Vanna.Timeout,
			RateLimit:  cfg.Vanna.RateLimit,
			MaxRetries: cfg.Vanna.MaxRetries,
		}, logger.Named("vanna"))
		if err != nil {
			return fmt.Errorf("creating specialized tier: %w", err)
		}
	} else {
		logger.Warn("no specialized tier configured, relational questions fall through to the general tier")
	}

	general, err := backend.NewGeminiGenerator(ctx, backend.GeminiConfig{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		Temperature: cfg.Gemini.Temperature,
	}, logger.Named("gemini"))
	if err != nil {
		return fmt.Errorf("creating general tier: %w", err)
	}

	rt := router.New(router.Config{
		SpecializedFloor: cfg.Router.SpecializedFloor,
		GeneralBaseline:  cfg.Router.GeneralBaseline,
		AvoidK:           cfg.Router.AvoidK,
		RecordCapacity:   cfg.Router.RecordCapacity,
	}, cls, embedder, store, specialized, general, backend.NewPromptBuilder(nil), logger.Named("router"))
	defer rt.Close() //nolint:errcheck

	var events feedback.Events = feedback.NoopEvents{}
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("ffagent"))
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer nc.Drain() //nolint:errcheck
		events = feedback.NewNATSEvents(nc, logger.Named("events"))
		logger.Info("NATS events enabled", zap.String("url", cfg.NATS.URL))
	}

	learner := feedback.NewLearner(feedback.Config{
		RetrainThreshold: cfg.Feedback.RetrainThreshold,
	}, rt.Records(), store, embedder, events, logger.Named("feedback"))

	monitor := perfmon.New(perfmon.Config{
		WindowSize:   cfg.Perf.WindowSize,
		MaxErrorRate: cfg.Perf.MaxErrorRate,
		MaxP95:       cfg.Perf.MaxP95,
	})

	server := httpapi.New(rt, learner, monitor, store, logger.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
