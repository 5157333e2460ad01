package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star/orbitwatch/internal/api"
	"github.com/star/orbitwatch/internal/auth"
	"github.com/star/orbitwatch/internal/cache"
	"github.com/star/orbitwatch/internal/catalog"
	"github.com/star/orbitwatch/internal/clock"
	"github.com/star/orbitwatch/internal/config"
	"github.com/star/orbitwatch/internal/engine"
	"github.com/star/orbitwatch/internal/observability"
	"github.com/star/orbitwatch/internal/propagation"
	"github.com/star/orbitwatch/internal/risk"
	"github.com/star/orbitwatch/internal/snapshot"
	"github.com/star/orbitwatch/internal/stream"
	"github.com/star/orbitwatch/internal/tle"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.Load(os.Getenv("ORBITWATCH_CONFIG"), logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if lvl, _ := cfg.LogLevel(); lvl != slog.LevelDebug {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(shutdownTracing, logger)

	store := catalog.NewStore()
	fetcher := tle.NewFetcher(cfg.Catalog.SourceURL, logger, cfg.Catalog.ExtraURLs...)
	loader := catalog.NewLoader(fetcher.SourceURL(), fetcher,
		tle.NewCache(cfg.Catalog.CacheDir, cfg.Catalog.MaxFiles), store,
		tle.Options{DetectDebris: cfg.Catalog.DetectDebris, VerifyChecksum: cfg.Catalog.VerifyChecksum},
		logger)

	// Attempt to load the cached catalog on startup.
	if _, err := loader.LoadCached(); err != nil {
		logger.Info("no catalog cache found, starting without catalog data", "error", err)
	}

	var reloader engine.Reloader
	if cfg.Catalog.EnableFetch {
		reloader = loader
	}

	prop := propagation.NewPropagator(propagation.Config{Workers: cfg.Propagation.Workers}, logger)
	estimator := risk.NewEstimator(prop, risk.Config{
		Sampling:    cfg.Risk.Sampling(),
		ZThreshold:  cfg.Risk.ZThresholdKm,
		BatchSize:   cfg.Risk.BatchSize,
		Workers:     cfg.Risk.Workers,
		IncludeNone: cfg.Risk.IncludeNone,
	}, logger)
	clk := clock.New(cfg.StartTime(time.Now().UTC()), clock.Config{
		DenseInterval:   cfg.Clock.DenseInterval,
		CoarseInterval:  cfg.Clock.CoarseInterval,
		CoarseThreshold: cfg.Clock.CoarseThreshold,
	}, logger)

	refreshEvery := cfg.Catalog.RefreshInterval
	if !cfg.Catalog.EnableFetch {
		refreshEvery = 0
	}
	eng := engine.New(engine.Config{
		TickEvery:    cfg.Clock.TickEvery,
		RefreshEvery: refreshEvery,
		RiskEvery:    cfg.Risk.EvaluateEvery,
		RiskHorizon:  cfg.Risk.Horizon,
		MaxRisk:      cfg.Risk.MaxConcurrent,
	}, clk, store, reloader, snapshot.NewProjector(prop, logger), estimator, logger)

	history := cache.NewHistory(cache.Config{Size: cfg.History.Size}, logger)
	eng.AddRenderer(history)

	streamHandler := stream.NewHandler(history, eng, stream.Config{
		MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
		MaxTotal:           cfg.Stream.MaxTotal,
		BandwidthLimit:     cfg.Stream.BandwidthLimit,
		KeepaliveInterval:  cfg.Stream.KeepaliveInterval,
		TrustProxy:         cfg.HTTP.TrustProxy,
	}, logger)

	srv := api.NewServer(cfg.HTTP.Addr, logger,
		auth.Config{Enabled: cfg.HTTP.AuthEnabled, Token: cfg.HTTP.AuthToken},
		api.Deps{
			Engine:         eng,
			History:        history,
			Stream:         streamHandler,
			MaxRiskHorizon: cfg.Risk.MaxHorizon,
		})

	if cfg.Catalog.EnableFetch {
		go func() {
			if _, err := eng.Reload(ctx); err != nil {
				logger.Warn("initial catalog fetch failed", "error", err)
			}
		}()
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()

	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"auth_enabled", cfg.HTTP.AuthEnabled,
			"catalog_fetch_enabled", cfg.Catalog.EnableFetch,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	<-engineDone

	logger.Info("server stopped")
}
