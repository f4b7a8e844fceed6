// Command cubecomp serves speedcubing competition scoring over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ahrav/go-cubecomp/infrastructure/cache"
	"github.com/ahrav/go-cubecomp/infrastructure/httpapi"
	"github.com/ahrav/go-cubecomp/infrastructure/middleware"
	"github.com/ahrav/go-cubecomp/infrastructure/storage"
	"github.com/ahrav/go-cubecomp/internal/application"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to the YAML configuration file")
		recalc     = flag.String("recalculate", "", "Recalculate all leaderboards of the competition with this code and exit")
	)
	flag.Parse()

	loader, err := application.NewConfigLoader()
	if err != nil {
		fatal(err, "failed to create config loader")
	}
	cfg, err := loader.LoadFile(*configPath)
	if err != nil {
		fatal(err, "failed to load configuration")
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *recalc, logger); err != nil {
		logger.Fatal().Err(err).Msg("cubecomp stopped with error")
	}
	logger.Info().Msg("cubecomp stopped")
}

func run(ctx context.Context, cfg application.Config, recalcCode string, logger zerolog.Logger) error {
	store, err := storage.Open(storage.Options{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		MaxRetries: cfg.Storage.MaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Err(err).Msg("failed to close store")
		}
	}()

	catalog := application.NewDisciplineCatalog(store, cfg.Disciplines, logger)
	if err := catalog.Seed(ctx); err != nil {
		return err
	}

	var rendered ports.CacheStore
	if cfg.Cache.Enabled() {
		rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		rendered = rc
		logger.Info().Str("addr", cfg.Cache.Addr).Msg("leaderboard cache enabled")
	}

	metrics := middleware.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	deps := application.Dependencies{
		Store:    store,
		Catalog:  catalog,
		Cache:    rendered,
		Metrics:  metrics,
		Observer: middleware.NewOTelRecalcObserver(metrics),
		Logger:   logger,
	}

	competitions, err := application.NewCompetitionService(deps)
	if err != nil {
		return err
	}
	scoring, err := application.NewScoringService(deps, application.ScoringOptions{CacheTTL: cfg.Cache.TTL})
	if err != nil {
		return err
	}

	if recalcCode != "" {
		rows, err := scoring.RecalculateCompetition(ctx, recalcCode)
		if err != nil {
			return err
		}
		logger.Info().Str("competition", recalcCode).Int("participants", len(rows)).Msg("leaderboards recalculated")
		return nil
	}

	api, err := httpapi.NewServer(competitions, scoring, httpapi.Options{
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Int("disciplines", len(catalog.Disciplines())).Msg("cubecomp listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func newLogger(cfg application.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "cubecomp").Logger()
}

func fatal(err error, msg string) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	logger.Fatal().Err(err).Msg(msg)
}
