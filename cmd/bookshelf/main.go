package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justyntemme/bookshelf/internal/api"
	"github.com/justyntemme/bookshelf/internal/auth"
	"github.com/justyntemme/bookshelf/internal/books"
	"github.com/justyntemme/bookshelf/internal/config"
	"github.com/justyntemme/bookshelf/internal/metadata"
	"github.com/justyntemme/bookshelf/internal/storage"
	"github.com/justyntemme/bookshelf/internal/thumbnail"
)

func main() {
	// Command-line flags
	urlFlag := flag.String("url", "", "Server bind address (e.g., :8080 or 0.0.0.0:8080)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)

	// Flag takes precedence over env
	bindAddr := ":" + cfg.App.Port
	if *urlFlag != "" {
		bindAddr = *urlFlag
	}

	if err := os.MkdirAll(cfg.App.DataDir, 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directory")
	}

	db, err := storage.NewDatabase(filepath.Join(cfg.App.DataDir, "bookshelf.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	covers, err := newCoverStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Artifact.Backend).Msg("Failed to initialize cover storage")
	}

	// Metadata pipeline: Google Books first, Open Library as fallback
	resolver := metadata.NewResolver(
		metadata.NewGoogleBooksProvider(cfg.Lookup.Timeout),
		metadata.NewOpenLibraryProvider(cfg.Lookup.Timeout),
		cfg.Lookup.GoogleAPIKey,
	)
	queue := metadata.NewQueue(resolver, cfg.Lookup.Interval)
	queue.Start()

	fetcher := thumbnail.NewFetcher(covers, cfg.Lookup.Timeout)
	svc := books.NewService(db, covers, queue, fetcher)
	tokens := auth.NewTokenManager(cfg.JWT.Secret)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(db, tokens, svc, queue)

	srv := &http.Server{
		Addr:           bindAddr,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   2 * time.Minute,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info().
			Str("addr", bindAddr).
			Str("data_dir", cfg.App.DataDir).
			Str("environment", cfg.App.Environment).
			Msg("Bookshelf server starting")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Dur("grace", cfg.App.ShutdownGrace).Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownGrace)
	defer cancel()

	err = api.Shutdown(shutdownCtx, srv, queue)
	// Imports still running stop at their next lookup now that the queue is closed
	svc.WaitImports()
	if err != nil {
		log.Warn().Err(err).Msg("Shutdown grace period expired")
		return
	}

	log.Info().Msg("Server exited gracefully")
}

func setupLogging(cfg *config.Config) {
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newCoverStore(cfg *config.Config) (storage.CoverStore, error) {
	if cfg.Artifact.Backend == "minio" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Lookup.Timeout)
		defer cancel()
		return storage.NewMinIOStorage(ctx, cfg.Artifact.MinIO)
	}
	return storage.NewFileStorage(cfg.App.DataDir)
}
