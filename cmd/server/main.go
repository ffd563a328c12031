package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/digidex/catalog/application"
	"github.com/dfryer1193/digidex/catalog/imagecache"
	"github.com/dfryer1193/digidex/catalog/persistence"
	"github.com/dfryer1193/digidex/internal/middleware"
	"github.com/dfryer1193/digidex/internal/rest"
	"github.com/dfryer1193/digidex/shared/config"
	"github.com/dfryer1193/digidex/shared/db/sqlite"
	"github.com/dfryer1193/digidex/shared/digimonapi"
	"github.com/dfryer1193/digidex/shared/httpfetch"
)

// configPathEnvVar points at an explicit config file.
const configPathEnvVar = "DIGIDEX_CONFIG"

func main() {
	cfg, err := config.Load(os.Getenv(configPathEnvVar))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.Log)

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Data.Dir).Msg("Failed to create data directory")
	}

	// Initialize dependencies
	database := sqlite.NewSQLiteDB(sqlite.NewSQLiteConfig(cfg.Data.SQLitePath))
	if err := database.Connect(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	fetcher := httpfetch.New(
		httpfetch.WithDoer(&http.Client{Timeout: cfg.API.Timeout}),
		httpfetch.WithMaxBytes(cfg.API.MaxBytes),
	)
	remote := digimonapi.NewClient(fetcher, cfg.API.BaseURL)

	imageFiles, err := persistence.NewImageFileRepository(database.DB(), cfg.ImageDir())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open image directory")
	}
	store := persistence.NewItemStore(database.DB(), imageFiles, fetcher,
		persistence.WithDownloadWorkers(cfg.Data.DownloadWorkers),
	)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close item store")
		}
	}()

	images, err := imagecache.New(cfg.HTTPCacheDir(), store, fetcher,
		imagecache.WithMemoryLimits(cfg.Cache.MemoryEntries, cfg.Cache.MemoryBytes),
		imagecache.WithDiskBudget(cfg.Cache.DiskBytes),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open image cache")
	}

	repo := application.NewRepository(remote, store, images,
		application.WithCacheDuration(cfg.Cache.Duration),
	)
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to gracefully close repository")
		}
	}()

	router := gin.New()
	router.Use(middleware.LoggingMiddleware(log.Logger))
	router.Use(gin.CustomRecovery(middleware.HandlePanics()))

	apiOpts := []rest.ApiOption{
		rest.WithHealthCheck(database.DB().PingContext),
		rest.WithImageStats(images),
	}
	if cfg.Auth.Enabled() {
		verifier := middleware.NewTokenVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer, cfg.Auth.Audience)
		apiOpts = append(apiOpts, rest.WithAuth(verifier))
	}
	rest.NewApi(router, repo, apiOpts...)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown server")
	}

	log.Info().Msg("Server stopped")
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	gin.SetMode(gin.ReleaseMode)
}
