package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/app"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/config"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/export"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/layout"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/live"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/logger"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/search"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, log); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	// Without Redis the live channel and layouts only span this process.
	var bus app.Bus
	var layouts layout.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info().Msg("using Redis for the live channel and column layouts")
		redisBus, err := live.NewRedisBus(cfg.RedisURL, cfg.LiveChannelPrefix, log)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisBus.Close()
		redisLayouts, err := layout.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisLayouts.Close()
		bus, layouts = redisBus, redisLayouts
	} else {
		log.Warn().Msg("REDIS_URL not set, live channel is in-process only")
		bus, layouts = live.NewMemoryHub(), layout.NewMemoryStore()
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(dataStore), log)

	var archive export.ObjectArchive
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioArchive, err := export.NewArchive(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Error().Err(err).Msg("export archive unavailable, exports will not be stored")
		} else {
			archive = minioArchive
		}
	}

	service := app.New(cfg, app.Deps{
		Store:   dataStore,
		Bus:     bus,
		Layouts: layouts,
		Exports: export.NewService(archive, log),
		Search:  searchService,
		Log:     log,
	})

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go service.RunSweeper(sweepCtx, time.Minute)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("tabular review API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Closing the views ends their event streams so Shutdown is not held
	// open by them.
	stopSweeper()
	service.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
