package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backroomhq/backroom/internal/api"
	"github.com/backroomhq/backroom/internal/cache"
	"github.com/backroomhq/backroom/internal/config"
	"github.com/backroomhq/backroom/internal/ingest"
	"github.com/backroomhq/backroom/internal/orders"
	"github.com/backroomhq/backroom/internal/receiving"
	"github.com/backroomhq/backroom/internal/storage"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Backroom API server",
		Long: `Serve starts the HTTP API backing the store UI: catalog ingestion,
product management, order-file import, and the receiving scanner.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Msg("Starting Backroom API")

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cacheClient, err := newCacheClient(cfg)
	if err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}
	defer cacheClient.Close()

	repos := storage.NewRepositories(db)
	engine := receiving.NewEngine(logger, repos.Products, repos.Orders, cacheClient, receiving.Config{
		CacheTTL: cfg.Cache.TTL,
	})
	store := ingest.NewStore(logger, cfg.Ingest.SharedDir, cfg.Ingest.MediaBasePath, repos.Products, repos.SourceFiles)
	importer := orders.NewImporter(logger, repos.Products, repos.Orders)

	apiCfg := api.Config{
		SharedDir:      cfg.Ingest.SharedDir,
		MediaBase:      cfg.Ingest.MediaBasePath,
		MaxUploadBytes: cfg.Ingest.MaxUploadMB << 20,
		RequestTimeout: cfg.Server.WriteTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	server := api.NewServer(logger, repos, engine, store, importer, orders.ParseCSV, apiCfg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(apiCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt or error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
	return nil
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	if cfg.Database.Driver == "postgres" {
		return storage.Open(storage.OpenOptions{
			Driver:          "postgres",
			DSN:             cfg.Database.Postgres.DSN,
			MaxOpenConns:    cfg.Database.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
		})
	}

	dsn := cfg.Database.SQLite.Path
	if cfg.Database.SQLite.JournalMode != "" {
		dsn += "?_journal_mode=" + cfg.Database.SQLite.JournalMode
	}
	return storage.Open(storage.OpenOptions{
		Driver:       "sqlite",
		DSN:          dsn,
		MaxOpenConns: cfg.Database.SQLite.MaxOpenConns,
	})
}

func newCacheClient(cfg *config.Config) (cache.Client, error) {
	if cfg.Cache.Driver == "redis" {
		return cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			Prefix:   "backroom",
		})
	}
	return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
}
