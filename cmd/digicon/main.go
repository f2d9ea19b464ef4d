package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nextlinkers/digicon/internal/api"
	"github.com/nextlinkers/digicon/internal/catalog"
	"github.com/nextlinkers/digicon/internal/config"
	"github.com/nextlinkers/digicon/internal/notify"
	"github.com/nextlinkers/digicon/internal/reconcile"
	"github.com/nextlinkers/digicon/internal/registration"
	"github.com/nextlinkers/digicon/internal/storage"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting digicon",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"backend", cfg.Storage.Backend,
	)

	loc, err := cfg.DisplayLocation()
	if err != nil {
		slog.Error("failed to load display timezone", "error", err)
		os.Exit(1)
	}

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Connect the storage backend
	store, err := buildStore(initCtx, cfg, loc)
	if err != nil {
		slog.Error("failed to create store", "error", err)
		os.Exit(1)
	}

	if err := store.Init(initCtx); err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	slog.Info("storage ready")

	// Import the optional seed catalog
	if cfg.Seed.Dir != "" {
		if statements, err := catalog.LoadDir(cfg.Seed.Dir); err != nil {
			slog.Warn("failed to load seed catalog", "dir", cfg.Seed.Dir, "error", err)
		} else if len(statements) > 0 {
			imported, err := store.ImportCatalog(initCtx, statements)
			if err != nil {
				slog.Warn("failed to import seed catalog", "error", err)
			} else {
				slog.Info("seed catalog imported", "statements", imported)
			}
		}
	}

	// Create context with cancellation for background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire the notify hub, optionally bridged across instances via Redis
	hub := notify.NewHub()
	var publisher registration.EventPublisher = hub

	var bridge *notify.RedisBridge
	if cfg.Redis.Address != "" {
		bridge, err = notify.NewRedisBridge(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Channel, hub)
		if err != nil {
			slog.Warn("redis bridge unavailable, events stay instance local", "error", err)
		} else {
			publisher = bridge
			go bridge.Run(ctx)
			slog.Info("redis notify bridge connected", "channel", cfg.Redis.Channel)
		}
	}

	service := registration.NewService(store, publisher)

	// Start the counter reconcile worker where the backend supports it
	if healer, ok := store.(reconcile.CountHealer); ok && cfg.Reconcile.Interval > 0 {
		reconciler := reconcile.NewReconciler(healer, cfg.Reconcile.Interval)
		reconciler.Start(ctx)
	}

	// Setup HTTP server
	auth := api.NewAdminAuth(cfg.Admin.HashKey, cfg.Admin.BlockKey, cfg.Admin.Password)
	server := api.NewServer(cfg.Server, service, hub, auth)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Drop live event subscribers and the Redis bridge
	hub.Close()
	if bridge != nil {
		if err := bridge.Close(); err != nil {
			slog.Error("redis bridge close error", "error", err)
		}
	}

	if err := store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("digicon stopped")
}

// buildStore connects the configured backend. When Postgres is unreachable
// and the fallback is enabled, the file backend takes over for this process,
// provided its data directory is writable.
func buildStore(ctx context.Context, cfg *config.Config, loc *time.Location) (storage.Store, error) {
	fileStore := func() storage.Store {
		return storage.NewFileStore(storage.FileConfig{
			Path:            cfg.Storage.FilePath,
			LockRetries:     cfg.Storage.LockRetries,
			LockRetryDelay:  cfg.Storage.LockRetryDelay,
			DisplayLocation: loc,
		})
	}

	if cfg.Storage.Backend == config.BackendFile {
		return fileStore(), nil
	}

	store, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{
		DSN:             cfg.Storage.DSN,
		ConnectTimeout:  cfg.Storage.ConnectTimeout,
		DisplayLocation: loc,
	})
	if err == nil {
		return store, nil
	}

	if !cfg.Storage.FallbackToFile {
		return nil, err
	}

	dir := filepath.Dir(cfg.Storage.FilePath)
	if probeErr := storage.CheckWritable(dir); probeErr != nil {
		return nil, fmt.Errorf("postgres unreachable and file fallback not writable: %w", err)
	}

	slog.Warn("postgres unreachable, falling back to the file backend",
		"error", err,
		"path", cfg.Storage.FilePath,
	)
	return fileStore(), nil
}
