package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gdg-hunt/cryptic-hunt/internal/api"
	"github.com/gdg-hunt/cryptic-hunt/internal/cleanup"
	"github.com/gdg-hunt/cryptic-hunt/internal/config"
	"github.com/gdg-hunt/cryptic-hunt/internal/identity"
	"github.com/gdg-hunt/cryptic-hunt/internal/services"
	"github.com/gdg-hunt/cryptic-hunt/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hunt server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting cryptic-hunt",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"public_url", cfg.Server.PublicURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deps api.Deps
	if cfg.Degraded() {
		slog.Warn("configuration incomplete, serving setup page only",
			"missing", cfg.MissingSettings(),
		)
	} else {
		closeDeps, err := wire(ctx, cfg, &deps)
		if err != nil {
			return err
		}
		defer closeDeps()
	}

	server, err := api.NewServer(cfg, deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	}

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("cryptic-hunt stopped")
	return nil
}

// wire connects Redis, the backend and the identity provider, then starts the
// session sweeper. The returned func releases everything it opened.
func wire(ctx context.Context, cfg *config.Config, deps *api.Deps) (func(), error) {
	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()

	var closers []func()
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	rdb, err := services.NewRedisClient(initCtx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() { rdb.Close() })

	backend, err := storage.Open(initCtx, cfg.Backend)
	if err != nil {
		release()
		return nil, err
	}
	repo := storage.NewRepository(backend)
	closers = append(closers, func() {
		if err := repo.Close(); err != nil {
			slog.Error("backend close error", "error", err)
		}
	})

	ids, err := identity.NewService(initCtx, cfg.Identity, rdb, repo)
	if err != nil {
		release()
		return nil, err
	}

	if cfg.Backend.AutoMigrate {
		if err := migrate(initCtx, backend, cfg.Backend.MigrationsDir); err != nil {
			release()
			return nil, err
		}
	}

	registry := services.NewRegistry()
	registry.Register(services.NewRedisChecker(rdb))
	registry.Register(services.NewPingChecker("backend", repo))

	*deps = api.Deps{
		Identity: ids,
		Store:    repo,
		Registry: registry,
	}

	if cfg.Hunt.LeaderboardLive {
		if _, ok := backend.(*storage.PostgresBackend); !ok {
			slog.Warn("live leaderboard needs a postgres backend, falling back to polling")
		} else if feed, err := storage.NewChangeFeed(cfg.Backend.URL, cfg.Backend.APIKey); err != nil {
			slog.Warn("change feed unavailable, falling back to polling", "error", err)
		} else {
			deps.Changes = feed
			closers = append(closers, func() { feed.Close() })
		}
	}

	cleanup.NewCleaner(ids, cfg.Identity.SweepInterval, cfg.Identity.RefreshWindow).Start(ctx)

	return release, nil
}
