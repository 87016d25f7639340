package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gdg-hunt/cryptic-hunt/internal/storage"
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations to a PostgreSQL backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Backend.URL == "" {
			return errors.New("HUNT_BACKEND_URL is not set")
		}
		if migrationsDir != "" {
			cfg.Backend.MigrationsDir = migrationsDir
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		backend, err := storage.Open(ctx, cfg.Backend)
		if err != nil {
			return err
		}
		defer backend.Close()

		return migrate(ctx, backend, cfg.Backend.MigrationsDir)
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "", "migrations directory (default from HUNT_MIGRATIONS_DIR)")
}

// migrate applies pending migrations. Only a PostgreSQL backend owns its schema.
func migrate(ctx context.Context, backend storage.Backend, dir string) error {
	pg, ok := backend.(*storage.PostgresBackend)
	if !ok {
		return errors.New("migrations require a postgres:// backend url")
	}

	slog.Info("running database migrations", "dir", dir)
	n, err := storage.RunMigrations(ctx, pg.Pool(), os.DirFS(dir))
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("migrations complete", "applied", n)
	return nil
}
