package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gdg-hunt/cryptic-hunt/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "cryptic-hunt",
	Short: "Puzzle hunt server",
	Long: `cryptic-hunt serves a sequential puzzle hunt: participants sign in,
solve one level at a time and race up a shared leaderboard.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and installs the JSON logger at the configured level
func loadConfig() (*config.Config, error) {
	setupLogging(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	setupLogging(cfg.Log.SlogLevel())
	return cfg, nil
}

func setupLogging(level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
