package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for cryptic-hunt
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Identity IdentityConfig `yaml:"identity"`
	Hunt     HuntConfig     `yaml:"hunt"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	PublicURL string `yaml:"public_url"`
}

// BackendConfig points at the remote data store.
// URL scheme selects the backend: postgres:// or http(s)://
type BackendConfig struct {
	URL           string `yaml:"url"`
	APIKey        string `yaml:"api_key"`
	MaxConns      int    `yaml:"max_conns"`
	MigrationsDir string `yaml:"migrations_dir"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// IdentityConfig holds OIDC identity provider configuration
type IdentityConfig struct {
	Provider      string        `yaml:"provider"`
	IssuerURL     string        `yaml:"issuer_url"`
	ClientID      string        `yaml:"client_id"`
	ClientSecret  string        `yaml:"client_secret"`
	RedirectURL   string        `yaml:"redirect_url"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	RefreshWindow time.Duration `yaml:"refresh_window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// HuntConfig holds gameplay timings
type HuntConfig struct {
	AdvanceDelay        time.Duration `yaml:"advance_delay"`
	LeaderboardInterval time.Duration `yaml:"leaderboard_interval"`
	LeaderboardLimit    int           `yaml:"leaderboard_limit"`
	LeaderboardLive     bool          `yaml:"leaderboard_live"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from an optional YAML file named by HUNT_CONFIG_FILE,
// then from environment variables. Environment values win.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("HUNT_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			PublicURL: "http://localhost:8080",
		},
		Backend: BackendConfig{
			MaxConns:      10,
			MigrationsDir: "./migrations",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Identity: IdentityConfig{
			Provider:      "google",
			SessionTTL:    7 * 24 * time.Hour,
			RefreshWindow: 5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Hunt: HuntConfig{
			AdvanceDelay:        1500 * time.Millisecond,
			LeaderboardInterval: 60 * time.Second,
			LeaderboardLimit:    100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode YAML config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("HUNT_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsInt("HUNT_PORT", cfg.Server.Port)
	cfg.Server.PublicURL = strings.TrimRight(getEnv("HUNT_PUBLIC_URL", cfg.Server.PublicURL), "/")

	cfg.Backend.URL = getEnv("HUNT_BACKEND_URL", cfg.Backend.URL)
	cfg.Backend.APIKey = getEnv("HUNT_BACKEND_KEY", cfg.Backend.APIKey)
	cfg.Backend.MaxConns = getEnvAsInt("HUNT_BACKEND_MAX_CONNS", cfg.Backend.MaxConns)
	cfg.Backend.MigrationsDir = getEnv("HUNT_MIGRATIONS_DIR", cfg.Backend.MigrationsDir)
	cfg.Backend.AutoMigrate = getEnvAsBool("HUNT_AUTO_MIGRATE", cfg.Backend.AutoMigrate)

	cfg.Redis.Address = getEnv("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.Identity.Provider = getEnv("OIDC_PROVIDER_NAME", cfg.Identity.Provider)
	cfg.Identity.IssuerURL = getEnv("OIDC_ISSUER_URL", cfg.Identity.IssuerURL)
	cfg.Identity.ClientID = getEnv("OIDC_CLIENT_ID", cfg.Identity.ClientID)
	cfg.Identity.ClientSecret = getEnv("OIDC_CLIENT_SECRET", cfg.Identity.ClientSecret)
	cfg.Identity.RedirectURL = getEnv("OIDC_REDIRECT_URL", cfg.Identity.RedirectURL)
	cfg.Identity.SessionTTL = getEnvAsDuration("HUNT_SESSION_TTL", cfg.Identity.SessionTTL)
	cfg.Identity.RefreshWindow = getEnvAsDuration("HUNT_REFRESH_WINDOW", cfg.Identity.RefreshWindow)
	cfg.Identity.SweepInterval = getEnvAsDuration("HUNT_SWEEP_INTERVAL", cfg.Identity.SweepInterval)
	if cfg.Identity.RedirectURL == "" {
		cfg.Identity.RedirectURL = cfg.Server.PublicURL + "/auth/callback"
	}

	cfg.Hunt.AdvanceDelay = getEnvAsDuration("HUNT_ADVANCE_DELAY", cfg.Hunt.AdvanceDelay)
	cfg.Hunt.LeaderboardInterval = getEnvAsDuration("HUNT_LEADERBOARD_INTERVAL", cfg.Hunt.LeaderboardInterval)
	cfg.Hunt.LeaderboardLimit = getEnvAsInt("HUNT_LEADERBOARD_LIMIT", cfg.Hunt.LeaderboardLimit)
	cfg.Hunt.LeaderboardLive = getEnvAsBool("HUNT_LEADERBOARD_LIVE", cfg.Hunt.LeaderboardLive)

	cfg.Log.Level = getEnv("HUNT_LOG_LEVEL", cfg.Log.Level)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Hunt.AdvanceDelay < 0 {
		return fmt.Errorf("advance delay must not be negative: %s", c.Hunt.AdvanceDelay)
	}

	if c.Hunt.LeaderboardInterval <= 0 {
		return fmt.Errorf("leaderboard interval must be positive: %s", c.Hunt.LeaderboardInterval)
	}

	if c.Hunt.LeaderboardLimit <= 0 {
		return fmt.Errorf("leaderboard limit must be positive: %d", c.Hunt.LeaderboardLimit)
	}

	if c.Identity.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive: %s", c.Identity.SessionTTL)
	}

	return nil
}

// Degraded reports whether backend or identity configuration is missing.
// In degraded mode no network access is attempted and only a static
// configuration page is served.
func (c *Config) Degraded() bool {
	return c.Backend.URL == "" || c.Backend.APIKey == "" ||
		c.Identity.IssuerURL == "" || c.Identity.ClientID == ""
}

// MissingSettings lists the environment variables that put the service in degraded mode
func (c *Config) MissingSettings() []string {
	var missing []string
	if c.Backend.URL == "" {
		missing = append(missing, "HUNT_BACKEND_URL")
	}
	if c.Backend.APIKey == "" {
		missing = append(missing, "HUNT_BACKEND_KEY")
	}
	if c.Identity.IssuerURL == "" {
		missing = append(missing, "OIDC_ISSUER_URL")
	}
	if c.Identity.ClientID == "" {
		missing = append(missing, "OIDC_CLIENT_ID")
	}
	return missing
}

// SlogLevel maps the configured level name to a slog.Level
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
