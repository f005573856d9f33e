package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the server and the fetch job.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Lichess  LichessConfig
	Logger   LoggerConfig
}

type ServerConfig struct {
	Port      string
	StaticDir string
}

type DatabaseConfig struct {
	// Path of the SQLite file, used when URL is empty.
	Path string
	// URL selects PostgreSQL when it is a postgres:// URL.
	URL string
}

type LichessConfig struct {
	BaseURL       string
	Token         string
	FetchInterval time.Duration // 0 disables periodic fetching
	MaxGames      int
}

type LoggerConfig struct {
	Level string
	// File, when set, receives a rotated copy of the log.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

var defaults = map[string]interface{}{
	"PORT":             "8080",
	"STATIC_DIR":       "",
	"DATABASE_PATH":    "./data/leaderboard.db",
	"DATABASE_URL":     "",
	"LICHESS_BASE_URL": "https://lichess.org",
	"LICHESS_TOKEN":    "",
	"FETCH_INTERVAL":   "15m",
	"FETCH_MAX_GAMES":  50,
	"LOG_LEVEL":        "info",
	"LOG_FILE":         "",
	"LOG_MAX_SIZE_MB":  100,
	"LOG_MAX_BACKUPS":  5,
}

// Load reads configuration from a .env file (if present), the optional
// YAML file at path, and the environment, in increasing precedence.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("PORT"),
			StaticDir: v.GetString("STATIC_DIR"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("DATABASE_PATH"),
			URL:  v.GetString("DATABASE_URL"),
		},
		Lichess: LichessConfig{
			BaseURL:       v.GetString("LICHESS_BASE_URL"),
			Token:         v.GetString("LICHESS_TOKEN"),
			FetchInterval: v.GetDuration("FETCH_INTERVAL"),
			MaxGames:      v.GetInt("FETCH_MAX_GAMES"),
		},
		Logger: LoggerConfig{
			Level:      v.GetString("LOG_LEVEL"),
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and returns the first error.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("PORT: must be specified")
	}
	if c.Database.URL == "" && c.Database.Path == "" {
		return errors.New("DATABASE_PATH or DATABASE_URL: must be specified")
	}
	if c.Lichess.FetchInterval < 0 {
		return errors.New("FETCH_INTERVAL: must not be negative")
	}
	if c.Lichess.MaxGames <= 0 {
		return errors.New("FETCH_MAX_GAMES: must be positive")
	}

	valid := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !valid[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("LOG_LEVEL: unsupported level '%s'", c.Logger.Level)
	}
	return nil
}
