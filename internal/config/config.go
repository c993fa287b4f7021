package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "relay.db"
	defaultEntityDBPath = "entities.db"
	defaultEnginesFile  = "engines.yaml"
	defaultPollInterval = time.Minute
	defaultMergePolicy  = "permissive"

	envListenAddr   = "RELAY_LISTEN_ADDR"
	envDBPath       = "RELAY_DB_PATH"
	envEntityDBPath = "RELAY_ENTITY_DB_PATH"
	envEnginesFile  = "RELAY_ENGINES_FILE"
	envPollInterval = "RELAY_POLL_INTERVAL"
	envMergePolicy  = "RELAY_MERGE_POLICY"
	envLogLevel     = "RELAY_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
// The engine fleet itself lives in a separate YAML file (see LoadEngines).
type Config struct {
	ListenAddr   string
	DBPath       string
	EntityDBPath string
	EnginesFile  string
	PollInterval time.Duration
	MergePolicy  string
	LogLevel     slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		EntityDBPath: defaultEntityDBPath,
		EnginesFile:  defaultEnginesFile,
		PollInterval: defaultPollInterval,
		MergePolicy:  defaultMergePolicy,
		LogLevel:     slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envEntityDBPath); v != "" {
		cfg.EntityDBPath = v
	}
	if v := os.Getenv(envEnginesFile); v != "" {
		cfg.EnginesFile = v
	}
	if v := os.Getenv(envPollInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv(envMergePolicy); v != "" {
		cfg.MergePolicy = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
