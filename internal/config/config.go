// Package config layers the server's configuration the way the teacher's
// cmd/server/main.go read it from the environment, but promoted to the
// fuller surface SPEC_FULL §10 calls for: built-in defaults (spec §6) →
// optional YAML file (github.com/goccy/go-yaml) → environment variables
// (github.com/joho/godotenv loads a .env file when present) → CLI flags
// (github.com/spf13/pflag, bound under cmd/server's github.com/spf13/cobra
// command tree). The merged result is
// checked with github.com/go-playground/validator/v10 before the server
// starts. Watcher (watch.go) uses github.com/fsnotify/fsnotify to re-read
// the YAML file; a reload only replaces the Config that Watcher.Current
// returns, and already-running sessions keep their settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/kolabdoc/collabedit/internal/conflict"
)

// Config is the full server configuration surface, spec §6 plus the
// ambient concerns (listen address, persistence, logging) the spec leaves
// to the implementer.
type Config struct {
	// Server
	ListenAddr string `yaml:"listen_addr" validate:"required"`
	LogLevel   string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogDev     bool   `yaml:"log_dev"`

	// Persistence (spec §6 persistence interface)
	SQLitePath   string `yaml:"sqlite_path"`
	RedisAddr    string `yaml:"redis_addr"`
	PersistEvery time.Duration `yaml:"persist_every" validate:"omitempty,gt=0"`

	// Session defaults (spec §6 configuration table; defaults below)
	MaxConcurrentOperations    int           `yaml:"max_concurrent_operations" validate:"gt=0"`
	OperationTimeout           time.Duration `yaml:"operation_timeout" validate:"gt=0"`
	SyncInterval               time.Duration `yaml:"sync_interval" validate:"gt=0"`
	AutoSaveInterval           time.Duration `yaml:"auto_save_interval" validate:"gt=0"`
	MaxHistorySize             int           `yaml:"max_history_size" validate:"gt=0"`
	ConflictResolutionStrategy string        `yaml:"conflict_resolution_strategy" validate:"required,oneof=client_wins server_wins merge timestamp_priority user_priority interactive content_aware"`
	MaxParticipants            int           `yaml:"max_participants" validate:"gt=0"`
	CompressionEnabled         bool          `yaml:"compression_enabled"`
	EnableRealTimeCursors      bool          `yaml:"enable_realtime_cursors"`
	EnableOperationHistory     bool          `yaml:"enable_operation_history"`

	// Lifecycle (spec §4.8)
	MaxSessionDuration time.Duration `yaml:"max_session_duration" validate:"gt=0"`

	// configPath is retained so the watcher knows what to re-read; not
	// itself part of the validated surface.
	configPath string
}

// Defaults returns the spec §6 defaults table plus the ambient defaults
// this implementation adds.
func Defaults() Config {
	return Config{
		ListenAddr:                 ":3030",
		LogLevel:                   "info",
		MaxConcurrentOperations:    100,
		OperationTimeout:           30 * time.Second,
		SyncInterval:               5 * time.Second,
		AutoSaveInterval:           10 * time.Second,
		MaxHistorySize:             1_000,
		ConflictResolutionStrategy: string(conflict.StrategyMerge),
		MaxParticipants:            100,
		CompressionEnabled:         true,
		EnableRealTimeCursors:      true,
		EnableOperationHistory:     true,
		MaxSessionDuration:         24 * time.Hour,
		PersistEvery:               3 * time.Second,
	}
}

// Load builds a Config by layering defaults, an optional YAML file,
// environment variables (via a .env file if present), and CLI flags, in
// that priority order (each layer overrides the previous one), then
// validates the result.
//
// args is normally os.Args[1:]; it is parsed on a private FlagSet, never
// the global pflag.CommandLine.
func Load(yamlPath string, args []string) (Config, error) {
	cfg := Defaults()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse yaml %s: %w", yamlPath, err)
			}
			cfg.configPath = yamlPath
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read yaml %s: %w", yamlPath, err)
		}
	}

	// godotenv.Load is a no-op (returns an error we ignore) when no .env
	// file is present, matching the teacher's "env vars work standalone"
	// expectation.
	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := applyFlags(&cfg, args); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	intv := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
				*dst = n
			}
		}
	}
	boolv := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "1" || v == "true"
		}
	}

	str("COLLABEDIT_LISTEN_ADDR", &cfg.ListenAddr)
	str("COLLABEDIT_LOG_LEVEL", &cfg.LogLevel)
	boolv("COLLABEDIT_LOG_DEV", &cfg.LogDev)
	str("COLLABEDIT_SQLITE_PATH", &cfg.SQLitePath)
	str("COLLABEDIT_REDIS_ADDR", &cfg.RedisAddr)
	dur("COLLABEDIT_PERSIST_EVERY", &cfg.PersistEvery)
	intv("COLLABEDIT_MAX_CONCURRENT_OPERATIONS", &cfg.MaxConcurrentOperations)
	dur("COLLABEDIT_OPERATION_TIMEOUT", &cfg.OperationTimeout)
	dur("COLLABEDIT_SYNC_INTERVAL", &cfg.SyncInterval)
	dur("COLLABEDIT_AUTO_SAVE_INTERVAL", &cfg.AutoSaveInterval)
	intv("COLLABEDIT_MAX_HISTORY_SIZE", &cfg.MaxHistorySize)
	str("COLLABEDIT_CONFLICT_STRATEGY", &cfg.ConflictResolutionStrategy)
	intv("COLLABEDIT_MAX_PARTICIPANTS", &cfg.MaxParticipants)
	boolv("COLLABEDIT_COMPRESSION_ENABLED", &cfg.CompressionEnabled)
	boolv("COLLABEDIT_ENABLE_REALTIME_CURSORS", &cfg.EnableRealTimeCursors)
	boolv("COLLABEDIT_ENABLE_OPERATION_HISTORY", &cfg.EnableOperationHistory)
	dur("COLLABEDIT_MAX_SESSION_DURATION", &cfg.MaxSessionDuration)
}

func applyFlags(cfg *Config, args []string) error {
	fs := pflag.NewFlagSet("collabedit", pflag.ContinueOnError)
	fs.String("config", "", "YAML config file path (read by the caller before Load)")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP/WebSocket listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	fs.BoolVar(&cfg.LogDev, "log-dev", cfg.LogDev, "use development (console) log encoding")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database path (empty disables)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address (empty disables)")
	fs.DurationVar(&cfg.PersistEvery, "persist-every", cfg.PersistEvery, "document persistence interval")
	fs.IntVar(&cfg.MaxConcurrentOperations, "max-concurrent-operations", cfg.MaxConcurrentOperations, "per-session queue drain batch size")
	fs.DurationVar(&cfg.OperationTimeout, "operation-timeout", cfg.OperationTimeout, "queued operation timeout")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "session auto-sync interval")
	fs.DurationVar(&cfg.AutoSaveInterval, "auto-save-interval", cfg.AutoSaveInterval, "auto-save idle threshold")
	fs.IntVar(&cfg.MaxHistorySize, "max-history-size", cfg.MaxHistorySize, "history compression trigger size")
	fs.StringVar(&cfg.ConflictResolutionStrategy, "conflict-strategy", cfg.ConflictResolutionStrategy, "default conflict resolution strategy")
	fs.IntVar(&cfg.MaxParticipants, "max-participants", cfg.MaxParticipants, "max participants per session")
	fs.BoolVar(&cfg.CompressionEnabled, "compression-enabled", cfg.CompressionEnabled, "enable history compression")
	fs.BoolVar(&cfg.EnableRealTimeCursors, "enable-realtime-cursors", cfg.EnableRealTimeCursors, "enable real-time cursor broadcast")
	fs.BoolVar(&cfg.EnableOperationHistory, "enable-operation-history", cfg.EnableOperationHistory, "enable operation history recording")
	fs.DurationVar(&cfg.MaxSessionDuration, "max-session-duration", cfg.MaxSessionDuration, "idle duration before auto-cleanup")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return err
		}
		return fmt.Errorf("config: parse flags: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate checks the closed constraints spec §10 calls for (positive
// durations, strategy in the closed set, etc).
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// ConflictStrategy returns the configured default strategy typed as
// conflict.Strategy.
func (c Config) ConflictStrategy() conflict.Strategy {
	return conflict.Strategy(c.ConflictResolutionStrategy)
}

// Path returns the YAML file this config was loaded from, or "" if none.
func (c Config) Path() string { return c.configPath }
