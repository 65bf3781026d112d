// Package config provides YAML-based configuration for qaserve.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so container deployments need no file at all.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. QASERVE_CONFIG environment variable
//  3. ~/.qaserve/config.yaml
//  4. ./qaserve.yaml
//
// The resolved configuration is returned as a single value and passed by
// reference into every component; there are no package-level singletons.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Store configures the SQLite record store.
	Store StoreConfig `yaml:"store"`

	// Model configures the embedding model sidecar.
	Model ModelConfig `yaml:"model"`

	// Snapshot configures the persisted cache and vector index artifacts.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Retrain configures the retrain controller.
	Retrain RetrainConfig `yaml:"retrain"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig holds SQLite record store settings.
type StoreConfig struct {
	// DBPath is the SQLite database path. Use ":memory:" in tests.
	DBPath string `yaml:"db_path"`
}

// ModelConfig holds embedding model sidecar settings.
type ModelConfig struct {
	// Endpoint is the model server base URL (e.g. "http://localhost:8501").
	Endpoint string `yaml:"endpoint"`
	// Dimensions is the native embedding dimensionality.
	Dimensions int `yaml:"dimensions"`
	// CheckpointPath is where the fine-tuned checkpoint lives on the sidecar.
	CheckpointPath string `yaml:"checkpoint_path"`
	// APIKey is an optional bearer token for the sidecar.
	APIKey string `yaml:"api_key"`
}

// SnapshotConfig holds persisted artifact settings.
type SnapshotConfig struct {
	// CachePath is the cache snapshot file path.
	CachePath string `yaml:"cache_path"`
	// IndexPath is the vector index snapshot file path.
	IndexPath string `yaml:"index_path"`
	// LockDir is the directory holding named lock files.
	LockDir string `yaml:"lock_dir"`
}

// Duration wraps [time.Duration] so YAML values like "1h" or "90s" parse
// naturally. Bare integers are understood as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetrainConfig holds retrain controller settings.
type RetrainConfig struct {
	// Threshold is the number of new records required to trigger a retrain.
	Threshold int64 `yaml:"threshold"`
	// MinInterval is the minimum time between retrains.
	MinInterval Duration `yaml:"min_interval"`
	// MinRows is the minimum usable corpus size for training.
	MinRows int64 `yaml:"min_rows"`
	// SweepInterval is how often the periodic trigger sweep runs.
	SweepInterval Duration `yaml:"sweep_interval"`
	// AutoEnabled starts the periodic sweep at boot.
	AutoEnabled bool `yaml:"auto_enabled"`
	// ResourceLimitPercent postpones training when CPU or memory
	// utilization exceeds this percentage.
	ResourceLimitPercent float64 `yaml:"resource_limit_percent"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var QASERVE_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// Default returns the built-in defaults. Paths resolve under ~/.qaserve
// (falling back to the working directory when the home dir is unknown).
func Default() Config {
	base := "."
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".qaserve")
	}
	return Config{
		Store: StoreConfig{DBPath: filepath.Join(base, "qaserve.db")},
		Model: ModelConfig{
			Endpoint:       "http://localhost:8501",
			Dimensions:     768,
			CheckpointPath: filepath.Join(base, "checkpoint"),
		},
		Snapshot: SnapshotConfig{
			CachePath: filepath.Join(base, "cache.snapshot"),
			IndexPath: filepath.Join(base, "qa.index"),
			LockDir:   filepath.Join(base, "locks"),
		},
		Retrain: RetrainConfig{
			Threshold:            50,
			MinInterval:          Duration(time.Hour),
			MinRows:              10,
			SweepInterval:        Duration(7 * 24 * time.Hour),
			AutoEnabled:          true,
			ResourceLimitPercent: 70,
		},
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080},
	}
}

// Load resolves the configuration: defaults, then the YAML file (if any),
// then environment variable overrides. Returns the resolved config and the
// path of the file that was loaded (empty when running from env/defaults only).
func Load(explicitPath string, log *slog.Logger) (Config, string, error) {
	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		log.Info("config: loaded YAML config", slog.String("path", path))
	} else {
		log.Debug("config: no YAML config file found, using env vars only")
	}

	applyEnv(&cfg)
	return cfg, path, nil
}

// applyEnv overrides config fields from environment variables. Env always wins.
func applyEnv(cfg *Config) {
	setStr(&cfg.Store.DBPath, "QASERVE_DB")
	setStr(&cfg.Model.Endpoint, "MODEL_ENDPOINT")
	setInt(&cfg.Model.Dimensions, "MODEL_DIMENSIONS")
	setStr(&cfg.Model.CheckpointPath, "MODEL_CHECKPOINT_PATH")
	setStr(&cfg.Model.APIKey, "MODEL_API_KEY")
	setStr(&cfg.Snapshot.CachePath, "QASERVE_CACHE_PATH")
	setStr(&cfg.Snapshot.IndexPath, "QASERVE_INDEX_PATH")
	setStr(&cfg.Snapshot.LockDir, "QASERVE_LOCK_DIR")
	setInt64(&cfg.Retrain.Threshold, "RETRAIN_THRESHOLD")
	setDur(&cfg.Retrain.MinInterval, "RETRAIN_MIN_INTERVAL")
	setInt64(&cfg.Retrain.MinRows, "RETRAIN_MIN_ROWS")
	setDur(&cfg.Retrain.SweepInterval, "RETRAIN_SWEEP_INTERVAL")
	setBool(&cfg.Retrain.AutoEnabled, "RETRAIN_AUTO_ENABLED")
	setFloat(&cfg.Retrain.ResourceLimitPercent, "RETRAIN_RESOURCE_LIMIT")
	setStr(&cfg.Server.Host, "QASERVE_HOST")
	setInt(&cfg.Server.Port, "QASERVE_PORT")
	setStr(&cfg.Server.APIKey, "QASERVE_API_KEY")
	setStr(&cfg.Logging.Level, "LOG_LEVEL")
	setStr(&cfg.Logging.Format, "LOG_FORMAT")
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("QASERVE_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".qaserve", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("qaserve.yaml"); err == nil {
		return "qaserve.yaml"
	}

	return ""
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDur(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
