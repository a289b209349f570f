package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// BackendKind selects which remote backend variant the sync engine talks to.
type BackendKind string

const (
	// BackendFolder is the cloud folder-service variant.
	BackendFolder BackendKind = "folder"
	// BackendHTTP is the HTTP API server variant.
	BackendHTTP BackendKind = "http"
)

// ConfigFile is the name of the optional TOML configuration file under
// the config directory. Environment variables override its values.
const ConfigFile = "config.toml"

// Config captures all tunables of the tracking core. Values merge in three
// layers: built-in defaults, then the TOML file, then the environment.
type Config struct {
	DataDir string `toml:"-"`

	RemoteBackend BackendKind `toml:"remote_backend"`
	RemoteBaseURL string      `toml:"remote_base_url"`
	RemoteAPIKey  string      `toml:"remote_api_key"`

	SyncInterval  time.Duration `toml:"-"`
	CaptureMin    time.Duration `toml:"-"`
	CaptureMax    time.Duration `toml:"-"`
	IdleThreshold time.Duration `toml:"-"`

	RetentionDaysLocal  int `toml:"retention_days_local"`
	RetentionDaysRemote int `toml:"retention_days_remote"`

	LogLevel string `toml:"log_level"`
}

// fileConfig mirrors Config for TOML decoding; durations are expressed in the
// same units the environment variables use.
type fileConfig struct {
	RemoteBackend       string `toml:"remote_backend"`
	RemoteBaseURL       string `toml:"remote_base_url"`
	RemoteAPIKey        string `toml:"remote_api_key"`
	SyncIntervalMinutes int    `toml:"sync_interval_minutes"`
	RetentionDaysLocal  int    `toml:"retention_days_local"`
	RetentionDaysRemote int    `toml:"retention_days_remote"`
	CaptureMinMs        int    `toml:"capture_min_ms"`
	CaptureMaxMs        int    `toml:"capture_max_ms"`
	IdleThresholdSecs   int    `toml:"idle_threshold_seconds"`
	LogLevel            string `toml:"log_level"`
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) Config {
	return Config{
		DataDir:             dataDir,
		RemoteBackend:       BackendFolder,
		SyncInterval:        15 * time.Minute,
		CaptureMin:          5 * time.Minute,
		CaptureMax:          15 * time.Minute,
		IdleThreshold:       5 * time.Minute,
		RetentionDaysLocal:  90,
		RetentionDaysRemote: 365,
		LogLevel:            "info",
	}
}

// Load builds the effective configuration for the given data directory.
//
// Missing files are not an error; invalid values are reported with the names
// of the offending variables so the operator can fix all of them at once.
func Load(dataDir string) (Config, error) {
	cfg := Default(dataDir)

	if err := applyFile(&cfg, filepath.Join(cfg.ConfigDir(), ConfigFile)); err != nil {
		return Config{}, err
	}

	invalid := make([]string, 0, 2)

	if v := strings.TrimSpace(os.Getenv("REMOTE_BACKEND")); v != "" {
		switch BackendKind(v) {
		case BackendFolder, BackendHTTP:
			cfg.RemoteBackend = BackendKind(v)
		default:
			invalid = append(invalid, "REMOTE_BACKEND")
		}
	}
	if v := strings.TrimSpace(os.Getenv("REMOTE_BASE_URL")); v != "" {
		cfg.RemoteBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REMOTE_API_KEY")); v != "" {
		cfg.RemoteAPIKey = v
	}

	envInt := func(name string, apply func(int)) {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			invalid = append(invalid, name)
			return
		}
		apply(n)
	}

	envInt("SYNC_INTERVAL_MINUTES", func(n int) { cfg.SyncInterval = time.Duration(n) * time.Minute })
	envInt("RETENTION_DAYS_LOCAL", func(n int) { cfg.RetentionDaysLocal = n })
	envInt("RETENTION_DAYS_REMOTE", func(n int) { cfg.RetentionDaysRemote = n })
	envInt("CAPTURE_MIN_MS", func(n int) { cfg.CaptureMin = time.Duration(n) * time.Millisecond })
	envInt("CAPTURE_MAX_MS", func(n int) { cfg.CaptureMax = time.Duration(n) * time.Millisecond })
	envInt("IDLE_THRESHOLD_SECONDS", func(n int) { cfg.IdleThreshold = time.Duration(n) * time.Second })

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("config: invalid environment values: %s", strings.Join(invalid, ", "))
	}
	if cfg.CaptureMin > cfg.CaptureMax {
		return Config{}, errors.New("config: CAPTURE_MIN_MS exceeds CAPTURE_MAX_MS")
	}
	// An http backend with an empty base URL is fine at this point: the URL
	// may also come from vps-config.json, resolved later by the backend.

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.RemoteBackend != "" {
		switch BackendKind(fc.RemoteBackend) {
		case BackendFolder, BackendHTTP:
			cfg.RemoteBackend = BackendKind(fc.RemoteBackend)
		default:
			return fmt.Errorf("config: %s: unknown remote_backend %q", path, fc.RemoteBackend)
		}
	}
	if fc.RemoteBaseURL != "" {
		cfg.RemoteBaseURL = fc.RemoteBaseURL
	}
	if fc.RemoteAPIKey != "" {
		cfg.RemoteAPIKey = fc.RemoteAPIKey
	}
	if fc.SyncIntervalMinutes > 0 {
		cfg.SyncInterval = time.Duration(fc.SyncIntervalMinutes) * time.Minute
	}
	if fc.RetentionDaysLocal > 0 {
		cfg.RetentionDaysLocal = fc.RetentionDaysLocal
	}
	if fc.RetentionDaysRemote > 0 {
		cfg.RetentionDaysRemote = fc.RetentionDaysRemote
	}
	if fc.CaptureMinMs > 0 {
		cfg.CaptureMin = time.Duration(fc.CaptureMinMs) * time.Millisecond
	}
	if fc.CaptureMaxMs > 0 {
		cfg.CaptureMax = time.Duration(fc.CaptureMaxMs) * time.Millisecond
	}
	if fc.IdleThresholdSecs > 0 {
		cfg.IdleThreshold = time.Duration(fc.IdleThresholdSecs) * time.Second
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	return nil
}

// DatabasePath returns the location of the embedded relational store.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "database", "timetracker.db")
}

// CapturesDir returns the directory holding capture PNG files.
func (c Config) CapturesDir() string {
	return filepath.Join(c.DataDir, "captures")
}

// ThumbnailsDir returns the directory holding downscaled remote captures.
func (c Config) ThumbnailsDir() string {
	return filepath.Join(c.DataDir, "thumbnails")
}

// TempDir returns the scratch directory for downloaded blobs.
func (c Config) TempDir() string {
	return filepath.Join(c.DataDir, "temp")
}

// ConfigDir returns the directory holding credential and token files.
func (c Config) ConfigDir() string {
	return filepath.Join(c.DataDir, "config")
}

// EnsureDirs creates the on-disk layout under the data directory.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{
		filepath.Dir(c.DatabasePath()),
		c.CapturesDir(),
		c.ThumbnailsDir(),
		c.TempDir(),
		c.ConfigDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}
