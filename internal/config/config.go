// Package config loads ragone settings from the environment, a .env file and
// an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// API
	APIURL        string
	ClientTimeout time.Duration
	SlowRequest   time.Duration

	// Local state (credential store)
	StateDB string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// ConfigFile is the YAML file that was read, if any.
	ConfigFile string
}

// fileConfig mirrors the YAML file. Empty fields fall through to defaults.
type fileConfig struct {
	APIURL        string `yaml:"api_url"`
	ClientTimeout string `yaml:"client_timeout"`
	SlowRequest   string `yaml:"slow_request"`
	StateDB       string `yaml:"state_db"`
	LogFile       string `yaml:"log_file"`
	LogLevel      string `yaml:"log_level"`
}

// Load reads configuration. Precedence, highest first: process environment,
// a .env file in the working directory, the YAML file ($RAGONE_CONFIG or
// <user config dir>/ragone/config.yaml), built-in defaults.
func Load() (Config, error) {
	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	path := getEnv("RAGONE_CONFIG", defaultPath(os.UserConfigDir, "config.yaml"))
	fc, err := readFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		APIURL:  getEnv("RAGONE_API_URL", or(fc.APIURL, "http://localhost:8080/api")),
		StateDB: getEnv("RAGONE_STATE_DB", or(fc.StateDB, defaultPath(os.UserConfigDir, "state.db"))),
		LogFile: getEnv("RAGONE_LOG_FILE", or(fc.LogFile, defaultPath(os.UserCacheDir, "ragone.log"))),

		LogLevel: parseLogLevel(getEnv("RAGONE_LOG_LEVEL", or(fc.LogLevel, "INFO"))),
	}
	if fc.loaded {
		cfg.ConfigFile = path
	}

	if cfg.ClientTimeout, err = parseDuration("RAGONE_CLIENT_TIMEOUT", or(fc.ClientTimeout, "30s")); err != nil {
		return Config{}, err
	}
	if cfg.SlowRequest, err = parseDuration("RAGONE_SLOW_REQUEST", or(fc.SlowRequest, "2s")); err != nil {
		return Config{}, err
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return cfg, nil
}

type loadedFile struct {
	fileConfig
	loaded bool
}

func readFile(path string) (loadedFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return loadedFile{}, nil
	}
	if err != nil {
		return loadedFile{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return loadedFile{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return loadedFile{fileConfig: fc, loaded: true}, nil
}

// defaultPath joins name under <base>/ragone, falling back to the temp dir.
func defaultPath(base func() (string, error), name string) string {
	dir, err := base()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "ragone", name)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func or(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}

func parseDuration(key, defaultVal string) (time.Duration, error) {
	raw := getEnv(key, defaultVal)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive, got %s", key, raw)
	}
	return d, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
