// Package config provides configuration management for the Denwatch exporter.
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort        = 8790
	DefaultLogLevel    = "info"
	DefaultDataDir     = ".denwatch"
	DefaultFFmpegBin   = "ffmpeg"
	DefaultPollSeconds = 1.5
	DefaultWorkers     = 1

	// Environment variable names
	EnvPort        = "DENWATCH_PORT"
	EnvLogLevel    = "DENWATCH_LOG_LEVEL"
	EnvDataDir     = "DENWATCH_DATA_DIR"
	EnvExportDir   = "DENWATCH_EXPORT_DIR"
	EnvFFmpegBin   = "DENWATCH_FFMPEG_BIN"
	EnvPollSeconds = "DENWATCH_POLL_SECONDS"
	EnvWorkers     = "DENWATCH_WORKERS"
	EnvConfigFile  = "DENWATCH_CONFIG"

	// Database filename
	DBFilename = "denwatch.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ExportDir() string
	FFmpegBin() string
	PollInterval() time.Duration
	Workers() int
}

// EnvConfig reads configuration from an optional YAML file plus
// environment variable overrides
type EnvConfig struct {
	port        int
	logLevel    string
	dataDir     string
	exportDir   string
	ffmpegBin   string
	pollSeconds float64
	workers     int
}

// New creates a new EnvConfig with defaults, YAML file values, and
// environment variable overrides, in that order of precedence.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:        DefaultPort,
		logLevel:    DefaultLogLevel,
		dataDir:     defaultDataDir(),
		ffmpegBin:   DefaultFFmpegBin,
		pollSeconds: DefaultPollSeconds,
		workers:     DefaultWorkers,
	}

	if path := findConfigFile(); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if ed := os.Getenv(EnvExportDir); ed != "" {
		cfg.exportDir = ed
	}

	if fb := os.Getenv(EnvFFmpegBin); fb != "" {
		cfg.ffmpegBin = fb
	}

	if ps := os.Getenv(EnvPollSeconds); ps != "" {
		secs, err := strconv.ParseFloat(ps, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPollSeconds, err)
		}
		if secs <= 0 {
			return nil, fmt.Errorf("invalid %s: must be > 0", EnvPollSeconds)
		}
		cfg.pollSeconds = secs
	}

	if wc := os.Getenv(EnvWorkers); wc != "" {
		n, err := strconv.Atoi(wc)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvWorkers, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("invalid %s: must be >= 1", EnvWorkers)
		}
		cfg.workers = n
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ExportDir returns the root directory for export manifests and videos
func (c *EnvConfig) ExportDir() string {
	if c.exportDir != "" {
		return c.exportDir
	}
	return filepath.Join(c.dataDir, "exports")
}

// FFmpegBin returns the ffmpeg binary name or path
func (c *EnvConfig) FFmpegBin() string {
	return c.ffmpegBin
}

// PollInterval returns the worker poll interval
func (c *EnvConfig) PollInterval() time.Duration {
	return time.Duration(c.pollSeconds * float64(time.Second))
}

// Workers returns the number of export workers to run
func (c *EnvConfig) Workers() int {
	return c.workers
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
