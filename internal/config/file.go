package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML config file shape. Zero values mean
// "not set" and leave the current value untouched.
type fileConfig struct {
	Port        int     `yaml:"port"`
	LogLevel    string  `yaml:"log_level"`
	DataDir     string  `yaml:"data_dir"`
	ExportDir   string  `yaml:"export_dir"`
	FFmpegBin   string  `yaml:"ffmpeg_bin"`
	PollSeconds float64 `yaml:"poll_seconds"`
	Workers     int     `yaml:"workers"`
}

// applyFile loads a YAML config file on top of the current values.
func (c *EnvConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		if fc.Port < 1 || fc.Port > 65535 {
			return fmt.Errorf("config file %s: port must be between 1 and 65535", path)
		}
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.DataDir != "" {
		c.dataDir = fc.DataDir
	}
	if fc.ExportDir != "" {
		c.exportDir = fc.ExportDir
	}
	if fc.FFmpegBin != "" {
		c.ffmpegBin = fc.FFmpegBin
	}
	if fc.PollSeconds != 0 {
		if fc.PollSeconds < 0 {
			return fmt.Errorf("config file %s: poll_seconds must be > 0", path)
		}
		c.pollSeconds = fc.PollSeconds
	}
	if fc.Workers != 0 {
		if fc.Workers < 1 {
			return fmt.Errorf("config file %s: workers must be >= 1", path)
		}
		c.workers = fc.Workers
	}

	return nil
}

// findConfigFile searches for a config file in standard locations.
// Returns empty string if not found (non-fatal).
func findConfigFile() string {
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p
	}

	locations := []string{
		"./denwatch.yaml",
		"./denwatch.yml",
		filepath.Join(os.Getenv("HOME"), ".denwatch", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".denwatch", "config.yml"),
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
