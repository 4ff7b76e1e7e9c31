// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the conditions service configuration.
//
// The configuration lives in <home>/.lcsim/conditions.yaml and is created
// with defaults on first use. The cache root can be redirected with the
// LCSIM_CONDITIONS_CACHE environment variable, which wins over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvCacheRoot overrides CacheRoot when set.
const EnvCacheRoot = "LCSIM_CONDITIONS_CACHE"

// DefaultRemoteBase is where detector archives are published.
const DefaultRemoteBase = "https://atlaswww.hep.anl.gov/hepsim/soft/detectors/"

// Config is the full service configuration.
type Config struct {
	// CacheRoot holds detectors/, cache/ and the alias file.
	CacheRoot string `yaml:"cache_root" validate:"required"`

	// RemoteBaseURL is the prefix remote archives are fetched from.
	// Empty disables the remote strategy.
	RemoteBaseURL string `yaml:"remote_base_url" validate:"omitempty,url"`

	// TaglistURL lists the detector names published remotely.
	TaglistURL string `yaml:"taglist_url" validate:"omitempty,url"`

	// AliasFile is relative to CacheRoot unless absolute.
	AliasFile string `yaml:"alias_file" validate:"required"`

	// WatchLocal watches local detector directories for edits.
	WatchLocal bool `yaml:"watch_local"`

	Fetch     FetchConfig     `yaml:"fetch"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// FetchConfig configures remote downloads.
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	RatePerSecond  float64       `yaml:"rate_per_second" validate:"gte=0"`
	Burst          int           `yaml:"burst" validate:"gte=0"`
	GCSCredentials string        `yaml:"gcs_credentials"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the read-only HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// TelemetryConfig selects the OpenTelemetry exporters used by the server.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}

// Default returns the configuration written on first run.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		CacheRoot:     filepath.Join(home, ".lcsim"),
		RemoteBaseURL: DefaultRemoteBase,
		TaglistURL:    DefaultRemoteBase + "taglist.txt",
		AliasFile:     "alias.properties",
		Fetch: FetchConfig{
			Timeout:       5 * time.Minute,
			RatePerSecond: 2,
			Burst:         4,
		},
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{Addr: "127.0.0.1:8089"},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
	}
}

// DefaultPath returns <home>/.lcsim/conditions.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".lcsim", "conditions.yaml"), nil
}

// Load reads the configuration at path, creating it with defaults if it
// does not exist, then applies the environment override and validates.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var validate = validator.New()

// finish applies the environment override, expands "~" and validates.
func (c *Config) finish() error {
	if v := strings.TrimSpace(os.Getenv(EnvCacheRoot)); v != "" {
		c.CacheRoot = v
	}
	c.CacheRoot = expandHome(c.CacheRoot)
	c.Log.Dir = expandHome(c.Log.Dir)
	c.Fetch.GCSCredentials = expandHome(c.Fetch.GCSCredentials)
	if c.RemoteBaseURL != "" && !strings.HasSuffix(c.RemoteBaseURL, "/") {
		c.RemoteBaseURL += "/"
	}
	return c.Validate()
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DetectorsDir is where local detector zips and directories live.
func (c Config) DetectorsDir() string {
	return filepath.Join(c.CacheRoot, "detectors")
}

// FetchCacheDir is where downloaded archives are stored.
func (c Config) FetchCacheDir() string {
	return filepath.Join(c.CacheRoot, "cache")
}

// IndexDir is the badger directory for the download index.
func (c Config) IndexDir() string {
	return filepath.Join(c.CacheRoot, "index")
}

// AliasPath is the absolute path of the alias file.
func (c Config) AliasPath() string {
	if filepath.IsAbs(c.AliasFile) {
		return c.AliasFile
	}
	return filepath.Join(c.CacheRoot, c.AliasFile)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
