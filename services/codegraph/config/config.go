// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the codegraph YAML configuration.
//
// A missing file is not an error: Load returns Default(). Values present
// in the file override defaults field by field.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/codegraph/pkg/logging"
	"github.com/AleutianAI/codegraph/services/codegraph/storage/badger"
	"github.com/AleutianAI/codegraph/services/codegraph/telemetry"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level configuration document.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Ingest    IngestConfig     `yaml:"ingest"`
	Query     QueryConfig      `yaml:"query"`
	Subgraph  SubgraphConfig   `yaml:"subgraph"`
	Watch     WatchConfig      `yaml:"watch"`
	Storage   badger.Config    `yaml:"storage"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port  int  `yaml:"port"`
	Debug bool `yaml:"debug"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// IngestConfig configures discovery and the ingestion coordinator.
type IngestConfig struct {
	// Root is the repository root all graph paths are relative to.
	Root string `yaml:"root"`

	// Workers bounds concurrent extractions.
	Workers int `yaml:"workers"`

	// QueueSize bounds extracted results waiting for the applier.
	QueueSize int `yaml:"queue_size"`

	// MaxFileSize is the largest source file read, in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`

	// Excludes are gitignore-style patterns applied on top of .gitignore.
	Excludes []string `yaml:"excludes,omitempty"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	RiskLow               int `yaml:"risk_low"`
	RiskMedium            int `yaml:"risk_medium"`
	CacheSize             int `yaml:"cache_size"`
	CallChainCap          int `yaml:"call_chain_cap"`
	MaxCyclesPerComponent int `yaml:"max_cycles_per_component"`
	MaxCycleLength        int `yaml:"max_cycle_length"`
}

// SubgraphConfig configures the subgraph extractor.
type SubgraphConfig struct {
	MaxNodes int `yaml:"max_nodes"`
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Debounce      time.Duration `yaml:"debounce"`
	RatePerSecond float64       `yaml:"rate_per_second"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Dir enables JSON file logging when set.
	Dir string `yaml:"dir"`

	// Format is "", "text", or "json". Empty picks by terminal.
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	storage := badger.DefaultConfig()
	storage.Path = filepath.Join("~", ".codegraph", "db")

	return Config{
		Server: ServerConfig{Port: 12217},
		Ingest: IngestConfig{
			Root:        ".",
			Workers:     runtime.NumCPU(),
			QueueSize:   64,
			MaxFileSize: 10 * 1024 * 1024,
		},
		Query: QueryConfig{
			RiskLow:               5,
			RiskMedium:            20,
			CacheSize:             512,
			CallChainCap:          10,
			MaxCyclesPerComponent: 100,
			MaxCycleLength:        20,
		},
		Subgraph: SubgraphConfig{MaxNodes: 10000},
		Watch: WatchConfig{
			Debounce:      100 * time.Millisecond,
			RatePerSecond: 10,
		},
		Storage:   storage,
		Telemetry: telemetry.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads the file at path over Default(). An empty path or a missing
// file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(expandHome(path))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Write saves cfg as YAML, creating parent directories.
func Write(path string, cfg Config) error {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every invalid field, joined, wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Ingest.Root == "" {
		add("ingest.root is required")
	}
	if c.Ingest.Workers < 1 {
		add("ingest.workers must be positive")
	}
	if c.Ingest.QueueSize < 1 {
		add("ingest.queue_size must be positive")
	}
	if c.Ingest.MaxFileSize < 1 {
		add("ingest.max_file_size must be positive")
	}
	if c.Query.RiskLow <= 0 || c.Query.RiskMedium <= c.Query.RiskLow {
		add("query.risk_low (%d) must be positive and below query.risk_medium (%d)", c.Query.RiskLow, c.Query.RiskMedium)
	}
	if c.Query.CacheSize < 0 {
		add("query.cache_size must not be negative")
	}
	if c.Query.CallChainCap < 1 {
		add("query.call_chain_cap must be positive")
	}
	if c.Query.MaxCyclesPerComponent < 1 || c.Query.MaxCycleLength < 2 {
		add("query cycle enumeration limits must be positive")
	}
	if c.Subgraph.MaxNodes < 1 || c.Subgraph.MaxNodes > 10000 {
		add("subgraph.max_nodes %d outside 1..10000", c.Subgraph.MaxNodes)
	}
	if c.Watch.Debounce < 0 {
		add("watch.debounce must not be negative")
	}
	if c.Watch.RatePerSecond <= 0 {
		add("watch.rate_per_second must be positive")
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		add("storage.path is required unless storage.in_memory")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	switch logging.Format(c.Logging.Format) {
	case logging.FormatAuto, logging.FormatText, logging.FormatJSON:
	default:
		add("logging.format %q is not text or json", c.Logging.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// LoggerConfig converts the logging section for pkg/logging.
func (c Config) LoggerConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		Format:  logging.Format(c.Logging.Format),
	}
}

// StorageConfig returns the storage section with ~ expanded.
func (c Config) StorageConfig() badger.Config {
	s := c.Storage
	s.Path = expandHome(s.Path)
	return s
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
