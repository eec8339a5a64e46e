// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads patchkernel configuration.
//
// Priority is env > file > defaults. The defaults are the embedded
// config.yaml, so the shipped file and Default() never disagree.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var defaultConfigYAML []byte

// ErrInvalidConfig wraps parse and validation failures.
var ErrInvalidConfig = errors.New("invalid config")

// Environment variables read by Load.
const (
	EnvLogLevel           = "PATCHKERNEL_LOG_LEVEL"
	EnvLogJSON            = "PATCHKERNEL_LOG_JSON"
	EnvLogDir             = "PATCHKERNEL_LOG_DIR"
	EnvJournalPath        = "PATCHKERNEL_JOURNAL_PATH"
	EnvJournalEnabled     = "PATCHKERNEL_JOURNAL"
	EnvRejectIrreversible = "PATCHKERNEL_REJECT_IRREVERSIBLE"
	EnvCatalog            = "PATCHKERNEL_CATALOG"
	EnvEnvironment        = "PATCHKERNEL_ENV"
	EnvTraceExporter      = "OTEL_TRACES_EXPORTER"
	EnvMetricExporter     = "OTEL_METRICS_EXPORTER"
	EnvOTLPEndpoint       = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Config is the top-level configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	Kernel    KernelConfig    `json:"kernel" yaml:"kernel"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// KernelConfig controls commit policy and time-root detection.
type KernelConfig struct {
	RejectIrreversible bool     `json:"reject_irreversible" yaml:"reject_irreversible"`
	TimeRootTypes      []string `json:"time_root_types" yaml:"time_root_types" validate:"dive,required"`
	CatalogPath        string   `json:"catalog_path" yaml:"catalog_path"`
}

// JournalConfig controls history persistence.
type JournalConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool   `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
	SessionID  string `json:"session_id" yaml:"session_id" validate:"omitempty,max=128"`
}

// LoggingConfig mirrors logging.Config in file form.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `json:"json" yaml:"json"`
	Dir   string `json:"dir" yaml:"dir"`
	Quiet bool   `json:"quiet" yaml:"quiet"`
}

// TelemetryConfig selects otel exporters.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name" yaml:"service_name" validate:"required"`
	Environment    string `json:"environment" yaml:"environment"`
	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure   bool   `json:"otlp_insecure" yaml:"otlp_insecure"`
}

var configValidate = validator.New()

// Default returns the embedded default configuration.
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		// The embedded file is covered by tests.
		panic(fmt.Sprintf("embedded config.yaml: %v", err))
	}
	return cfg
}

// Load loads configuration with priority: env > file > defaults.
//
// # Inputs
//
//   - path: YAML or JSON file. Empty or missing means defaults only.
//
// # Outputs
//
//   - Config: Merged configuration.
//   - error: Wraps ErrInvalidConfig if the file is malformed or the result
//     fails validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(expandHome(path), &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the struct tags.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// JournalPath returns the journal directory with ~ expanded.
func (c Config) JournalPath() string {
	return expandHome(c.Journal.Path)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("%w: tried YAML and JSON: YAML error: %v, JSON error: %v", ErrInvalidConfig, err, jsonErr)
		}
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	// Kernel
	if v := os.Getenv(EnvRejectIrreversible); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kernel.RejectIrreversible = b
		}
	}
	if v := os.Getenv(EnvCatalog); v != "" {
		cfg.Kernel.CatalogPath = v
	}

	// Journal
	if v := os.Getenv(EnvJournalEnabled); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Journal.Enabled = b
		}
	}
	if v := os.Getenv(EnvJournalPath); v != "" {
		cfg.Journal.Path = v
	}

	// Logging
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.JSON = b
		}
	}
	if v := os.Getenv(EnvLogDir); v != "" {
		cfg.Logging.Dir = v
	}

	// Telemetry
	if v := os.Getenv(EnvEnvironment); v != "" {
		cfg.Telemetry.Environment = v
	}
	if v := os.Getenv(EnvTraceExporter); v != "" {
		cfg.Telemetry.TraceExporter = v
	}
	if v := os.Getenv(EnvMetricExporter); v != "" {
		cfg.Telemetry.MetricExporter = v
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
