// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package config provides YAML+env configuration for the saga/connection/
// dispatch stack (§SPEC_FULL "Configuration"): step deadlines, dispatch
// retry cadence, ICE servers, the signaling endpoint, and log level.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sage-x-project/sage-rtc/internal/logger"
)

// Config is the top-level configuration structure.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Saga        SagaConfig      `yaml:"saga" json:"saga"`
	Dispatch    DispatchConfig  `yaml:"dispatch" json:"dispatch"`
	Signaling   SignalingConfig `yaml:"signaling" json:"signaling"`
	Logging     LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health      HealthConfig    `yaml:"health" json:"health"`
}

// SagaConfig configures the per-step handshake timeout and the ICE
// server list passed through to the media provider (§4.1.3, §6.2).
type SagaConfig struct {
	StepDeadline time.Duration `yaml:"step_deadline" json:"step_deadline"`
	ICEServers   []string      `yaml:"ice_servers" json:"ice_servers"`
}

// DispatchConfig configures the envelope dispatcher's retry cadence and
// freshness tolerance (§4.3, §6.4).
type DispatchConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`
	MaxSkew       time.Duration `yaml:"max_skew" json:"max_skew"`
}

// SignalingConfig configures the concrete websocket signaling client
// (signaling/wsclient).
type SignalingConfig struct {
	URL         string        `yaml:"url" json:"url"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}

// MetricsConfig represents metrics-server configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health-check-server configuration.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads a Config from a YAML (or JSON) file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, logger.NewSageError(logger.ErrCodeConfigurationError,
				fmt.Sprintf("config: parse file %s (tried YAML and JSON)", path), err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile writes a Config to disk, choosing JSON or YAML by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error
	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Saga.StepDeadline == 0 {
		cfg.Saga.StepDeadline = 60 * time.Second
	}
	if cfg.Dispatch.RetryInterval == 0 {
		cfg.Dispatch.RetryInterval = 500 * time.Millisecond
	}
	if cfg.Dispatch.MaxSkew == 0 {
		cfg.Dispatch.MaxSkew = 30 * time.Second
	}
	if cfg.Signaling.DialTimeout == 0 {
		cfg.Signaling.DialTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}
