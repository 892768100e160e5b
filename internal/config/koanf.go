// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/feedcore/config.yaml",
	"/etc/feedcore/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration with three layers of precedence:
//
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if found)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Layer 2: optional config file
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return "" and are skipped, which keeps unrelated
// environment variables from polluting the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Server
		"http_host":         "server.host",
		"http_port":         "server.port",
		"http_timeout":      "server.timeout",
		"shutdown_timeout":  "server.shutdown_timeout",
		"rate_limit_reqs":   "server.rate_limit_reqs",
		"rate_limit_window": "server.rate_limit_window",

		// Store
		"store_path":      "store.path",
		"store_in_memory": "store.in_memory",

		// Bus
		"nats_url":        "bus.url",
		"bus_buffer_size": "bus.buffer_size",

		// Signals
		"signal_batch_size":         "signals.batch_size",
		"signal_batch_max_age":      "signals.batch_max_age",
		"signal_compress_threshold": "signals.compress_threshold",
		"signal_rate_per_user":      "signals.rate_per_user",
		"signal_rate_burst":         "signals.rate_burst",

		// Ranking engine
		"rank_batch_size":           "rank.batch_size",
		"rank_max_iterations":       "rank.max_iterations",
		"rank_adaptation_threshold": "rank.adaptation_threshold",
		"rank_skip_threshold":       "rank.skip_threshold",
		"rank_learning_rate":        "rank.learning_rate",
		"rank_candidate_pool_size":  "rank.candidate_pool_size",
		"rank_feature_cache_ttl":    "rank.feature_cache_ttl",
		"rank_convergence_score":    "rank.convergence_score",

		// Pipeline
		"pipeline_batch_size":           "pipeline.batch_size",
		"pipeline_min_quality":          "pipeline.min_quality_score",
		"pipeline_window":               "pipeline.aggregation_window",
		"pipeline_normalize":            "pipeline.normalize_features",
		"pipeline_remove_outliers":      "pipeline.remove_outliers",
		"pipeline_top_features":         "pipeline.top_features",
		"pipeline_min_class_size":       "pipeline.min_class_size",
		"pipeline_export_compression":   "pipeline.export_compression",
		"pipeline_export_key":           "pipeline.export_encryption_key",
		"pipeline_differential_privacy": "pipeline.differential_privacy",
		"pipeline_privacy_epsilon":      "pipeline.privacy_epsilon",

		// Scheduler
		"scheduler_check_interval":        "scheduler.schedule_check_interval",
		"scheduler_trigger_poll_interval": "scheduler.trigger_poll_interval",
		"scheduler_monitor_interval":      "scheduler.monitor_interval",
		"scheduler_min_data_points":       "scheduler.min_data_points",
		"scheduler_quality_threshold":     "scheduler.quality_threshold",
		"scheduler_performance_threshold": "scheduler.performance_threshold",
		"scheduler_step_timeout":          "scheduler.step_timeout",
		"scheduler_step_retries":          "scheduler.step_retries",
		"scheduler_accuracy_threshold":    "scheduler.accuracy_threshold",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
