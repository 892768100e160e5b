// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package config loads and validates FeedCore configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file, then environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the FeedCore server.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Bus       BusConfig       `koanf:"bus"`
	Signals   SignalsConfig   `koanf:"signals"`
	Rank      RankConfig      `koanf:"rank"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// StoreConfig configures the BadgerDB persistence substrate.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// BusConfig configures the interaction event bus.
type BusConfig struct {
	// URL is the NATS server URL. Only used when the binary is built with
	// the nats tag; the default transport is in-process.
	URL string `koanf:"url"`

	// BufferSize is the per-topic channel buffer for the in-process transport.
	BufferSize int `koanf:"buffer_size"`
}

// SignalsConfig configures signal intake and batching.
type SignalsConfig struct {
	// BatchSize is the dispatch size cap for signal batches.
	BatchSize int `koanf:"batch_size"`

	// BatchMaxAge flushes a partial batch after this duration.
	BatchMaxAge time.Duration `koanf:"batch_max_age"`

	// CompressThreshold is the marshaled-batch size in bytes above which
	// dispatch compresses the payload.
	CompressThreshold int `koanf:"compress_threshold"`

	// RatePerUser is the per-user signal intake rate limit per second.
	RatePerUser float64 `koanf:"rate_per_user"`

	// RateBurst is the per-user burst allowance.
	RateBurst int `koanf:"rate_burst"`
}

// RankConfig configures the feedback-loop ranking engine.
type RankConfig struct {
	BatchSize           int           `koanf:"batch_size"`
	MaxIterations       int           `koanf:"max_iterations"`
	AdaptationThreshold float64       `koanf:"adaptation_threshold"`
	SkipThreshold       time.Duration `koanf:"skip_threshold"`
	LearningRate        float64       `koanf:"learning_rate"`
	CandidatePoolSize   int           `koanf:"candidate_pool_size"`
	FeatureCacheTTL     time.Duration `koanf:"feature_cache_ttl"`
	ConvergenceScore    float64       `koanf:"convergence_score"`
}

// PipelineConfig configures the retraining data pipeline.
type PipelineConfig struct {
	BatchSize           int           `koanf:"batch_size"`
	MinQualityScore     float64       `koanf:"min_quality_score"`
	AggregationWindow   time.Duration `koanf:"aggregation_window"`
	NormalizeFeatures   bool          `koanf:"normalize_features"`
	RemoveOutliers      bool          `koanf:"remove_outliers"`
	TopFeatures         int           `koanf:"top_features"`
	MinClassSize        int           `koanf:"min_class_size"`
	ExportCompression   bool          `koanf:"export_compression"`
	ExportEncryptionKey string        `koanf:"export_encryption_key"`
	DifferentialPrivacy bool          `koanf:"differential_privacy"`
	PrivacyEpsilon      float64       `koanf:"privacy_epsilon"`
}

// SchedulerConfig configures the model retraining scheduler.
type SchedulerConfig struct {
	ScheduleCheckInterval time.Duration `koanf:"schedule_check_interval"`
	TriggerPollInterval   time.Duration `koanf:"trigger_poll_interval"`
	MonitorInterval       time.Duration `koanf:"monitor_interval"`
	MinDataPoints         int           `koanf:"min_data_points"`
	QualityThreshold      float64       `koanf:"quality_threshold"`
	PerformanceThreshold  float64       `koanf:"performance_threshold"`
	StepTimeout           time.Duration `koanf:"step_timeout"`
	StepRetries           int           `koanf:"step_retries"`
	AccuracyThreshold     float64       `koanf:"accuracy_threshold"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8460,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Store: StoreConfig{
			Path:     "/data/feedcore",
			InMemory: false,
		},
		Bus: BusConfig{
			URL:        "nats://127.0.0.1:4222",
			BufferSize: 1024,
		},
		Signals: SignalsConfig{
			BatchSize:         50,
			BatchMaxAge:       30 * time.Second,
			CompressThreshold: 4096,
			RatePerUser:       20,
			RateBurst:         40,
		},
		Rank: RankConfig{
			BatchSize:           7,
			MaxIterations:       10,
			AdaptationThreshold: 0.1,
			SkipThreshold:       2000 * time.Millisecond,
			LearningRate:        0.05,
			CandidatePoolSize:   200,
			FeatureCacheTTL:     5 * time.Minute,
			ConvergenceScore:    0.85,
		},
		Pipeline: PipelineConfig{
			BatchSize:           500,
			MinQualityScore:     0.5,
			AggregationWindow:   24 * time.Hour,
			NormalizeFeatures:   true,
			RemoveOutliers:      true,
			TopFeatures:         8,
			MinClassSize:        50,
			ExportCompression:   true,
			ExportEncryptionKey: "",
			DifferentialPrivacy: false,
			PrivacyEpsilon:      1.0,
		},
		Scheduler: SchedulerConfig{
			ScheduleCheckInterval: time.Hour,
			TriggerPollInterval:   5 * time.Minute,
			MonitorInterval:       15 * time.Minute,
			MinDataPoints:         1000,
			QualityThreshold:      0.7,
			PerformanceThreshold:  0.05,
			StepTimeout:           10 * time.Minute,
			StepRetries:           2,
			AccuracyThreshold:     0.75,
		},
	}
}

// Validate checks the configuration for values that would misbehave at
// runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Rank.BatchSize < 1 {
		return fmt.Errorf("rank.batch_size must be positive, got %d", c.Rank.BatchSize)
	}
	if c.Rank.MaxIterations < 1 {
		return fmt.Errorf("rank.max_iterations must be positive, got %d", c.Rank.MaxIterations)
	}
	if c.Rank.LearningRate <= 0 || c.Rank.LearningRate > 1 {
		return fmt.Errorf("rank.learning_rate must be in (0,1], got %f", c.Rank.LearningRate)
	}
	if c.Rank.CandidatePoolSize < c.Rank.BatchSize {
		return fmt.Errorf("rank.candidate_pool_size %d smaller than batch size %d",
			c.Rank.CandidatePoolSize, c.Rank.BatchSize)
	}
	if c.Pipeline.MinQualityScore < 0 || c.Pipeline.MinQualityScore > 1 {
		return fmt.Errorf("pipeline.min_quality_score must be in [0,1], got %f", c.Pipeline.MinQualityScore)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be positive, got %d", c.Pipeline.BatchSize)
	}
	if key := c.Pipeline.ExportEncryptionKey; key != "" && len(key) != 32 {
		return fmt.Errorf("pipeline.export_encryption_key must be 32 bytes, got %d", len(key))
	}
	if c.Pipeline.DifferentialPrivacy && c.Pipeline.PrivacyEpsilon <= 0 {
		return fmt.Errorf("pipeline.privacy_epsilon must be positive, got %f", c.Pipeline.PrivacyEpsilon)
	}
	if c.Scheduler.MinDataPoints < 1 {
		return fmt.Errorf("scheduler.min_data_points must be positive, got %d", c.Scheduler.MinDataPoints)
	}
	if c.Scheduler.AccuracyThreshold < 0 || c.Scheduler.AccuracyThreshold > 1 {
		return fmt.Errorf("scheduler.accuracy_threshold must be in [0,1], got %f", c.Scheduler.AccuracyThreshold)
	}
	if c.Scheduler.StepTimeout <= 0 {
		return fmt.Errorf("scheduler.step_timeout must be positive, got %s", c.Scheduler.StepTimeout)
	}
	if c.Signals.BatchSize < 1 {
		return fmt.Errorf("signals.batch_size must be positive, got %d", c.Signals.BatchSize)
	}
	return nil
}
