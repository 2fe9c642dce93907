// Copyright 2025 Certnode Project
//
// Package config loads factledgerd's configuration from environment
// variables, with an optional YAML file providing base values that the
// environment then overrides field by field.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable factledgerd needs at startup, per spec §4.13.
type Config struct {
	DBPath            string `yaml:"db_path"`
	ValidatorsDir     string `yaml:"validators_dir"`
	NodeID            string `yaml:"node_id"`
	CacheTTLSeconds   int    `yaml:"cache_ttl_seconds"`
	CacheMaxSize      int    `yaml:"cache_max_size"`
	CachePrune        int    `yaml:"cache_prune_threshold"`
	PerformanceWindow int    `yaml:"performance_window"`
	QueueBatchSize    int    `yaml:"queue_batch_size"`
	QueueIntervalMs   int    `yaml:"queue_interval_ms"`
}

// CacheTTL returns CacheTTLSeconds as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// QueueInterval returns QueueIntervalMs as a time.Duration.
func (c *Config) QueueInterval() time.Duration {
	return time.Duration(c.QueueIntervalMs) * time.Millisecond
}

func defaults() Config {
	return Config{
		DBPath:            getEnv("FACTLEDGER_DB_PATH", "./data"),
		ValidatorsDir:     getEnv("FACTLEDGER_VALIDATORS_DIR", "./validators"),
		NodeID:            getEnv("FACTLEDGER_NODE_ID", ""),
		CacheTTLSeconds:   300,
		CacheMaxSize:      10_000,
		CachePrune:        8_000,
		PerformanceWindow: 100,
		QueueBatchSize:    10,
		QueueIntervalMs:   100,
	}
}

// Load builds a Config from environment variables only. If
// FACTLEDGER_CONFIG names a YAML file, LoadFile is used instead and the
// environment is applied on top of it.
func Load() (*Config, error) {
	if path := os.Getenv("FACTLEDGER_CONFIG"); path != "" {
		return LoadFile(path)
	}
	cfg := defaults()
	applyEnv(&cfg)
	return &cfg, nil
}

// LoadFile reads base values from a YAML file at path, then lets any set
// FACTLEDGER_* environment variable override the corresponding field.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DBPath = getEnv("FACTLEDGER_DB_PATH", cfg.DBPath)
	cfg.ValidatorsDir = getEnv("FACTLEDGER_VALIDATORS_DIR", cfg.ValidatorsDir)
	cfg.NodeID = getEnv("FACTLEDGER_NODE_ID", cfg.NodeID)
	cfg.CacheTTLSeconds = getEnvInt("FACTLEDGER_CACHE_TTL_SECONDS", cfg.CacheTTLSeconds)
	cfg.CacheMaxSize = getEnvInt("FACTLEDGER_CACHE_MAX_SIZE", cfg.CacheMaxSize)
	cfg.CachePrune = getEnvInt("FACTLEDGER_CACHE_PRUNE_THRESHOLD", cfg.CachePrune)
	cfg.PerformanceWindow = getEnvInt("FACTLEDGER_PERFORMANCE_WINDOW", cfg.PerformanceWindow)
	cfg.QueueBatchSize = getEnvInt("FACTLEDGER_QUEUE_BATCH_SIZE", cfg.QueueBatchSize)
	cfg.QueueIntervalMs = getEnvInt("FACTLEDGER_QUEUE_INTERVAL_MS", cfg.QueueIntervalMs)
}

// Validate checks the fields that have no safe default.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("FACTLEDGER_NODE_ID is required but not set")
	}
	if c.ValidatorsDir == "" {
		return fmt.Errorf("FACTLEDGER_VALIDATORS_DIR is required but not set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
