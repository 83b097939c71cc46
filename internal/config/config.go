// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package config loads arc-recall settings from config file, environment and
// defaults, in that precedence order (highest last: env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process configuration. Storage-level settings only; user
// preferences (theme, daily goal) live in the database.
type Config struct {
	DBPath            string `mapstructure:"db_path"`
	LogLevel          string `mapstructure:"log_level"`
	SnapshotRetention int    `mapstructure:"snapshot_retention"`
	SlowOpMillis      int    `mapstructure:"slow_op_millis"`
	QuotaBytes        int64  `mapstructure:"quota_bytes"`
}

// Load reads $XDG_CONFIG_HOME/arc-recall/config.yaml (or ~/.config/...) if
// present, then applies ARC_RECALL_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("log_level", "info")
	v.SetDefault("snapshot_retention", 5)
	v.SetDefault("slow_op_millis", 500)
	v.SetDefault("quota_bytes", int64(50<<20))

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir := configDir(); dir != "" {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("ARC_RECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "arc-recall")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "arc-recall")
}

func defaultDBPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "arc-recall", "recall.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "recall.db"
	}
	return filepath.Join(home, ".local", "share", "arc-recall", "recall.db")
}
