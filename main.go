// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/mtreilly/arc-recall/internal/cmd"
	"github.com/mtreilly/arc-recall/internal/config"
	"github.com/mtreilly/arc-recall/internal/deck"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arc-recall: failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("cannot create data directory")
	}

	monitor := deck.NewMonitor(logger, time.Duration(cfg.SlowOpMillis)*time.Millisecond, cfg.QuotaBytes)
	db := deck.Open(cfg.DBPath, logger, monitor)
	ctx := context.Background()
	if err := db.Initialize(ctx); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("cannot open database")
	}
	defer db.Close()

	stats := deck.NewStatsStore(db, logger)
	manager := deck.NewManager(db, monitor, logger, stats)
	importer := deck.NewImporter(db, logger, cfg.SnapshotRetention)

	app := &cmd.App{
		Cfg:      cfg,
		DB:       db,
		Manager:  manager,
		Importer: importer,
		Monitor:  monitor,
		Stats:    stats,
		Log:      logger,
	}

	root := cmd.NewRootCmd(app)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
