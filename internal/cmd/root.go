// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package cmd wires the arc-recall CLI onto the storage core.
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-recall/internal/config"
	"github.com/mtreilly/arc-recall/internal/deck"
)

// App bundles the wired subsystems the commands operate on.
type App struct {
	Cfg      *config.Config
	DB       *deck.DB
	Manager  *deck.Manager
	Importer *deck.Importer
	Monitor  *deck.Monitor
	Stats    *deck.StatsStore
	Log      zerolog.Logger
}

// NewRootCmd creates the root command for arc-recall.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "arc-recall",
		Short: "Spaced-repetition flashcards with domain blocking",
		Long: `Store, review and organize flashcards on an SM-2 schedule.

arc-recall provides tools to:
- Create and edit basic and cloze flashcards
- Tag cards and scope review sessions by tag
- Block distracting domains behind a review cooldown
- Import and export decks with conflict resolution
- Roll back imports from automatic snapshots`,
		SilenceUsage: true,
	}

	root.AddCommand(newCardCmd(app))
	root.AddCommand(newTagCmd(app))
	root.AddCommand(newBlockCmd(app))
	root.AddCommand(newSettingsCmd(app))
	root.AddCommand(newReviewCmd(app))
	root.AddCommand(newStatsCmd(app))
	root.AddCommand(newImportCmd(app))
	root.AddCommand(newExportCmd(app))
	root.AddCommand(newSnapshotCmd(app))

	return root
}

// printJSON renders any value as indented JSON on stdout.
func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
