// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-recall/internal/deck"
)

func newImportCmd(app *App) *cobra.Command {
	var preview bool
	var resolutionFlags []string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import cards, tags, domains and settings from a JSON or YAML file",
		Long: `Import a deck export. Conflicts with existing data are detected first;
use --preview to list them, then --resolve to decide each one:

  arc-recall import deck.json --preview
  arc-recall import deck.json --resolve cards/abc123=rename --resolve tags/t9=skip

Unresolved conflicts use their suggested strategy. A snapshot is taken before
anything is written; a failed import is rolled back automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			format := strings.TrimPrefix(filepath.Ext(args[0]), ".")
			if format == "" {
				format = "json"
			}
			data, err := deck.DecodeImport(raw, format)
			if err != nil {
				return err
			}

			if preview {
				conflicts, err := app.Importer.Preview(ctx, data)
				if err != nil {
					return err
				}
				if len(conflicts) == 0 {
					fmt.Println("No conflicts; the import would apply cleanly.")
					return nil
				}
				for _, c := range conflicts {
					fmt.Printf("%-30s %-18s suggested: %s\n", c.Key(), c.Type, c.Suggested)
				}
				return nil
			}

			resolutions, err := parseResolutions(resolutionFlags)
			if err != nil {
				return err
			}
			report, err := app.Importer.Import(ctx, data, resolutions)
			if err != nil {
				return err
			}

			fmt.Printf("Imported %d card(s), %d tag(s), %d domain(s)",
				report.CardsWritten, report.TagsWritten, report.DomainsWritten)
			if report.SettingsApplied {
				fmt.Print(", settings")
			}
			fmt.Printf(" (snapshot %s)\n", report.SnapshotID)
			for _, a := range report.Applied {
				if a.NewID != "" {
					fmt.Printf("  %s: %s -> %s\n", a.Strategy, a.Conflict.IncomingID, a.NewID)
				} else {
					fmt.Printf("  %s: %s\n", a.Strategy, a.Conflict.Key())
				}
			}
			for _, w := range report.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&preview, "preview", false, "list conflicts without importing")
	cmd.Flags().StringSliceVar(&resolutionFlags, "resolve", nil, "conflict resolution as key=strategy")

	return cmd
}

func parseResolutions(flags []string) (map[string]deck.ResolutionStrategy, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string]deck.ResolutionStrategy, len(flags))
	for _, f := range flags {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --resolve %q, want key=strategy", f)
		}
		switch s := deck.ResolutionStrategy(value); s {
		case deck.ResolveSkip, deck.ResolveRename, deck.ResolveOverwrite:
			out[key] = s
		default:
			return nil, fmt.Errorf("unknown strategy %q, want skip, rename or overwrite", value)
		}
	}
	return out, nil
}
