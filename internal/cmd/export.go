// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-recall/internal/deck"
)

func newExportCmd(app *App) *cobra.Command {
	var format, scope, outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the deck to JSON or YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if scope == "" {
				settings, err := app.Manager.GetGlobalSettings(ctx)
				if err != nil {
					return err
				}
				scope = settings.BackupScope
			}
			backup, err := deck.BuildBackup(ctx, app.DB, scope)
			if err != nil {
				return err
			}

			var encoded []byte
			switch format {
			case "json":
				encoded, err = backup.EncodeJSON()
			case "yaml", "yml":
				encoded, err = backup.EncodeYAML()
			default:
				return fmt.Errorf("unknown format %q, want json or yaml", format)
			}
			if err != nil {
				return err
			}

			if outPath == "" || outPath == "-" {
				fmt.Print(string(encoded))
				return nil
			}
			if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
				return err
			}
			fmt.Printf("Exported %d card(s) to %s\n", len(backup.Data.Cards), outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	cmd.Flags().StringVar(&scope, "scope", "", "cards or full (default from settings)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output file, stdout when empty")

	return cmd
}
