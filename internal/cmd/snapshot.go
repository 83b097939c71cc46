// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage pre-import snapshots",
	}

	cmd.AddCommand(newSnapshotListCmd(app))
	cmd.AddCommand(newSnapshotRestoreCmd(app))
	cmd.AddCommand(newSnapshotDeleteCmd(app))

	return cmd
}

func newSnapshotListCmd(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := app.Importer.AvailableSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(infos)
			}
			if len(infos) == 0 {
				fmt.Println("No snapshots.")
				return nil
			}
			for _, s := range infos {
				fmt.Printf("%s  %s  %-16s %d cards, %d tags\n",
					s.ID,
					time.UnixMilli(s.CreatedAt).Format("2006-01-02 15:04"),
					s.Reason, s.CardCount, s.TagCount)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}

func newSnapshotRestoreCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Replace current data with a snapshot's (a backup is taken first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Importer.RestoreFromSnapshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Restored snapshot %s\n", args[0])
			return nil
		},
	}
}

func newSnapshotDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Importer.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted snapshot %s\n", args[0])
			return nil
		},
	}
}
