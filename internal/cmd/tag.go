// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTagCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage tags",
		Long:  `Create, rename, recolor and delete tags, and set the active review scope.`,
	}

	cmd.AddCommand(newTagAddCmd(app))
	cmd.AddCommand(newTagRenameCmd(app))
	cmd.AddCommand(newTagDeleteCmd(app))
	cmd.AddCommand(newTagListCmd(app))
	cmd.AddCommand(newTagActiveCmd(app))

	return cmd
}

func newTagAddCmd(app *App) *cobra.Command {
	var color string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := app.Manager.CreateTag(cmd.Context(), args[0], color)
			if err != nil {
				return err
			}
			fmt.Printf("Created tag %q (%s)\n", tag.Name, tag.Color)
			return nil
		},
	}

	cmd.Flags().StringVar(&color, "color", "", "hex color, picked from the palette when empty")

	return cmd
}

func newTagRenameCmd(app *App) *cobra.Command {
	var color string

	cmd := &cobra.Command{
		Use:   "rename <name> <new-name>",
		Short: "Rename a tag everywhere it is used",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := app.Manager.GetTagByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			newName := ""
			if len(args) == 2 {
				newName = args[1]
			}
			updated, err := app.Manager.UpdateTag(cmd.Context(), tag.ID, newName, color)
			if err != nil {
				return err
			}
			fmt.Printf("Tag is now %q (%s)\n", updated.Name, updated.Color)
			return nil
		},
	}

	cmd.Flags().StringVar(&color, "color", "", "new hex color")

	return cmd
}

func newTagDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a tag and strip it from all cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := app.Manager.GetTagByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := app.Manager.DeleteTag(cmd.Context(), tag.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted tag %q\n", tag.Name)
			return nil
		},
	}
}

func newTagListCmd(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tags with card counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := app.Manager.ListTags(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(tags)
			}
			if len(tags) == 0 {
				fmt.Println("No tags found.")
				return nil
			}
			for _, t := range tags {
				count, err := app.Manager.CountCardsByTag(cmd.Context(), t.Name)
				if err != nil {
					return err
				}
				fmt.Printf("%-24s %-8s %d cards\n", t.Name, t.Color, count)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}

func newTagActiveCmd(app *App) *cobra.Command {
	var set []string
	var add, remove string

	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show or change the active review scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch {
			case cmd.Flags().Changed("set"):
				if err := app.Manager.SetActiveTags(ctx, set); err != nil {
					return err
				}
			case add != "":
				if err := app.Manager.AddActiveTag(ctx, add); err != nil {
					return err
				}
			case remove != "":
				if err := app.Manager.RemoveActiveTag(ctx, remove); err != nil {
					return err
				}
			}
			active, err := app.Manager.GetActiveTags(ctx)
			if err != nil {
				return err
			}
			if len(active) == 0 {
				fmt.Println("No active tags; sessions cover all cards.")
				return nil
			}
			fmt.Printf("Active tags: %v\n", active)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&set, "set", nil, "replace the active set")
	cmd.Flags().StringVar(&add, "add", "", "add one tag to the active set")
	cmd.Flags().StringVar(&remove, "remove", "", "remove one tag from the active set")

	return cmd
}
