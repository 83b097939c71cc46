// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-recall/internal/deck"
)

func newSettingsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change global settings",
	}

	cmd.AddCommand(newSettingsShowCmd(app))
	cmd.AddCommand(newSettingsSetCmd(app))

	return cmd
}

func newSettingsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.Manager.GetGlobalSettings(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
}

func newSettingsSetCmd(app *App) *cobra.Command {
	var cooldown, maxCards, dailyGoal, autoAdvance int
	var theme, weekStart, backupScope string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change settings; only flags you pass are updated",
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := &deck.SettingsPatch{}
			if cmd.Flags().Changed("cooldown") {
				patch.CooldownMinutes = &cooldown
			}
			if cmd.Flags().Changed("max-cards") {
				patch.MaxCardsPerSession = &maxCards
			}
			if cmd.Flags().Changed("daily-goal") {
				patch.DailyGoal = &dailyGoal
			}
			if cmd.Flags().Changed("auto-advance") {
				patch.AutoAdvanceSeconds = &autoAdvance
			}
			if cmd.Flags().Changed("theme") {
				patch.Theme = &theme
			}
			if cmd.Flags().Changed("week-start") {
				patch.WeekStart = &weekStart
			}
			if cmd.Flags().Changed("backup-scope") {
				patch.BackupScope = &backupScope
			}
			s, err := app.Manager.UpdateGlobalSettings(cmd.Context(), patch)
			if err != nil {
				return err
			}
			fmt.Println("Settings updated.")
			return printJSON(s)
		},
	}

	cmd.Flags().IntVar(&cooldown, "cooldown", 0, "default domain cooldown in minutes")
	cmd.Flags().IntVar(&maxCards, "max-cards", 0, "maximum cards per review session")
	cmd.Flags().IntVar(&dailyGoal, "daily-goal", 0, "reviews per day that keep the streak")
	cmd.Flags().IntVar(&autoAdvance, "auto-advance", 0, "seconds before auto-advancing a revealed card")
	cmd.Flags().StringVar(&theme, "theme", "", "light, dark or system")
	cmd.Flags().StringVar(&weekStart, "week-start", "", "monday or sunday")
	cmd.Flags().StringVar(&backupScope, "backup-scope", "", "cards or full")

	return cmd
}
