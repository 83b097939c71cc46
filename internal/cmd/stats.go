// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-recall/internal/deck"
)

func newStatsCmd(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show storage and review statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			census, err := app.Manager.UpdateStats(ctx)
			if err != nil {
				return err
			}
			usage, err := app.Monitor.EstimateUsage(ctx, app.DB)
			if err != nil {
				return err
			}
			streak, err := app.Stats.GetStreak(ctx)
			if err != nil {
				return err
			}
			today, err := app.Stats.GetDailyStat(ctx, deck.DayOf(time.Now()))
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(map[string]any{
					"census": census,
					"usage":  usage,
					"streak": streak,
					"today":  today,
				})
			}

			fmt.Printf("Cards:     %d\n", census.CardCount)
			fmt.Printf("Tags:      %d\n", census.TagCount)
			fmt.Printf("Domains:   %d\n", census.DomainCount)
			fmt.Printf("Responses: %d\n", census.ResponseCount)
			fmt.Printf("Storage:   %s of %s (%.1f%%, %s)\n",
				humanize.IBytes(uint64(usage.EstimatedBytes)),
				humanize.IBytes(uint64(usage.QuotaBytes)),
				usage.UsedPercent, usage.Status)
			if usage.Recommendation != "" {
				fmt.Printf("           %s\n", usage.Recommendation)
			}
			fmt.Printf("Today:     %d reviewed, %d correct\n", today.Reviewed, today.Correct)
			fmt.Printf("Streak:    %d day(s), longest %d\n", streak.Current, streak.Longest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}
