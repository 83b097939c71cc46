// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-recall/internal/deck"
)

func newReviewCmd(app *App) *cobra.Command {
	var limit int
	var tags []string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Run an interactive review session",
		Long: `Review due cards one at a time. After revealing the answer, grade it:
a = again, h = hard, g = good, e = easy, q = quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			settings, err := app.Manager.GetGlobalSettings(ctx)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = settings.MaxCardsPerSession
			}
			scope := tags
			if len(scope) == 0 {
				if scope, err = app.Manager.GetActiveTags(ctx); err != nil {
					return err
				}
			}

			reader := bufio.NewReader(os.Stdin)
			var seen []string
			reviewed := 0
			for reviewed < limit {
				cards, err := app.Manager.GetDueCards(ctx, scope, seen, 1)
				if err != nil {
					return err
				}
				if len(cards) == 0 {
					break
				}
				card := cards[0]
				seen = append(seen, card.ID)

				fmt.Printf("\nQ: %s\n", card.Front)
				fmt.Print("   (enter to reveal) ")
				if _, err := reader.ReadString('\n'); err != nil {
					return err
				}
				fmt.Printf("A: %s\n", card.Back)
				fmt.Print("   [a]gain [h]ard [g]ood [e]asy [q]uit: ")

				start := time.Now()
				answer, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				difficulty, quit := parseDifficulty(answer)
				if quit {
					break
				}
				if difficulty == "" {
					fmt.Println("   Skipped.")
					continue
				}

				updated, err := app.Manager.RecordReview(ctx, card.ID, -1, difficulty, time.Since(start).Milliseconds())
				if err != nil {
					return err
				}
				if err := app.Stats.RecordReview(ctx, deck.DayOf(time.Now()),
					difficulty != deck.DifficultyAgain, settings.DailyGoal, card.Tags); err != nil {
					return err
				}
				reviewed++
				fmt.Printf("   Next review in %d day(s).\n", updated.Algorithm.Interval)
			}

			fmt.Printf("\nSession done: %d card(s) reviewed.\n", reviewed)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "cards this session (default from settings)")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "scope the session to these tags")

	return cmd
}

func parseDifficulty(answer string) (deck.ResponseDifficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "a", "again":
		return deck.DifficultyAgain, false
	case "h", "hard":
		return deck.DifficultyHard, false
	case "g", "good":
		return deck.DifficultyGood, false
	case "e", "easy":
		return deck.DifficultyEasy, false
	case "q", "quit":
		return "", true
	default:
		return "", false
	}
}
