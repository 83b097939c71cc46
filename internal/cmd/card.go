// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-recall/internal/deck"
)

func newCardCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Manage flashcards",
		Long:  `Create, edit, list and delete flashcards.`,
	}

	cmd.AddCommand(newCardAddCmd(app))
	cmd.AddCommand(newCardEditCmd(app))
	cmd.AddCommand(newCardDeleteCmd(app))
	cmd.AddCommand(newCardShowCmd(app))
	cmd.AddCommand(newCardListCmd(app))

	return cmd
}

func newCardAddCmd(app *App) *cobra.Command {
	var tags []string
	var cloze, draft bool

	cmd := &cobra.Command{
		Use:   "add <front> <back>",
		Short: "Create a flashcard",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			card := &deck.Card{
				Front: args[0],
				Back:  args[1],
				Tags:  tags,
				Draft: draft,
			}
			if cloze {
				card.Type = deck.CardTypeCloze
			}
			created, err := app.Manager.CreateCard(cmd.Context(), card)
			if err != nil {
				return err
			}
			fmt.Printf("Created card %s: %s\n", created.ID, truncate(created.Front, 50))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tags to attach (created if missing)")
	cmd.Flags().BoolVar(&cloze, "cloze", false, "create a cloze-deletion card")
	cmd.Flags().BoolVar(&draft, "draft", false, "keep the card out of review sessions")

	return cmd
}

func newCardEditCmd(app *App) *cobra.Command {
	var front, back string
	var tags []string
	var draft bool

	cmd := &cobra.Command{
		Use:   "edit <card-id>",
		Short: "Update a flashcard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := &deck.CardPatch{}
			if cmd.Flags().Changed("front") {
				patch.Front = &front
			}
			if cmd.Flags().Changed("back") {
				patch.Back = &back
			}
			if cmd.Flags().Changed("tag") {
				patch.Tags = &tags
			}
			if cmd.Flags().Changed("draft") {
				patch.Draft = &draft
			}
			card, err := app.Manager.UpdateCard(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			fmt.Printf("Updated card %s\n", card.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&front, "front", "", "new front content")
	cmd.Flags().StringVar(&back, "back", "", "new back content")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "replace the tag list")
	cmd.Flags().BoolVar(&draft, "draft", false, "set or clear the draft flag")

	return cmd
}

func newCardDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <card-id>",
		Short: "Delete a flashcard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Manager.DeleteCard(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted card %s\n", args[0])
			return nil
		},
	}
}

func newCardShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <card-id>",
		Short: "Show one flashcard as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := app.Manager.GetCard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(card)
		},
	}
}

func newCardListCmd(app *App) *cobra.Command {
	var page, limit int
	var search, tag, sortBy, sortOrder string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flashcards",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.Manager.GetCardsPaginated(cmd.Context(), deck.PageQuery{
				Page:      page,
				Limit:     limit,
				Search:    search,
				Tag:       tag,
				SortBy:    sortBy,
				SortOrder: sortOrder,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(result)
			}
			if result.TotalCards == 0 {
				fmt.Println("No cards found.")
				return nil
			}
			now := time.Now().UnixMilli()
			for _, c := range result.Cards {
				due := " "
				if c.IsDue(now) {
					due = "*"
				}
				fmt.Printf("%s %s  %-50s %v\n", due, c.ID[:8], truncate(c.Front, 50), c.Tags)
			}
			fmt.Printf("\nPage %d of %d (%d cards)\n", result.Page, result.TotalPages, result.TotalCards)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 50, "cards per page")
	cmd.Flags().StringVar(&search, "search", "", "filter by front/back substring")
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "filter by tag")
	cmd.Flags().StringVar(&sortBy, "sort", "created", "sort key: created, modified, due, front")
	cmd.Flags().StringVar(&sortOrder, "order", "asc", "sort order: asc or desc")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}
