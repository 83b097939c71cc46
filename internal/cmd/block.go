// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-recall/internal/deck"
)

func newBlockCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Manage domain blocking rules",
		Long:  `Add, list and remove domains that stay blocked until reviews unlock them.`,
	}

	cmd.AddCommand(newBlockAddCmd(app))
	cmd.AddCommand(newBlockRemoveCmd(app))
	cmd.AddCommand(newBlockListCmd(app))
	cmd.AddCommand(newBlockUnblockCmd(app))

	return cmd
}

func newBlockAddCmd(app *App) *cobra.Command {
	var cooldown int
	var subdomains bool

	cmd := &cobra.Command{
		Use:   "add <domain>",
		Short: "Add a blocking rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := app.Manager.SetDomain(cmd.Context(), &deck.Domain{
				Domain:            args[0],
				CooldownMinutes:   cooldown,
				Active:            true,
				IncludeSubdomains: subdomains,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Blocking %s (cooldown %d min)\n", d.Domain, d.CooldownMinutes)
			return nil
		},
	}

	cmd.Flags().IntVar(&cooldown, "cooldown", 0, "minutes to wait after an unblock request (0 = default)")
	cmd.Flags().BoolVar(&subdomains, "subdomains", true, "also block subdomains")

	return cmd
}

func newBlockRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <domain>",
		Short: "Remove a blocking rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Manager.RemoveDomain(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed rule for %s\n", args[0])
			return nil
		},
	}
}

func newBlockListCmd(app *App) *cobra.Command {
	var activeOnly, asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blocking rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			domains, err := app.Manager.ListDomains(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(domains)
			}
			if len(domains) == 0 {
				fmt.Println("No blocking rules.")
				return nil
			}
			now := time.Now().UnixMilli()
			for _, d := range domains {
				state := "open"
				if d.BlockedAt(now) {
					state = "BLOCKED"
				}
				if !d.Active {
					state = "disabled"
				}
				fmt.Printf("%-32s %-8s cooldown %d min\n", d.Domain, state, d.CooldownMinutes)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active rules")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}

func newBlockUnblockCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <domain>",
		Short: "Request access to a domain; it opens after the cooldown elapses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := app.Manager.MarkDomainUnblocked(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := app.Stats.RecordBlock(cmd.Context(), d.Domain, time.Now()); err != nil {
				return err
			}
			opens := time.UnixMilli(d.LastUnblockedAt).Add(time.Duration(d.CooldownMinutes) * time.Minute)
			fmt.Printf("Unblock requested for %s; access opens at %s\n", d.Domain, opens.Format(time.Kitchen))
			return nil
		},
	}
}
