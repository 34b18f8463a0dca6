package main

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/fatih/color"
	"github.com/goodtune/streamstats/internal/duration"
	"github.com/goodtune/streamstats/internal/tally"
	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Adjust or reset streaming totals",
	Long: `Adjust or reset streaming totals directly in the configured store.
Open sessions are left running and still credit when they close.

With storage.type bolt the database file is locked by a running server, so
stop the server before using admin, user, leaderboard or sessions. sqlite and
redis allow these commands alongside a running server.`,
}

var adminAddCmd = &cobra.Command{
	Use:     "add COMMUNITY MEMBER HOURS",
	Short:   "Add hours to a member's total",
	Example: `  streamstats admin add 123456789 987654321 1.5`,
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdjust(cmd.Context(), args, "Added", (*tally.Service).AddHours)
	},
}

var adminDeductCmd = &cobra.Command{
	Use:   "deduct COMMUNITY MEMBER HOURS",
	Short: "Deduct hours from a member's total, stopping at zero",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdjust(cmd.Context(), args, "Deducted", (*tally.Service).DeductHours)
	},
}

var adminSetCmd = &cobra.Command{
	Use:   "set COMMUNITY MEMBER HOURS",
	Short: "Set a member's total",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdjust(cmd.Context(), args, "Set", (*tally.Service).SetHours)
	},
}

var adminResetCmd = &cobra.Command{
	Use:   "reset COMMUNITY MEMBER",
	Short: "Remove a member's total",
	Args:  cobra.ExactArgs(2),
	RunE:  runReset,
}

var adminResetAllCmd = &cobra.Command{
	Use:   "reset-all COMMUNITY",
	Short: "Remove every total in a community",
	Args:  cobra.ExactArgs(1),
	RunE:  runResetAll,
}

func init() {
	adminCmd.AddCommand(adminAddCmd)
	adminCmd.AddCommand(adminDeductCmd)
	adminCmd.AddCommand(adminSetCmd)
	adminCmd.AddCommand(adminResetCmd)
	adminCmd.AddCommand(adminResetAllCmd)
	rootCmd.AddCommand(adminCmd)
}

type adjustFunc func(s *tally.Service, ctx context.Context, community, member string, hours float64) (float64, error)

func runAdjust(ctx context.Context, args []string, verb string, apply adjustFunc) error {
	community, member := args[0], args[1]

	cfg, store, err := openConfigured()
	if err != nil {
		return err
	}
	defer store.Close()

	hours, err := parseHours(args[2], cfg.Admin.MaxHours)
	if err != nil {
		return err
	}

	total, err := apply(tally.NewService(store.Totals(), quietLogger()), ctx, community, member, hours)
	if err != nil {
		return fmt.Errorf("failed to update total: %w", err)
	}

	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Printf("✅ %s %g hours for %s\n", verb, hours, member)
	fmt.Printf("New total:  %s\n", duration.Format(total))
	return nil
}

// parseHours accepts a number of hours in [0, limit].
func parseHours(raw string, limit float64) (float64, error) {
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(hours) {
		return 0, fmt.Errorf("invalid hours: %s", raw)
	}
	if hours < 0 || hours > limit {
		return 0, fmt.Errorf("hours must be between 0 and %g", limit)
	}
	return hours, nil
}

func runReset(cmd *cobra.Command, args []string) error {
	community, member := args[0], args[1]

	_, store, err := openConfigured()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := tally.NewService(store.Totals(), quietLogger()).ResetUser(cmd.Context(), community, member); err != nil {
		return fmt.Errorf("failed to reset total: %w", err)
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("✅ Reset streaming time for %s\n", member)
	return nil
}

func runResetAll(cmd *cobra.Command, args []string) error {
	community := args[0]

	_, store, err := openConfigured()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := tally.NewService(store.Totals(), quietLogger()).ResetAll(cmd.Context(), community)
	if err != nil {
		return fmt.Errorf("failed to reset totals: %w", err)
	}

	_, _ = color.New(color.FgYellow, color.Bold).Printf("⚠️  Removed %d totals from %s\n", n, community)
	return nil
}
