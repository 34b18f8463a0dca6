package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/streamstats/internal/duration"
	"github.com/goodtune/streamstats/internal/storage"
	"github.com/goodtune/streamstats/internal/tally"
	"github.com/spf13/cobra"
)

var leaderboardLimit int

var userCmd = &cobra.Command{
	Use:     "user COMMUNITY MEMBER",
	Short:   "Show a member's total streaming time",
	Example: `  streamstats user 123456789 987654321`,
	Args:    cobra.ExactArgs(2),
	RunE:    runUser,
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard [flags] COMMUNITY",
	Short: "Show the members with the most streaming time",
	Example: `  streamstats leaderboard 123456789
  streamstats -c config.yaml leaderboard --limit 25 123456789`,
	Args: cobra.ExactArgs(1),
	RunE: runLeaderboard,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions COMMUNITY [MEMBER]",
	Short: "Show open sessions and closed-session history",
	Long:  `Show the open sessions of a community and its closed-session log, optionally for a single member.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSessions,
}

func init() {
	leaderboardCmd.Flags().IntVar(&leaderboardLimit, "limit", 0, "Number of members to show (clamped to the configured bounds)")

	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runUser(cmd *cobra.Command, args []string) error {
	community, member := args[0], args[1]

	_, store, err := openConfigured()
	if err != nil {
		return err
	}
	defer store.Close()

	seconds, err := tally.NewService(store.Totals(), quietLogger()).Lookup(cmd.Context(), community, member)
	if err != nil {
		return fmt.Errorf("failed to look up total: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	fmt.Println()
	fmt.Printf("Community:  %s\n", community)
	fmt.Printf("Member:     %s\n", member)
	_, _ = cyan.Print("Total:      ")
	_, _ = green.Println(duration.Format(seconds))
	fmt.Println()

	return nil
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	community := args[0]

	cfg, store, err := openConfigured()
	if err != nil {
		return err
	}
	defer store.Close()

	limit := cfg.Leaderboard.ClampLimit(leaderboardLimit)
	entries, err := tally.NewService(store.Totals(), quietLogger()).Leaderboard(cmd.Context(), community, limit)
	if err != nil {
		return fmt.Errorf("failed to load leaderboard: %w", err)
	}

	printLeaderboard(community, limit, entries)
	return nil
}

// printLeaderboard prints ranked entries with the top three highlighted
func printLeaderboard(community string, limit int, entries []tally.Entry) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	_, _ = cyan.Printf("STREAMING LEADERBOARD (top %d)\n", limit)
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Community:  %s\n", community)
	fmt.Println()

	if len(entries) == 0 {
		fmt.Println("No streaming time recorded yet.")
	}
	for _, e := range entries {
		line := fmt.Sprintf("%3d. %-24s %s", e.Rank, e.Member, duration.Format(e.Seconds))
		if e.Rank <= 3 {
			_, _ = yellow.Println(line)
		} else {
			fmt.Println(line)
		}
	}

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

func runSessions(cmd *cobra.Command, args []string) error {
	community, member := args[0], ""
	if len(args) == 2 {
		member = args[1]
	}

	_, store, err := openConfigured()
	if err != nil {
		return err
	}
	defer store.Close()

	active, records, err := loadSessions(cmd.Context(), store.Sessions(), community, member)
	if err != nil {
		return err
	}

	printSessions(community, active, records, time.Now())
	return nil
}

// loadSessions reads open sessions and closed records, narrowed to member when set.
func loadSessions(ctx context.Context, sessions storage.SessionStore, community, member string) ([]storage.ActiveSession, []storage.SessionRecord, error) {
	var active []storage.ActiveSession
	if member == "" {
		list, err := sessions.ListActive(ctx, community)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list open sessions: %w", err)
		}
		active = list
	} else {
		a, err := sessions.GetActive(ctx, community, member)
		switch {
		case err == nil:
			active = append(active, *a)
		case !errors.Is(err, storage.ErrNotFound):
			return nil, nil, fmt.Errorf("failed to read open session: %w", err)
		}
	}

	records, err := sessions.ListRecords(ctx, community, member)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list session records: %w", err)
	}

	return active, records, nil
}

func printSessions(community string, active []storage.ActiveSession, records []storage.SessionRecord, now time.Time) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	fmt.Println()
	_, _ = cyan.Printf("[open sessions in %s]\n", community)
	if len(active) == 0 {
		fmt.Println("  (none)")
	}
	for _, a := range active {
		_, _ = green.Printf("  %-24s since %s  (%s)\n",
			a.Member,
			a.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration.Format(storage.Elapsed(a.StartedAt, now)))
	}

	fmt.Println()
	_, _ = cyan.Printf("[closed sessions in %s]\n", community)
	if len(records) == 0 {
		fmt.Println("  (none)")
	}
	for _, r := range records {
		fmt.Printf("  #%-6s %-24s %s → %s  %s\n",
			r.ID,
			r.Member,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.EndedAt.Local().Format("15:04:05"),
			duration.Format(r.DurationSeconds))
	}
	fmt.Println()
}
