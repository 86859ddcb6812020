package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/studytick/studytick/internal/accounting"
	"github.com/studytick/studytick/internal/accounting/redis"
	"github.com/studytick/studytick/internal/config"
)

var leaderboardDate string

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard <group-id>",
	Short: "Print a group's daily time leaderboard",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeaderboard,
}

var totalsCmd = &cobra.Command{
	Use:   "totals <user-id>",
	Short: "Print a user's stored totals",
	Args:  cobra.ExactArgs(1),
	RunE:  runTotals,
}

func init() {
	leaderboardCmd.Flags().StringVarP(&leaderboardDate, "date", "d", "", "Day to rank (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(totalsCmd)
}

func openAccounting() (*redis.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return redis.Open(cfg.Redis)
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	groupID := args[0]

	date := leaderboardDate
	if date == "" {
		date = accounting.DateKey(time.Now())
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}

	client, err := openAccounting()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := client.GroupDailyLeaderboard(ctx, groupID, date)
	if err != nil {
		return fmt.Errorf("read leaderboard: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	cyan.Printf("Leaderboard for %s on %s\n", groupID, date)
	if len(entries) == 0 {
		fmt.Println("  (no contributions yet)")
		return nil
	}

	for _, entry := range entries {
		line := fmt.Sprintf("  %2d. %-24s %s", entry.Rank, entry.UserID, formatSeconds(entry.Seconds))
		if entry.Rank == 1 {
			yellow.Println(line)
		} else {
			fmt.Println(line)
		}
	}
	return nil
}

func runTotals(cmd *cobra.Command, args []string) error {
	userID := args[0]

	client, err := openAccounting()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	totals, err := client.UserTotals(ctx, userID)
	if err != nil {
		if errors.Is(err, accounting.ErrNotFound) {
			fmt.Printf("No accounting record for %s\n", userID)
			return nil
		}
		return fmt.Errorf("read totals: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("Totals for %s\n", userID)
	fmt.Printf("  time:    %s\n", formatSeconds(totals.TotalSeconds))
	fmt.Printf("  points:  %d\n", totals.Points)
	if !totals.UpdatedAt.IsZero() {
		fmt.Printf("  updated: %s\n", totals.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func formatSeconds(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
