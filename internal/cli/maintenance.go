package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/STRATINT/tweetrelay/internal/storage"
)

var errNotSupported = errors.New("not supported by the configured backend")

var (
	pruneOlderThan time.Duration
	forwardedLimit int
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete activity log entries older than a cutoff",
	RunE:  pruneAction,
}

var forwardedCmd = &cobra.Command{
	Use:   "forwarded",
	Short: "List the most recently forwarded posts",
	RunE:  forwardedAction,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "age of the oldest entry to keep")
	forwardedCmd.Flags().IntVar(&forwardedLimit, "limit", 20, "number of posts to list")
	rootCmd.AddCommand(pruneCmd, forwardedCmd)
}

// logPruner is implemented by durable activity logs.
type logPruner interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

func pruneAction(cmd *cobra.Command, _ []string) error {
	if pruneOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	pruner, ok := a.logs.(logPruner)
	if !ok {
		return fmt.Errorf("prune activity log: %w (set DATABASE_URL)", errNotSupported)
	}

	deleted, err := pruner.DeleteOlderThan(ctx, pruneOlderThan)
	if err != nil {
		return fmt.Errorf("prune activity log: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d activity log entries older than %s.\n", deleted, pruneOlderThan)
	return nil
}

func forwardedAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	lister, ok := a.ledger.(storage.RecentLister)
	if !ok {
		return fmt.Errorf("list forwarded posts: %w (use the postgres or sqlite ledger)", errNotSupported)
	}

	posts, err := lister.ListRecent(ctx, forwardedLimit)
	if err != nil {
		return fmt.Errorf("list forwarded posts: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(posts) == 0 {
		fmt.Fprintln(out, "No posts forwarded yet.")
		return nil
	}
	for _, post := range posts {
		fmt.Fprintf(out, "%s  %s  %s\n", post.ProcessedAt.Local().Format(time.DateTime), post.URL, truncate(post.Text, 80))
	}
	return nil
}
