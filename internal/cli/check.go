package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/STRATINT/tweetrelay/internal/models"
)

var checkLogs int

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one forwarding cycle and print the newest activity",
	RunE:  checkAction,
}

func init() {
	checkCmd.Flags().IntVar(&checkLogs, "logs", 10, "number of activity log entries to print")
	rootCmd.AddCommand(checkCmd)
}

func checkAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.scheduler.TriggerNow(ctx)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "cycle finished: %s (%d forwarded)\n", result.Outcome, result.Forwarded)

	if checkLogs <= 0 {
		return nil
	}
	events, err := a.logs.List(ctx, checkLogs)
	if err != nil {
		return fmt.Errorf("list activity log: %w", err)
	}
	printEvents(out, events)
	return nil
}

// printEvents writes one line per event, oldest first.
func printEvents(w io.Writer, events []models.LogEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No activity recorded.")
		return
	}

	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		fmt.Fprintf(w, "%s  %-7s  %s", e.Timestamp.Local().Format(time.DateTime), e.Kind, e.Message)
		if e.Detail != "" {
			fmt.Fprintf(w, ": %s", truncate(e.Detail, 120))
		}
		fmt.Fprintln(w)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
