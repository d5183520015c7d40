package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero the forwarded counter",
	RunE:  resetAction,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func resetAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.scheduler.Reset(ctx); err != nil {
		return fmt.Errorf("reset stats: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Service stats reset.")
	return nil
}
