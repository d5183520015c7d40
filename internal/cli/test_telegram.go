package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/STRATINT/tweetrelay/internal/models"
)

var testTelegramCmd = &cobra.Command{
	Use:   "test-telegram",
	Short: "Send a test message to the configured Telegram channel",
	RunE:  testTelegramAction,
}

func init() {
	rootCmd.AddCommand(testTelegramCmd)
}

func testTelegramAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.telegram == nil {
		return errors.New("telegram client could not be initialized: TELEGRAM_BOT_TOKEN is not set")
	}

	cfg, err := a.configs.Get(ctx)
	if err != nil {
		return fmt.Errorf("load relay configuration: %w", err)
	}

	if err := a.telegram.SendTest(ctx, cfg.TelegramChannel); err != nil {
		return fmt.Errorf("send test message to %q: %w", cfg.TelegramChannel, err)
	}

	if _, err := a.logs.Append(ctx, models.LogKindInfo, "Test message sent to Telegram", ""); err != nil {
		a.logger.Warn("failed to append activity log", "error", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Test message sent to %s.\n", cfg.TelegramChannel)
	return nil
}
