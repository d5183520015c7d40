package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/STRATINT/tweetrelay/internal/api"
	"github.com/STRATINT/tweetrelay/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and the forwarding scheduler",
	RunE:  serveAction,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveAction(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	logger := a.logger
	logger.Info("starting tweetrelay", "version", Version)

	if err := a.scheduler.Initialize(ctx); err != nil {
		// The API stays up so the configuration can be fixed remotely.
		logger.Error("scheduler not started", "error", err)
	}

	var tester api.TestSender
	if a.telegram != nil {
		tester = a.telegram
	}
	handler := api.NewHandler(a.configs, a.logs, a.stats, a.scheduler, tester, api.Secrets{
		TwitterBearerToken: a.cfg.Twitter.BearerToken != "",
		TelegramToken:      a.cfg.Telegram.BotToken != "",
	}, logger)
	handler.SetHealthCheck(a.healthCheck)

	mux := http.NewServeMux()
	api.SetupRoutes(mux, handler)
	mux.Handle("/metrics", a.metrics.Handler())

	var root http.Handler = a.metrics.InstrumentHandler(mux)
	if a.cfg.Server.StaticDir != "" {
		logger.Info("serving dashboard", "dir", a.cfg.Server.StaticDir)
		root = server.SPAMiddleware(root, a.cfg.Server.StaticDir)
	}

	srv := server.New(a.cfg.Server, logger, root)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s", a.cfg.Server.Port))

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
