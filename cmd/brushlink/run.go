package main

import (
	"context"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the toothbrush bridge",
	Long: `Run brushlink in the foreground: set up every configured entry, connect to
toothbrushes as they are discovered and serve the HTTP API until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("backend", "", "Bluetooth backend (go-ble, tinygo)")
	runCmd.Flags().String("listen", "", "API listen address")
	runCmd.Flags().Bool("api", true, "Serve the HTTP API")
	runCmd.Flags().Duration("connect-timeout", 0, "Dial and discovery timeout per connection attempt")
	runCmd.Flags().Duration("poll-interval", 0, "Battery poll interval (0 disables polling)")
	runCmd.Flags().Duration("shutdown-timeout", 0, "How long to wait for a clean shutdown")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := stopContext(parent)
	defer stop()

	a, err := startApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runErr := a.wait(ctx)
	if runErr == nil {
		logger.Info("Stop requested, shutting down")
	}

	shutdownCtx := context.Background()
	if cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Shutdown was not clean")
	}

	return runErr
}
