package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/fleet-updater/internal/config"
	"github.com/oshokin/fleet-updater/internal/logger"
	"github.com/oshokin/fleet-updater/internal/service/updater"
	"github.com/oshokin/fleet-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// dryRun stops the run after the version comparison.
	dryRun bool
	// forceUpdate runs the update even when no newer release exists.
	forceUpdate bool
	// skipBackup disables the snapshot phase; rollback becomes unavailable.
	skipBackup bool
	// verbose raises the log level to debug.
	verbose bool

	// rootCmd represents the base command that runs one update cycle.
	rootCmd = &cobra.Command{
		Use:   "fleet-updater",
		Short: "Update managed game-server instances through the control panel",
		Long: `Checks the upstream release feed, and when a newer version exists stops
every configured instance, snapshots it, downloads the release once, applies
the update-allowed files, restarts the fleet, and verifies it. Any failure
after files have been touched restores every instance from its snapshot.

Exit codes: 0 success or no update needed, 1 configuration or control-plane
error, 2 backup error, 3 download error, 4 apply error, 5 start or
verification error that triggered a rollback.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if verbose {
				logger.SetLevel(zapcore.DebugLevel)
			}

			options := &updater.Options{
				ConfigPath: configPath,
				DryRun:     dryRun,
				Force:      forceUpdate,
				SkipBackup: skipBackup,
			}

			return updater.Run(ctx, options)
		},
	}
)

// Execute runs the fleet-updater CLI and exits with the contract status code.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *updater.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}

		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "report whether an update is due without changing anything")
	rootCmd.Flags().BoolVarP(&forceUpdate, "force", "f", false, "update even when the latest release is not newer")
	rootCmd.Flags().BoolVar(&skipBackup, "skip-backup", false, "skip snapshots (disables rollback)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
