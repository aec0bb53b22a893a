package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/fleet-updater/internal/service/backups"
)

var (
	// pruneRetentionDays overrides the configured retention window.
	pruneRetentionDays int

	// backupsCmd groups the snapshot inspection commands.
	backupsCmd = &cobra.Command{
		Use:   "backups",
		Short: "Inspect and prune snapshot archives",
	}

	// backupsListCmd prints every snapshot archive, newest first.
	backupsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List snapshot archives",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return backups.List(ctx, &backups.Options{ConfigPath: configPath})
		},
	}

	// backupsPruneCmd removes snapshots past the retention window.
	backupsPruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Remove snapshot archives older than the retention window",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return backups.Prune(ctx, &backups.Options{
				ConfigPath:    configPath,
				RetentionDays: pruneRetentionDays,
			})
		},
	}

	// instancesCmd prints the configured instance registry.
	instancesCmd = &cobra.Command{
		Use:   "instances",
		Short: "List configured instances",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return backups.Instances(ctx, &backups.Options{ConfigPath: configPath})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	backupsPruneCmd.Flags().
		IntVar(&pruneRetentionDays, "days", 0, "retention window in days (defaults to the configured value)")

	backupsCmd.AddCommand(backupsListCmd, backupsPruneCmd)
	rootCmd.AddCommand(backupsCmd, instancesCmd)
}
