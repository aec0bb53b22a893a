package backups

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/oshokin/fleet-updater/internal/config"
	"github.com/oshokin/fleet-updater/internal/logger"
	"github.com/oshokin/fleet-updater/internal/snapshot"
)

// Options are inputs accepted by the backups and instances entry points.
type Options struct {
	// ConfigPath is the optional path to the configuration YAML file.
	ConfigPath string
	// RetentionDays overrides the configured retention window for Prune.
	RetentionDays int
}

// timestampFormat renders snapshot creation times in tables.
const timestampFormat = "2006-01-02 15:04:05"

// List prints a table of every snapshot archive, newest first.
func List(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	store := snapshot.NewStore(cfg.Directories.Backups, cfg.ServerBinary)

	snapshots, err := store.List()
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Instance", "Created", "Size", "Archive"})

	for _, snap := range snapshots {
		size := int64(0)
		if info, err := os.Stat(snap.ArchivePath); err == nil {
			size = info.Size()
		}

		t.AppendRow(table.Row{
			snap.InstanceName,
			snap.CreatedAt.Format(timestampFormat),
			formatSize(size),
			snap.ArchivePath,
		})
	}

	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()

	logger.DebugKV(ctx, "Snapshots listed", "count", len(snapshots))

	return nil
}

// Prune removes snapshots past the retention window and reports the count.
func Prune(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	retentionDays := cfg.Retention.BackupDays
	if opts.RetentionDays > 0 {
		retentionDays = opts.RetentionDays
	}

	store := snapshot.NewStore(cfg.Directories.Backups, cfg.ServerBinary)

	removed, err := store.PruneOlderThan(ctx, retentionDays)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}

	logger.InfoKV(ctx, "Snapshots pruned",
		"removed", removed, "retention_days", retentionDays)

	return nil
}

// Instances prints the configured instance registry.
func Instances(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Name", "Remote ID", "Directory"})

	for _, instance := range cfg.Instances {
		t.AppendRow(table.Row{instance.Name, instance.RemoteID, instance.Directory})
	}

	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()

	logger.DebugKV(ctx, "Instances listed", "count", len(cfg.Instances))

	return nil
}

// formatSize renders a byte count in a compact human-readable form.
func formatSize(size int64) string {
	switch {
	case size >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(size)/float64(1<<30))
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(size)/float64(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(size)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
