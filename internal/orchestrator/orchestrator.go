package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/oshokin/fleet-updater/internal/config"
	"github.com/oshokin/fleet-updater/internal/domain/update"
	"github.com/oshokin/fleet-updater/internal/logger"
	"github.com/oshokin/fleet-updater/internal/panel"
	"github.com/oshokin/fleet-updater/internal/project"
	"github.com/oshokin/fleet-updater/internal/release"
	"github.com/oshokin/fleet-updater/internal/snapshot"
)

// Options are the operator switches for one run.
type Options struct {
	// DryRun stops the run after the version comparison with zero mutations.
	DryRun bool
	// Force runs the update even when the latest release is not newer.
	Force bool
	// SkipBackup skips the snapshot phase. Rollback is then unavailable
	// and any post-mutation failure terminates as Failed.
	SkipBackup bool
}

// Orchestrator sequences the collaborators through one update run.
type Orchestrator struct {
	cfg       *config.Config
	panel     panel.API
	locator   *release.Locator
	fetcher   *release.Fetcher
	store     *snapshot.Store
	projector *project.Projector
	opts      Options

	// snapshots maps instance name to the snapshot taken in BackingUp;
	// consumed only by the rollback protocol.
	snapshots map[string]update.Snapshot
}

// New wires an orchestrator from its collaborators. All dependencies are
// injected; the offline/dev behaviour comes from the panel implementation,
// not from a flag checked inside the orchestrator.
func New(
	cfg *config.Config,
	api panel.API,
	locator *release.Locator,
	fetcher *release.Fetcher,
	store *snapshot.Store,
	projector *project.Projector,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		panel:     api,
		locator:   locator,
		fetcher:   fetcher,
		store:     store,
		projector: projector,
		opts:      opts,
		snapshots: make(map[string]update.Snapshot, len(cfg.Instances)),
	}
}

// Run executes the state machine and returns the single terminal outcome
// of the run. It never panics across phase boundaries and guarantees the
// scratch download area is removed on every exit path.
func (o *Orchestrator) Run(ctx context.Context) update.Outcome {
	current, latest, artifactURL, err := o.checkVersion(ctx)
	if err != nil {
		return update.Outcome{
			Kind:  update.OutcomeFailed,
			Phase: update.PhaseCheckingVersion,
			Err:   fmt.Errorf("%w: %w", update.ErrConfig, err),
		}
	}

	if !o.opts.Force && latest.Compare(current) <= 0 {
		logger.InfoKV(ctx, "No update needed",
			"installed", current, "latest", latest)

		return update.Outcome{
			Kind:       update.OutcomeNoUpdateNeeded,
			Phase:      update.PhaseCheckingVersion,
			OldVersion: current,
			NewVersion: latest,
		}
	}

	if o.opts.DryRun {
		logger.InfoKV(ctx, "Dry run: update is due, stopping before any change",
			"installed", current, "latest", latest)

		return update.Outcome{
			Kind:       update.OutcomeDryRun,
			Phase:      update.PhaseCheckingVersion,
			OldVersion: current,
			NewVersion: latest,
		}
	}

	outcome := o.execute(ctx, artifactURL)
	outcome.OldVersion = current
	outcome.NewVersion = latest

	return outcome
}

// execute runs the mutating phases. The version pair has already been
// resolved and the update is known to be due.
func (o *Orchestrator) execute(ctx context.Context, artifactURL string) update.Outcome {
	if failed, err := o.stopInstances(ctx); err != nil {
		// No backup exists yet: recovery degrades to restarting
		// whatever was already stopped.
		o.startAllBestEffort(ctx)

		return update.Outcome{
			Kind:            update.OutcomeFailed,
			Phase:           update.PhaseStoppingInstances,
			Err:             fmt.Errorf("%w: %w", update.ErrTransientRemote, err),
			FailedInstances: failed,
		}
	}

	if failed, err := o.backupInstances(ctx); err != nil {
		// Nothing was mutated; restart the fleet and abort.
		o.startAllBestEffort(ctx)

		return update.Outcome{
			Kind:            update.OutcomeFailed,
			Phase:           update.PhaseBackingUp,
			Err:             fmt.Errorf("%w: %w", update.ErrBackup, err),
			FailedInstances: failed,
		}
	}

	scratchDir, err := os.MkdirTemp(o.cfg.Directories.Scratch, "fleet-updater-")
	if err != nil {
		o.startAllBestEffort(ctx)

		return update.Outcome{
			Kind:  update.OutcomeFailed,
			Phase: update.PhaseDownloading,
			Err:   fmt.Errorf("%w: create scratch directory: %w", update.ErrDownload, err),
		}
	}

	// The scratch area is shared read-only by all per-instance apply
	// steps; its removal must happen on every exit path.
	defer func() {
		_ = os.RemoveAll(scratchDir)
	}()

	extractedDir, err := o.download(ctx, artifactURL, scratchDir)
	if err != nil {
		o.startAllBestEffort(ctx)

		return update.Outcome{
			Kind:  update.OutcomeFailed,
			Phase: update.PhaseDownloading,
			Err:   fmt.Errorf("%w: %w", update.ErrDownload, err),
		}
	}

	if failed, err := o.applyInstances(ctx, extractedDir); err != nil {
		return o.rollback(ctx, update.PhaseApplying,
			fmt.Errorf("%w: %w", update.ErrApply, err), failed)
	}

	if failed, err := o.startInstances(ctx); err != nil {
		return o.rollback(ctx, update.PhaseStartingInstances,
			fmt.Errorf("%w: %w", update.ErrTransientRemote, err), failed)
	}

	if failed, err := o.verifyInstances(ctx); err != nil {
		return o.rollback(ctx, update.PhaseVerifying,
			fmt.Errorf("%w: %w", update.ErrVerification, err), failed)
	}

	o.cleanUp(ctx)

	return update.Outcome{
		Kind:  update.OutcomeSuccess,
		Phase: update.PhaseCleaningUp,
	}
}

// checkVersion resolves the installed version from the first configured
// instance and the latest upstream release. An indeterminate installed
// version is reported as the zero version, which forces an update.
func (o *Orchestrator) checkVersion(ctx context.Context) (update.Version, update.Version, string, error) {
	first := o.cfg.Instances[0]

	current, err := o.locator.CurrentVersion(ctx, first)
	if err != nil {
		return update.ZeroVersion, update.ZeroVersion, "", err
	}

	latest, artifactURL, err := o.locator.LatestRelease(ctx)
	if err != nil {
		return update.ZeroVersion, update.ZeroVersion, "", err
	}

	logger.InfoKV(ctx, "Version check complete",
		"installed", current, "latest", latest)

	return current, latest, artifactURL, nil
}

// stopInstances stops every instance in registry order. The first failure
// aborts the phase: proceeding past a partial stop is not acceptable.
func (o *Orchestrator) stopInstances(ctx context.Context) ([]string, error) {
	for _, instance := range o.cfg.Instances {
		logger.InfoKV(ctx, "Stopping instance", "instance", instance.Name)

		if err := o.panel.Stop(ctx, instance, o.cfg.Panel.StopTimeout); err != nil {
			return []string{instance.Name}, fmt.Errorf("stop %s: %w", instance.Name, err)
		}
	}

	return nil, nil
}

// backupInstances snapshots every instance directory. With SkipBackup set
// the phase is a no-op and the reduced safety is logged explicitly.
func (o *Orchestrator) backupInstances(ctx context.Context) ([]string, error) {
	if o.opts.SkipBackup {
		logger.Warn(ctx, "Backups skipped by operator request: "+
			"rollback will not be available if the update fails")

		return nil, nil
	}

	for _, instance := range o.cfg.Instances {
		snap, err := o.store.Create(ctx, instance.Name, instance.Directory)
		if err != nil {
			return []string{instance.Name}, fmt.Errorf("backup %s: %w", instance.Name, err)
		}

		o.snapshots[instance.Name] = snap
	}

	return nil, nil
}

// download fetches the release artifact once into the scratch area and
// extracts it for all instances to share.
func (o *Orchestrator) download(ctx context.Context, artifactURL, scratchDir string) (string, error) {
	archivePath := filepath.Join(scratchDir, path.Base(artifactURL))

	if err := o.fetcher.Download(ctx, artifactURL, archivePath); err != nil {
		return "", err
	}

	extractedDir := filepath.Join(scratchDir, "extracted")
	if err := o.fetcher.Extract(ctx, archivePath, extractedDir); err != nil {
		return "", err
	}

	return extractedDir, nil
}

// applyInstances projects the release onto every instance. The first
// failure aborts the phase; the caller rolls the fleet back.
func (o *Orchestrator) applyInstances(ctx context.Context, extractedDir string) ([]string, error) {
	for _, instance := range o.cfg.Instances {
		applied, err := o.projector.Apply(ctx, extractedDir, instance.Directory)
		if err != nil {
			return []string{instance.Name}, fmt.Errorf("apply to %s: %w", instance.Name, err)
		}

		logger.InfoKV(ctx, "Release applied",
			"instance", instance.Name, "files", applied)
	}

	return nil, nil
}

// startInstances starts every instance in registry order.
func (o *Orchestrator) startInstances(ctx context.Context) ([]string, error) {
	for _, instance := range o.cfg.Instances {
		logger.InfoKV(ctx, "Starting instance", "instance", instance.Name)

		if err := o.panel.Start(ctx, instance, o.cfg.Panel.StartTimeout); err != nil {
			return []string{instance.Name}, fmt.Errorf("start %s: %w", instance.Name, err)
		}
	}

	return nil, nil
}

// verifyInstances waits out the stabilization delay and confirms every
// instance reports running. A status error counts as not confirmed.
func (o *Orchestrator) verifyInstances(ctx context.Context) ([]string, error) {
	logger.InfoKV(ctx, "Waiting for instances to stabilize",
		"delay", o.cfg.StabilizationDelay)

	if err := sleepContext(ctx, o.cfg.StabilizationDelay); err != nil {
		return nil, err
	}

	var failed []string

	for _, instance := range o.cfg.Instances {
		running, err := o.panel.IsRunning(ctx, instance)
		if err != nil || !running {
			logger.ErrorKV(ctx, "Instance failed verification",
				"instance", instance.Name, "error", err)

			failed = append(failed, instance.Name)
		}
	}

	if len(failed) > 0 {
		return failed, fmt.Errorf("instances not running after update: %v", failed)
	}

	return nil, nil
}

// cleanUp prunes snapshots and dated log files past their retention
// windows. Failures here are logged and never change the run's outcome.
func (o *Orchestrator) cleanUp(ctx context.Context) {
	removed, err := o.store.PruneOlderThan(ctx, o.cfg.Retention.BackupDays)
	if err != nil {
		logger.WarnKV(ctx, "Snapshot pruning failed", "error", err)
	} else if removed > 0 {
		logger.InfoKV(ctx, "Old snapshots pruned", "count", removed)
	}

	if o.cfg.Directories.Logs == "" {
		return
	}

	logWindow := time.Duration(o.cfg.Retention.LogDays) * 24 * time.Hour

	removed, err = logger.PruneFiles(o.cfg.Directories.Logs, logWindow)
	if err != nil {
		logger.WarnKV(ctx, "Log pruning failed", "error", err)
	} else if removed > 0 {
		logger.InfoKV(ctx, "Old log files pruned", "count", removed)
	}
}

// startAllBestEffort restarts the fleet after a pre-mutation failure.
// Errors are logged and swallowed: the run is already terminating with its
// own failure.
func (o *Orchestrator) startAllBestEffort(ctx context.Context) {
	for _, instance := range o.cfg.Instances {
		if err := o.panel.Start(ctx, instance, o.cfg.Panel.StartTimeout); err != nil {
			logger.ErrorKV(ctx, "Could not restart instance",
				"instance", instance.Name, "error", err)
		}
	}
}

// sleepContext waits for the duration or returns early on cancellation.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
