package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/oshokin/fleet-updater/internal/config"
	"github.com/oshokin/fleet-updater/internal/domain/update"
	"github.com/oshokin/fleet-updater/internal/logger"
	"github.com/oshokin/fleet-updater/internal/notify"
	"github.com/oshokin/fleet-updater/internal/orchestrator"
	"github.com/oshokin/fleet-updater/internal/panel"
	"github.com/oshokin/fleet-updater/internal/project"
	"github.com/oshokin/fleet-updater/internal/release"
	"github.com/oshokin/fleet-updater/internal/snapshot"
)

var errRunAlreadyInProgress = errors.New("an update run is already in progress")

// Options are inputs accepted by the run entry point.
type Options struct {
	// ConfigPath is the optional path to the configuration YAML file.
	ConfigPath string
	// DryRun stops the run after the version comparison.
	DryRun bool
	// Force updates even when no newer release exists.
	Force bool
	// SkipBackup disables the snapshot phase.
	SkipBackup bool
}

// ExitError carries the process exit code for a failed run. The CLI layer
// unwraps it to exit with the contract codes (1 config/init, 2 backup,
// 3 download, 4 apply, 5 start/verify).
type ExitError struct {
	// Code is the process exit code.
	Code int
	// Err is the failure that ended the run.
	Err error
}

// Error implements error.
func (e *ExitError) Error() string {
	return fmt.Sprintf("run failed (exit code %d): %v", e.Code, e.Err)
}

// Unwrap exposes the underlying failure.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// Run executes one orchestration run and is the public entry point for the
// CLI. It produces exactly one notification and, for failed runs, an
// ExitError with the contract exit code.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "fleet-updater")

	if IsRunInProgress(ctx) {
		return &ExitError{Code: update.ExitCodeConfig, Err: errRunAlreadyInProgress}
	}

	marker, err := os.Create(MarkerFilename)
	if err != nil {
		return &ExitError{Code: update.ExitCodeConfig, Err: err}
	}

	if err = marker.Close(); err != nil {
		return &ExitError{Code: update.ExitCodeConfig, Err: err}
	}

	defer func() {
		_ = os.Remove(MarkerFilename)
	}()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return &ExitError{Code: update.ExitCodeConfig, Err: err}
	}

	if cfg.Directories.Logs != "" {
		logPath, err := logger.EnableFileOutput(cfg.Directories.Logs)
		if err != nil {
			return &ExitError{Code: update.ExitCodeConfig, Err: err}
		}

		logger.DebugKV(ctx, "Logging to file", "path", logPath)
	}

	api := buildPanel(cfg)

	// Connectivity is probed once before any work; the offline stub
	// always passes.
	if err := api.TestConnectivity(ctx); err != nil {
		return &ExitError{
			Code: update.ExitCodeConfig,
			Err:  fmt.Errorf("control plane unreachable: %w", err),
		}
	}

	locator := release.NewLocator(
		cfg.Feed.ManifestURL,
		cfg.Feed.Platform,
		cfg.Feed.ReleaseNotesFile,
		api,
		http.DefaultClient,
	)
	fetcher := release.NewFetcher(
		cfg.Feed.MinArtifactSize,
		cfg.Feed.DownloadTimeout,
		cfg.ServerBinary,
		http.DefaultClient,
	)
	store := snapshot.NewStore(cfg.Directories.Backups, cfg.ServerBinary)
	projector := project.NewProjector(cfg.Policy)

	runner := orchestrator.New(cfg, api, locator, fetcher, store, projector, orchestrator.Options{
		DryRun:     opts.DryRun,
		Force:      opts.Force,
		SkipBackup: opts.SkipBackup,
	})

	outcome := runner.Run(ctx)

	notifyOutcome(ctx, cfg, outcome)

	if code := outcome.ExitCode(); code != update.ExitCodeOK {
		return &ExitError{Code: code, Err: outcome.Err}
	}

	logger.InfoKV(ctx, "Run complete", "outcome", string(outcome.Kind))

	return nil
}

// buildPanel selects the control-plane implementation. Offline mode is an
// injected implementation, not a flag scattered through components.
func buildPanel(cfg *config.Config) panel.API {
	if cfg.Panel.Offline {
		return panel.NewOffline()
	}

	return panel.NewClient(
		cfg.Panel.BaseURL,
		cfg.Panel.Token,
		panel.WithPollInterval(cfg.Panel.PollInterval),
	)
}

// notifyOutcome sends the single terminal notification. Delivery failure is
// logged but does not change the run's outcome.
func notifyOutcome(ctx context.Context, cfg *config.Config, outcome update.Outcome) {
	names := make([]string, 0, len(cfg.Instances))
	for _, instance := range cfg.Instances {
		names = append(names, instance.Name)
	}

	message := notify.FromOutcome(outcome, names)

	var notifier notify.Notifier
	if cfg.Notify.Mode == "smtp" {
		notifier = notify.NewMailNotifier(cfg.Notify.SMTP)
	} else {
		notifier = notify.NewLogNotifier()
	}

	if err := notifier.Notify(ctx, message); err != nil {
		logger.ErrorKV(ctx, "Notification delivery failed", "error", err)
	}
}
