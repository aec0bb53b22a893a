package orchestrator

import (
	"context"
	"fmt"

	"github.com/oshokin/fleet-updater/internal/domain/update"
	"github.com/oshokin/fleet-updater/internal/logger"
)

// rollback is the compensating protocol invoked from Applying,
// StartingInstances, or Verifying: stop the fleet, verify every snapshot's
// integrity, restore every instance, and restart the fleet. It never loops
// or retries. The returned outcome distinguishes a completed rollback
// (RolledBack) from a rollback that itself failed, which is the most
// severe result this tool can report.
func (o *Orchestrator) rollback(
	ctx context.Context,
	phase update.Phase,
	cause error,
	failedInstances []string,
) update.Outcome {
	logger.ErrorKV(ctx, "Update failed, rolling back the fleet",
		"phase", string(phase), "error", cause)

	if o.opts.SkipBackup {
		logger.Error(ctx, "No snapshots exist because backups were skipped; rollback is unavailable")

		return update.Outcome{
			Kind:            update.OutcomeFailed,
			Phase:           phase,
			Err:             cause,
			FailedInstances: failedInstances,
		}
	}

	if err := o.rollbackRestore(ctx); err != nil {
		return update.Outcome{
			Kind:            update.OutcomeFailed,
			Phase:           phase,
			Err:             fmt.Errorf("%w; rollback: %w", cause, err),
			FailedInstances: failedInstances,
			RollbackFailed:  true,
		}
	}

	logger.Info(ctx, "Rollback complete, fleet restored to pre-update snapshots")

	return update.Outcome{
		Kind:            update.OutcomeRolledBack,
		Phase:           phase,
		Err:             cause,
		FailedInstances: failedInstances,
	}
}

// rollbackRestore performs the stop-verify-restore-start sequence for the
// whole fleet. Snapshot integrity is checked for every instance before any
// restore begins: a corrupt snapshot makes the rollback unrecoverable, and
// discovering that after half the fleet has been restored would make the
// mixed state worse.
func (o *Orchestrator) rollbackRestore(ctx context.Context) error {
	for _, instance := range o.cfg.Instances {
		if running, err := o.panel.IsRunning(ctx, instance); err == nil && running {
			if err := o.panel.Stop(ctx, instance, o.cfg.Panel.StopTimeout); err != nil {
				return fmt.Errorf("stop %s before restore: %w", instance.Name, err)
			}
		}
	}

	for _, instance := range o.cfg.Instances {
		snap, found := o.snapshots[instance.Name]
		if !found {
			return fmt.Errorf("%s: %w", instance.Name, update.ErrRollbackIntegrity)
		}

		if err := o.store.Verify(ctx, snap); err != nil {
			return fmt.Errorf("%s: %w: %w", instance.Name, update.ErrRollbackIntegrity, err)
		}
	}

	for _, instance := range o.cfg.Instances {
		snap := o.snapshots[instance.Name]

		if err := o.store.Restore(ctx, snap, instance.Directory); err != nil {
			return fmt.Errorf("restore %s: %w", instance.Name, err)
		}
	}

	for _, instance := range o.cfg.Instances {
		if err := o.panel.Start(ctx, instance, o.cfg.Panel.StartTimeout); err != nil {
			return fmt.Errorf("restart %s after restore: %w", instance.Name, err)
		}
	}

	return nil
}
