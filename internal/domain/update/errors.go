package update

import "errors"

// Error taxonomy for a run. The orchestrator wraps component failures with
// exactly one of these so the service layer can map an outcome to an exit
// code and a notification without inspecting component internals.
var (
	// ErrConfig marks fatal configuration or initialisation failures that
	// happen before any mutation; no rollback is possible or needed.
	ErrConfig = errors.New("configuration error")

	// ErrTransientRemote marks a control-plane call that failed or timed
	// out. Instances are left in their last known state.
	ErrTransientRemote = errors.New("control plane request failed")

	// ErrBackup marks a snapshot creation failure. Nothing has been
	// mutated yet, so the fleet is restarted and the run aborts.
	ErrBackup = errors.New("backup failed")

	// ErrDownload marks an artifact fetch or validation failure. This is
	// pre-mutation and safe to abort without rollback.
	ErrDownload = errors.New("download failed")

	// ErrApply marks a failed file projection after at least one instance
	// may have been mutated; it always triggers a rollback.
	ErrApply = errors.New("apply failed")

	// ErrVerification marks an instance that did not come back up after
	// the update; it always triggers a rollback.
	ErrVerification = errors.New("verification failed")

	// ErrRollbackIntegrity marks a snapshot that failed its integrity
	// check during rollback. This is unrecoverable by the tool and
	// requires operator intervention; it is never auto-retried.
	ErrRollbackIntegrity = errors.New("snapshot failed integrity check during rollback")
)
