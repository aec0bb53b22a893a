package update

// Phase identifies one step of the orchestration state machine. Phases
// advance in strict forward order; any phase may divert to RollingBack,
// which always terminates the run.
type Phase string

// Orchestration phases in execution order.
const (
	PhaseCheckingVersion   Phase = "checking_version"
	PhaseStoppingInstances Phase = "stopping_instances"
	PhaseBackingUp         Phase = "backing_up"
	PhaseDownloading       Phase = "downloading"
	PhaseApplying          Phase = "applying"
	PhaseStartingInstances Phase = "starting_instances"
	PhaseVerifying         Phase = "verifying"
	PhaseCleaningUp        Phase = "cleaning_up"
	PhaseRollingBack       Phase = "rolling_back"
)

// OutcomeKind is the terminal classification of one orchestration run.
type OutcomeKind string

const (
	// OutcomeNoUpdateNeeded means the fleet already runs the latest
	// release; the run performed no side effects.
	OutcomeNoUpdateNeeded OutcomeKind = "no_update_needed"
	// OutcomeDryRun means the version comparison found an update due but
	// the operator requested a dry run; zero mutations were performed.
	OutcomeDryRun OutcomeKind = "dry_run"
	// OutcomeSuccess means every instance runs the new release.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeFailed means the run aborted; instances were restarted but
	// no snapshot restore was required or possible.
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeRolledBack means the run failed after mutating instances and
	// every instance was restored from its snapshot and restarted.
	OutcomeRolledBack OutcomeKind = "rolled_back"
)

// Exit codes for the terminal outcome, part of the CLI contract.
const (
	ExitCodeOK           = 0
	ExitCodeConfig       = 1
	ExitCodeBackup       = 2
	ExitCodeDownload     = 3
	ExitCodeApply        = 4
	ExitCodeStartRestore = 5
)

// Outcome is the terminal state of one orchestration run. Exactly one
// Outcome is produced per invocation; it drives the process exit code and
// the single notification sent at the end of the run.
type Outcome struct {
	// Kind classifies the run result.
	Kind OutcomeKind
	// Phase is the phase in which the run terminated or failed.
	Phase Phase
	// OldVersion and NewVersion are the versions compared in CheckingVersion.
	OldVersion Version
	NewVersion Version
	// Err is the failure that ended the run, nil for successful outcomes.
	Err error
	// FailedInstances lists instances implicated in the failure.
	FailedInstances []string
	// RollbackFailed reports the most severe condition: a rollback was
	// attempted but restore or restart did not complete, leaving the
	// fleet in a state that requires operator intervention.
	RollbackFailed bool
}

// ExitCode maps the outcome to the process exit code contract:
// 0 success or no update, 1 configuration or control-plane failure before
// backup, 2 backup, 3 download, 4 apply, 5 start or verification failure.
func (o Outcome) ExitCode() int {
	switch o.Kind {
	case OutcomeNoUpdateNeeded, OutcomeDryRun, OutcomeSuccess:
		return ExitCodeOK
	case OutcomeFailed, OutcomeRolledBack:
	}

	switch o.Phase {
	case PhaseBackingUp:
		return ExitCodeBackup
	case PhaseDownloading:
		return ExitCodeDownload
	case PhaseApplying:
		return ExitCodeApply
	case PhaseStartingInstances, PhaseVerifying:
		return ExitCodeStartRestore
	default:
		return ExitCodeConfig
	}
}
