package update

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOutcomeExitCode verifies the exit-code contract for every outcome family.
func TestOutcomeExitCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		outcome  Outcome
		expected int
	}{
		{Outcome{Kind: OutcomeNoUpdateNeeded}, ExitCodeOK},
		{Outcome{Kind: OutcomeDryRun}, ExitCodeOK},
		{Outcome{Kind: OutcomeSuccess, Phase: PhaseCleaningUp}, ExitCodeOK},
		{Outcome{Kind: OutcomeFailed, Phase: PhaseCheckingVersion}, ExitCodeConfig},
		{Outcome{Kind: OutcomeFailed, Phase: PhaseStoppingInstances}, ExitCodeConfig},
		{Outcome{Kind: OutcomeFailed, Phase: PhaseBackingUp}, ExitCodeBackup},
		{Outcome{Kind: OutcomeFailed, Phase: PhaseDownloading}, ExitCodeDownload},
		{Outcome{Kind: OutcomeRolledBack, Phase: PhaseApplying}, ExitCodeApply},
		{Outcome{Kind: OutcomeRolledBack, Phase: PhaseStartingInstances}, ExitCodeStartRestore},
		{Outcome{Kind: OutcomeRolledBack, Phase: PhaseVerifying}, ExitCodeStartRestore},
		{Outcome{Kind: OutcomeFailed, Phase: PhaseVerifying, RollbackFailed: true}, ExitCodeStartRestore},
	}

	for _, tc := range cases {
		require.Equal(t, tc.expected, tc.outcome.ExitCode(),
			"%s/%s", tc.outcome.Kind, tc.outcome.Phase)
	}
}
