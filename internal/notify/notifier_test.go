package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/fleet-updater/internal/domain/update"
)

func version(t *testing.T, raw string) update.Version {
	t.Helper()

	parsed, err := update.ParseVersion(raw)
	require.NoError(t, err)

	return parsed
}

// TestFromOutcome_Kinds maps every outcome family to its message kind.
func TestFromOutcome_Kinds(t *testing.T) {
	t.Parallel()

	instances := []string{"survival", "creative"}

	message := FromOutcome(update.Outcome{
		Kind:       update.OutcomeNoUpdateNeeded,
		OldVersion: version(t, "1.21.131.1"),
		NewVersion: version(t, "1.21.131.1"),
	}, instances)
	require.Equal(t, KindNoUpdate, message.Kind)
	require.Contains(t, message.Subject, "already on 1.21.131.1")

	message = FromOutcome(update.Outcome{
		Kind:       update.OutcomeDryRun,
		OldVersion: version(t, "1.21.130.0"),
		NewVersion: version(t, "1.21.131.1"),
	}, instances)
	require.Equal(t, KindWarning, message.Kind)
	require.Contains(t, message.Subject, "1.21.130.0 -> 1.21.131.1")

	message = FromOutcome(update.Outcome{
		Kind:       update.OutcomeSuccess,
		Phase:      update.PhaseCleaningUp,
		OldVersion: version(t, "1.21.130.0"),
		NewVersion: version(t, "1.21.131.1"),
	}, instances)
	require.Equal(t, KindSuccess, message.Kind)
	require.Equal(t, instances, message.Instances)
	require.NotZero(t, message.Timestamp)

	message = FromOutcome(update.Outcome{
		Kind:  update.OutcomeRolledBack,
		Phase: update.PhaseApplying,
		Err:   errors.New("apply to creative: disk full"),
	}, instances)
	require.Equal(t, KindRollback, message.Kind)
	require.Contains(t, message.Body, "disk full")

	message = FromOutcome(update.Outcome{
		Kind:  update.OutcomeFailed,
		Phase: update.PhaseBackingUp,
		Err:   errors.New("backup creative: no space"),
	}, instances)
	require.Equal(t, KindFailure, message.Kind)
	require.Contains(t, message.Body, "no space")
}

// TestFromOutcome_RollbackFailed escalates the subject and body when the
// rollback itself did not complete.
func TestFromOutcome_RollbackFailed(t *testing.T) {
	t.Parallel()

	message := FromOutcome(update.Outcome{
		Kind:            update.OutcomeFailed,
		Phase:           update.PhaseVerifying,
		Err:             errors.New("instances not running"),
		FailedInstances: []string{"creative"},
		RollbackFailed:  true,
	}, []string{"survival", "creative"})

	require.Equal(t, KindFailure, message.Kind)
	require.Contains(t, message.Subject, "ROLLBACK FAILED")
	require.Contains(t, message.Body, "Manual intervention is required")
	require.Contains(t, message.Body, "Implicated instances: creative")
}

// TestLogNotifier delivers without error for every kind.
func TestLogNotifier(t *testing.T) {
	t.Parallel()

	notifier := NewLogNotifier()

	for _, kind := range []Kind{KindSuccess, KindFailure, KindRollback, KindWarning, KindNoUpdate} {
		message := Message{Kind: kind, Subject: "subject", Body: "body"}
		require.NoError(t, notifier.Notify(context.Background(), message))
	}
}
