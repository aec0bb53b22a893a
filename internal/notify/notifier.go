package notify

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oshokin/fleet-updater/internal/domain/update"
	"github.com/oshokin/fleet-updater/internal/logger"
)

// Kind classifies a notification.
type Kind string

// The five message kinds, one per terminal outcome family.
const (
	KindSuccess  Kind = "success"
	KindFailure  Kind = "failure"
	KindRollback Kind = "rollback"
	KindWarning  Kind = "warning"
	KindNoUpdate Kind = "no-update"
)

// Message is one terminal-outcome notification.
type Message struct {
	// Kind classifies the message.
	Kind Kind
	// Phase is the orchestration phase the run ended in.
	Phase update.Phase
	// Timestamp is when the outcome was finalised.
	Timestamp time.Time
	// Hostname identifies the machine the updater ran on.
	Hostname string
	// Instances lists the affected instance names.
	Instances []string
	// Subject is a one-line summary.
	Subject string
	// Body is the full human-readable report.
	Body string
}

// Notifier delivers a terminal-outcome message. The orchestrating service
// calls it exactly once per run, never mid-phase.
type Notifier interface {
	Notify(ctx context.Context, message Message) error
}

// FromOutcome builds the notification for a finalised run outcome.
func FromOutcome(outcome update.Outcome, instances []string) Message {
	hostname, _ := os.Hostname()

	message := Message{
		Phase:     outcome.Phase,
		Timestamp: time.Now(),
		Hostname:  hostname,
		Instances: instances,
	}

	switch outcome.Kind {
	case update.OutcomeNoUpdateNeeded:
		message.Kind = KindNoUpdate
		message.Subject = fmt.Sprintf("[fleet-updater] %s: already on %s", hostname, outcome.OldVersion)
		message.Body = fmt.Sprintf("No update needed: installed version %s, latest upstream %s.",
			outcome.OldVersion, outcome.NewVersion)
	case update.OutcomeDryRun:
		message.Kind = KindWarning
		message.Subject = fmt.Sprintf("[fleet-updater] %s: dry run, update %s -> %s is due",
			hostname, outcome.OldVersion, outcome.NewVersion)
		message.Body = fmt.Sprintf("Dry run stopped before any change. An update from %s to %s is available.",
			outcome.OldVersion, outcome.NewVersion)
	case update.OutcomeSuccess:
		message.Kind = KindSuccess
		message.Subject = fmt.Sprintf("[fleet-updater] %s: updated %s -> %s",
			hostname, outcome.OldVersion, outcome.NewVersion)
		message.Body = fmt.Sprintf("All instances updated from %s to %s and verified running.",
			outcome.OldVersion, outcome.NewVersion)
	case update.OutcomeRolledBack:
		message.Kind = KindRollback
		message.Subject = fmt.Sprintf("[fleet-updater] %s: update failed in %s, fleet rolled back",
			hostname, outcome.Phase)
		message.Body = fmt.Sprintf("The update failed during %s and every instance was restored "+
			"from its snapshot and restarted.\n\nReason: %v", outcome.Phase, outcome.Err)
	case update.OutcomeFailed:
		message.Kind = KindFailure
		message.Subject = fmt.Sprintf("[fleet-updater] %s: update failed in %s", hostname, outcome.Phase)
		message.Body = fmt.Sprintf("The update failed during %s.\n\nReason: %v", outcome.Phase, outcome.Err)

		if outcome.RollbackFailed {
			message.Subject = fmt.Sprintf("[fleet-updater] %s: ROLLBACK FAILED, operator intervention required",
				hostname)
			message.Body += "\n\nRollback was attempted but restore or restart did not complete. " +
				"The fleet may be in a mixed state. Manual intervention is required."
		}
	}

	if len(outcome.FailedInstances) > 0 {
		message.Body += "\n\nImplicated instances: " + strings.Join(outcome.FailedInstances, ", ")
	}

	return message
}

// LogNotifier reports outcomes through the structured log only.
type LogNotifier struct{}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, message Message) error {
	kvs := []any{
		"kind", string(message.Kind),
		"phase", string(message.Phase),
		"hostname", message.Hostname,
		"instances", strings.Join(message.Instances, ","),
		"detail", message.Body,
	}

	switch message.Kind {
	case KindSuccess, KindNoUpdate:
		logger.InfoKV(ctx, message.Subject, kvs...)
	case KindWarning:
		logger.WarnKV(ctx, message.Subject, kvs...)
	case KindFailure, KindRollback:
		logger.ErrorKV(ctx, message.Subject, kvs...)
	}

	return nil
}
