// Package notify delivers exactly one message per terminal run outcome.
// Messages carry the kind, the phase the run ended in, a timestamp, the
// host identity, and the affected instances. Two implementations exist: a
// structured-log notifier and an SMTP mail notifier.
package notify
