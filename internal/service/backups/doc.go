// Package backups implements the operator-facing `backups` and `instances`
// commands: read-only table views over the snapshot store and the instance
// registry, plus manual retention pruning.
package backups
