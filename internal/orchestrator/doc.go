// Package orchestrator drives one update run across the whole fleet. The
// run is a strict forward sequence of phases, each gated on success of the
// prior: check versions, stop every instance, snapshot every instance,
// download the release once, apply it to every instance, start and verify
// every instance, then clean up. Any phase can divert into the rollback
// protocol instead of advancing; rollback always terminates the run.
// Instances are processed one at a time in registry order, never in
// parallel, to bound load on the control-plane API.
package orchestrator
