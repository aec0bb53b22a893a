// Package updater is the entry point behind the `run` command. It guards
// against concurrent runs with a marker file, loads and validates the
// configuration, wires the orchestrator from its collaborators, and maps
// the single terminal outcome to one notification and one process exit
// code.
package updater
