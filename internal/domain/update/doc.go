// Package update holds the pure domain model of an update run: the
// instance registry entries, the file protection policy, release version
// ordering, snapshot records, and the terminal outcome of a run together
// with its error taxonomy. The package has no I/O and no dependencies on
// the components that produce or consume these values.
package update
