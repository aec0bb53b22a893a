// Package panel talks to the remote control plane that starts, stops, and
// reports status of managed instances. The wire contract is bearer-token
// HTTP with JSON responses; the only fields this package depends on are the
// running flag and the optional version string. An in-memory stub with the
// same interface supports offline development.
package panel
